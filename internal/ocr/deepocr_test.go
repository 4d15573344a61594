package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("png-bytes"), 0o644))
	return p
}

func deepRunner(t *testing.T, handler http.HandlerFunc) (*DeepOCRRunner, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r := NewDeepOCRRunnerWithClient(Config{DeepOCRBaseURL: srv.URL}, srv.Client(), nil)
	return r, srv
}

func TestDeepOCRRunSuccess(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page-1.png")

	var gotReq deepOCRRequest
	r, _ := deepRunner(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/ocr", req.URL.Path)
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(deepOCRResponse{Text: "Invoice total 119.00", Pages: 1, Confidence: 0.97})
	})

	res, err := r.Run(context.Background(), Source{Path: "a.pdf", PageDir: dir, PageFiles: []string{page}})
	require.NoError(t, err)
	assert.Equal(t, TierDeepOCR, res.Tier)
	assert.Equal(t, "Invoice total 119.00", res.Text)
	assert.Equal(t, 1, res.Pages)
	assert.InDelta(t, 0.97, float64(res.MeanConfidence), 1e-6)
	assert.Len(t, gotReq.Pages, 1)
}

func TestDeepOCRRunServiceError(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page-1.png")
	r, _ := deepRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(deepOCRResponse{Error: "model overloaded"})
	})
	_, err := r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{page}})
	assert.ErrorContains(t, err, "model overloaded")
}

func TestDeepOCRRunEmptyTextIsFailure(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page-1.png")
	r, _ := deepRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(deepOCRResponse{Text: "   "})
	})
	_, err := r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{page}})
	assert.ErrorContains(t, err, "empty text")
}

func TestDeepOCRRunNon2xx(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page-1.png")
	r, _ := deepRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	_, err := r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{page}})
	assert.ErrorContains(t, err, "502")
}

func TestDeepOCRRunMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page-1.png")
	r, _ := deepRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	_, err := r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{page}})
	assert.ErrorContains(t, err, "decode response")
}
