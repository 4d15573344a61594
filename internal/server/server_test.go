package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

type noopProcessor struct{}

func (noopProcessor) Process(context.Context, queue.Job) error { return nil }

type env struct {
	srv  *Server
	docs repository.DocumentRepository
	sch  *queue.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))
	docs := repository.NewDocumentRepository(db, nil)

	sch, err := queue.NewScheduler(noopProcessor{}, queue.Config{
		TierConcurrency:   2,
		WorkerIdleTimeout: 5 * time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sch.Shutdown(context.Background()) })

	svc, err := ingest.NewService(nil, docs, sch, t.TempDir())
	require.NoError(t, err)

	return &env{srv: New(nil, svc, docs, sch, nil), docs: docs, sch: sch}
}

func (e *env) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartPDF(t *testing.T, filename, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func (e *env) submit(t *testing.T, filename, content string) string {
	t.Helper()
	body, ct := multipartPDF(t, filename, content)
	w := e.do(t, http.MethodPost, "/v1/documents", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["document_id"].(string)
}

func TestSubmitEndpoint(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "invoice.pdf", "%PDF fake")
	assert.NotEmpty(t, id)
}

func TestSubmitDuplicateReturnsConflict(t *testing.T) {
	e := newEnv(t)
	first := e.submit(t, "invoice.pdf", "%PDF same")

	body, ct := multipartPDF(t, "other-name.pdf", "%PDF same")
	w := e.do(t, http.MethodPost, "/v1/documents", body, ct)
	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, first, resp["document_id"])
}

func TestSubmitMissingFile(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/v1/documents", nil, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitUnsupportedExtension(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartPDF(t, "notes.docx", "hello")
	w := e.do(t, http.MethodPost, "/v1/documents", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNSUPPORTED_FORMAT")
}

func TestGetDocument(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "invoice.pdf", "%PDF get")

	w := e.do(t, http.MethodGet, "/v1/documents/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invoice.pdf", resp["filename"])
	assert.Equal(t, string(constants.StatusQueued), resp["status"])
	assert.NotContains(t, resp, "supplier_name", "unextracted fields are omitted")
}

func TestGetDocumentIncludesEntries(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "invoice.pdf", "%PDF entries")
	did := mustUUID(t, id)

	amount := "100.00"
	require.NoError(t, e.docs.ReplaceEntries(context.Background(), did, []entity.LineEntry{
		{Label: "Net", Amount: &amount, EntryType: constants.EntryCharge},
	}))

	w := e.do(t, http.MethodGet, "/v1/documents/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "Net", resp.Entries[0]["label"])
	assert.Equal(t, "100.00", resp.Entries[0]["amount"])
}

func TestGetDocumentErrors(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/v1/documents/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/v1/documents/6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReprocessEndpoint(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "invoice.pdf", "%PDF re")
	did := mustUUID(t, id)

	// queued documents cannot be reprocessed
	w := e.do(t, http.MethodPost, "/v1/documents/"+id+"/reprocess", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, e.docs.SetError(context.Background(), did, "boom"))
	body, _ := json.Marshal(map[string]any{"target_tier": 3})
	w = e.do(t, http.MethodPost, "/v1/documents/"+id+"/reprocess", body, "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	got, err := e.docs.GetByID(context.Background(), did)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusExtracting, got.Status)
}

func TestApproveEndpoint(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "invoice.pdf", "%PDF appr")
	did := mustUUID(t, id)
	ctx := context.Background()

	// queued -> approved is illegal
	w := e.do(t, http.MethodPost, "/v1/documents/"+id+"/approve", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, e.docs.UpdateStatus(ctx, did, constants.StatusExtracting))
	require.NoError(t, e.docs.UpdateStatus(ctx, did, constants.StatusProcessing))
	require.NoError(t, e.docs.UpdateStatus(ctx, did, constants.StatusDraft))

	w = e.do(t, http.MethodPost, "/v1/documents/"+id+"/approve", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	got, err := e.docs.GetByID(ctx, did)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusApproved, got.Status)
}

func TestConfigEndpoints(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/v1/config", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier_concurrency":2`)

	body, _ := json.Marshal(map[string]any{"tier_concurrency": 4, "worker_idle_timeout": "10m"})
	w = e.do(t, http.MethodPatch, "/v1/config", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4, e.sch.Snapshot().TierConcurrency)
	assert.Equal(t, 10*time.Minute, e.sch.Snapshot().WorkerIdleTimeout)
}

func TestConfigValidation(t *testing.T) {
	e := newEnv(t)

	body, _ := json.Marshal(map[string]any{"tier_concurrency": 9})
	w := e.do(t, http.MethodPatch, "/v1/config", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, e.sch.Snapshot().TierConcurrency, "rejected update leaves config untouched")

	body, _ = json.Marshal(map[string]any{"worker_idle_timeout": "soon"})
	w = e.do(t, http.MethodPatch, "/v1/config", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzUnhealthy(t *testing.T) {
	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))
	docs := repository.NewDocumentRepository(db, nil)
	sch, err := queue.NewScheduler(noopProcessor{}, queue.Config{TierConcurrency: 2, WorkerIdleTimeout: 5 * time.Minute}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sch.Shutdown(context.Background()) })
	svc, err := ingest.NewService(nil, docs, sch, t.TempDir())
	require.NoError(t, err)

	s := New(nil, svc, docs, sch, func(context.Context) error { return fmt.Errorf("db down") })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
