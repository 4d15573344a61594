package ocr

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner maps a page path (last-but-one arg for tesseract) to canned output.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	key := args[0]
	if err, ok := f.errs[key]; ok {
		return nil, []byte("boom"), err
	}
	return []byte(f.outputs[key]), nil, nil
}

func tsvHeader() string {
	return "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext"
}

func tsvWord(block, par, line int, conf float64, word string) string {
	return fmt.Sprintf("5\t1\t%d\t%d\t%d\t1\t0\t0\t10\t10\t%.2f\t%s", block, par, line, conf, word)
}

func TestTesseractRunParsesTSV(t *testing.T) {
	tsv := strings.Join([]string{
		tsvHeader(),
		"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t", // page row, ignored
		tsvWord(1, 1, 1, 96.0, "Invoice"),
		tsvWord(1, 1, 1, 91.0, "INV-001"),
		tsvWord(1, 1, 2, 88.0, "Total"),
		tsvWord(1, 1, 2, 93.0, "119.00"),
	}, "\n")
	fr := &fakeRunner{outputs: map[string]string{"/pages/page-1.png": tsv}}
	r := NewTesseractRunnerWithRunner(Config{}, fr, nil)

	res, err := r.Run(context.Background(), Source{
		Path:      "/in/a.pdf",
		PageDir:   "/pages",
		PageFiles: []string{"/pages/page-1.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, TierOCR, res.Tier)
	assert.Equal(t, "Invoice INV-001\nTotal 119.00", res.Text)
	assert.Equal(t, 1, res.Pages)
	assert.Len(t, res.WordConfidences, 4)
	assert.InDelta(t, 0.92, float64(res.MeanConfidence), 0.001)
}

func TestTesseractRunSurvivesPartialPageFailure(t *testing.T) {
	tsv := strings.Join([]string{tsvHeader(), tsvWord(1, 1, 1, 90.0, "hello")}, "\n")
	fr := &fakeRunner{
		outputs: map[string]string{"p2.png": tsv},
		errs:    map[string]error{"p1.png": fmt.Errorf("exit status 1")},
	}
	r := NewTesseractRunnerWithRunner(Config{}, fr, nil)

	res, err := r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{"p1.png", "p2.png"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Len(t, res.Warnings, 1)
}

func TestTesseractRunFailsWhenAllPagesFail(t *testing.T) {
	fr := &fakeRunner{errs: map[string]error{"p1.png": fmt.Errorf("exit status 1")}}
	r := NewTesseractRunnerWithRunner(Config{}, fr, nil)

	_, err := r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{"p1.png"}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "all 1 pages")
}

func TestTesseractRunRequiresRenderedPages(t *testing.T) {
	r := NewTesseractRunnerWithRunner(Config{}, &fakeRunner{}, nil)
	_, err := r.Run(context.Background(), Source{Path: "a.pdf"})
	assert.Error(t, err)
}

func TestTesseractArgsIncludeTuning(t *testing.T) {
	fr := &fakeRunner{outputs: map[string]string{"p1.png": tsvHeader()}}
	r := NewTesseractRunnerWithRunner(Config{TesseractLang: "deu", PSM: 6, OEM: 1, TessdataDir: "/tess"}, fr, nil)

	_, _ = r.Run(context.Background(), Source{Path: "a.pdf", PageFiles: []string{"p1.png"}})
	require.Len(t, fr.calls, 1)
	call := fr.calls[0]
	assert.Contains(t, call, "-l deu")
	assert.Contains(t, call, "--psm 6")
	assert.Contains(t, call, "--oem 1")
	assert.Contains(t, call, "--tessdata-dir /tess")
	assert.True(t, strings.HasSuffix(call, "tsv"))
}
