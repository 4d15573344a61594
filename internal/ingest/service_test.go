package ingest

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func hashBytes(content string) []byte {
	h := sha256.Sum256([]byte(content))
	return h[:]
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) all() []queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Job(nil), f.jobs...)
}

func testService(t *testing.T) (*Service, repository.DocumentRepository, *fakeQueue, string) {
	t.Helper()
	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))
	docs := repository.NewDocumentRepository(db, nil)

	q := &fakeQueue{}
	dir := t.TempDir()
	svc, err := NewService(nil, docs, q, dir)
	require.NoError(t, err)
	return svc, docs, q, dir
}

func TestSubmitStoresAndQueues(t *testing.T) {
	svc, docs, q, dir := testService(t)
	ctx := context.Background()

	doc, err := svc.Submit(ctx, "august-invoice.PDF", strings.NewReader("%PDF-1.4 fake"))
	require.NoError(t, err)
	assert.Equal(t, "august-invoice.PDF", doc.Filename)
	assert.Equal(t, "pdf", doc.FileExt)
	assert.Equal(t, constants.StatusQueued, doc.Status)
	assert.Equal(t, int64(len("%PDF-1.4 fake")), doc.FileSize)

	// the stored copy is keyed by document id
	assert.Equal(t, filepath.Join(dir, doc.ID.String()+".pdf"), doc.SourcePath)
	assert.FileExists(t, doc.SourcePath)

	jobs := q.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, doc.ID, jobs[0].DocumentID)
	assert.Zero(t, jobs[0].TargetTier, "fresh submissions run the full cascade")

	got, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ContentHash)
}

func TestSubmitRejectsUnsupportedExtension(t *testing.T) {
	svc, _, q, _ := testService(t)
	_, err := svc.Submit(context.Background(), "notes.docx", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Empty(t, q.all())
}

func TestSubmitDuplicateContent(t *testing.T) {
	svc, _, q, dir := testService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, "a.pdf", strings.NewReader("same-bytes"))
	require.NoError(t, err)

	dup, err := svc.Submit(ctx, "b.pdf", strings.NewReader("same-bytes"))
	assert.ErrorIs(t, err, common.ErrDuplicate)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)
	assert.Len(t, q.all(), 1, "duplicates are never queued")

	// only the first stored copy remains
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSubmitPath(t *testing.T) {
	svc, _, q, _ := testService(t)
	src := filepath.Join(t.TempDir(), "drop.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF drop"), 0o644))

	doc, err := svc.SubmitPath(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "drop.pdf", doc.Filename)
	assert.Len(t, q.all(), 1)
}

func TestReprocessValidatesTier(t *testing.T) {
	svc, _, _, _ := testService(t)
	doc, err := svc.Submit(context.Background(), "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	_, err = svc.Reprocess(context.Background(), doc.ID, 1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestReprocessResetsAndQueuesPinned(t *testing.T) {
	svc, docs, q, _ := testService(t)
	ctx := context.Background()
	doc, err := svc.Submit(ctx, "a.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	// a queued document is not terminal yet
	_, err = svc.Reprocess(ctx, doc.ID, 3)
	assert.Error(t, err)

	require.NoError(t, docs.SetError(ctx, doc.ID, "boom"))
	got, err := svc.Reprocess(ctx, doc.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", got.Filename)

	reloaded, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusExtracting, reloaded.Status)
	assert.Nil(t, reloaded.ErrorMessage)

	jobs := q.all()
	require.Len(t, jobs, 2)
	assert.Equal(t, 3, jobs[1].TargetTier)
}

// waitForDoc polls until a document with the given content has been
// submitted; the watcher's settle delay makes ingestion asynchronous.
func waitForDoc(t *testing.T, docs repository.DocumentRepository, content, filename string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		if doc, err := docs.GetByHash(context.Background(), hashBytes(content)); err == nil {
			assert.Equal(t, filename, doc.Filename)
			return
		}
		select {
		case <-deadline:
			t.Fatalf("%s was never submitted", filename)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestWatcherSubmitsSettledFiles(t *testing.T) {
	svc, docs, _, _ := testService(t)
	watchDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(nil, svc, []string{watchDir})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond) // let the watch register
	target := filepath.Join(watchDir, "dropped.pdf")
	require.NoError(t, os.WriteFile(target, []byte("%PDF watched"), 0o644))
	// hidden and unsupported files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, ".partial.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "readme.txt"), []byte("x"), 0o644))

	waitForDoc(t, docs, "%PDF watched", "dropped.pdf")

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherIngestsPreexistingAndNestedFiles(t *testing.T) {
	svc, docs, _, _ := testService(t)
	watchDir := t.TempDir()
	// present before the watcher starts
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "backlog.pdf"), []byte("%PDF backlog"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(nil, svc, []string{watchDir})
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// a subdirectory created after startup must be watched too
	time.Sleep(100 * time.Millisecond)
	sub := filepath.Join(watchDir, "august")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(300 * time.Millisecond) // let the subdirectory watch register
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.pdf"), []byte("%PDF nested"), 0o644))

	waitForDoc(t, docs, "%PDF backlog", "backlog.pdf")
	waitForDoc(t, docs, "%PDF nested", "nested.pdf")

	cancel()
	require.NoError(t, <-done)
}
