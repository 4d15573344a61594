package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// settleDelay is how long a file must stay quiet before it is picked up.
// Copies into the watched directory arrive as a burst of write events.
const settleDelay = 2 * time.Second

// Watcher submits invoice files dropped into configured directories.
type Watcher struct {
	logger  *slog.Logger
	service *Service
	roots   []string

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewWatcher(logger *slog.Logger, service *Service, roots []string) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		logger:  logger,
		service: service,
		roots:   roots,
		pending: make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. Roots are watched recursively,
// files already present at startup are picked up, and each new or
// rewritten file with an accepted extension is submitted once it has
// settled.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.roots) == 0 {
		w.logger.Info("no watch directories configured, watcher idle")
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	for _, root := range w.roots {
		if err := w.watchTree(ctx, fw, root); err != nil {
			w.logger.Error("cannot watch directory", "dir", root, "error", err)
			continue
		}
		w.logger.Info("watching directory for invoices", "dir", root)
	}

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
					// new subdirectory: watch it and pick up files that
					// landed inside before the watch registered
					if werr := w.watchTree(ctx, fw, ev.Name); werr != nil {
						w.logger.Warn("cannot watch new subdirectory", "dir", ev.Name, "error", werr)
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.accepts(ev.Name) {
				continue
			}
			w.schedule(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// watchTree registers root and every directory below it, and schedules
// accepted files already present so a pre-filled drop folder is ingested
// on startup. Duplicates are caught downstream by the content hash.
func (w *Watcher) watchTree(ctx context.Context, fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		if w.accepts(path) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := constants.NormalizeExt(filepath.Ext(path))
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// schedule (re)arms the settle timer for a path; every further write event
// pushes the submission back.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(ctx, path)
	})
}

func (w *Watcher) submit(ctx context.Context, path string) {
	doc, err := w.service.SubmitPath(ctx, path)
	if err != nil {
		if errors.Is(err, common.ErrDuplicate) {
			w.logger.Info("watched file already known", "path", path, "document_id", doc.ID)
			return
		}
		w.logger.Error("failed to submit watched file", "path", path, "error", err)
		return
	}
	w.logger.Info("watched file submitted", "path", path, "document_id", doc.ID)
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
