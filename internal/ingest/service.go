package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

// Enqueuer decouples the ingest surface from the scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Service accepts invoice files from any source (HTTP upload, watched
// directory, batch CLI), persists them under the upload directory keyed by
// document ID, deduplicates by content hash, and queues them for processing.
type Service struct {
	logger    *slog.Logger
	docs      repository.DocumentRepository
	queue     Enqueuer
	uploadDir string
}

func NewService(logger *slog.Logger, docs repository.DocumentRepository, q Enqueuer, uploadDir string) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Service{logger: logger, docs: docs, queue: q, uploadDir: uploadDir}, nil
}

// Submit ingests one file from a reader. On a duplicate the existing
// document is returned together with common.ErrDuplicate so callers can
// report the collision without treating it as a failure.
func (s *Service) Submit(ctx context.Context, filename string, r io.Reader) (*entity.Document, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, common.NewAppError("UNSUPPORTED_FORMAT",
			fmt.Sprintf("unsupported file extension %q", ext), common.ErrInvalidInput)
	}

	id := uuid.New()
	dest := filepath.Join(s.uploadDir, fmt.Sprintf("%s.%s", id, ext))
	size, hash, err := s.persist(dest, r)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc, err := s.docs.Create(ctx, &entity.Document{
		ID:          id,
		Filename:    filepath.Base(filename),
		FileExt:     ext,
		SourcePath:  dest,
		FileSize:    size,
		ContentHash: hash,
		Status:      constants.StatusQueued,
	})
	if err != nil {
		// the stored copy is redundant either way
		_ = os.Remove(dest)
		if errors.Is(err, common.ErrDuplicate) {
			s.logger.Info("duplicate submission ignored",
				"filename", filename, "existing_id", doc.ID)
			return doc, err
		}
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, queue.Job{DocumentID: doc.ID, FileRef: dest}); err != nil {
		return doc, err
	}
	s.logger.Info("document submitted", "document_id", doc.ID, "filename", doc.Filename, "size", size)
	return doc, nil
}

// SubmitPath ingests a file already on disk, e.g. from a watched directory.
func (s *Service) SubmitPath(ctx context.Context, path string) (*entity.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return s.Submit(ctx, filepath.Base(path), f)
}

// Reprocess resets a terminal document and queues it again. targetTier 0
// reruns the full cascade; 2 or 3 pin the extraction to that tier.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID, targetTier int) (*entity.Document, error) {
	if targetTier != 0 && targetTier != 2 && targetTier != 3 {
		return nil, common.NewAppError("INVALID_TIER",
			fmt.Sprintf("target tier must be 0, 2 or 3, got %d", targetTier), common.ErrInvalidInput)
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.docs.ResetForReprocess(ctx, id); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, queue.Job{DocumentID: id, FileRef: doc.SourcePath, TargetTier: targetTier}); err != nil {
		return nil, err
	}
	s.logger.Info("document queued for reprocessing",
		"document_id", id, "filename", doc.Filename, "target_tier", targetTier)
	return doc, nil
}

// persist streams the reader to dest while hashing it, so large uploads are
// never buffered in memory.
func (s *Service) persist(dest string, r io.Reader) (int64, []byte, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, nil, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, nil, err
	}
	return n, h.Sum(nil), nil
}
