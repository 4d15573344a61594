package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/quality"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
	"github.com/joseph-ayodele/invoice-pipeline/internal/verify"
)

// invoice-batch walks a directory and runs every PDF/image through the full
// pipeline against a local sqlite database, then prints a per-document
// summary. Useful for backfills and for trying the pipeline without a
// Postgres instance.
func main() {
	var (
		dir        = flag.String("dir", ".", "directory to scan for invoices")
		dbPath     = flag.String("db", "invoices.db", "sqlite database file")
		inMem      = flag.Bool("inmem", false, "use an in-memory database (results are printed only)")
		uploadDir  = flag.String("uploads", "", "directory for stored copies (default: temp dir)")
		submitters = flag.Int("submitters", 4, "parallel submission workers")
		timeout    = flag.Duration("timeout", 30*time.Minute, "overall run deadline")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, logger, *dir, *dbPath, *inMem, *uploadDir, *submitters); err != nil {
		logger.Error("batch run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dir, dbPath string, inMem bool, uploadDir string, submitters int) error {
	dsn := dbPath
	if inMem {
		dsn = ":memory:"
	}
	db, err := repository.OpenSQLite(dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := repository.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	docs := repository.NewDocumentRepository(db, logger)

	if uploadDir == "" {
		tmp, err := os.MkdirTemp("", "invoice-batch-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		uploadDir = tmp
	}

	cfg := common.LoadConfig()
	ocrCfg := ocr.Config{
		Pdftotext:      cfg.OCR.Pdftotext,
		Pdftoppm:       cfg.OCR.Pdftoppm,
		Tesseract:      cfg.OCR.Tesseract,
		TesseractLang:  cfg.OCR.TesseractLang,
		DPI:            cfg.OCR.DPI,
		MaxPages:       cfg.OCR.MaxPages,
		TessdataDir:    cfg.OCR.TessdataDir,
		DeepOCRBaseURL: cfg.OCR.DeepOCRBaseURL,
		RenderTimeout:  cfg.OCR.RenderTimeout,
		OCRTimeout:     cfg.OCR.OCRTimeout,
		DeepOCRTimeout: cfg.OCR.DeepOCRTimeout,
		ArtifactDir:    cfg.OCR.ArtifactDir,
	}
	extractor := openai.NewClient(openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
		LenientOptional: true,
	}, logger)

	tracker := &submissionSet{}
	scheduler, err := queue.NewScheduler(tracker, queue.Config{
		TierConcurrency:   cfg.Queue.TierConcurrency,
		WorkerIdleTimeout: queue.MinIdleTimeout,
	}, logger)
	if err != nil {
		return err
	}
	orch := extract.NewOrchestrator(
		logger,
		ocr.NewRenderer(ocrCfg, logger),
		ocr.NewTextLayerRunner(ocrCfg, logger),
		ocr.NewTesseractRunner(ocrCfg, logger),
		ocr.NewDeepOCRRunner(ocrCfg, logger),
		quality.NewAssessor(quality.DefaultThresholds(), logger),
		scheduler.TierSlots(),
	)
	tracker.proc = pipeline.NewProcessor(logger, orch, extractor, verify.NewVerifier(logger), docs, "", 0)

	svc, err := ingest.NewService(logger, docs, scheduler, uploadDir)
	if err != nil {
		return err
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		logger.Info("no invoice files found", "dir", dir)
		return nil
	}
	logger.Info("submitting invoices", "count", len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(submitters)
	var submitted, duplicates int
	var mu sync.Mutex
	for _, path := range files {
		g.Go(func() error {
			doc, err := svc.SubmitPath(gctx, path)
			if errors.Is(err, common.ErrDuplicate) {
				mu.Lock()
				duplicates++
				mu.Unlock()
				logger.Info("skipping duplicate", "path", path, "document_id", doc.ID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("submit %s: %w", path, err)
			}
			mu.Lock()
			submitted++
			mu.Unlock()
			tracker.expect(doc.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// drain: the scheduler keeps workers running until the queue is empty
	scheduler.Shutdown(ctx)

	fmt.Printf("submitted %d, duplicates %d\n", submitted, duplicates)
	for _, id := range tracker.ids() {
		doc, err := docs.GetByID(ctx, id)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%s  %-10s  %s", doc.ID, doc.Status, doc.Filename)
		if doc.SupplierName != nil && doc.TotalAmount != nil {
			cur := ""
			if doc.CurrencyCode != nil {
				cur = " " + *doc.CurrencyCode
			}
			line += fmt.Sprintf("  |  %s  %s%s", *doc.SupplierName, *doc.TotalAmount, cur)
		}
		if doc.ErrorMessage != nil {
			line += "  |  " + *doc.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

// submissionSet wraps the pipeline processor and remembers which
// documents this run submitted, for the final summary.
type submissionSet struct {
	proc *pipeline.Processor

	mu  sync.Mutex
	all []uuid.UUID
}

func (t *submissionSet) expect(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.all = append(t.all, id)
}

func (t *submissionSet) ids() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID(nil), t.all...)
}

func (t *submissionSet) Process(ctx context.Context, job queue.Job) error {
	return t.proc.Process(ctx, job)
}
