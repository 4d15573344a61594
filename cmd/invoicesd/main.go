package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/quality"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
	"github.com/joseph-ayodele/invoice-pipeline/internal/server"
	"github.com/joseph-ayodele/invoice-pipeline/internal/verify"
)

const shutdownGrace = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	db, pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer repository.Close(db, pool, logger)

	if err := repository.HealthCheck(ctx, pool, 5*time.Second, logger); err != nil {
		return err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}

	docs := repository.NewDocumentRepository(db, logger)

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

	// the processor needs the scheduler's limiter, so wire in two steps
	var proc procHolder
	scheduler, err := queue.NewScheduler(&proc, queue.Config{
		TierConcurrency:   cfg.Queue.TierConcurrency,
		WorkerIdleTimeout: cfg.Queue.WorkerIdleTimeout,
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
	proc.set(pipeline.NewProcessor(logger, orch, extractor, verify.NewVerifier(logger), docs, "", 0))

	ing, err := ingest.NewService(logger, docs, scheduler, cfg.Server.UploadDir)
	if err != nil {
		return err
	}

	api := server.New(logger, ing, docs, scheduler, func(ctx context.Context) error {
		return repository.HealthCheck(ctx, pool, 2*time.Second, logger)
	})
	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: api.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ingest.NewWatcher(logger, ing, cfg.Server.WatchRoots).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		scheduler.Shutdown(shutCtx)
		return nil
	})
	return g.Wait()
}

// procHolder breaks the scheduler/processor construction cycle: the
// scheduler needs a Processor at construction time, while the processor
// needs the scheduler's limiter.
type procHolder struct {
	p *pipeline.Processor
}

func (h *procHolder) set(p *pipeline.Processor) { h.p = p }

func (h *procHolder) Process(ctx context.Context, job queue.Job) error {
	return h.p.Process(ctx, job)
}
