package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// TextLayerRunner is tier 1: pull the embedded text layer out of a PDF
// with pdftotext. Images have no text layer and are rejected outright.
type TextLayerRunner struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTextLayerRunner(cfg Config, logger *slog.Logger) *TextLayerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextLayerRunner{cfg: cfg.withDefaults(), runner: execRunner{}, logger: logger}
}

func NewTextLayerRunnerWithRunner(cfg Config, runner Runner, logger *slog.Logger) *TextLayerRunner {
	r := NewTextLayerRunner(cfg, logger)
	r.runner = runner
	return r
}

func (r *TextLayerRunner) Tier() Tier { return TierTextLayer }

func (r *TextLayerRunner) Run(ctx context.Context, src Source) (Result, error) {
	if src.Format != constants.PDF {
		return Result{Tier: TierTextLayer}, fmt.Errorf("text layer requires a PDF, got %s", src.Format)
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OCRTimeout)
	defer cancel()

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := r.runner.Run(ctx, r.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", src.Path, "-")
	if err != nil {
		return Result{Tier: TierTextLayer, Warnings: []string{string(errb)}}, fmt.Errorf("pdftotext: %w", err)
	}
	text := string(out)
	// A form-feed \f is used as page separator by default
	pages := 1 + strings.Count(text, "\f")

	r.logger.Debug("text layer extracted", "path", src.Path, "pages", pages, "bytes", len(text))
	return Result{
		Tier:     TierTextLayer,
		Text:     Normalize(text),
		Pages:    pages,
		Duration: time.Since(start),
	}, nil
}
