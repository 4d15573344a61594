package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// TesseractRunner is tier 2: moderate-cost OCR over rendered page images.
// Tesseract runs once per page in TSV mode, which yields both the
// recognized words and a per-word confidence in a single pass.
type TesseractRunner struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractRunner(cfg Config, logger *slog.Logger) *TesseractRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractRunner{cfg: cfg.withDefaults(), runner: execRunner{}, logger: logger}
}

func NewTesseractRunnerWithRunner(cfg Config, runner Runner, logger *slog.Logger) *TesseractRunner {
	r := NewTesseractRunner(cfg, logger)
	r.runner = runner
	return r
}

func (r *TesseractRunner) Tier() Tier { return TierOCR }

func (r *TesseractRunner) Run(ctx context.Context, src Source) (Result, error) {
	if len(src.PageFiles) == 0 {
		return Result{Tier: TierOCR}, fmt.Errorf("no rendered pages for %s", src.Path)
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OCRTimeout)
	defer cancel()

	var b strings.Builder
	var confs []float32
	var warns []string
	ok := 0
	for _, img := range src.PageFiles {
		text, pageConfs, err := r.pageTSV(ctx, img)
		if err != nil {
			warns = append(warns, err.Error())
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(text)
		confs = append(confs, pageConfs...)
		ok++
	}
	if ok == 0 {
		return Result{Tier: TierOCR, Warnings: warns}, fmt.Errorf("tesseract failed on all %d pages", len(src.PageFiles))
	}

	res := Result{
		Tier:            TierOCR,
		Text:            Normalize(b.String()),
		Pages:           len(src.PageFiles),
		MeanConfidence:  meanConfidence(confs),
		WordConfidences: confs,
		Duration:        time.Since(start),
		Warnings:        warns,
	}
	r.logger.Debug("tesseract ocr done",
		"path", src.Path, "pages", res.Pages,
		"words", len(confs), "mean_confidence", res.MeanConfidence,
	)
	return res, nil
}

// pageTSV runs tesseract in TSV mode on one page image and reassembles the
// text from word rows (level 5), collecting word confidences in 0..1.
func (r *TesseractRunner) pageTSV(ctx context.Context, path string) (string, []float32, error) {
	args := []string{path, "stdout", "-l", r.cfg.TesseractLang}
	if r.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", r.cfg.PSM))
	}
	if r.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", r.cfg.OEM))
	}
	if r.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", r.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := r.runner.Run(ctx, r.cfg.Tesseract, args...)
	if err != nil {
		return "", nil, fmt.Errorf("tesseract %s: %w (stderr: %s)", path, err, truncate(string(errb), 512))
	}
	text, confs := parseTSV(string(out))
	return text, confs, nil
}

// parseTSV walks tesseract TSV output. Columns:
// level page block par line word left top width height conf text
func parseTSV(tsv string) (string, []float32) {
	var b strings.Builder
	var confs []float32
	lastLine := ""
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" { // skip header
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" { // word rows only
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		if v, err := strconv.ParseFloat(cols[10], 64); err == nil && v >= 0 {
			confs = append(confs, float32(v/100.0))
		}
		lineKey := cols[2] + "/" + cols[3] + "/" + cols[4]
		if lastLine != "" && lineKey != lastLine {
			b.WriteString("\n")
		} else if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(word)
		lastLine = lineKey
	}
	return b.String(), confs
}

func meanConfidence(confs []float32) float32 {
	if len(confs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confs {
		sum += float64(c)
	}
	return float32(sum / float64(len(confs)))
}
