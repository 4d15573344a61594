package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeepOCRRunner is tier 3: a deep-learning OCR service behind an HTTP
// boundary. It is the ceiling of the cascade; quality assessment does not
// apply to its output. Malformed responses are surfaced as tier failures.
type DeepOCRRunner struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewDeepOCRRunner(cfg Config, logger *slog.Logger) *DeepOCRRunner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &DeepOCRRunner{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.DeepOCRTimeout},
		logger: logger,
	}
}

// NewDeepOCRRunnerWithClient is used by tests to stub the service.
func NewDeepOCRRunnerWithClient(cfg Config, client *http.Client, logger *slog.Logger) *DeepOCRRunner {
	r := NewDeepOCRRunner(cfg, logger)
	r.http = client
	return r
}

func (r *DeepOCRRunner) Tier() Tier { return TierDeepOCR }

type deepOCRRequest struct {
	Pages    []string `json:"pages"` // base64-encoded page images
	Language string   `json:"language,omitempty"`
}

type deepOCRResponse struct {
	Text       string  `json:"text"`
	Pages      int     `json:"pages"`
	Confidence float32 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

func (r *DeepOCRRunner) Run(ctx context.Context, src Source) (Result, error) {
	if len(src.PageFiles) == 0 {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("no rendered pages for %s", src.Path)
	}
	reqID := uuid.New().String()
	start := time.Now()

	payload := deepOCRRequest{Language: r.cfg.TesseractLang}
	for _, p := range src.PageFiles {
		raw, err := os.ReadFile(p)
		if err != nil {
			return Result{Tier: TierDeepOCR}, fmt.Errorf("read page %s: %w", p, err)
		}
		payload.Pages = append(payload.Pages, base64.StdEncoding.EncodeToString(raw))
	}

	bs, err := json.Marshal(payload)
	if err != nil {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DeepOCRTimeout)
	defer cancel()

	url := strings.TrimRight(r.cfg.DeepOCRBaseURL, "/") + "/v1/ocr"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	r.logger.Info("deepocr.request", "req_id", reqID, "pages", len(payload.Pages), "url", url)

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Error("deepocr.send_error", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{Tier: TierDeepOCR}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	r.logger.Info("deepocr.response",
		"req_id", reqID, "status", resp.StatusCode, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("deep ocr: non-2xx status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var out deepOCRResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("deep ocr: decode response: %w", err)
	}
	if out.Error != "" {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("deep ocr: %s", out.Error)
	}
	if strings.TrimSpace(out.Text) == "" {
		return Result{Tier: TierDeepOCR}, fmt.Errorf("deep ocr: empty text in response")
	}

	pages := out.Pages
	if pages == 0 {
		pages = len(src.PageFiles)
	}
	return Result{
		Tier:           TierDeepOCR,
		Text:           Normalize(out.Text),
		Pages:          pages,
		MeanConfidence: out.Confidence,
		Duration:       time.Since(start),
	}, nil
}
