package ocr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// Renderer converts an uploaded file into a directory of page images.
// The returned cleanup func removes the directory and must be called on
// every exit path; callers own the directory exclusively.
type Renderer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewRenderer(cfg Config, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{cfg: cfg.withDefaults(), runner: execRunner{}, logger: logger}
}

// NewRendererWithRunner is used by tests to stub the external commands.
func NewRendererWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Renderer {
	r := NewRenderer(cfg, logger)
	r.runner = runner
	return r
}

// RenderPages rasterizes a PDF via pdftoppm, or stages a single image file,
// into a fresh temp directory under ArtifactDir.
func (r *Renderer) RenderPages(ctx context.Context, path, format string) (dir string, pages []string, cleanup func(), err error) {
	if err := os.MkdirAll(r.cfg.ArtifactDir, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("artifact dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(r.cfg.ArtifactDir, "ip-pages-*")
	if err != nil {
		return "", nil, nil, err
	}
	cleanup = func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			r.logger.Warn("failed to remove page directory", "dir", tmpDir, "error", rmErr)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	switch format {
	case constants.PDF:
		prefix := filepath.Join(tmpDir, "page")
		// pdftoppm -r 300 -png <in.pdf> <tmp/page>
		_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", r.cfg.DPI), "-png", path, prefix)
		if err != nil {
			cleanup()
			return "", nil, nil, fmt.Errorf("pdftoppm: %w (stderr: %s)", err, truncate(string(errb), 512))
		}
		matches, _ := filepath.Glob(prefix + "-*.png")
		sort.Strings(matches)
		if r.cfg.MaxPages > 0 && len(matches) > r.cfg.MaxPages {
			matches = matches[:r.cfg.MaxPages]
		}
		if len(matches) == 0 {
			cleanup()
			return "", nil, nil, fmt.Errorf("pdftoppm produced no images for %s", path)
		}
		r.logger.Debug("rendered pdf pages", "path", path, "pages", len(matches), "dir", tmpDir)
		return tmpDir, matches, cleanup, nil
	case constants.IMAGE:
		dst := filepath.Join(tmpDir, "page-1"+filepath.Ext(path))
		if err := copyFile(path, dst); err != nil {
			cleanup()
			return "", nil, nil, fmt.Errorf("stage image: %w", err)
		}
		return tmpDir, []string{dst}, cleanup, nil
	default:
		cleanup()
		return "", nil, nil, fmt.Errorf("unsupported format: %q", format)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
