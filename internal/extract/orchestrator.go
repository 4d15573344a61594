package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/quality"
)

// PageRenderer renders a document into page images once; the images are
// shared by tiers 2 and 3. The caller owns cleanup of the directory.
type PageRenderer interface {
	RenderPages(ctx context.Context, path, format string) (dir string, pages []string, cleanup func(), err error)
}

// TierLimiter caps concurrent tier-2/3 work. A slot is held from just
// before rendering until after the page directory has been cleaned up.
// A nil limiter means unbounded.
type TierLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// Outcome is the result of a cascade run: the accepted tier output plus the
// rejected tier-1 text when it existed (still informative as a
// cross-reference for verification).
type Outcome struct {
	Result        ocr.Result
	ReferenceText string
	Rejections    []string // reasons collected while escalating
}

// Orchestrator drives the tier cascade per document: try tier 1, assess;
// if rejected, render page images once and try tier 2, assess; if rejected,
// run tier 3 (the ceiling, no further assessment).
type Orchestrator struct {
	logger    *slog.Logger
	renderer  PageRenderer
	textLayer ocr.TierRunner
	moderate  ocr.TierRunner
	deep      ocr.TierRunner
	assessor  *quality.Assessor
	limiter   TierLimiter
}

func NewOrchestrator(
	logger *slog.Logger,
	renderer PageRenderer,
	textLayer, moderate, deep ocr.TierRunner,
	assessor *quality.Assessor,
	limiter TierLimiter,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:    logger,
		renderer:  renderer,
		textLayer: textLayer,
		moderate:  moderate,
		deep:      deep,
		assessor:  assessor,
		limiter:   limiter,
	}
}

// acquireSlot takes a tier-2/3 slot; the returned release is safe to call
// once and must run after page-directory cleanup.
func (o *Orchestrator) acquireSlot(ctx context.Context) (func(), error) {
	if o.limiter == nil {
		return func() {}, nil
	}
	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire tier slot: %w", err)
	}
	return o.limiter.Release, nil
}

// cascade stages; strictly sequential, no branching back.
type stage int

const (
	stageTextLayer stage = iota
	stageRender
	stageOCR
	stageDeepOCR
)

// Extract runs the full cascade for one document.
// Rendering failures are fatal; a tier failure escalates to the next tier
// when one exists. The rendered-page directory is removed on every exit path.
func (o *Orchestrator) Extract(ctx context.Context, path, format string) (Outcome, error) {
	var out Outcome
	src := ocr.Source{Path: path, Format: format}

	st := stageTextLayer
	if format == constants.IMAGE {
		// images have no text layer
		st = stageRender
	}

	// The page directory must be gone before the concurrency slot is
	// released, on every exit path.
	var cleanup, release func()
	defer func() {
		if cleanup != nil {
			cleanup()
		}
		if release != nil {
			release()
		}
	}()

	for {
		switch st {
		case stageTextLayer:
			res, err := o.textLayer.Run(ctx, src)
			if err != nil {
				o.logger.Warn("text layer extraction failed, escalating", "path", path, "error", err)
				out.Rejections = append(out.Rejections, fmt.Sprintf("tier 1 failed: %v", err))
				st = stageRender
				continue
			}
			if a := o.assessor.Assess(res, ""); a.Accept {
				out.Result = res
				o.logger.Info("extraction accepted", "path", path, "tier", res.Tier.String(), "pages", res.Pages)
				return out, nil
			} else {
				o.logger.Info("text layer rejected, escalating", "path", path, "reason", a.Reason)
				out.Rejections = append(out.Rejections, "tier 1 rejected: "+a.Reason)
				// keep the broken text layer as a cross-reference for later checks
				out.ReferenceText = res.Text
			}
			st = stageRender

		case stageRender:
			rel, err := o.acquireSlot(ctx)
			if err != nil {
				return out, err
			}
			release = rel
			dir, pages, cf, err := o.renderer.RenderPages(ctx, path, format)
			if err != nil {
				return out, fmt.Errorf("render pages: %w", err)
			}
			cleanup = cf
			src.PageDir, src.PageFiles = dir, pages
			st = stageOCR

		case stageOCR:
			res, err := o.moderate.Run(ctx, src)
			if err != nil {
				o.logger.Warn("ocr tier failed, escalating", "path", path, "error", err)
				out.Rejections = append(out.Rejections, fmt.Sprintf("tier 2 failed: %v", err))
				st = stageDeepOCR
				continue
			}
			if a := o.assessor.Assess(res, out.ReferenceText); a.Accept {
				out.Result = res
				o.logger.Info("extraction accepted", "path", path, "tier", res.Tier.String(),
					"pages", res.Pages, "mean_confidence", res.MeanConfidence)
				return out, nil
			} else {
				o.logger.Info("ocr tier rejected, escalating", "path", path, "reason", a.Reason)
				out.Rejections = append(out.Rejections, "tier 2 rejected: "+a.Reason)
			}
			st = stageDeepOCR

		case stageDeepOCR:
			res, err := o.deep.Run(ctx, src)
			if err != nil {
				return out, fmt.Errorf("deep ocr: %w", err)
			}
			// the ceiling: accepted unconditionally
			out.Result = res
			o.logger.Info("extraction accepted", "path", path, "tier", res.Tier.String(), "pages", res.Pages)
			return out, nil
		}
	}
}

// ReExtract forces a specific tier (2 or 3), bypassing the cascade but
// reusing the same rendering and cleanup contract.
func (o *Orchestrator) ReExtract(ctx context.Context, path, format string, target ocr.Tier) (Outcome, error) {
	var runner ocr.TierRunner
	switch target {
	case ocr.TierOCR:
		runner = o.moderate
	case ocr.TierDeepOCR:
		runner = o.deep
	default:
		return Outcome{}, fmt.Errorf("cannot pin extraction to tier %d", target)
	}

	release, err := o.acquireSlot(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer release()
	dir, pages, cleanup, err := o.renderer.RenderPages(ctx, path, format)
	if err != nil {
		return Outcome{}, fmt.Errorf("render pages: %w", err)
	}
	defer cleanup()

	src := ocr.Source{Path: path, Format: format, PageDir: dir, PageFiles: pages}
	res, err := runner.Run(ctx, src)
	if err != nil {
		return Outcome{}, fmt.Errorf("tier %d: %w", target, err)
	}
	o.logger.Info("pinned extraction done", "path", path, "tier", res.Tier.String(), "pages", res.Pages)
	return Outcome{Result: res}, nil
}
