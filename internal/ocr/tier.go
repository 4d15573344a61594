package ocr

import (
	"context"
	"time"
)

// Tier identifies one of the three extraction strategies, in increasing
// order of cost and robustness.
type Tier int

const (
	TierTextLayer Tier = 1 // pdftotext text layer, PDFs only
	TierOCR       Tier = 2 // tesseract on rendered page images
	TierDeepOCR   Tier = 3 // deep-learning OCR service, the cascade ceiling
)

func (t Tier) String() string {
	switch t {
	case TierTextLayer:
		return "text-layer"
	case TierOCR:
		return "ocr"
	case TierDeepOCR:
		return "deep-ocr"
	}
	return "unknown"
}

// Source describes the input handed to a tier runner. PageDir/PageFiles are
// populated once rendering has happened and are shared by tiers 2 and 3.
type Source struct {
	Path      string // original uploaded file
	Format    string // constants.PDF | constants.IMAGE
	PageDir   string // rendered page-image directory, "" before rendering
	PageFiles []string
}

// Result is a tier's structured success payload.
type Result struct {
	Tier            Tier
	Text            string
	Pages           int
	MeanConfidence  float32   // 0..1; zero for the text layer
	WordConfidences []float32 // per recognized word, 0..1; OCR tiers only
	Duration        time.Duration
	Warnings        []string
}

// TierRunner produces raw text plus tier metadata from a source.
// Implementations wrap external black-box processes or services; any
// malformed output is surfaced as an error (treated as a tier failure).
type TierRunner interface {
	Tier() Tier
	Run(ctx context.Context, src Source) (Result, error)
}
