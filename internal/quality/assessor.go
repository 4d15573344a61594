package quality

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

// Thresholds are the tuning knobs of the quality gate. The defaults were
// calibrated against the hardest known clean-scan sample; treat them as
// configuration, not constants.
type Thresholds struct {
	MinMeanConfidence   float64 // tier-2 floor for mean word confidence (0..1)
	MaxLowConfRatio     float64 // tier-2 ceiling for low-confidence word share
	LowConfWord         float64 // a word below this confidence counts as low
	MinTextLength       int     // below this the output is likely a scan artifact
	MinReferenceLen     int     // reference shorter than this is not cross-checked
	MinNumberMatch      float64 // floor for reference-number recall in candidate
	MaxReplacementRunes int     // U+FFFD budget before the text layer is garbage
}

// DefaultThresholds returns the tuned default gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinMeanConfidence:   0.80,
		MaxLowConfRatio:     0.10,
		LowConfWord:         0.60,
		MinTextLength:       32,
		MinReferenceLen:     64,
		MinNumberMatch:      0.50,
		MaxReplacementRunes: 5,
	}
}

// Assessment is the gate's verdict for one tier output.
type Assessment struct {
	Accept bool
	Reason string
}

// Assessor decides accept/escalate for tier outputs. Tier 3 is the cascade
// ceiling and is never assessed.
type Assessor struct {
	th     Thresholds
	logger *slog.Logger
}

func NewAssessor(th Thresholds, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Assessor{th: th, logger: logger}
}

// garbage markers left by broken text layers: CID-keyed fonts dumped as
// escape sequences by pdftotext.
var garbageMarkers = []string{"(cid:", "\\u00", "\\x"}

// Assess inspects a tier's output and decides accept or escalate.
// referenceText is the rejected tier-1 text, when one exists; it is only
// consulted for the tier-2 numeric cross-reference.
func (a *Assessor) Assess(res ocr.Result, referenceText string) Assessment {
	var out Assessment
	switch res.Tier {
	case ocr.TierTextLayer:
		out = a.assessTextLayer(res)
	case ocr.TierOCR:
		out = a.assessOCR(res, referenceText)
	default:
		// tier 3 output is accepted unconditionally
		out = Assessment{Accept: true, Reason: "cascade ceiling"}
	}
	a.logger.Debug("quality assessment",
		"tier", res.Tier.String(), "accept", out.Accept, "reason", out.Reason)
	return out
}

func (a *Assessor) assessTextLayer(res ocr.Result) Assessment {
	for _, m := range garbageMarkers {
		if strings.Contains(res.Text, m) {
			return Assessment{Reason: fmt.Sprintf("text layer contains garbage marker %q", m)}
		}
	}
	if n := strings.Count(res.Text, "�"); n > a.th.MaxReplacementRunes {
		return Assessment{Reason: fmt.Sprintf("text layer has %d replacement characters (max %d)", n, a.th.MaxReplacementRunes)}
	}
	if len(res.Text) < a.th.MinTextLength {
		return Assessment{Reason: fmt.Sprintf("text layer too short: %d chars (min %d), likely a scanned document", len(res.Text), a.th.MinTextLength)}
	}
	return Assessment{Accept: true, Reason: "text layer ok"}
}

func (a *Assessor) assessOCR(res ocr.Result, referenceText string) Assessment {
	mean := float64(res.MeanConfidence)
	if mean < a.th.MinMeanConfidence {
		return Assessment{Reason: fmt.Sprintf("mean word confidence %.2f below %.2f", mean, a.th.MinMeanConfidence)}
	}
	if total := len(res.WordConfidences); total > 0 {
		low := 0
		for _, c := range res.WordConfidences {
			if float64(c) < a.th.LowConfWord {
				low++
			}
		}
		if ratio := float64(low) / float64(total); ratio > a.th.MaxLowConfRatio {
			return Assessment{Reason: fmt.Sprintf("low-confidence word ratio %.2f above %.2f (%d of %d words)", ratio, a.th.MaxLowConfRatio, low, total)}
		}
	}
	if len(res.Text) < a.th.MinTextLength {
		return Assessment{Reason: fmt.Sprintf("ocr text too short: %d chars (min %d)", len(res.Text), a.th.MinTextLength)}
	}

	// OCR can produce fluent-looking but numerically wrong text, which is
	// the most dangerous failure mode for financial documents. When a
	// substantial reference exists, require that enough of its numbers
	// survived into the candidate.
	if len(referenceText) >= a.th.MinReferenceLen {
		ratio, refCount := MatchRatio(NumberTokens(referenceText), NumberTokens(res.Text))
		if refCount > 0 && ratio < a.th.MinNumberMatch {
			return Assessment{Reason: fmt.Sprintf("number cross-reference %.0f%% below %.0f%% (%d reference numbers)", ratio*100, a.th.MinNumberMatch*100, refCount)}
		}
	}
	return Assessment{Accept: true, Reason: "ocr quality ok"}
}
