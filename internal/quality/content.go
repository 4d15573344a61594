package quality

import (
	"regexp"
	"strings"
)

// Surface signals that distinguish an invoice from arbitrary decoded text.
var (
	reDateSignal     = regexp.MustCompile(`\b20\d{2}[-./]\d{1,2}[-./]\d{1,2}\b|\b\d{1,2}[-./]\d{1,2}[-./]20\d{2}\b`)
	reCurrencySignal = regexp.MustCompile(`\b(eur|usd|gbp|chf|pln|sek|nok|dkk)\b|[€$£]`)
	reAmountSignal   = regexp.MustCompile(`\b\d{1,3}(?:[.,]\d{3})*[.,]\d{2}\b`)
)

// ContentScore estimates how invoice-like a text is from cheap pattern
// checks: dates, currency markers, decimal amounts and sheer length.
// The score is heuristic and only meaningful near its extremes; a text
// with none of the signals scores 0.2, one with all of them 0.8.
func ContentScore(text string) float32 {
	lower := strings.ToLower(text)
	score := float32(0.2)
	if reDateSignal.MatchString(lower) {
		score += 0.2
	}
	if reCurrencySignal.MatchString(lower) {
		score += 0.15
	}
	if reAmountSignal.MatchString(lower) {
		score += 0.15
	}
	if len(text) > 120 {
		score += 0.1
	}
	return score
}
