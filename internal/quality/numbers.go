package quality

import (
	"regexp"
	"strings"
)

// reNumber matches number-like tokens: amounts with thousands separators,
// decimals, and plain integers of 2+ digits (single digits are too noisy
// to cross-reference).
var reNumber = regexp.MustCompile(`\d{1,3}(?:[.,]\d{3})*[.,]\d{1,2}|\d{2,}`)

// NumberTokens extracts the distinct number-like tokens of a text, with
// thousands separators stripped and the decimal separator normalized to a
// dot, so "1.234,56" and "1,234.56" compare equal.
func NumberTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range reNumber.FindAllString(text, -1) {
		out[CanonicalNumber(tok)] = struct{}{}
	}
	return out
}

// MatchRatio returns the share of reference numbers that also occur in the
// candidate, and the reference count. A zero count means no check is possible.
func MatchRatio(reference, candidate map[string]struct{}) (ratio float64, refCount int) {
	refCount = len(reference)
	if refCount == 0 {
		return 0, 0
	}
	matched := 0
	for n := range reference {
		if _, ok := candidate[n]; ok {
			matched++
		}
	}
	return float64(matched) / float64(refCount), refCount
}

// CanonicalNumber normalizes a single number token the same way
// NumberTokens does, so callers can compare values against the token set.
func CanonicalNumber(tok string) string {
	lastDot := strings.LastIndexAny(tok, ".,")
	if lastDot == -1 {
		return tok
	}
	// a trailing group of 1-2 digits after the last separator is decimals;
	// everything else is grouping noise
	frac := tok[lastDot+1:]
	if len(frac) > 2 {
		return strings.Map(dropSeparators, tok)
	}
	intPart := strings.Map(dropSeparators, tok[:lastDot])
	return intPart + "." + frac
}

func dropSeparators(r rune) rune {
	if r == '.' || r == ',' {
		return -1
	}
	return r
}
