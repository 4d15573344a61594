package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumberTokensCanonicalizesSeparators(t *testing.T) {
	toks := NumberTokens("German 1.234,56 and English 1,234.56 and plain 42")
	assert.Contains(t, toks, "1234.56")
	assert.Contains(t, toks, "42")
	// both spellings collapse to one canonical token
	assert.Len(t, toks, 2)
}

func TestNumberTokensIgnoresSingleDigits(t *testing.T) {
	toks := NumberTokens("page 1 of 2, total 99")
	assert.NotContains(t, toks, "1")
	assert.NotContains(t, toks, "2")
	assert.Contains(t, toks, "99")
}

func TestMatchRatio(t *testing.T) {
	ref := NumberTokens("100.00 19.00 119.00")
	cand := NumberTokens("100.00 19.00 999.99")
	ratio, count := MatchRatio(ref, cand)
	assert.Equal(t, 3, count)
	assert.InDelta(t, 2.0/3.0, ratio, 1e-9)
}

func TestMatchRatioEmptyReference(t *testing.T) {
	ratio, count := MatchRatio(NumberTokens("no numbers here"), NumberTokens("123.45"))
	assert.Zero(t, ratio)
	assert.Zero(t, count)
}
