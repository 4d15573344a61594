package verify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/quality"
)

// Report is the outcome of cross-checking structured fields against the
// raw reference text. Corrections were applied to Fields; Mismatches could
// not be resolved and should raise a review flag.
type Report struct {
	Fields      llm.InvoiceFields
	Corrections []string
	Mismatches  []string
}

// Changed reports whether any correction was applied.
func (r Report) Changed() bool { return len(r.Corrections) > 0 }

// Summary renders a human-readable digest of what changed, for the
// document's notes field.
func (r Report) Summary() string {
	if !r.Changed() {
		return ""
	}
	return "verification corrected: " + strings.Join(r.Corrections, "; ")
}

// Verifier cross-checks AI-extracted amounts against the text-layer
// reference. It exists because structured extraction runs on OCR text that
// may have mangled digits even when the prose looks fluent.
type Verifier struct {
	logger *slog.Logger
}

func NewVerifier(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{logger: logger}
}

// Verify checks every monetary field and entry amount against the numbers
// present in referenceText. A value absent from the reference is repaired
// when exactly one reference number is a single-digit variant of it;
// otherwise it is reported as a mismatch.
func (v *Verifier) Verify(fields llm.InvoiceFields, referenceText string) (Report, error) {
	rep := Report{Fields: fields}
	if strings.TrimSpace(referenceText) == "" {
		return rep, fmt.Errorf("empty reference text")
	}
	refNums := quality.NumberTokens(referenceText)
	if len(refNums) == 0 {
		return rep, fmt.Errorf("reference text contains no numbers")
	}
	// two views of the reference numbers: numeric identity for presence
	// checks, and decimal-formatted amounts as the only repair candidates
	refAmounts := make(map[string]struct{}, len(refNums))
	refDecimals := make(map[string]struct{})
	for n := range refNums {
		refAmounts[amountKey(n)] = struct{}{}
		if strings.Contains(n, ".") {
			refDecimals[n] = struct{}{}
		}
	}

	checkAmount := func(name, value string) string {
		if value == "" {
			return value
		}
		canon := quality.CanonicalNumber(value)
		if _, ok := refAmounts[amountKey(canon)]; ok {
			return value
		}
		if fix, ok := singleDigitRepair(canon, refDecimals); ok {
			rep.Corrections = append(rep.Corrections, fmt.Sprintf("%s: %s -> %s", name, value, fix))
			v.logger.Info("verification corrected field", "field", name, "from", value, "to", fix)
			return fix
		}
		rep.Mismatches = append(rep.Mismatches, fmt.Sprintf("%s %s not found in reference text", name, value))
		v.logger.Warn("verification mismatch", "field", name, "value", value)
		return value
	}

	rep.Fields.TotalAmount = checkAmount("total_amount", fields.TotalAmount)
	rep.Fields.TaxAmount = checkAmount("tax_amount", fields.TaxAmount)
	for i := range rep.Fields.Entries {
		e := &rep.Fields.Entries[i]
		if e.Amount != "" {
			e.Amount = checkAmount(fmt.Sprintf("entries[%d].amount", i), e.Amount)
		}
	}

	// invoice number: textual presence check only, never rewritten
	if n := strings.TrimSpace(fields.InvoiceNumber); n != "" {
		if !strings.Contains(strings.ToLower(referenceText), strings.ToLower(n)) {
			rep.Mismatches = append(rep.Mismatches, fmt.Sprintf("invoice_number %q not found in reference text", n))
		}
	}

	v.logger.Debug("verification done",
		"corrections", len(rep.Corrections), "mismatches", len(rep.Mismatches))
	return rep, nil
}

// amountKey reduces a canonical number token to its numeric identity, so
// "119", "119.0" and "119.00" all compare equal.
func amountKey(canon string) string {
	if !strings.Contains(canon, ".") {
		return canon
	}
	canon = strings.TrimRight(canon, "0")
	return strings.TrimSuffix(canon, ".")
}

// singleDigitRepair returns the unique reference number that differs from
// value in exactly one digit position. Candidates are limited to
// decimal-formatted amounts so invoice-number fragments and years can never
// overwrite a total, and ambiguous candidates are rejected; a wrong
// correction is worse than a flagged mismatch.
func singleDigitRepair(value string, refNums map[string]struct{}) (string, bool) {
	var found string
	count := 0
	for n := range refNums {
		if oneDigitOff(value, n) {
			found = n
			count++
		}
	}
	if count == 1 {
		return found, true
	}
	return "", false
}

func oneDigitOff(a, b string) bool {
	if len(a) != len(b) || a == b {
		return false
	}
	diff := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			// only digit-for-digit substitutions count
			if a[i] < '0' || a[i] > '9' || b[i] < '0' || b[i] > '9' {
				return false
			}
			diff++
			if diff > 1 {
				return false
			}
		}
	}
	return diff == 1
}
