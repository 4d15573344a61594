package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sanitized(t *testing.T, in string) (map[string]any, []string) {
	t.Helper()
	out, dropped, err := SanitizeOptionalFields([]byte(in))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	return m, dropped
}

func TestSanitizeDropsInvalidOptionalMoney(t *testing.T) {
	m, dropped := sanitized(t, `{"supplier_name":"A","total_amount":"1.00","currency_code":"EUR","tax_amount":"n/a"}`)
	_, has := m["tax_amount"]
	assert.False(t, has)
	assert.Contains(t, dropped, "tax_amount(invalid)")
}

func TestSanitizeCoercesNumericMoney(t *testing.T) {
	m, _ := sanitized(t, `{"tax_amount": 19}`)
	assert.Equal(t, "19.00", m["tax_amount"])
}

func TestSanitizeDropsNullMoney(t *testing.T) {
	m, dropped := sanitized(t, `{"tax_amount": null}`)
	_, has := m["tax_amount"]
	assert.False(t, has)
	assert.Contains(t, dropped, "tax_amount(null)")
}

func TestSanitizeUppercasesCurrency(t *testing.T) {
	m, _ := sanitized(t, `{"currency_code":" eur "}`)
	assert.Equal(t, "EUR", m["currency_code"])
}

func TestSanitizeDropsMalformedDates(t *testing.T) {
	m, dropped := sanitized(t, `{"invoice_date":"01.08.2026","due_date":"2026-09-01"}`)
	_, has := m["invoice_date"]
	assert.False(t, has)
	assert.Equal(t, "2026-09-01", m["due_date"])
	assert.Contains(t, dropped, "invoice_date(format)")
}

func TestSanitizeNormalizesEntriesWithoutDroppingThem(t *testing.T) {
	m, _ := sanitized(t, `{"entries":[{"label":"Net","amount":100,"entry_type":"charge"},{"label":"Note","amount":"tbd"}]}`)
	entries := m["entries"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "100.00", first["amount"])
	assert.Equal(t, "CHARGE", first["entry_type"])
	second := entries[1].(map[string]any)
	_, has := second["amount"]
	assert.False(t, has, "bad entry amount is dropped, entry survives")
	assert.Equal(t, "Note", second["label"])
}
