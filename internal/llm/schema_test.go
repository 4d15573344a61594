package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	schema := BuildInvoiceJSONSchema()
	doc := []byte(`{
		"supplier_name": "Acme GmbH",
		"invoice_number": "INV-117",
		"invoice_date": "2026-08-01",
		"total_amount": "119.00",
		"tax_amount": "19.00",
		"currency_code": "EUR",
		"confidence": 0.92,
		"entries": [
			{"label": "Net", "amount": "100.00", "entry_type": "CHARGE"},
			{"label": "Energy", "amount": "-5.00", "entry_type": "DISCOUNT", "attributes": {"kWh": "120"}}
		]
	}`)
	assert.NoError(t, ValidateJSONAgainstSchema(schema, doc))
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	schema := BuildInvoiceJSONSchema()
	doc := []byte(`{"supplier_name": "Acme", "total_amount": "1.00"}`)
	err := ValidateJSONAgainstSchema(schema, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "currency_code")
}

func TestValidateRejectsBadAmountPattern(t *testing.T) {
	schema := BuildInvoiceJSONSchema()
	doc := []byte(`{"supplier_name": "Acme", "total_amount": "1,190.00", "currency_code": "EUR"}`)
	assert.Error(t, ValidateJSONAgainstSchema(schema, doc))
}

func TestValidateRejectsUnknownEntryType(t *testing.T) {
	schema := BuildInvoiceJSONSchema()
	doc := []byte(`{
		"supplier_name": "Acme", "total_amount": "1.00", "currency_code": "EUR",
		"entries": [{"label": "x", "entry_type": "SURPRISE"}]
	}`)
	assert.Error(t, ValidateJSONAgainstSchema(schema, doc))
}
