package llm

import "github.com/joseph-ayodele/invoice-pipeline/constants"

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	entryProps := map[string]any{
		"label":      map[string]any{"type": "string", "minLength": 1},
		"amount":     decimalProp(),
		"entry_type": map[string]any{"type": "string", "enum": constants.EntryTypeStrings()},
		"attributes": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
	}

	props := map[string]any{
		"supplier_name":  map[string]any{"type": "string", "minLength": 1},
		"invoice_number": map[string]any{"type": "string"},
		"invoice_date":   dateProp(),
		"due_date":       dateProp(),
		"total_amount":   decimalProp(),
		"tax_amount":     decimalProp(),
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"tax_id":         map[string]any{"type": "string"},
		"notes":          map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		"entries": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           entryProps,
				"required":             []string{"label"},
			},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"supplier_name", "total_amount", "currency_code"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`, // allow negatives for discounts
	}
}

func dateProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^\d{4}-\d{2}-\d{2}$`,
	}
}
