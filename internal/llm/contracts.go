package llm

import "context"

// EntryFields is one line entry as returned by the model. Attributes holds
// engine-discovered fields the canonical schema does not model by name
// (e.g. "kWh", "unit_rate").
type EntryFields struct {
	Label      string            `json:"label"`
	Amount     string            `json:"amount,omitempty"`     // decimal
	EntryType  string            `json:"entry_type,omitempty"` // one of constants.EntryTypeStrings
	Attributes map[string]string `json:"attributes,omitempty"`
}

// InvoiceFields is the normalized shape we want from the LLM.
type InvoiceFields struct {
	SupplierName    string        `json:"supplier_name"`
	InvoiceNumber   string        `json:"invoice_number,omitempty"`
	InvoiceDate     string        `json:"invoice_date,omitempty"` // YYYY-MM-DD
	DueDate         string        `json:"due_date,omitempty"`     // YYYY-MM-DD
	TotalAmount     string        `json:"total_amount"`           // decimal
	TaxAmount       string        `json:"tax_amount,omitempty"`   // decimal
	CurrencyCode    string        `json:"currency_code"`          // ISO 4217
	TaxID           string        `json:"tax_id,omitempty"`       // tax registration number
	Notes           string        `json:"notes,omitempty"`
	Entries         []EntryFields `json:"entries,omitempty"`
	ModelConfidence float32       `json:"confidence,omitempty"` // optional (0..1)
}

type ExtractRequest struct {
	RawText         string
	FilenameHint    string
	Pages           int
	Tier            int // which extraction tier produced RawText
	DefaultCurrency string
}

// FieldExtractor is the interface the pipeline depends on. The second
// return value is the raw conversation log, persisted for auditability
// even when extraction fails.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (InvoiceFields, []byte, error)
}
