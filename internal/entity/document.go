package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// Document is the unit of work: one uploaded invoice file and its
// extraction state. Monetary amounts are decimal strings, dates are
// YYYY-MM-DD strings; nil pointers mean "not extracted".
type Document struct {
	ID          uuid.UUID
	Filename    string
	FileExt     string
	SourcePath  string
	FileSize    int64
	ContentHash []byte

	Status constants.DocStatus

	SupplierName  *string
	InvoiceNumber *string
	InvoiceDate   *string
	DueDate       *string
	TotalAmount   *string
	TaxAmount     *string
	CurrencyCode  *string
	TaxID         *string
	Notes         *string

	OCRTier      *int   // 1, 2 or 3 once extraction succeeded
	RawText      *string
	LLMLog       []byte // raw conversation log from structured extraction
	ErrorMessage *string

	ExceptionKind    *constants.ExceptionKind
	ExceptionDetails []byte // structured JSON details

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineEntry is one itemized component of a Document's extracted content.
// Entries for a document are always replaced as a complete ordered set.
type LineEntry struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Label      string
	Amount     *string
	EntryType  constants.EntryType
	Position   int
	Attributes map[string]string // engine-discovered fields, e.g. "kWh"
}
