package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// ExtractionUpdate carries the structured fields persisted after a
// successful pipeline run. Nil pointers leave the column NULL.
type ExtractionUpdate struct {
	SupplierName  *string
	InvoiceNumber *string
	InvoiceDate   *string
	DueDate       *string
	TotalAmount   *string
	TaxAmount     *string
	CurrencyCode  *string
	TaxID         *string
	Notes         *string
	OCRTier       int
	RawText       string
	LLMLog        []byte
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) (*entity.Document, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	GetByHash(ctx context.Context, hash []byte) (*entity.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocStatus) error
	SaveExtraction(ctx context.Context, id uuid.UUID, upd ExtractionUpdate) error
	SetError(ctx context.Context, id uuid.UUID, message string) error
	SetException(ctx context.Context, id uuid.UUID, kind constants.ExceptionKind, details map[string]any) error
	ReplaceEntries(ctx context.Context, id uuid.UUID, entries []entity.LineEntry) error
	ListEntries(ctx context.Context, id uuid.UUID) ([]entity.LineEntry, error)
	ResetForReprocess(ctx context.Context, id uuid.UUID) error
}

type documentRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDocumentRepository(db *sql.DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, logger: logger}
}

const docColumns = `id, filename, file_ext, source_path, file_size, content_hash, status,
	supplier_name, invoice_number, invoice_date, due_date, total_amount, tax_amount,
	currency_code, tax_id, notes, ocr_tier, raw_text, llm_log, error_message,
	exception_kind, exception_details, created_at, updated_at`

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) (*entity.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = constants.StatusQueued
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now

	hashHex := hex.EncodeToString(doc.ContentHash)
	if existing, err := r.GetByHash(ctx, doc.ContentHash); err == nil {
		r.logger.Warn("duplicate upload rejected", "content_hash", hashHex, "existing_id", existing.ID)
		return existing, common.NewAppError("DUPLICATE_DOCUMENT",
			fmt.Sprintf("content hash already exists for document %s", existing.ID), common.ErrDuplicate)
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO documents
		(id, filename, file_ext, source_path, file_size, content_hash, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID.String(), doc.Filename, doc.FileExt, doc.SourcePath, doc.FileSize,
		hashHex, string(doc.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		r.logger.Error("failed to create document", "filename", doc.Filename, "error", err)
		return nil, err
	}
	r.logger.Info("document created", "document_id", doc.ID, "filename", doc.Filename, "status", doc.Status)
	return doc, nil
}

func (r *documentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE id = $1`, id.String())
	return scanDocument(row)
}

func (r *documentRepo) GetByHash(ctx context.Context, hash []byte) (*entity.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE content_hash = $1`, hex.EncodeToString(hash))
	return scanDocument(row)
}

func (r *documentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.DocStatus) error {
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !constants.CanTransition(cur.Status, status) {
		return common.NewAppError("ILLEGAL_TRANSITION",
			fmt.Sprintf("cannot move document %s from %s to %s", id, cur.Status, status),
			common.ErrInvalidInput)
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), fmtTime(time.Now().UTC()), id.String())
	if err != nil {
		r.logger.Error("status update failed", "document_id", id, "status", status, "error", err)
		return err
	}
	r.logger.Info("document status updated", "document_id", id, "from", cur.Status, "to", status)
	return nil
}

func (r *documentRepo) SaveExtraction(ctx context.Context, id uuid.UUID, upd ExtractionUpdate) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET
		supplier_name = $1, invoice_number = $2, invoice_date = $3, due_date = $4,
		total_amount = $5, tax_amount = $6, currency_code = $7, tax_id = $8, notes = $9,
		ocr_tier = $10, raw_text = $11, llm_log = $12, error_message = NULL, updated_at = $13
		WHERE id = $14`,
		nullStr(upd.SupplierName), nullStr(upd.InvoiceNumber), nullStr(upd.InvoiceDate),
		nullStr(upd.DueDate), nullStr(upd.TotalAmount), nullStr(upd.TaxAmount),
		nullStr(upd.CurrencyCode), nullStr(upd.TaxID), nullStr(upd.Notes),
		upd.OCRTier, upd.RawText, string(upd.LLMLog), fmtTime(time.Now().UTC()), id.String())
	if err != nil {
		r.logger.Error("failed to save extraction", "document_id", id, "error", err)
		return err
	}
	r.logger.Info("extraction saved", "document_id", id, "tier", upd.OCRTier)
	return nil
}

func (r *documentRepo) SetError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(constants.StatusError), message, fmtTime(time.Now().UTC()), id.String())
	if err != nil {
		r.logger.Error("failed to record document error", "document_id", id, "error", err)
		return err
	}
	r.logger.Warn("document errored", "document_id", id, "message", message)
	return nil
}

func (r *documentRepo) SetException(ctx context.Context, id uuid.UUID, kind constants.ExceptionKind, details map[string]any) error {
	var detailsJSON []byte
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = b
		}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET exception_kind = $1, exception_details = $2, updated_at = $3 WHERE id = $4`,
		string(kind), string(detailsJSON), fmtTime(time.Now().UTC()), id.String())
	if err != nil {
		r.logger.Error("failed to record exception", "document_id", id, "kind", kind, "error", err)
		return err
	}
	r.logger.Warn("document flagged", "document_id", id, "kind", kind)
	return nil
}

// ReplaceEntries deletes and re-inserts the full entry set in one transaction.
func (r *documentRepo) ReplaceEntries(ctx context.Context, id uuid.UUID, entries []entity.LineEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_entries WHERE document_id = $1`, id.String()); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.DocumentID = id
		e.Position = i
		var attrs []byte
		if len(e.Attributes) > 0 {
			attrs, _ = json.Marshal(e.Attributes)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO line_entries
			(id, document_id, label, amount, entry_type, position, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID.String(), id.String(), e.Label, nullStr(e.Amount),
			string(e.EntryType), e.Position, string(attrs)); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Info("line entries replaced", "document_id", id, "count", len(entries))
	return nil
}

func (r *documentRepo) ListEntries(ctx context.Context, id uuid.UUID) ([]entity.LineEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, document_id, label, amount, entry_type, position, attributes
		FROM line_entries WHERE document_id = $1 ORDER BY position`, id.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []entity.LineEntry
	for rows.Next() {
		var e entity.LineEntry
		var idStr, docIDStr, entryType string
		var amount, attrs sql.NullString
		if err := rows.Scan(&idStr, &docIDStr, &e.Label, &amount, &entryType, &e.Position, &attrs); err != nil {
			return nil, err
		}
		e.ID, _ = uuid.Parse(idStr)
		e.DocumentID, _ = uuid.Parse(docIDStr)
		e.EntryType = constants.EntryType(entryType)
		if amount.Valid {
			v := amount.String
			e.Amount = &v
		}
		if attrs.Valid && attrs.String != "" {
			_ = json.Unmarshal([]byte(attrs.String), &e.Attributes)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResetForReprocess clears extracted state and entries, and moves the
// document back to EXTRACTING. Only terminal documents may be reset.
func (r *documentRepo) ResetForReprocess(ctx context.Context, id uuid.UUID) error {
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !constants.CanTransition(cur.Status, constants.StatusExtracting) {
		return common.NewAppError("ILLEGAL_TRANSITION",
			fmt.Sprintf("cannot reprocess document %s in status %s", id, cur.Status),
			common.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_entries WHERE document_id = $1`, id.String()); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET
		status = $1, supplier_name = NULL, invoice_number = NULL, invoice_date = NULL,
		due_date = NULL, total_amount = NULL, tax_amount = NULL, currency_code = NULL,
		tax_id = NULL, notes = NULL, ocr_tier = NULL, raw_text = NULL, llm_log = NULL,
		error_message = NULL, exception_kind = NULL, exception_details = NULL, updated_at = $2
		WHERE id = $3`,
		string(constants.StatusExtracting), fmtTime(time.Now().UTC()), id.String()); err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Info("document reset for reprocessing", "document_id", id, "previous_status", cur.Status)
	return nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*entity.Document, error) {
	var d entity.Document
	var idStr, hashHex, status, createdAt, updatedAt string
	var supplier, invoiceNo, invoiceDate, dueDate, total, tax, currency, taxID, notes sql.NullString
	var rawText, llmLog, errMsg, excKind, excDetails sql.NullString
	var tier sql.NullInt64

	err := row.Scan(&idStr, &d.Filename, &d.FileExt, &d.SourcePath, &d.FileSize, &hashHex, &status,
		&supplier, &invoiceNo, &invoiceDate, &dueDate, &total, &tax,
		&currency, &taxID, &notes, &tier, &rawText, &llmLog, &errMsg,
		&excKind, &excDetails, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.ID, _ = uuid.Parse(idStr)
	d.ContentHash, _ = hex.DecodeString(hashHex)
	d.Status = constants.DocStatus(status)
	d.SupplierName = strPtr(supplier)
	d.InvoiceNumber = strPtr(invoiceNo)
	d.InvoiceDate = strPtr(invoiceDate)
	d.DueDate = strPtr(dueDate)
	d.TotalAmount = strPtr(total)
	d.TaxAmount = strPtr(tax)
	d.CurrencyCode = strPtr(currency)
	d.TaxID = strPtr(taxID)
	d.Notes = strPtr(notes)
	d.RawText = strPtr(rawText)
	d.ErrorMessage = strPtr(errMsg)
	if tier.Valid {
		v := int(tier.Int64)
		d.OCRTier = &v
	}
	if llmLog.Valid && llmLog.String != "" {
		d.LLMLog = []byte(llmLog.String)
	}
	if excKind.Valid && excKind.String != "" {
		k := constants.ExceptionKind(excKind.String)
		d.ExceptionKind = &k
	}
	if excDetails.Valid && excDetails.String != "" {
		d.ExceptionDetails = []byte(excDetails.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		d.UpdatedAt = t
	}
	return &d, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
