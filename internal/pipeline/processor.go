package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/quality"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
	"github.com/joseph-ayodele/invoice-pipeline/internal/verify"
)

// below this content score the decoded text does not look like an invoice
const minContentScore = 0.45

// Processor drives one document through the full pipeline: tier cascade,
// structured extraction, verification, persistence. It implements
// queue.Processor; every failure is recorded on the document so the
// scheduler can move on.
type Processor struct {
	logger          *slog.Logger
	orch            *extract.Orchestrator
	fields          llm.FieldExtractor
	verifier        *verify.Verifier
	docs            repository.DocumentRepository
	defaultCurrency string
	minConfidence   float32
}

func NewProcessor(
	logger *slog.Logger,
	orch *extract.Orchestrator,
	fields llm.FieldExtractor,
	verifier *verify.Verifier,
	docs repository.DocumentRepository,
	defaultCurrency string,
	minConfidence float32,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}
	if minConfidence == 0 {
		minConfidence = 0.60
	}
	return &Processor{
		logger:          logger,
		orch:            orch,
		fields:          fields,
		verifier:        verifier,
		docs:            docs,
		defaultCurrency: defaultCurrency,
		minConfidence:   minConfidence,
	}
}

// Process runs the pipeline for one queued document.
// Stage failures land the document in ERROR with a message; verification
// failures are soft and leave the uncorrected extraction in place.
func (p *Processor) Process(ctx context.Context, job queue.Job) error {
	doc, err := p.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != constants.StatusExtracting {
		// reprocessed documents are already reset to EXTRACTING
		if err := p.docs.UpdateStatus(ctx, doc.ID, constants.StatusExtracting); err != nil {
			return fmt.Errorf("mark extracting: %w", err)
		}
	}

	format := constants.MapExtToFormat(doc.FileExt)
	if format == "" {
		return p.fail(ctx, doc.ID, fmt.Sprintf("unsupported format: %s", doc.FileExt))
	}

	// 1) tier cascade (or pinned tier for reprocessing)
	var outcome extract.Outcome
	if job.TargetTier >= 2 {
		outcome, err = p.orch.ReExtract(ctx, doc.SourcePath, format, ocr.Tier(job.TargetTier))
	} else {
		outcome, err = p.orch.Extract(ctx, doc.SourcePath, format)
	}
	if err != nil {
		p.logger.Error("pipeline.extract.failed", "document_id", doc.ID, "error", err)
		return p.fail(ctx, doc.ID, fmt.Sprintf("extraction failed: %v", err))
	}
	res := outcome.Result
	p.logger.Debug("pipeline extract stage success",
		"document_id", doc.ID,
		"tier", res.Tier.String(),
		"pages", res.Pages,
		"confidence", res.MeanConfidence,
	)

	// 2) structured extraction
	if err := p.docs.UpdateStatus(ctx, doc.ID, constants.StatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	fields, rawLog, err := p.fields.ExtractFields(ctx, llm.ExtractRequest{
		RawText:         res.Text,
		FilenameHint:    doc.Filename,
		Pages:           res.Pages,
		Tier:            int(res.Tier),
		DefaultCurrency: p.defaultCurrency,
	})
	if err != nil {
		p.logger.Error("pipeline.parse.failed", "document_id", doc.ID, "error", err)
		return p.fail(ctx, doc.ID, fmt.Sprintf("structured extraction failed: %v", err))
	}

	// 3) verification against the rejected text layer, when one exists.
	// A failure here is soft: log it and keep the uncorrected extraction.
	var mismatches []string
	if outcome.ReferenceText != "" {
		if err := p.docs.UpdateStatus(ctx, doc.ID, constants.StatusVerifying); err != nil {
			return fmt.Errorf("mark verifying: %w", err)
		}
		rep, verr := p.verifier.Verify(fields, outcome.ReferenceText)
		if verr != nil {
			p.logger.Warn("verification failed, keeping uncorrected extraction",
				"document_id", doc.ID, "error", verr)
		} else {
			fields = rep.Fields
			mismatches = rep.Mismatches
			if s := rep.Summary(); s != "" {
				if fields.Notes != "" {
					fields.Notes += "\n"
				}
				fields.Notes += s
			}
		}
	}

	// 4) persist fields and entries, then settle the terminal status
	if err := p.docs.SaveExtraction(ctx, doc.ID, toUpdate(fields, res, rawLog)); err != nil {
		return p.fail(ctx, doc.ID, fmt.Sprintf("persist extraction: %v", err))
	}
	if err := p.docs.ReplaceEntries(ctx, doc.ID, toEntries(doc.ID, fields.Entries)); err != nil {
		return p.fail(ctx, doc.ID, fmt.Sprintf("persist entries: %v", err))
	}

	kind, details := p.exceptionFor(fields, res, mismatches)
	if kind != "" {
		if err := p.docs.SetException(ctx, doc.ID, kind, details); err != nil {
			return fmt.Errorf("record exception: %w", err)
		}
		if err := p.docs.UpdateStatus(ctx, doc.ID, constants.StatusException); err != nil {
			return fmt.Errorf("mark exception: %w", err)
		}
		p.logger.Warn("document completed with exception", "document_id", doc.ID, "kind", kind)
		return nil
	}
	if err := p.docs.UpdateStatus(ctx, doc.ID, constants.StatusDraft); err != nil {
		return fmt.Errorf("mark draft: %w", err)
	}
	p.logger.Info("document extracted successfully",
		"document_id", doc.ID,
		"tier", res.Tier.String(),
		"supplier", fields.SupplierName,
		"total", fields.TotalAmount,
		"entries", len(fields.Entries),
	)
	return nil
}

// fail records a fatal pipeline failure on the document. The returned error
// carries the message up for logging; the scheduler drops the job.
func (p *Processor) fail(ctx context.Context, id uuid.UUID, message string) error {
	if err := p.docs.SetError(ctx, id, message); err != nil {
		p.logger.Error("failed to record document error", "document_id", id, "error", err)
	}
	return fmt.Errorf("%s", message)
}

// exceptionFor decides whether the completed extraction needs human review,
// and why. Order matters: a value mismatch is the most serious signal.
func (p *Processor) exceptionFor(fields llm.InvoiceFields, res ocr.Result, mismatches []string) (constants.ExceptionKind, map[string]any) {
	if len(mismatches) > 0 {
		return constants.ExceptionValueMismatch, map[string]any{"mismatches": mismatches}
	}
	var missing []string
	if strings.TrimSpace(fields.SupplierName) == "" {
		missing = append(missing, "supplier_name")
	}
	if strings.TrimSpace(fields.TotalAmount) == "" {
		missing = append(missing, "total_amount")
	}
	if strings.TrimSpace(fields.InvoiceDate) == "" {
		missing = append(missing, "invoice_date")
	}
	if len(missing) > 0 {
		return constants.ExceptionNeedsInvestigation, map[string]any{"missing_fields": missing}
	}
	// decoded text that shows none of the usual invoice signals is suspect
	// even when the model filled every field
	if score := quality.ContentScore(res.Text); score < minContentScore {
		return constants.ExceptionNeedsInvestigation, map[string]any{"content_score": score}
	}
	if res.Tier == ocr.TierDeepOCR ||
		(fields.ModelConfidence > 0 && fields.ModelConfidence < p.minConfidence) {
		if res.MeanConfidence > 0 && res.MeanConfidence < p.minConfidence {
			return constants.ExceptionLowScanQuality, map[string]any{
				"tier":            int(res.Tier),
				"mean_confidence": res.MeanConfidence,
			}
		}
		if fields.ModelConfidence > 0 && fields.ModelConfidence < p.minConfidence {
			return constants.ExceptionLowScanQuality, map[string]any{
				"tier":             int(res.Tier),
				"model_confidence": fields.ModelConfidence,
			}
		}
	}
	return "", nil
}

func toUpdate(fields llm.InvoiceFields, res ocr.Result, rawLog []byte) repository.ExtractionUpdate {
	return repository.ExtractionUpdate{
		SupplierName:  optional(fields.SupplierName),
		InvoiceNumber: optional(fields.InvoiceNumber),
		InvoiceDate:   optional(fields.InvoiceDate),
		DueDate:       optional(fields.DueDate),
		TotalAmount:   optional(fields.TotalAmount),
		TaxAmount:     optional(fields.TaxAmount),
		CurrencyCode:  optional(fields.CurrencyCode),
		TaxID:         optional(fields.TaxID),
		Notes:         optional(fields.Notes),
		OCRTier:       int(res.Tier),
		RawText:       res.Text,
		LLMLog:        rawLog,
	}
}

func toEntries(docID uuid.UUID, in []llm.EntryFields) []entity.LineEntry {
	out := make([]entity.LineEntry, 0, len(in))
	for i, e := range in {
		entry := entity.LineEntry{
			DocumentID: docID,
			Label:      e.Label,
			EntryType:  constants.CanonicalEntryType(e.EntryType),
			Position:   i,
			Attributes: e.Attributes,
		}
		if e.Amount != "" {
			v := e.Amount
			entry.Amount = &v
		}
		out = append(out, entry)
	}
	return out
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
