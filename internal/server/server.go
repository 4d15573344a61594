package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

// maxUploadBytes caps multipart uploads; invoices are small documents.
const maxUploadBytes = 64 << 20

// Server is the HTTP API: document submission, inspection, reprocessing,
// approval and runtime queue configuration.
type Server struct {
	logger    *slog.Logger
	ingest    *ingest.Service
	docs      repository.DocumentRepository
	scheduler *queue.Scheduler
	health    func(ctx context.Context) error
	engine    *gin.Engine
}

func New(
	logger *slog.Logger,
	ing *ingest.Service,
	docs repository.DocumentRepository,
	scheduler *queue.Scheduler,
	health func(ctx context.Context) error,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger:    logger,
		ingest:    ing,
		docs:      docs,
		scheduler: scheduler,
		health:    health,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/v1")
	v1.POST("/documents", s.handleSubmit)
	v1.GET("/documents/:id", s.handleGet)
	v1.POST("/documents/:id/reprocess", s.handleReprocess)
	v1.POST("/documents/:id/approve", s.handleApprove)
	v1.GET("/config", s.handleGetConfig)
	v1.PATCH("/config", s.handleUpdateConfig)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	defer func() { _ = file.Close() }()

	doc, err := s.ingest.Submit(c.Request.Context(), header.Filename, file)
	if errors.Is(err, common.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{
			"error":       "document already exists",
			"document_id": doc.ID.String(),
		})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"document_id": doc.ID.String(),
		"filename":    doc.Filename,
		"status":      doc.Status,
	})
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := s.parseID(c)
	if !ok {
		return
	}
	doc, err := s.docs.GetByID(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	entries, err := s.docs.ListEntries(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentResponse(doc, entries))
}

func (s *Server) handleReprocess(c *gin.Context) {
	id, ok := s.parseID(c)
	if !ok {
		return
	}
	var body struct {
		TargetTier int `json:"target_tier"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	doc, err := s.ingest.Reprocess(c.Request.Context(), id, body.TargetTier)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"document_id": doc.ID.String(),
		"filename":    doc.Filename,
		"target_tier": body.TargetTier,
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	id, ok := s.parseID(c)
	if !ok {
		return
	}
	if err := s.docs.UpdateStatus(c.Request.Context(), id, constants.StatusApproved); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id.String(), "status": constants.StatusApproved})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.scheduler.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"tier_concurrency":    cfg.TierConcurrency,
		"worker_idle_timeout": cfg.WorkerIdleTimeout.String(),
	})
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var body struct {
		TierConcurrency   *int    `json:"tier_concurrency"`
		WorkerIdleTimeout *string `json:"worker_idle_timeout"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var idle *time.Duration
	if body.WorkerIdleTimeout != nil {
		d, err := time.ParseDuration(*body.WorkerIdleTimeout)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker_idle_timeout duration"})
			return
		}
		idle = &d
	}
	if err := s.scheduler.UpdateConfig(body.TierConcurrency, idle); err != nil {
		s.writeError(c, err)
		return
	}
	s.handleGetConfig(c)
}

func (s *Server) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps sentinel errors to HTTP statuses; AppError codes ride
// along in the body when present.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrDuplicate):
		status = http.StatusConflict
	}
	body := gin.H{"error": err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code
		body["error"] = appErr.Message
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, body)
}

func documentResponse(doc *entity.Document, entries []entity.LineEntry) gin.H {
	out := gin.H{
		"document_id": doc.ID.String(),
		"filename":    doc.Filename,
		"file_ext":    doc.FileExt,
		"file_size":   doc.FileSize,
		"status":      doc.Status,
		"created_at":  doc.CreatedAt,
		"updated_at":  doc.UpdatedAt,
	}
	setIf := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}
	setIf("supplier_name", doc.SupplierName)
	setIf("invoice_number", doc.InvoiceNumber)
	setIf("invoice_date", doc.InvoiceDate)
	setIf("due_date", doc.DueDate)
	setIf("total_amount", doc.TotalAmount)
	setIf("tax_amount", doc.TaxAmount)
	setIf("currency_code", doc.CurrencyCode)
	setIf("tax_id", doc.TaxID)
	setIf("notes", doc.Notes)
	setIf("error_message", doc.ErrorMessage)
	if doc.OCRTier != nil {
		out["ocr_tier"] = *doc.OCRTier
	}
	if doc.ExceptionKind != nil {
		out["exception_kind"] = *doc.ExceptionKind
		if len(doc.ExceptionDetails) > 0 {
			out["exception_details"] = json.RawMessage(doc.ExceptionDetails)
		}
	}
	es := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		item := gin.H{
			"label":      e.Label,
			"entry_type": e.EntryType,
			"position":   e.Position,
		}
		if e.Amount != nil {
			item["amount"] = *e.Amount
		}
		if len(e.Attributes) > 0 {
			item["attributes"] = e.Attributes
		}
		es = append(es, item)
	}
	out["entries"] = es
	return out
}
