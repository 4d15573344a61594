package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// Job is the smallest useful unit of queued work.
type Job struct {
	DocumentID  uuid.UUID
	FileRef     string
	TargetTier  int // 0 = full cascade; 2 or 3 = pinned re-extraction
	SubmittedAt time.Time
}

// Processor runs the extraction pipeline for one document. Implementations
// record failures on the document themselves; the returned error is for
// logging only and never stops the scheduler.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// Bounds for the runtime-adjustable configuration.
const (
	MinTierConcurrency = 1
	MaxTierConcurrency = 4
	MinIdleTimeout     = 1 * time.Minute
	MaxIdleTimeout     = 30 * time.Minute
)

// Config is the runtime-adjustable part of the scheduler.
type Config struct {
	TierConcurrency   int           // max concurrent tier-2/3 jobs
	WorkerIdleTimeout time.Duration // idle workers retire after this long
}

func (c Config) validate() error {
	if c.TierConcurrency < MinTierConcurrency || c.TierConcurrency > MaxTierConcurrency {
		return common.NewAppError("CONFIG_ERROR",
			fmt.Sprintf("tier concurrency %d out of bounds [%d, %d]", c.TierConcurrency, MinTierConcurrency, MaxTierConcurrency),
			common.ErrValidation)
	}
	if c.WorkerIdleTimeout < MinIdleTimeout || c.WorkerIdleTimeout > MaxIdleTimeout {
		return common.NewAppError("CONFIG_ERROR",
			fmt.Sprintf("worker idle timeout %s out of bounds [%s, %s]", c.WorkerIdleTimeout, MinIdleTimeout, MaxIdleTimeout),
			common.ErrValidation)
	}
	return nil
}

// Scheduler accepts enqueue requests and dispatches them FIFO to a dynamic
// worker pool. Workers are spun up on demand and retire after sitting idle
// for the configured timeout; tier-2/3 concurrency is capped by a resizable
// limiter that the extraction layer acquires around rendering and OCR.
type Scheduler struct {
	proc       Processor
	logger     *slog.Logger
	limiter    *Limiter
	ch         chan Job
	jobTimeout time.Duration
	maxWorkers int

	mu      sync.Mutex
	cfg     Config
	idle    int
	workers int
	nextID  int
	closed  bool
	wg      sync.WaitGroup

	// sendMu serializes channel sends against the close in Shutdown: an
	// Enqueue that passed the closed check holds the read side until its
	// send lands, so close can never race a send.
	sendMu sync.RWMutex
}

type Option func(*Scheduler)

func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func WithMaxWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

func NewScheduler(proc Processor, cfg Config, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		proc:       proc,
		logger:     logger,
		limiter:    NewLimiter(cfg.TierConcurrency),
		ch:         make(chan Job, 256),
		jobTimeout: 15 * time.Minute,
		maxWorkers: 2 * MaxTierConcurrency,
		cfg:        cfg,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// TierSlots exposes the limiter so the extraction layer can hold a slot
// around rendering and OCR work.
func (s *Scheduler) TierSlots() *Limiter { return s.limiter }

// Enqueue is non-blocking from the caller's perspective: the job is queued
// and picked up asynchronously in FIFO order.
func (s *Scheduler) Enqueue(_ context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("cannot enqueue: scheduler is shutting down", "document_id", job.DocumentID)
		return common.NewAppError("QUEUE_CLOSED", "scheduler is shutting down", common.ErrInternal)
	}
	s.mu.Unlock()

	select {
	case s.ch <- job:
		s.logger.Info("queued document for processing", "document_id", job.DocumentID, "target_tier", job.TargetTier)
	default:
		s.logger.Warn("queue full, applying backpressure", "document_id", job.DocumentID)
		s.ch <- job
	}

	// the spawn decision comes after the send: a worker that retired
	// between the send and this check leaves idle at zero, so the job can
	// never sit unserved
	s.mu.Lock()
	spawn := s.idle == 0
	s.mu.Unlock()
	if spawn {
		s.spawnWorker()
	}
	return nil
}

func (s *Scheduler) spawnWorker() {
	s.mu.Lock()
	if s.closed || s.workers >= s.maxWorkers {
		s.mu.Unlock()
		return
	}
	s.nextID++
	id := s.nextID
	s.workers++
	s.idle++
	s.mu.Unlock()

	s.wg.Add(1)
	go s.worker(id)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	s.logger.Info("worker started", "worker_id", id)

	idleTimer := time.NewTimer(s.idleTimeout())
	defer idleTimer.Stop()

	for {
		select {
		case job, ok := <-s.ch:
			if !ok {
				s.retire(id, "queue closed")
				return
			}
			s.mu.Lock()
			s.idle--
			s.mu.Unlock()

			s.runJob(id, job)

			s.mu.Lock()
			s.idle++
			s.mu.Unlock()

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(s.idleTimeout())
		case <-idleTimer.C:
			// the queue check and the retirement bookkeeping share the
			// mutex with Enqueue's spawn decision, so a job sent while
			// this worker retires always triggers a replacement
			s.mu.Lock()
			if len(s.ch) > 0 {
				s.mu.Unlock()
				idleTimer.Reset(s.idleTimeout())
				continue
			}
			s.workers--
			s.idle--
			s.mu.Unlock()
			s.logger.Info("worker stopped", "worker_id", id, "reason", "idle timeout")
			return
		}
	}
}

func (s *Scheduler) retire(id int, reason string) {
	s.mu.Lock()
	s.workers--
	s.idle--
	s.mu.Unlock()
	s.logger.Info("worker stopped", "worker_id", id, "reason", reason)
}

// runJob isolates one job: a failure (or panic) is logged and recorded on
// the document by the processor, and never reaches other queued jobs.
func (s *Scheduler) runJob(workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing document",
				"worker_id", workerID, "document_id", job.DocumentID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if err := s.proc.Process(ctx, job); err != nil {
		s.logger.Error("processing failed", "worker_id", workerID, "document_id", job.DocumentID, "error", err)
		return
	}
	s.logger.Info("processed document successfully", "worker_id", workerID, "document_id", job.DocumentID)
}

func (s *Scheduler) idleTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.WorkerIdleTimeout
}

// UpdateConfig applies a runtime reconfiguration. Nil fields keep their
// current value. Validation happens before anything is applied, so an
// invalid request never partially applies.
func (s *Scheduler) UpdateConfig(tierConcurrency *int, idleTimeout *time.Duration) error {
	s.mu.Lock()
	next := s.cfg
	if tierConcurrency != nil {
		next.TierConcurrency = *tierConcurrency
	}
	if idleTimeout != nil {
		next.WorkerIdleTimeout = *idleTimeout
	}
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = next
	s.mu.Unlock()

	s.limiter.SetLimit(next.TierConcurrency)
	s.logger.Info("scheduler reconfigured",
		"tier_concurrency", next.TierConcurrency,
		"worker_idle_timeout", next.WorkerIdleTimeout.String())
	return nil
}

// Snapshot returns the current configuration.
func (s *Scheduler) Snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Shutdown stops accepting work and drains in-flight jobs, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// wait out in-flight sends before closing; new ones are already
	// rejected by the closed flag
	s.sendMu.Lock()
	close(s.ch)
	s.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); s.wg.Wait() }()

	select {
	case <-ctx.Done():
		s.logger.Warn("shutdown interrupted by context")
	case <-done:
		s.logger.Info("queue drained, shutdown complete")
	}
}
