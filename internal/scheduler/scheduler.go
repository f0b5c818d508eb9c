// Package scheduler runs the two periodic loops of the follow-up pipeline:
// the evaluation cycle that decides what to do with each candidate
// conversation, and the processing cycle that delivers due messages.
//
// Both loops run on cron schedules and are guarded against overlapping
// executions, so a slow cycle delays the next one instead of stacking.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/store"
)

const (
	// DefaultEvaluationSchedule runs the decision pass every 30 minutes.
	DefaultEvaluationSchedule = "*/30 * * * *"
	// DefaultProcessingSchedule drains the due-message queue every minute.
	DefaultProcessingSchedule = "* * * * *"
	// DefaultProcessingBatchSize bounds one processing cycle.
	DefaultProcessingBatchSize = 50
	// DefaultSendsPerHour is the per-consultant outbound ceiling.
	DefaultSendsPerHour = 50
)

// MessageSender delivers outbound WhatsApp messages. Implemented by the
// messaging package.
type MessageSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendTemplate(ctx context.Context, to string, templateRef string, variables map[string]string) error
}

// Opts holds configuration for the scheduler runtime.
type Opts struct {
	EvaluationSchedule string
	ProcessingSchedule string
	BatchSize          int
	SendsPerHour       int
	Location           *time.Location
}

// Option customizes runtime construction.
type Option func(*Opts)

// WithEvaluationSchedule overrides the evaluation cron expression.
func WithEvaluationSchedule(expr string) Option {
	return func(o *Opts) { o.EvaluationSchedule = expr }
}

// WithProcessingSchedule overrides the processing cron expression.
func WithProcessingSchedule(expr string) Option {
	return func(o *Opts) { o.ProcessingSchedule = expr }
}

// WithBatchSize overrides the per-cycle message batch size.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// WithSendsPerHour overrides the per-consultant hourly send ceiling.
func WithSendsPerHour(n int) Option {
	return func(o *Opts) { o.SendsPerHour = n }
}

// WithLocation sets the timezone used to place scheduled send times.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Runtime owns the cron scheduler and both pipeline loops.
type Runtime struct {
	store   store.Store
	engine  *engine.Engine
	audit   *engine.DecisionLogger
	sender  MessageSender
	limiter *rateLimiter
	metrics *Metrics

	cron      *cron.Cron
	loc       *time.Location
	now       func() time.Time
	batchSize int

	evaluationSchedule string
	processingSchedule string

	evaluationRunning atomic.Bool
	processingRunning atomic.Bool

	mu      sync.Mutex
	started bool
}

// NewRuntime wires the scheduler. The sender may be nil only in tests that
// never reach the processing cycle.
func NewRuntime(st store.Store, eng *engine.Engine, audit *engine.DecisionLogger, sender MessageSender, opts ...Option) *Runtime {
	cfg := Opts{
		EvaluationSchedule: DefaultEvaluationSchedule,
		ProcessingSchedule: DefaultProcessingSchedule,
		BatchSize:          DefaultProcessingBatchSize,
		SendsPerHour:       DefaultSendsPerHour,
		Location:           time.Local,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)), cron.WithLocation(cfg.Location))

	return &Runtime{
		store:              st,
		engine:             eng,
		audit:              audit,
		sender:             sender,
		limiter:            newRateLimiter(cfg.SendsPerHour, time.Hour),
		metrics:            &Metrics{},
		cron:               c,
		loc:                cfg.Location,
		now:                time.Now,
		batchSize:          cfg.BatchSize,
		evaluationSchedule: cfg.EvaluationSchedule,
		processingSchedule: cfg.ProcessingSchedule,
	}
}

// Start registers both loops and starts the cron scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("scheduler already started")
	}

	if _, err := r.cron.AddFunc(r.evaluationSchedule, func() {
		if _, err := r.RunEvaluationCycle(ctx); err != nil {
			slog.Error("Runtime: evaluation cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register evaluation cycle: %w", err)
	}

	if _, err := r.cron.AddFunc(r.processingSchedule, func() {
		if _, err := r.RunProcessingCycle(ctx); err != nil {
			slog.Error("Runtime: processing cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register processing cycle: %w", err)
	}

	r.cron.Start()
	r.started = true
	slog.Info("Runtime.Start: scheduler started",
		"evaluationSchedule", r.evaluationSchedule,
		"processingSchedule", r.processingSchedule,
		"batchSize", r.batchSize)
	return nil
}

// Stop halts the cron scheduler and waits for running cycles to finish.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
	slog.Info("Runtime.Stop: scheduler stopped")
}

// Status reports the runtime state, aggregate counters and queue depths.
func (r *Runtime) Status() (*StatusReport, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	queue, err := r.store.CountMessagesByStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to count queued messages: %w", err)
	}
	return &StatusReport{
		Running:            started,
		EvaluationSchedule: r.evaluationSchedule,
		ProcessingSchedule: r.processingSchedule,
		Totals:             r.metrics.Snapshot(),
		QueueDepths:        queue,
	}, nil
}
