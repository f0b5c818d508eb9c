package scheduler

import (
	"sync"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

// CycleMetrics summarizes one evaluation or processing cycle.
type CycleMetrics struct {
	CandidatesEvaluated int       `json:"candidates_evaluated"`
	RuleDecisions       int       `json:"rule_decisions"`
	AiDecisions         int       `json:"ai_decisions"`
	EvaluationFailures  int       `json:"evaluation_failures"`
	MessagesScheduled   int       `json:"messages_scheduled"`
	MessagesSent        int       `json:"messages_sent"`
	MessagesFailed      int       `json:"messages_failed"`
	MessagesCancelled   int       `json:"messages_cancelled"`
	RateLimited         int       `json:"rate_limited"`
	StartedAt           time.Time `json:"started_at"`
	DurationMs          int64     `json:"duration_ms"`
}

// Metrics accumulates cycle counters over the runtime's lifetime.
type Metrics struct {
	mu               sync.Mutex
	totals           CycleMetrics
	evaluationCycles int
	processingCycles int
	lastEvaluationAt time.Time
	lastProcessingAt time.Time
}

func (m *Metrics) recordEvaluation(c CycleMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluationCycles++
	m.lastEvaluationAt = c.StartedAt
	m.totals.CandidatesEvaluated += c.CandidatesEvaluated
	m.totals.RuleDecisions += c.RuleDecisions
	m.totals.AiDecisions += c.AiDecisions
	m.totals.EvaluationFailures += c.EvaluationFailures
	m.totals.MessagesScheduled += c.MessagesScheduled
}

func (m *Metrics) recordProcessing(c CycleMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processingCycles++
	m.lastProcessingAt = c.StartedAt
	m.totals.MessagesSent += c.MessagesSent
	m.totals.MessagesFailed += c.MessagesFailed
	m.totals.MessagesCancelled += c.MessagesCancelled
	m.totals.RateLimited += c.RateLimited
}

// Snapshot returns a copy of the aggregate counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		EvaluationCycles:    m.evaluationCycles,
		ProcessingCycles:    m.processingCycles,
		LastEvaluationAt:    m.lastEvaluationAt,
		LastProcessingAt:    m.lastProcessingAt,
		CandidatesEvaluated: m.totals.CandidatesEvaluated,
		RuleDecisions:       m.totals.RuleDecisions,
		AiDecisions:         m.totals.AiDecisions,
		EvaluationFailures:  m.totals.EvaluationFailures,
		MessagesScheduled:   m.totals.MessagesScheduled,
		MessagesSent:        m.totals.MessagesSent,
		MessagesFailed:      m.totals.MessagesFailed,
		MessagesCancelled:   m.totals.MessagesCancelled,
		RateLimited:         m.totals.RateLimited,
	}
}

// MetricsSnapshot is the JSON-friendly view of the aggregate counters.
type MetricsSnapshot struct {
	EvaluationCycles    int       `json:"evaluation_cycles"`
	ProcessingCycles    int       `json:"processing_cycles"`
	LastEvaluationAt    time.Time `json:"last_evaluation_at"`
	LastProcessingAt    time.Time `json:"last_processing_at"`
	CandidatesEvaluated int       `json:"candidates_evaluated"`
	RuleDecisions       int       `json:"rule_decisions"`
	AiDecisions         int       `json:"ai_decisions"`
	EvaluationFailures  int       `json:"evaluation_failures"`
	MessagesScheduled   int       `json:"messages_scheduled"`
	MessagesSent        int       `json:"messages_sent"`
	MessagesFailed      int       `json:"messages_failed"`
	MessagesCancelled   int       `json:"messages_cancelled"`
	RateLimited         int       `json:"rate_limited"`
}

// StatusReport is the full scheduler status exposed over the API.
type StatusReport struct {
	Running            bool                                  `json:"running"`
	EvaluationSchedule string                                `json:"evaluation_schedule"`
	ProcessingSchedule string                                `json:"processing_schedule"`
	Totals             MetricsSnapshot                       `json:"totals"`
	QueueDepths        map[models.ScheduledMessageStatus]int `json:"queue_depths"`
}
