package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// DecisionLogger persists every evaluation outcome, rule-based or AI-based.
// Write failures are swallowed: an audit-trail failure must never block the
// follow-up pipeline.
type DecisionLogger struct {
	store store.Store
}

// NewDecisionLogger creates a logger backed by the given store.
func NewDecisionLogger(st store.Store) *DecisionLogger {
	return &DecisionLogger{store: st}
}

// Log appends one evaluation record. Never returns an error; failures are
// reported to diagnostics only.
func (l *DecisionLogger) Log(conversationID string, ctx *models.ConversationContext, decision *models.Decision, modelUsed string, latencyMs int64, wasExecuted bool) {
	contextJSON, err := json.Marshal(ctx)
	if err != nil {
		slog.Error("DecisionLogger.Log: failed to encode context snapshot", "conversationID", conversationID, "error", err)
		contextJSON = nil
	}

	entry := &models.FollowupAiEvaluationLog{
		ConversationID:      conversationID,
		ConversationContext: string(contextJSON),
		Decision:            string(decision.Decision),
		Urgency:             string(decision.Urgency),
		SelectedTemplateID:  decision.SuggestedTemplateID,
		Reasoning:           decision.Reasoning,
		ConfidenceScore:     decision.ConfidenceScore,
		ModelUsed:           modelUsed,
		LatencyMs:           latencyMs,
		WasExecuted:         wasExecuted,
	}
	if err := l.store.AppendEvaluationLog(entry); err != nil {
		slog.Error("DecisionLogger.Log: audit write failed", "conversationID", conversationID, "error", err)
	}
}

// GetPrevious returns the most recent evaluations for prompt injection,
// newest-first.
func (l *DecisionLogger) GetPrevious(conversationID string, limit int) ([]models.PreviousEvaluation, error) {
	return l.store.GetPreviousEvaluations(conversationID, limit)
}
