package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

// DecisionClient is the AI judgment call consulted when no system rule
// matches. Implemented by the genai package; faked in tests.
type DecisionClient interface {
	Decide(ctx context.Context, convCtx *models.ConversationContext) (*models.Decision, error)
	Model() string
}

// MessageAuthor is implemented by decision clients that can also write the
// free-form nudge text for an open-window follow-up.
type MessageAuthor interface {
	GenerateFollowupMessage(ctx context.Context, convCtx *models.ConversationContext) (string, error)
}

// SourceSystemRule marks outcomes produced without an AI call.
const SourceSystemRule = "system_rule"

// EvaluationOutcome bundles everything one evaluation produced.
type EvaluationOutcome struct {
	Context   *models.ConversationContext
	Decision  *models.Decision
	Source    string // SourceSystemRule or the model name
	RuleName  string // set when Source is SourceSystemRule
	LatencyMs int64  // AI call latency; zero for rule decisions
}

// Engine runs the full decision pipeline for one conversation: context
// assembly, system rules, and the AI fallback.
type Engine struct {
	builder *ContextBuilder
	ai      DecisionClient
}

// NewEngine creates an Engine. The AI client may be nil; unmatched
// conversations are then skipped with a diagnostic reasoning.
func NewEngine(builder *ContextBuilder, ai DecisionClient) *Engine {
	return &Engine{builder: builder, ai: ai}
}

// Evaluate builds the context and produces a decision for one conversation.
// System rules short-circuit the AI call; a malformed or failed AI response
// degrades to a default skip rather than an error.
func (e *Engine) Evaluate(ctx context.Context, conversationID string) (*EvaluationOutcome, error) {
	convCtx, err := e.builder.Build(conversationID)
	if err != nil {
		return nil, err
	}

	if result := EvaluateSystemRules(convCtx); result.Matched {
		slog.Debug("Engine.Evaluate: system rule matched",
			"conversationID", conversationID, "rule", result.RuleName, "decision", result.Decision)
		decision := &models.Decision{
			Decision:         result.Decision,
			Reasoning:        result.Reasoning,
			ConfidenceScore:  1.0,
			SuggestedMessage: "",
		}
		if result.Decision == models.DecisionSendNow {
			decision.Urgency = models.UrgencyNow
		}
		if result.AllowFreeformMessage && result.Decision == models.DecisionSendNow {
			// An open-window nudge needs its own content: no template is bound
			// and the stored fallback keeps the send deliverable even when the
			// AI cannot author one.
			decision.FallbackMessage = DefaultNudgeMessage(convCtx.LeadName)
			if author, ok := e.ai.(MessageAuthor); ok {
				text, genErr := author.GenerateFollowupMessage(ctx, convCtx)
				if genErr != nil {
					slog.Warn("Engine.Evaluate: nudge generation failed, keeping canned fallback",
						"conversationID", conversationID, "error", genErr)
				} else {
					decision.SuggestedMessage = text
				}
			}
		}
		return &EvaluationOutcome{
			Context:  convCtx,
			Decision: decision,
			Source:   SourceSystemRule,
			RuleName: result.RuleName,
		}, nil
	}

	if e.ai == nil {
		slog.Warn("Engine.Evaluate: no AI client configured, skipping", "conversationID", conversationID)
		return &EvaluationOutcome{
			Context: convCtx,
			Decision: &models.Decision{
				Decision:        models.DecisionSkip,
				Reasoning:       "no AI client configured",
				ConfidenceScore: 0,
			},
			Source: SourceSystemRule,
		}, nil
	}

	start := time.Now()
	decision, err := e.ai.Decide(ctx, convCtx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		// The AI client already degrades malformed responses internally;
		// reaching here means the call itself failed. Same fallback applies.
		slog.Error("Engine.Evaluate: AI call failed, defaulting to skip",
			"conversationID", conversationID, "error", err)
		decision = &models.Decision{
			Decision:        models.DecisionSkip,
			Reasoning:       "AI evaluation failed: " + err.Error(),
			ConfidenceScore: 0,
		}
	}
	slog.Debug("Engine.Evaluate: AI decision",
		"conversationID", conversationID, "decision", decision.Decision,
		"confidence", decision.ConfidenceScore, "latencyMs", latency)
	return &EvaluationOutcome{
		Context:   convCtx,
		Decision:  decision,
		Source:    e.ai.Model(),
		LatencyMs: latency,
	}, nil
}

// DefaultNudgeMessage is the canned open-window nudge used when no AI client
// is available to author one.
func DefaultNudgeMessage(leadName string) string {
	greeting := "Ciao"
	if leadName != "" {
		greeting += " " + leadName
	}
	return greeting + ", volevo solo assicurarmi che avessi ricevuto il mio ultimo messaggio. Fammi sapere se hai domande!"
}
