package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/models"
)

// RunEvaluationCycle evaluates every candidate conversation once and applies
// the resulting decisions. Safe to call concurrently: overlapping invocations
// return immediately.
func (r *Runtime) RunEvaluationCycle(ctx context.Context) (*CycleMetrics, error) {
	if !r.evaluationRunning.CompareAndSwap(false, true) {
		slog.Debug("Runtime.RunEvaluationCycle: previous cycle still running, skipping")
		return &CycleMetrics{}, nil
	}
	defer r.evaluationRunning.Store(false)

	now := r.now()
	cycle := CycleMetrics{StartedAt: now}

	candidates, err := r.store.ListCandidateConversations(now)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate conversations: %w", err)
	}

	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		id := candidates[i].ConversationID
		cycle.CandidatesEvaluated++

		outcome, err := r.engine.Evaluate(ctx, id)
		if err != nil {
			slog.Error("Runtime.RunEvaluationCycle: evaluation failed", "conversationID", id, "error", err)
			cycle.EvaluationFailures++
			continue
		}
		if outcome.Source == engine.SourceSystemRule {
			cycle.RuleDecisions++
		} else {
			cycle.AiDecisions++
		}

		executed, err := r.applyDecision(outcome, now)
		if err != nil {
			slog.Error("Runtime.RunEvaluationCycle: failed to apply decision",
				"conversationID", id, "decision", outcome.Decision.Decision, "error", err)
			cycle.EvaluationFailures++
		} else if executed && (outcome.Decision.Decision == models.DecisionSendNow || outcome.Decision.Decision == models.DecisionSchedule) {
			cycle.MessagesScheduled++
		}
		r.audit.Log(id, outcome.Context, outcome.Decision, outcome.Source, outcome.LatencyMs, executed)
	}

	cycle.DurationMs = time.Since(now).Milliseconds()
	r.metrics.recordEvaluation(cycle)
	slog.Info("Runtime.RunEvaluationCycle: cycle complete",
		"candidates", cycle.CandidatesEvaluated,
		"ruleDecisions", cycle.RuleDecisions,
		"aiDecisions", cycle.AiDecisions,
		"scheduled", cycle.MessagesScheduled,
		"failures", cycle.EvaluationFailures,
		"durationMs", cycle.DurationMs)
	return &cycle, nil
}

// EvaluateConversation runs the full decision pipeline for a single
// conversation outside the cron loop. With live false the decision is
// returned without touching any state; with live true it is applied exactly
// as the evaluation cycle would, followed by an immediate processing cycle so
// a queued send_now message goes out before the call returns.
func (r *Runtime) EvaluateConversation(ctx context.Context, conversationID string, live bool) (*engine.EvaluationOutcome, bool, error) {
	outcome, err := r.engine.Evaluate(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if !live {
		return outcome, false, nil
	}

	now := r.now()
	executed, err := r.applyDecision(outcome, now)
	r.audit.Log(conversationID, outcome.Context, outcome.Decision, outcome.Source, outcome.LatencyMs, executed)
	if err != nil {
		return outcome, executed, fmt.Errorf("failed to apply decision: %w", err)
	}
	if executed && outcome.Decision.Decision == models.DecisionSendNow {
		if _, err := r.RunProcessingCycle(ctx); err != nil {
			return outcome, executed, fmt.Errorf("failed to process queued message: %w", err)
		}
	}
	return outcome, executed, nil
}

// applyDecision mutates conversation and queue state according to one
// decision. Returns whether the decision was actually executed.
func (r *Runtime) applyDecision(outcome *engine.EvaluationOutcome, now time.Time) (bool, error) {
	decision := outcome.Decision
	state, err := r.store.GetConversationState(outcome.Context.ConversationID)
	if err != nil {
		return false, fmt.Errorf("failed to reload conversation state: %w", err)
	}
	if state == nil {
		return false, models.ErrConversationNotFound
	}

	state.LastAiEvaluationAt = &now
	state.AiRecommendation = string(decision.Decision)
	if decision.UpdatedEngagementScore != nil {
		state.EngagementScore = *decision.UpdatedEngagementScore
	}
	if decision.UpdatedConversionProbability != nil {
		state.ConversionProbability = *decision.UpdatedConversionProbability
	}

	executed := false
	switch decision.Decision {
	case models.DecisionSendNow, models.DecisionSchedule:
		scheduledFor := r.scheduleTimeFor(decision.Urgency, now)
		// Spacing floor: never queue a follow-up closer to the previous one
		// than the consultant's policy allows.
		if state.LastFollowupAt != nil {
			floor := state.LastFollowupAt.Add(time.Duration(outcome.Context.Preferences.MinHoursBetweenFollowups) * time.Hour)
			if scheduledFor.Before(floor) {
				scheduledFor = clampSendHour(floor.In(r.loc))
			}
		}
		msg := &models.ScheduledFollowupMessage{
			ConversationID:      state.ConversationID,
			ConsultantID:        state.ConsultantID,
			TemplateID:          decision.SuggestedTemplateID,
			MessageText:         decision.SuggestedMessage,
			FallbackMessage:     decision.FallbackMessage,
			ScheduledFor:        scheduledFor,
			MaxAttempts:         models.DefaultMessageMaxAttempts,
			AiDecisionReasoning: decision.Reasoning,
			AiConfidenceScore:   decision.ConfidenceScore,
		}
		if err := r.store.CreateScheduledMessage(msg); err != nil {
			return false, fmt.Errorf("failed to create scheduled message: %w", err)
		}
		state.NextFollowupScheduledAt = &scheduledFor
		executed = true

	case models.DecisionStop:
		next := models.ConversationStateValue(decision.StateTransition)
		if !models.IsValidConversationState(next) {
			if state.CurrentState == models.StateStalled || state.CurrentState == models.StateGhost {
				next = models.StateGhost
			} else {
				next = models.StateClosedLost
			}
		}
		state.PreviousState = state.CurrentState
		state.CurrentState = next
		state.NextFollowupScheduledAt = nil
		if err := r.cancelPendingForConversation(state.ConversationID, "followups_stopped"); err != nil {
			slog.Warn("Runtime.applyDecision: failed to cancel pending messages",
				"conversationID", state.ConversationID, "error", err)
		}
		executed = true

	case models.DecisionSkip:
		// State already updated above; nothing to queue.

	default:
		return false, fmt.Errorf("unknown decision %q", decision.Decision)
	}

	if decision.StateTransition != "" && decision.Decision != models.DecisionStop {
		next := models.ConversationStateValue(decision.StateTransition)
		if models.IsValidConversationState(next) && next != state.CurrentState {
			state.PreviousState = state.CurrentState
			state.CurrentState = next
		}
	}

	if err := r.store.SaveConversationState(state); err != nil {
		return executed, fmt.Errorf("failed to save conversation state: %w", err)
	}
	return executed, nil
}

func (r *Runtime) cancelPendingForConversation(conversationID, reason string) error {
	pending, err := r.store.ListScheduledMessages(models.MessageStatusPending, 0)
	if err != nil {
		return err
	}
	for i := range pending {
		if pending[i].ConversationID != conversationID {
			continue
		}
		if err := r.store.CancelScheduledMessage(pending[i].ID, reason); err != nil {
			return err
		}
	}
	return nil
}

// scheduleTimeFor maps an urgency label to a concrete send time in the
// runtime's timezone.
func (r *Runtime) scheduleTimeFor(urgency models.FollowupUrgency, now time.Time) time.Time {
	local := now.In(r.loc)
	switch urgency {
	case models.UrgencyTomorrow:
		next := local.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), models.DefaultScheduledSendHour, 0, 0, 0, r.loc)
	case models.UrgencyNextWeek:
		next := local.AddDate(0, 0, 7)
		return time.Date(next.Year(), next.Month(), next.Day(), models.DefaultScheduledSendHour, 0, 0, 0, r.loc)
	default:
		// UrgencyNow and anything unrecognized go out immediately.
		return now
	}
}

// clampSendHour moves a timestamp into the daytime sending band.
func clampSendHour(t time.Time) time.Time {
	switch {
	case t.Hour() < models.EarliestScheduledSendHour:
		return time.Date(t.Year(), t.Month(), t.Day(), models.EarliestScheduledSendHour, 0, 0, 0, t.Location())
	case t.Hour() > models.LatestScheduledSendHour:
		next := t.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), models.EarliestScheduledSendHour, 0, 0, 0, t.Location())
	default:
		return t
	}
}
