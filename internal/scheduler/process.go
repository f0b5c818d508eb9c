package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

// CancelReasonUserReplied marks messages withdrawn because the lead wrote
// back after the follow-up was queued.
const CancelReasonUserReplied = "user_replied"

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RunProcessingCycle claims one batch of due messages and delivers them.
// Safe to call concurrently: overlapping invocations return immediately.
func (r *Runtime) RunProcessingCycle(ctx context.Context) (*CycleMetrics, error) {
	if !r.processingRunning.CompareAndSwap(false, true) {
		slog.Debug("Runtime.RunProcessingCycle: previous cycle still running, skipping")
		return &CycleMetrics{}, nil
	}
	defer r.processingRunning.Store(false)

	now := r.now()
	cycle := CycleMetrics{StartedAt: now}

	due, err := r.store.ClaimDuePendingMessages(now, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due messages: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			// Unclaim what we cannot process in this run.
			if err := r.store.ReleaseMessageToPending(due[i].ID); err != nil {
				slog.Error("Runtime.RunProcessingCycle: failed to release message", "messageID", due[i].ID, "error", err)
			}
			continue
		}
		r.processMessage(ctx, &due[i], now, &cycle)
	}

	cycle.DurationMs = time.Since(now).Milliseconds()
	r.metrics.recordProcessing(cycle)
	if len(due) > 0 {
		slog.Info("Runtime.RunProcessingCycle: cycle complete",
			"claimed", len(due),
			"sent", cycle.MessagesSent,
			"failed", cycle.MessagesFailed,
			"cancelled", cycle.MessagesCancelled,
			"rateLimited", cycle.RateLimited,
			"durationMs", cycle.DurationMs)
	}
	return &cycle, nil
}

// processMessage delivers one claimed message, updating queue and
// conversation state along the way.
func (r *Runtime) processMessage(ctx context.Context, msg *models.ScheduledFollowupMessage, now time.Time, cycle *CycleMetrics) {
	// The lead writing back after the message was queued withdraws it.
	lastInbound, err := r.store.GetLastInboundMessageTime(msg.ConversationID)
	if err != nil {
		slog.Error("Runtime.processMessage: failed to check inbound activity", "messageID", msg.ID, "error", err)
	}
	if lastInbound != nil && lastInbound.After(msg.CreatedAt) {
		cancelErr := r.store.ReleaseMessageToPending(msg.ID)
		if cancelErr == nil {
			cancelErr = r.store.CancelScheduledMessage(msg.ID, CancelReasonUserReplied)
		}
		if cancelErr != nil {
			slog.Error("Runtime.processMessage: failed to cancel replied message", "messageID", msg.ID, "error", cancelErr)
			return
		}
		cycle.MessagesCancelled++
		slog.Info("Runtime.processMessage: message withdrawn, lead replied",
			"messageID", msg.ID, "conversationID", msg.ConversationID)
		return
	}

	if !r.limiter.Allow(msg.ConsultantID, now) {
		if err := r.store.ReleaseMessageToPending(msg.ID); err != nil {
			slog.Error("Runtime.processMessage: failed to release rate-limited message", "messageID", msg.ID, "error", err)
		}
		cycle.RateLimited++
		return
	}

	state, err := r.store.GetConversationState(msg.ConversationID)
	if err != nil || state == nil {
		r.failMessage(msg.ID, "conversation state unavailable", cycle)
		return
	}

	vars := map[string]string{
		"lead_name": state.LeadName,
		"nome":      firstName(state.LeadName),
	}

	windowOpen := lastInbound != nil && now.Sub(*lastInbound) < models.EngagementWindowHours*time.Hour

	var sendErr error
	var sentMeta map[string]string
	var sentContent string
	sentType := models.MessageTypeFreeformOutbound
	if windowOpen && msg.MessageText != "" {
		sentContent = renderTemplate(msg.MessageText, vars)
		sentMeta = map[string]string{"message_type": string(models.MessageTypeFreeformOutbound)}
		sendErr = r.sender.SendMessage(ctx, state.LeadPhone, sentContent)
	} else {
		tpl, err := r.resolveTemplate(msg, state.ConsultantID)
		switch {
		case err == nil:
			sentContent = renderTemplate(tpl.Body, vars)
			sentType = models.MessageTypeTemplateOutbound
			sentMeta = map[string]string{"template_id": tpl.ID}
			if tpl.ProviderRef != "" {
				sentMeta["content_sid"] = tpl.ProviderRef
				sendErr = r.sender.SendTemplate(ctx, state.LeadPhone, tpl.ProviderRef, vars)
			} else {
				sendErr = r.sender.SendMessage(ctx, state.LeadPhone, sentContent)
			}
		case windowOpen && msg.FallbackMessage != "":
			// Inside the window the stored fallback keeps the nudge
			// deliverable when no template resolves.
			sentContent = renderTemplate(msg.FallbackMessage, vars)
			sentMeta = map[string]string{"message_type": string(models.MessageTypeFreeformOutbound)}
			sendErr = r.sender.SendMessage(ctx, state.LeadPhone, sentContent)
		default:
			r.failMessage(msg.ID, err.Error(), cycle)
			return
		}
	}

	if sendErr != nil {
		r.failMessage(msg.ID, sendErr.Error(), cycle)
		return
	}

	if err := r.store.MarkMessageSent(msg.ID, now); err != nil {
		slog.Error("Runtime.processMessage: message sent but status update failed", "messageID", msg.ID, "error", err)
	}
	if err := r.store.AddConversationMessage(msg.ConversationID, models.ConversationMessage{
		Direction: models.DirectionOutbound,
		Type:      sentType,
		Content:   sentContent,
		Metadata:  sentMeta,
		SentAt:    now,
	}); err != nil {
		slog.Error("Runtime.processMessage: failed to record outbound message", "messageID", msg.ID, "error", err)
	}
	if err := r.store.IncrementFollowupCount(msg.ConversationID, now); err != nil {
		slog.Error("Runtime.processMessage: failed to bump follow-up count", "messageID", msg.ID, "error", err)
	}
	r.applyDormancy(msg.ConversationID, now)
	cycle.MessagesSent++
	slog.Info("Runtime.processMessage: follow-up delivered",
		"messageID", msg.ID, "conversationID", msg.ConversationID, "consultantID", msg.ConsultantID)
}

func (r *Runtime) failMessage(id, reason string, cycle *CycleMetrics) {
	if err := r.store.FailMessageAttempt(id, reason); err != nil {
		slog.Error("Runtime.failMessage: failed to record attempt failure", "messageID", id, "error", err)
	}
	cycle.MessagesFailed++
}

// resolveTemplate picks the template for an outside-window send: the bound
// one if approved, otherwise the consultant's highest-priority approved
// template.
func (r *Runtime) resolveTemplate(msg *models.ScheduledFollowupMessage, consultantID string) (*models.MessageTemplate, error) {
	if msg.TemplateID != "" {
		tpl, err := r.store.GetTemplate(msg.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("failed to load bound template: %w", err)
		}
		if tpl != nil && tpl.IsApproved() {
			return tpl, nil
		}
	}

	templates, err := r.store.ListTemplates(consultantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	approved := templates[:0]
	for _, t := range templates {
		if t.IsApproved() {
			approved = append(approved, t)
		}
	}
	if len(approved) == 0 {
		return nil, models.ErrNoApprovedTemplate
	}
	sort.SliceStable(approved, func(i, j int) bool { return approved[i].Priority > approved[j].Priority })
	return &approved[0], nil
}

// applyDormancy bumps the consecutive no-reply counter after a send and
// parks or permanently excludes conversations that keep going unanswered.
func (r *Runtime) applyDormancy(conversationID string, now time.Time) {
	state, err := r.store.GetConversationState(conversationID)
	if err != nil || state == nil {
		slog.Error("Runtime.applyDormancy: failed to load state", "conversationID", conversationID, "error", err)
		return
	}
	state.ConsecutiveNoReplyCount++
	switch {
	case state.ConsecutiveNoReplyCount >= models.ExclusionAfterNoReplyCount:
		state.PermanentlyExcluded = true
		state.DormantReason = "no reply after repeated follow-ups"
		slog.Warn("Runtime.applyDormancy: conversation permanently excluded",
			"conversationID", conversationID, "noReplyCount", state.ConsecutiveNoReplyCount)
	case state.ConsecutiveNoReplyCount >= models.DormancyAfterNoReplyCount:
		until := now.AddDate(0, 0, models.DormancyDays)
		state.DormantUntil = &until
		state.DormantReason = "consecutive follow-ups unanswered"
		slog.Info("Runtime.applyDormancy: conversation parked",
			"conversationID", conversationID, "until", until)
	}
	if err := r.store.SaveConversationState(state); err != nil {
		slog.Error("Runtime.applyDormancy: failed to save state", "conversationID", conversationID, "error", err)
	}
}

// renderTemplate substitutes {{key}} placeholders; unknown keys are left as-is.
func renderTemplate(body string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

func firstName(full string) string {
	if i := strings.IndexByte(strings.TrimSpace(full), ' '); i > 0 {
		return strings.TrimSpace(full)[:i]
	}
	return strings.TrimSpace(full)
}
