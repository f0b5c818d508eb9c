package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// ResponseHandler consumes inbound lead messages from a messaging service
// and keeps conversation state in sync: it records the message, wakes
// dormant conversations, runs signal hooks and withdraws queued follow-ups
// the reply made obsolete.
type ResponseHandler struct {
	store store.Store
	hooks *HookRegistry
	now   func() time.Time
}

// NewResponseHandler creates a handler with the built-in signal hooks.
func NewResponseHandler(st store.Store) *ResponseHandler {
	return &ResponseHandler{
		store: st,
		hooks: NewHookRegistry(),
		now:   time.Now,
	}
}

// Hooks exposes the registry so callers can add custom signal detectors.
func (h *ResponseHandler) Hooks() *HookRegistry {
	return h.hooks
}

// Run consumes the service's response channel until the context is done or
// the channel closes.
func (h *ResponseHandler) Run(ctx context.Context, svc Service) {
	slog.Info("ResponseHandler.Run: inbound pipeline started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("ResponseHandler.Run: stopping, context done")
			return
		case resp, ok := <-svc.Responses():
			if !ok {
				slog.Info("ResponseHandler.Run: stopping, response channel closed")
				return
			}
			if err := h.Handle(resp); err != nil {
				slog.Error("ResponseHandler.Run: failed to handle inbound message", "from", resp.From, "error", err)
			}
		}
	}
}

// Handle processes one inbound message.
func (h *ResponseHandler) Handle(resp models.Response) error {
	phone := canonicalInboundPhone(resp.From)
	state, err := h.store.GetConversationByLeadPhone(phone)
	if err != nil {
		return err
	}
	if state == nil {
		slog.Debug("ResponseHandler.Handle: no conversation for sender", "from", resp.From)
		return nil
	}

	receivedAt := time.Unix(resp.Time, 0)
	if resp.Time == 0 {
		receivedAt = h.now()
	}
	if err := h.store.AddConversationMessage(state.ConversationID, models.ConversationMessage{
		Direction: models.DirectionInbound,
		Type:      models.MessageTypeLeadResponse,
		Content:   resp.Body,
		SentAt:    receivedAt,
	}); err != nil {
		return err
	}

	// A reply resets the silence streak and wakes a parked conversation.
	state.ConsecutiveNoReplyCount = 0
	state.DormantUntil = nil
	state.DormantReason = ""
	if !state.CurrentState.IsTerminal() && state.CurrentState != models.StateQualified {
		if state.CurrentState != models.StateInterested {
			state.PreviousState = state.CurrentState
			state.CurrentState = models.StateInterested
		}
	}

	h.hooks.Apply(state, resp.Body)

	if err := h.store.SaveConversationState(state); err != nil {
		return err
	}

	if err := h.cancelQueuedFollowups(state.ConversationID); err != nil {
		slog.Warn("ResponseHandler.Handle: failed to withdraw queued follow-ups",
			"conversationID", state.ConversationID, "error", err)
	}

	slog.Info("ResponseHandler.Handle: inbound message processed",
		"conversationID", state.ConversationID, "state", state.CurrentState)
	return nil
}

// cancelQueuedFollowups withdraws pending follow-ups made obsolete by the reply.
func (h *ResponseHandler) cancelQueuedFollowups(conversationID string) error {
	pending, err := h.store.ListScheduledMessages(models.MessageStatusPending, 0)
	if err != nil {
		return err
	}
	for i := range pending {
		if pending[i].ConversationID != conversationID {
			continue
		}
		if err := h.store.CancelScheduledMessage(pending[i].ID, "user_replied"); err != nil {
			return err
		}
	}
	return nil
}

// canonicalInboundPhone normalizes channel sender identifiers
// ("whatsapp:+39333...", "39333...@s.whatsapp.net") to "+<digits>".
func canonicalInboundPhone(from string) string {
	s := strings.TrimPrefix(from, "whatsapp:")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	digits := phoneNumberRegex.ReplaceAllString(s, "")
	if digits == "" {
		return s
	}
	return "+" + digits
}
