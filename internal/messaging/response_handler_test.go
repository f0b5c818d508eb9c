package messaging

import (
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func seedHandlerState(t *testing.T, st *store.InMemoryStore) *models.ConversationState {
	t.Helper()
	state := &models.ConversationState{
		ConversationID:          "conv-1",
		ConsultantID:            "consultant-1",
		LeadName:                "Maria Bianchi",
		LeadPhone:               "+393331234567",
		CurrentState:            models.StateContacted,
		MaxFollowupsAllowed:     models.DefaultMaxFollowups,
		ConsecutiveNoReplyCount: 3,
		Active:                  true,
	}
	until := time.Now().Add(48 * time.Hour)
	state.DormantUntil = &until
	state.DormantReason = "consecutive follow-ups unanswered"
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
	return state
}

func TestHandleRecordsMessageAndWakesConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	h := NewResponseHandler(st)
	seedHandlerState(t, st)

	err := h.Handle(models.Response{
		From: "whatsapp:+39 333 123 4567",
		Body: "eccomi, scusa il ritardo",
		Time: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	state, _ := st.GetConversationState("conv-1")
	if state.ConsecutiveNoReplyCount != 0 {
		t.Errorf("no-reply count not reset, got %d", state.ConsecutiveNoReplyCount)
	}
	if state.DormantUntil != nil || state.DormantReason != "" {
		t.Error("conversation not woken from dormancy")
	}
	if state.CurrentState != models.StateInterested {
		t.Errorf("expected interested, got %q", state.CurrentState)
	}
	if state.PreviousState != models.StateContacted {
		t.Errorf("expected previous state preserved, got %q", state.PreviousState)
	}

	msgs, _ := st.GetRecentMessages("conv-1", 10)
	if len(msgs) != 1 || msgs[0].Type != models.MessageTypeLeadResponse {
		t.Fatalf("expected recorded lead response, got %+v", msgs)
	}
}

func TestHandleDetectsSignals(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, s *models.ConversationState)
	}{
		{
			name: "price question",
			body: "interessante, quanto costa il servizio?",
			check: func(t *testing.T, s *models.ConversationState) {
				if !s.HasAskedPrice {
					t.Error("expected HasAskedPrice")
				}
			},
		},
		{
			name: "urgency mention",
			body: "mi serve subito, entro fine mese",
			check: func(t *testing.T, s *models.ConversationState) {
				if !s.HasMentionedUrgency {
					t.Error("expected HasMentionedUrgency")
				}
			},
		},
		{
			name: "explicit rejection",
			body: "no grazie, non mi interessa",
			check: func(t *testing.T, s *models.ConversationState) {
				if !s.HasSaidNoExplicitly {
					t.Error("expected HasSaidNoExplicitly")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewInMemoryStore()
			h := NewResponseHandler(st)
			seedHandlerState(t, st)

			if err := h.Handle(models.Response{From: "+393331234567", Body: tt.body, Time: time.Now().Unix()}); err != nil {
				t.Fatalf("handle failed: %v", err)
			}
			state, _ := st.GetConversationState("conv-1")
			tt.check(t, state)
		})
	}
}

func TestHandleWithdrawsQueuedFollowups(t *testing.T) {
	st := store.NewInMemoryStore()
	h := NewResponseHandler(st)
	seedHandlerState(t, st)
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "ci sei?",
		ScheduledFor:   time.Now().Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	if err := h.Handle(models.Response{From: "+393331234567", Body: "sì ci sono", Time: time.Now().Unix()}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	cancelled, _ := st.ListScheduledMessages(models.MessageStatusCancelled, 0)
	if len(cancelled) != 1 || cancelled[0].CancellationReason != "user_replied" {
		t.Fatalf("expected user_replied cancellation, got %+v", cancelled)
	}
}

func TestHandleUnknownSenderIsNoOp(t *testing.T) {
	st := store.NewInMemoryStore()
	h := NewResponseHandler(st)

	if err := h.Handle(models.Response{From: "+390000000000", Body: "chi sei?", Time: time.Now().Unix()}); err != nil {
		t.Errorf("unknown sender must not error, got %v", err)
	}
}

func TestCanonicalInboundPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"whatsapp:+393331234567", "+393331234567"},
		{"393331234567@s.whatsapp.net", "+393331234567"},
		{"+39 333 123 4567", "+393331234567"},
		{"393331234567", "+393331234567"},
	}
	for _, tt := range tests {
		if got := canonicalInboundPhone(tt.in); got != tt.want {
			t.Errorf("canonicalInboundPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
