package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func seedConversation(t *testing.T, st *store.InMemoryStore, id string, state models.ConversationStateValue, active bool) {
	t.Helper()
	err := st.SaveConversationState(&models.ConversationState{
		ConversationID:      id,
		ConsultantID:        "consultant-1",
		LeadName:            "Maria Rossi",
		LeadPhone:           "+393331234567",
		CurrentState:        state,
		MaxFollowupsAllowed: 5,
		Active:              active,
	})
	if err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}
}

func seedPendingMessage(t *testing.T, st *store.InMemoryStore, id, conversationID string) {
	t.Helper()
	err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ID:             id,
		ConversationID: conversationID,
		ConsultantID:   "consultant-1",
		MessageText:    "ciao, novità?",
		ScheduledFor:   time.Now().Add(-time.Hour),
		MaxAttempts:    3,
	})
	if err != nil {
		t.Fatalf("CreateScheduledMessage failed: %v", err)
	}
}

func TestStaleMessageRecoveryRequeuesAbandonedMessages(t *testing.T) {
	st := store.NewInMemoryStore()
	seedConversation(t, st, "conv-1", models.StateContacted, true)
	seedPendingMessage(t, st, "msg-1", "conv-1")

	// Claim the message as if a worker picked it up an hour ago and died.
	claimedAt := time.Now().Add(-time.Hour)
	claimed, err := st.ClaimDuePendingMessages(claimedAt, 10)
	if err != nil {
		t.Fatalf("ClaimDuePendingMessages failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed message, got %d", len(claimed))
	}

	r := &staleMessageRecovery{store: st, staleAfter: DefaultStaleAfter, now: time.Now}
	if err := r.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	msg, err := st.GetScheduledMessage("msg-1")
	if err != nil {
		t.Fatalf("GetScheduledMessage failed: %v", err)
	}
	if msg.Status != models.MessageStatusPending {
		t.Errorf("expected status %s, got %s", models.MessageStatusPending, msg.Status)
	}
}

func TestStaleMessageRecoveryLeavesFreshClaimsAlone(t *testing.T) {
	st := store.NewInMemoryStore()
	seedConversation(t, st, "conv-1", models.StateContacted, true)
	seedPendingMessage(t, st, "msg-1", "conv-1")

	if _, err := st.ClaimDuePendingMessages(time.Now(), 10); err != nil {
		t.Fatalf("ClaimDuePendingMessages failed: %v", err)
	}

	r := &staleMessageRecovery{store: st, staleAfter: DefaultStaleAfter, now: time.Now}
	if err := r.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	msg, err := st.GetScheduledMessage("msg-1")
	if err != nil {
		t.Fatalf("GetScheduledMessage failed: %v", err)
	}
	if msg.Status != models.MessageStatusProcessing {
		t.Errorf("fresh claim should stay in processing, got %s", msg.Status)
	}
}

func TestClosedConversationSweepCancelsOrphanedMessages(t *testing.T) {
	st := store.NewInMemoryStore()
	seedConversation(t, st, "conv-won", models.StateClosedWon, true)
	seedConversation(t, st, "conv-open", models.StateContacted, true)
	seedConversation(t, st, "conv-inactive", models.StateContacted, false)
	seedPendingMessage(t, st, "msg-won", "conv-won")
	seedPendingMessage(t, st, "msg-open", "conv-open")
	seedPendingMessage(t, st, "msg-inactive", "conv-inactive")

	r := &closedConversationSweep{store: st}
	if err := r.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	cases := []struct {
		id   string
		want models.ScheduledMessageStatus
	}{
		{"msg-won", models.MessageStatusCancelled},
		{"msg-open", models.MessageStatusPending},
		{"msg-inactive", models.MessageStatusCancelled},
	}
	for _, tc := range cases {
		msg, err := st.GetScheduledMessage(tc.id)
		if err != nil {
			t.Fatalf("GetScheduledMessage(%s) failed: %v", tc.id, err)
		}
		if msg.Status != tc.want {
			t.Errorf("%s: expected status %s, got %s", tc.id, tc.want, msg.Status)
		}
		if tc.want == models.MessageStatusCancelled && msg.CancellationReason != CancelReasonConversationClosed {
			t.Errorf("%s: expected cancellation reason %q, got %q", tc.id, CancelReasonConversationClosed, msg.CancellationReason)
		}
	}
}

func TestClosedConversationSweepSkipsUnknownConversations(t *testing.T) {
	st := store.NewInMemoryStore()
	seedPendingMessage(t, st, "msg-orphan", "conv-missing")

	r := &closedConversationSweep{store: st}
	if err := r.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	msg, err := st.GetScheduledMessage("msg-orphan")
	if err != nil {
		t.Fatalf("GetScheduledMessage failed: %v", err)
	}
	if msg.Status != models.MessageStatusPending {
		t.Errorf("message without conversation should stay pending, got %s", msg.Status)
	}
}

type failingRecoverable struct {
	name string
	err  error
}

func (f *failingRecoverable) Name() string                     { return f.name }
func (f *failingRecoverable) Recover(ctx context.Context) error { return f.err }

func TestManagerStopsOnFirstFailure(t *testing.T) {
	sentinel := errors.New("boom")
	ran := false
	m := &Manager{}
	m.Register(&failingRecoverable{name: "first", err: sentinel})
	m.Register(&funcRecoverable{name: "second", fn: func(context.Context) error {
		ran = true
		return nil
	}})

	err := m.RecoverAll(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel error, got %v", err)
	}
	if ran {
		t.Error("second recoverable should not run after the first fails")
	}
}

type funcRecoverable struct {
	name string
	fn   func(context.Context) error
}

func (f *funcRecoverable) Name() string                     { return f.name }
func (f *funcRecoverable) Recover(ctx context.Context) error { return f.fn(ctx) }

func TestNewManagerRunsStandardRecoverables(t *testing.T) {
	st := store.NewInMemoryStore()
	seedConversation(t, st, "conv-lost", models.StateClosedLost, true)
	seedPendingMessage(t, st, "msg-lost", "conv-lost")

	m := NewManager(st)
	if err := m.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}

	msg, err := st.GetScheduledMessage("msg-lost")
	if err != nil {
		t.Fatalf("GetScheduledMessage failed: %v", err)
	}
	if msg.Status != models.MessageStatusCancelled {
		t.Errorf("expected cancelled, got %s", msg.Status)
	}
}
