// Package recovery restores scheduler state after an unclean shutdown.
//
// When the process dies mid-cycle, follow-up messages can be left in the
// processing status with no worker attached to them, and conversations may
// have reached a terminal state while queued messages were still waiting to
// go out. The recovery manager runs once at startup, before the scheduler is
// started, and walks a set of registered Recoverable components that repair
// this state.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// DefaultStaleAfter is how long a message may sit in the processing status
// before recovery considers its worker dead and returns it to pending.
const DefaultStaleAfter = 10 * time.Minute

// CancelReasonConversationClosed marks messages withdrawn because their
// conversation reached a terminal state before the message was sent.
const CancelReasonConversationClosed = "conversation_closed"

// Recoverable is a component that can repair its own persistent state at
// startup. Name is used for logging only.
type Recoverable interface {
	Name() string
	Recover(ctx context.Context) error
}

// Manager runs registered Recoverable components in registration order.
type Manager struct {
	recoverables []Recoverable
}

// NewManager creates a manager pre-populated with the standard recoverables
// for the given store.
func NewManager(st store.Store) *Manager {
	m := &Manager{}
	m.Register(&staleMessageRecovery{store: st, staleAfter: DefaultStaleAfter, now: time.Now})
	m.Register(&closedConversationSweep{store: st})
	return m
}

// Register appends a recoverable to the manager. Components run in the order
// they were registered.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll runs every registered recoverable. The first failure aborts the
// run; startup should not proceed on a partially repaired store.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Manager.RecoverAll: starting recovery", "components", len(m.recoverables))
	for _, r := range m.recoverables {
		if err := r.Recover(ctx); err != nil {
			slog.Error("Manager.RecoverAll: component failed", "component", r.Name(), "error", err)
			return fmt.Errorf("recovery component %s failed: %w", r.Name(), err)
		}
	}
	slog.Info("Manager.RecoverAll: recovery complete")
	return nil
}

// staleMessageRecovery returns messages abandoned in the processing status to
// pending so the next processing cycle can pick them up again.
type staleMessageRecovery struct {
	store      store.Store
	staleAfter time.Duration
	now        func() time.Time
}

func (r *staleMessageRecovery) Name() string { return "stale_message_recovery" }

func (r *staleMessageRecovery) Recover(ctx context.Context) error {
	staleBefore := r.now().Add(-r.staleAfter)
	count, err := r.store.RequeueStaleProcessingMessages(staleBefore)
	if err != nil {
		return fmt.Errorf("failed to requeue stale processing messages: %w", err)
	}
	if count > 0 {
		slog.Warn("staleMessageRecovery.Recover: requeued abandoned messages",
			"count", count, "stale_before", staleBefore)
	} else {
		slog.Debug("staleMessageRecovery.Recover: no stale messages found")
	}
	return nil
}

// closedConversationSweep cancels pending follow-ups whose conversation
// reached a terminal state, was excluded, or was deactivated while the
// message sat in the queue.
type closedConversationSweep struct {
	store store.Store
}

func (r *closedConversationSweep) Name() string { return "closed_conversation_sweep" }

func (r *closedConversationSweep) Recover(ctx context.Context) error {
	pending, err := r.store.ListScheduledMessages(models.MessageStatusPending, 0)
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}
	cancelled := 0
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := r.store.GetConversationState(msg.ConversationID)
		if err != nil {
			return fmt.Errorf("failed to load conversation %s: %w", msg.ConversationID, err)
		}
		if state == nil {
			continue
		}
		if !state.CurrentState.IsTerminal() && !state.PermanentlyExcluded && state.Active {
			continue
		}
		if err := r.store.CancelScheduledMessage(msg.ID, CancelReasonConversationClosed); err != nil {
			return fmt.Errorf("failed to cancel message %s: %w", msg.ID, err)
		}
		slog.Debug("closedConversationSweep.Recover: cancelled orphaned message",
			"message_id", msg.ID, "conversation_id", msg.ConversationID, "state", state.CurrentState)
		cancelled++
	}
	if cancelled > 0 {
		slog.Info("closedConversationSweep.Recover: cancelled orphaned pending messages", "count", cancelled)
	}
	return nil
}
