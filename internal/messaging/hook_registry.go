package messaging

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/leadpulse/leadpulse/internal/models"
)

// SignalHook inspects one inbound message and may update conversation
// signals on the state. Hooks run in registration order; an error aborts
// neither the chain nor the message handling.
type SignalHook func(state *models.ConversationState, body string) error

// HookRegistry holds named signal hooks applied to every inbound message.
type HookRegistry struct {
	mu    sync.RWMutex
	names []string
	hooks map[string]SignalHook
}

// NewHookRegistry creates a registry preloaded with the built-in signal
// detectors.
func NewHookRegistry() *HookRegistry {
	r := &HookRegistry{hooks: make(map[string]SignalHook)}
	r.Register("price_signal", detectPriceSignal)
	r.Register("urgency_signal", detectUrgencySignal)
	r.Register("rejection_signal", detectRejectionSignal)
	return r
}

// Register adds or replaces a named hook.
func (r *HookRegistry) Register(name string, hook SignalHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.hooks[name] = hook
}

// Unregister removes a named hook.
func (r *HookRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[name]; !exists {
		return
	}
	delete(r.hooks, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// Apply runs every hook against the state in registration order.
func (r *HookRegistry) Apply(state *models.ConversationState, body string) {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	hooks := make(map[string]SignalHook, len(r.hooks))
	for n, h := range r.hooks {
		hooks[n] = h
	}
	r.mu.RUnlock()

	for _, name := range names {
		if err := hooks[name](state, body); err != nil {
			slog.Warn("HookRegistry.Apply: hook failed", "hook", name, "conversationID", state.ConversationID, "error", err)
		}
	}
}

var (
	priceKeywords = []string{
		"prezzo", "costo", "costa", "quanto viene", "preventivo", "tariffa",
		"price", "cost", "how much", "quote",
	}
	urgencyKeywords = []string{
		"urgente", "subito", "al più presto", "entro", "scadenza",
		"urgent", "asap", "deadline", "right away",
	}
	rejectionKeywords = []string{
		"non mi interessa", "non sono interessat", "no grazie", "non fa per me",
		"smettila", "basta messaggi", "not interested", "no thanks", "stop messaging",
		"unsubscribe",
	}
)

func detectPriceSignal(state *models.ConversationState, body string) error {
	if state.HasAskedPrice {
		return nil
	}
	if containsAny(body, priceKeywords) {
		state.HasAskedPrice = true
		slog.Debug("detectPriceSignal: price question detected", "conversationID", state.ConversationID)
	}
	return nil
}

func detectUrgencySignal(state *models.ConversationState, body string) error {
	if state.HasMentionedUrgency {
		return nil
	}
	if containsAny(body, urgencyKeywords) {
		state.HasMentionedUrgency = true
		slog.Debug("detectUrgencySignal: urgency detected", "conversationID", state.ConversationID)
	}
	return nil
}

func detectRejectionSignal(state *models.ConversationState, body string) error {
	if state.HasSaidNoExplicitly {
		return nil
	}
	if containsAny(body, rejectionKeywords) {
		state.HasSaidNoExplicitly = true
		slog.Info("detectRejectionSignal: explicit rejection detected", "conversationID", state.ConversationID)
	}
	return nil
}

func containsAny(body string, keywords []string) bool {
	lower := strings.ToLower(body)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
