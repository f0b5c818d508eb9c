package messaging

import (
	"testing"

	"github.com/leadpulse/leadpulse/internal/models"
)

func TestHookRegistryRegisterAndUnregister(t *testing.T) {
	r := NewHookRegistry()

	called := false
	r.Register("custom", func(state *models.ConversationState, body string) error {
		called = true
		return nil
	})
	r.Apply(&models.ConversationState{ConversationID: "conv-1"}, "qualsiasi testo")
	if !called {
		t.Error("custom hook not invoked")
	}

	called = false
	r.Unregister("custom")
	r.Apply(&models.ConversationState{ConversationID: "conv-1"}, "qualsiasi testo")
	if called {
		t.Error("unregistered hook still invoked")
	}
}

func TestHookRegistryReplaceKeepsOrder(t *testing.T) {
	r := NewHookRegistry()
	count := 0
	r.Register("rejection_signal", func(state *models.ConversationState, body string) error {
		count++
		return nil
	})
	r.Apply(&models.ConversationState{}, "no grazie")
	if count != 1 {
		t.Errorf("replacement hook invoked %d times", count)
	}
}

func TestBuiltinDetectorsIgnoreNeutralText(t *testing.T) {
	state := &models.ConversationState{ConversationID: "conv-1"}
	NewHookRegistry().Apply(state, "perfetto, ci sentiamo la settimana prossima")
	if state.HasAskedPrice || state.HasMentionedUrgency || state.HasSaidNoExplicitly {
		t.Errorf("neutral text must not raise signals: %+v", state)
	}
}
