package genai

import (
	"strings"
	"testing"

	"github.com/leadpulse/leadpulse/internal/models"
)

func TestParseDecision_PlainJSON(t *testing.T) {
	decision, err := ParseDecision(`{
		"decision": "send_now",
		"urgency": "now",
		"suggested_template_id": "tpl-1",
		"reasoning": "window closing",
		"confidence_score": 0.9,
		"updated_engagement_score": 70,
		"state_transition": "interested"
	}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Decision != models.DecisionSendNow {
		t.Errorf("expected send_now, got %q", decision.Decision)
	}
	if decision.SuggestedTemplateID != "tpl-1" {
		t.Errorf("unexpected template id %q", decision.SuggestedTemplateID)
	}
	if decision.UpdatedEngagementScore == nil || *decision.UpdatedEngagementScore != 70 {
		t.Errorf("unexpected engagement score %v", decision.UpdatedEngagementScore)
	}
	if decision.StateTransition != "interested" {
		t.Errorf("unexpected state transition %q", decision.StateTransition)
	}
}

func TestParseDecision_FencedBlock(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"decision\": \"stop\", \"reasoning\": \"lead said no\", \"confidence_score\": 1.0}\n```\nLet me know."
	decision, err := ParseDecision(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Decision != models.DecisionStop {
		t.Errorf("expected stop, got %q", decision.Decision)
	}
	if decision.ConfidenceScore != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", decision.ConfidenceScore)
	}
}

func TestParseDecision_MissingFieldsNormalized(t *testing.T) {
	decision, err := ParseDecision(`{"reasoning": "not sure"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Decision != models.DecisionSkip {
		t.Errorf("missing decision should normalize to skip, got %q", decision.Decision)
	}
	if decision.ConfidenceScore != 0.5 {
		t.Errorf("missing confidence should default to 0.5, got %v", decision.ConfidenceScore)
	}
}

func TestParseDecision_UnknownDecisionValue(t *testing.T) {
	decision, err := ParseDecision(`{"decision": "procrastinate", "confidence_score": 0.7}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Decision != models.DecisionSkip {
		t.Errorf("unknown decision should normalize to skip, got %q", decision.Decision)
	}
	if !strings.Contains(decision.Reasoning, "procrastinate") {
		t.Errorf("expected diagnostic reasoning, got %q", decision.Reasoning)
	}
}

func TestParseDecision_ConfidenceClamped(t *testing.T) {
	decision, err := ParseDecision(`{"decision": "skip", "confidence_score": 3.5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.ConfidenceScore != 1 {
		t.Errorf("expected clamp to 1, got %v", decision.ConfidenceScore)
	}
}

func TestParseDecision_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "plain prose answer", "```json\nnot json\n```"} {
		if _, err := ParseDecision(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
