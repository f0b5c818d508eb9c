package genai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/leadpulse/leadpulse/internal/models"
)

// fencedJSONPattern extracts the first fenced code block when the model
// wraps its JSON in markdown despite the instructions.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseDecision decodes a model completion into a Decision. It first tries
// the raw text as JSON, then the content of a fenced code block. Recoverable
// gaps are normalized: a missing decision becomes skip, a missing confidence
// defaults to 0.5.
func ParseDecision(raw string) (*models.Decision, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty completion")
	}

	var payload struct {
		Decision                     string   `json:"decision"`
		Urgency                      string   `json:"urgency"`
		SuggestedTemplateID          string   `json:"suggested_template_id"`
		SuggestedMessage             string   `json:"suggested_message"`
		Reasoning                    string   `json:"reasoning"`
		ConfidenceScore              *float64 `json:"confidence_score"`
		UpdatedEngagementScore       *int     `json:"updated_engagement_score"`
		UpdatedConversionProbability *float64 `json:"updated_conversion_probability"`
		StateTransition              string   `json:"state_transition"`
		InternalThinking             string   `json:"internal_thinking"`
	}

	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		m := fencedJSONPattern.FindStringSubmatch(trimmed)
		if m == nil {
			return nil, fmt.Errorf("completion is not JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			return nil, fmt.Errorf("fenced block is not JSON: %w", err)
		}
	}

	decision := &models.Decision{
		Decision:                     models.FollowupDecision(payload.Decision),
		Urgency:                      models.FollowupUrgency(payload.Urgency),
		SuggestedTemplateID:          payload.SuggestedTemplateID,
		SuggestedMessage:             payload.SuggestedMessage,
		Reasoning:                    payload.Reasoning,
		ConfidenceScore:              0.5,
		UpdatedEngagementScore:       payload.UpdatedEngagementScore,
		UpdatedConversionProbability: payload.UpdatedConversionProbability,
		StateTransition:              payload.StateTransition,
		InternalThinking:             payload.InternalThinking,
	}
	if payload.ConfidenceScore != nil {
		decision.ConfidenceScore = *payload.ConfidenceScore
	}
	if !models.IsValidDecision(decision.Decision) {
		decision.Decision = models.DecisionSkip
		if decision.Reasoning == "" {
			decision.Reasoning = fmt.Sprintf("model returned unrecognized decision %q", payload.Decision)
		}
	}
	if decision.ConfidenceScore < 0 {
		decision.ConfidenceScore = 0
	}
	if decision.ConfidenceScore > 1 {
		decision.ConfidenceScore = 1
	}
	return decision, nil
}
