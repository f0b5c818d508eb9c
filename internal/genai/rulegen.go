package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/leadpulse/leadpulse/internal/models"
)

const ruleGenSystemPrompt = `You translate a consultant's plain-language follow-up policy into one structured rule.

Respond with a single JSON object and nothing else:
{
  "name": string,                 // short descriptive name
  "priority": integer,            // 1-10, higher runs first, default 5
  "trigger_after_hours": integer, // hours of lead silence before the rule fires
  "max_followups": integer        // total follow-up attempts allowed, default 3
}

Infer sensible values when the description is vague. Keep the name under 60 characters, in the language of the description.`

// generatedRule mirrors the JSON object the model is asked to produce.
type generatedRule struct {
	Name              string `json:"name"`
	Priority          int    `json:"priority"`
	TriggerAfterHours int    `json:"trigger_after_hours"`
	MaxFollowups      int    `json:"max_followups"`
}

// GenerateRule turns a natural-language description into a structured
// follow-up rule for the given consultant. Unlike Decide, a malformed
// completion here is an error: there is no safe default rule to fall back to.
func (c *Client) GenerateRule(ctx context.Context, consultantID, description string) (*models.FollowupRule, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ruleGenSystemPrompt),
			openai.UserMessage(description),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
	}

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}

	gen, err := parseGeneratedRule(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated rule: %w", err)
	}

	rule := &models.FollowupRule{
		ConsultantID:      consultantID,
		Name:              gen.Name,
		Priority:          gen.Priority,
		Enabled:           true,
		TriggerAfterHours: gen.TriggerAfterHours,
		MaxFollowups:      gen.MaxFollowups,
	}
	if rule.Priority <= 0 {
		rule.Priority = 5
	}
	if rule.MaxFollowups <= 0 {
		rule.MaxFollowups = 3
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("generated rule is invalid: %w", err)
	}
	return rule, nil
}

// parseGeneratedRule accepts the same shapes ParseDecision does: a bare JSON
// object or one inside a fenced code block.
func parseGeneratedRule(raw string) (*generatedRule, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty completion")
	}

	var gen generatedRule
	if err := json.Unmarshal([]byte(trimmed), &gen); err == nil {
		return &gen, nil
	}
	if m := fencedJSONPattern.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &gen); err == nil {
			return &gen, nil
		}
	}
	return nil, fmt.Errorf("completion is not a JSON rule object")
}
