package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/leadpulse/leadpulse/internal/models"
)

const messageGenSystemPrompt = `You are a follow-up assistant for a sales consultant who nurtures leads over WhatsApp. The last message in the conversation is ours and the lead has not replied yet. Write the next gentle nudge.

Instructions:
- Two or three sentences at most, warm and professional, never pushy.
- Address the lead by first name when one is known; no formal openers.
- Write in the language the lead uses in the transcript.
- It must read like a person typing, not a template.

Respond with the message text only: no JSON, no quotes, no formatting.`

// GenerateFollowupMessage authors the free-form nudge for an open-window
// follow-up. A bad completion is an error here: the caller carries its own
// canned fallback, so nothing made up is ever sent.
func (c *Client) GenerateFollowupMessage(ctx context.Context, convCtx *models.ConversationContext) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(messageGenSystemPrompt),
			openai.UserMessage(BuildUserPrompt(convCtx)),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxCompletionTokens),
	}

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some models wrap plain text in quotes despite the instruction.
	text = strings.TrimSpace(strings.Trim(text, `"`))
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

var _ interface {
	GenerateFollowupMessage(ctx context.Context, convCtx *models.ConversationContext) (string, error)
} = (*Client)(nil)
