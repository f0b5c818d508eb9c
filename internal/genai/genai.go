// Package genai produces follow-up decisions with the OpenAI chat API.
//
// The client sends the full conversation snapshot as a structured prompt and
// expects a single JSON decision object back. Malformed model output never
// surfaces as an error: it degrades to a conservative skip decision so one
// bad completion cannot stall the evaluation loop.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/leadpulse/leadpulse/internal/models"
)

// ErrNoChoicesReturned indicates the completion carried no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

const (
	defaultModel               = openai.ChatModelGPT4oMini
	defaultTemperature         = 0.3
	defaultMaxCompletionTokens = 1024
	defaultTimeout             = 30 * time.Second
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the real OpenAI client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service for follow-up decisions.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	timeout             time.Duration
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	Timeout             time.Duration
}

// Option customizes client construction.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxCompletionTokens caps the completion length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable, the model to OPENAI_MODEL.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIKey:              os.Getenv("OPENAI_API_KEY"),
		Model:               os.Getenv("OPENAI_MODEL"),
		Temperature:         defaultTemperature,
		MaxCompletionTokens: defaultMaxCompletionTokens,
		Timeout:             defaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:                openaiChatService{client: cli},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		timeout:             cfg.Timeout,
	}, nil
}

// Model returns the configured completion model name.
func (c *Client) Model() string {
	return c.model
}

// Decide evaluates one conversation snapshot and returns a follow-up decision.
// Transport failures surface as errors; malformed completions degrade to a
// skip decision with zero confidence.
func (c *Client) Decide(ctx context.Context, convCtx *models.ConversationContext) (*models.Decision, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(BuildSystemPrompt(convCtx.Preferences)),
			openai.UserMessage(BuildUserPrompt(convCtx)),
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

	raw := resp.Choices[0].Message.Content
	decision, err := ParseDecision(raw)
	if err != nil {
		slog.Warn("Client.Decide: unparseable completion, defaulting to skip",
			"conversationID", convCtx.ConversationID, "error", err)
		return &models.Decision{
			Decision:        models.DecisionSkip,
			Reasoning:       "model response could not be parsed: " + err.Error(),
			ConfidenceScore: 0,
		}, nil
	}
	return decision, nil
}

var _ interface {
	Decide(ctx context.Context, convCtx *models.ConversationContext) (*models.Decision, error)
	Model() string
} = (*Client)(nil)
