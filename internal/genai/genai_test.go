package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/leadpulse/leadpulse/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(_ context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testContext() *models.ConversationContext {
	return &models.ConversationContext{
		ConversationID:      "conv-1",
		ConsultantID:        "consultant-1",
		LeadName:            "Maria",
		LeadPhone:           "+393331234567",
		CurrentState:        models.StateInterested,
		FollowupCount:       1,
		MaxFollowupsAllowed: 5,
		Preferences:         models.DefaultPreferences("consultant-1"),
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("test-model"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Model() != "test-model" {
		t.Errorf("expected configured model, got %q", cli.Model())
	}
}

func TestNewClient_DefaultModel(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "")
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cli.Model() != string(defaultModel) {
		t.Errorf("expected default model, got %q", cli.Model())
	}
}

func TestDecide_Success(t *testing.T) {
	mock := &mockChatService{resp: completionWith(`{
		"decision": "schedule",
		"urgency": "tomorrow",
		"suggested_message": "ciao Maria, novità?",
		"reasoning": "lead went quiet after pricing",
		"confidence_score": 0.85
	}`)}
	client := &Client{chat: mock, model: "test-model", timeout: time.Second}

	decision, err := client.Decide(context.Background(), testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Decision != models.DecisionSchedule {
		t.Errorf("expected schedule, got %q", decision.Decision)
	}
	if decision.Urgency != models.UrgencyTomorrow {
		t.Errorf("expected tomorrow, got %q", decision.Urgency)
	}
	if decision.ConfidenceScore != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", decision.ConfidenceScore)
	}
	if len(mock.params.Messages) != 2 {
		t.Fatalf("expected system and user message, got %d", len(mock.params.Messages))
	}
}

func TestDecide_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}, model: "test-model"}
	_, err := client.Decide(context.Background(), testContext())
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestDecide_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{}, model: "test-model"}
	_, err := client.Decide(context.Background(), testContext())
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestDecide_MalformedCompletionDegradesToSkip(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith("I think you should wait.")}, model: "test-model"}
	decision, err := client.Decide(context.Background(), testContext())
	if err != nil {
		t.Fatalf("malformed completion must not error, got %v", err)
	}
	if decision.Decision != models.DecisionSkip {
		t.Errorf("expected skip fallback, got %q", decision.Decision)
	}
	if decision.ConfidenceScore != 0 {
		t.Errorf("expected zero confidence, got %v", decision.ConfidenceScore)
	}
}
