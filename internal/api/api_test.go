package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/scheduler"
	"github.com/leadpulse/leadpulse/internal/store"
)

type recordingSender struct {
	messages  []string
	templates []string
}

func (m *recordingSender) SendMessage(_ context.Context, to, body string) error {
	m.messages = append(m.messages, to+": "+body)
	return nil
}

func (m *recordingSender) SendTemplate(_ context.Context, to, templateRef string, _ map[string]string) error {
	m.templates = append(m.templates, to+": "+templateRef)
	return nil
}

type fixedRuleGen struct {
	rule *models.FollowupRule
	err  error
}

func (f *fixedRuleGen) GenerateRule(_ context.Context, consultantID, _ string) (*models.FollowupRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	rule := *f.rule
	rule.ConsultantID = consultantID
	return &rule, nil
}

// newTestServer wires a server against in-memory dependencies. The returned
// sender records what the processing cycle sends out.
func newTestServer(t *testing.T, ruleGen RuleGenerator) (*Server, *store.InMemoryStore, *recordingSender) {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &recordingSender{}
	builder := engine.NewContextBuilder(st)
	eng := engine.NewEngine(builder, nil)
	runtime := scheduler.NewRuntime(st, eng, engine.NewDecisionLogger(st), sender, scheduler.WithLocation(time.UTC))
	return NewServer(st, runtime, ruleGen), st, sender
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func seedAPIConversation(t *testing.T, st *store.InMemoryStore, id string) {
	t.Helper()
	err := st.SaveConversationState(&models.ConversationState{
		ConversationID:      id,
		ConsultantID:        "consultant-1",
		LeadName:            "Maria Bianchi",
		LeadPhone:           "+393331234567",
		CurrentState:        models.StateContacted,
		MaxFollowupsAllowed: models.DefaultMaxFollowups,
		Active:              true,
	})
	if err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodDelete, "/rules", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for DELETE /rules, got %d", rr.Code)
	}
	rr = doRequest(t, srv, http.MethodPost, "/scheduler/status", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST /scheduler/status, got %d", rr.Code)
	}
}

func TestSchedulerStatus(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "ciao",
		ScheduledFor:   time.Now().Add(time.Hour),
		MaxAttempts:    3,
	}); err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}

	rr := doRequest(t, srv, http.MethodGet, "/scheduler/status", "")
	assertStatus(t, rr, http.StatusOK)

	resp := decodeResponse(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Fatalf("expected ok status, got %s", resp.Status)
	}
	result := resp.Result.(map[string]interface{})
	if result["running"].(bool) {
		t.Error("scheduler should report not running")
	}
	depths := result["queue_depths"].(map[string]interface{})
	if depths["pending"].(float64) != 1 {
		t.Errorf("expected 1 pending message, got %v", depths["pending"])
	}
}

func TestAnalyticsSummary(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")
	seedAPIConversation(t, st, "conv-2")

	rr := doRequest(t, srv, http.MethodGet, "/analytics/summary", "")
	assertStatus(t, rr, http.StatusOK)

	resp := decodeResponse(t, rr)
	result := resp.Result.(map[string]interface{})
	if result["total_conversations"].(float64) != 2 {
		t.Errorf("expected 2 conversations, got %v", result["total_conversations"])
	}
	byState := result["conversations_by_state"].(map[string]interface{})
	if byState["contacted"].(float64) != 2 {
		t.Errorf("expected 2 contacted conversations, got %v", byState["contacted"])
	}
}
