package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

func TestGetConversationState(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")

	rr := doRequest(t, srv, http.MethodGet, "/conversations/conv-1/state", "")
	assertStatus(t, rr, http.StatusOK)

	resp := decodeResponse(t, rr)
	state := resp.Result.(map[string]interface{})
	if state["lead_name"].(string) != "Maria Bianchi" {
		t.Errorf("unexpected lead name %v", state["lead_name"])
	}

	rr = doRequest(t, srv, http.MethodGet, "/conversations/missing/state", "")
	assertStatus(t, rr, http.StatusNotFound)
}

func TestPatchConversationState(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")

	rr := doRequest(t, srv, http.MethodPatch, "/conversations/conv-1/state",
		`{"current_state":"qualified","engagement_score":80,"max_followups_allowed":7}`)
	assertStatus(t, rr, http.StatusOK)

	state, err := st.GetConversationState("conv-1")
	if err != nil || state == nil {
		t.Fatalf("failed to reload state: %v", err)
	}
	if state.CurrentState != models.StateQualified {
		t.Errorf("expected qualified, got %s", state.CurrentState)
	}
	if state.PreviousState != models.StateContacted {
		t.Errorf("expected previous state contacted, got %s", state.PreviousState)
	}
	if state.EngagementScore != 80 || state.MaxFollowupsAllowed != 7 {
		t.Errorf("numeric fields not applied: %+v", state)
	}
}

func TestPatchRejectsInvalidState(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")

	rr := doRequest(t, srv, http.MethodPatch, "/conversations/conv-1/state", `{"current_state":"bogus"}`)
	assertStatus(t, rr, http.StatusBadRequest)

	state, _ := st.GetConversationState("conv-1")
	if state.CurrentState != models.StateContacted {
		t.Errorf("state should be unchanged, got %s", state.CurrentState)
	}
}

func TestPatchClearsDormancy(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")
	state, _ := st.GetConversationState("conv-1")
	until := time.Now().Add(48 * time.Hour)
	state.DormantUntil = &until
	state.DormantReason = "no_reply_threshold"
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	rr := doRequest(t, srv, http.MethodPatch, "/conversations/conv-1/state", `{"clear_dormancy":true}`)
	assertStatus(t, rr, http.StatusOK)

	state, _ = st.GetConversationState("conv-1")
	if state.DormantUntil != nil || state.DormantReason != "" {
		t.Errorf("dormancy should be cleared: %+v", state)
	}
}

func TestEvaluateDryRunLeavesStateUntouched(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")
	state, _ := st.GetConversationState("conv-1")
	state.HasSaidNoExplicitly = true
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	rr := doRequest(t, srv, http.MethodPost, "/conversations/conv-1/evaluate", "")
	assertStatus(t, rr, http.StatusOK)

	resp := decodeResponse(t, rr)
	result := resp.Result.(map[string]interface{})
	if result["executed"].(bool) {
		t.Error("dry run should not execute the decision")
	}
	decision := result["decision"].(map[string]interface{})
	if decision["decision"].(string) != string(models.DecisionStop) {
		t.Errorf("expected stop decision, got %v", decision["decision"])
	}
	if result["rule_name"].(string) != "explicit_rejection" {
		t.Errorf("expected explicit_rejection rule, got %v", result["rule_name"])
	}

	state, _ = st.GetConversationState("conv-1")
	if state.CurrentState != models.StateContacted {
		t.Errorf("dry run changed state to %s", state.CurrentState)
	}
}

func TestEvaluateLiveAppliesDecision(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	seedAPIConversation(t, st, "conv-1")
	state, _ := st.GetConversationState("conv-1")
	state.HasSaidNoExplicitly = true
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}

	rr := doRequest(t, srv, http.MethodPost, "/conversations/conv-1/evaluate", `{"live":true}`)
	assertStatus(t, rr, http.StatusOK)

	resp := decodeResponse(t, rr)
	result := resp.Result.(map[string]interface{})
	if !result["executed"].(bool) {
		t.Error("live evaluation should execute the decision")
	}

	state, _ = st.GetConversationState("conv-1")
	if state.CurrentState != models.StateClosedLost {
		t.Errorf("expected closed_lost after live stop, got %s", state.CurrentState)
	}

	evals, err := st.GetPreviousEvaluations("conv-1", 5)
	if err != nil || len(evals) != 1 {
		t.Fatalf("expected 1 audit row, got %d (err %v)", len(evals), err)
	}
}

func TestEvaluateUnknownConversation(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	rr := doRequest(t, srv, http.MethodPost, "/conversations/missing/evaluate", "")
	assertStatus(t, rr, http.StatusNotFound)
}
