package models

import "testing"

func TestIsValidConversationState(t *testing.T) {
	valid := []ConversationStateValue{
		StateNew, StateContacted, StateInterested, StateQualified,
		StateStalled, StateGhost, StateClosedWon, StateClosedLost,
	}
	for _, s := range valid {
		if !IsValidConversationState(s) {
			t.Errorf("expected state %q to be valid", s)
		}
	}
	if IsValidConversationState("archived") {
		t.Error("expected unknown state to be invalid")
	}
}

func TestConversationStateIsTerminal(t *testing.T) {
	tests := []struct {
		state ConversationStateValue
		want  bool
	}{
		{StateClosedWon, true},
		{StateClosedLost, true},
		{StateGhost, false},
		{StateStalled, false},
		{StateNew, false},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("state %q: IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestScheduledMessageStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status ScheduledMessageStatus
		want   bool
	}{
		{MessageStatusSent, true},
		{MessageStatusFailed, true},
		{MessageStatusCancelled, true},
		{MessageStatusPending, false},
		{MessageStatusProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("status %q: IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestConversationStateValidate(t *testing.T) {
	valid := ConversationState{
		ConversationID:        "conv-1",
		CurrentState:          StateContacted,
		EngagementScore:       50,
		ConversionProbability: 0.4,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid state, got error: %v", err)
	}

	missingID := valid
	missingID.ConversationID = ""
	if err := missingID.Validate(); err == nil {
		t.Error("expected error for missing conversation ID")
	}

	badState := valid
	badState.CurrentState = "nonsense"
	if err := badState.Validate(); err != ErrInvalidStateValue {
		t.Errorf("expected ErrInvalidStateValue, got %v", err)
	}

	badScore := valid
	badScore.EngagementScore = 150
	if err := badScore.Validate(); err == nil {
		t.Error("expected error for out-of-range engagement score")
	}

	badProb := valid
	badProb.ConversionProbability = 1.5
	if err := badProb.Validate(); err == nil {
		t.Error("expected error for out-of-range conversion probability")
	}
}

func TestDefaultPreferences(t *testing.T) {
	prefs := DefaultPreferences("cons-1")
	if prefs.ConsultantID != "cons-1" {
		t.Errorf("expected consultant ID cons-1, got %q", prefs.ConsultantID)
	}
	if prefs.MaxFollowupsTotal != DefaultMaxFollowups {
		t.Errorf("expected %d max followups, got %d", DefaultMaxFollowups, prefs.MaxFollowupsTotal)
	}
	if prefs.MinHoursBetweenFollowups != DefaultMinHoursBetween {
		t.Errorf("expected %dh spacing, got %d", DefaultMinHoursBetween, prefs.MinHoursBetweenFollowups)
	}
	if !prefs.StopOnFirstNo {
		t.Error("expected StopOnFirstNo to default true")
	}
}

func TestTemplateIsApproved(t *testing.T) {
	tpl := MessageTemplate{ApprovalStatus: TemplateApproved}
	if !tpl.IsApproved() {
		t.Error("expected approved template to report IsApproved")
	}
	tpl.ApprovalStatus = TemplatePending
	if tpl.IsApproved() {
		t.Error("expected pending template to not report IsApproved")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Success(map[string]string{"id": "m-1"})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	if resp.Result == nil {
		t.Error("expected result to be set")
	}

	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) {
		t.Errorf("expected error status, got %q", errResp.Status)
	}
	if errResp.Message != "boom" {
		t.Errorf("expected message boom, got %q", errResp.Message)
	}
}
