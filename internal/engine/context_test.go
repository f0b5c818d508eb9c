package engine

import (
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func newBuilderAt(t *testing.T, now time.Time) (*ContextBuilder, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	b := NewContextBuilder(st)
	b.now = func() time.Time { return now }
	return b, st
}

func seedState(t *testing.T, st *store.InMemoryStore, id string) *models.ConversationState {
	t.Helper()
	state := &models.ConversationState{
		ConversationID:      id,
		ConsultantID:        "consultant-1",
		LeadName:            "Maria",
		LeadPhone:           "+393331234567",
		CurrentState:        models.StateContacted,
		MaxFollowupsAllowed: models.DefaultMaxFollowups,
		EngagementScore:     40,
		Active:              true,
	}
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to seed conversation state: %v", err)
	}
	return state
}

func TestBuildUnknownConversation(t *testing.T) {
	b, _ := newBuilderAt(t, time.Now())
	if _, err := b.Build("missing"); err != models.ErrConversationNotFound {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestBuildNeverRespondedLead(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b, st := newBuilderAt(t, now)
	seedState(t, st, "conv-1")
	if err := st.AddConversationMessage("conv-1", models.ConversationMessage{
		Direction: models.DirectionOutbound,
		Content:   "ciao, hai visto la proposta?",
		SentAt:    now.Add(-30 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}

	ctx, err := b.Build("conv-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !ctx.LeadNeverResponded {
		t.Error("expected LeadNeverResponded true")
	}
	if ctx.HoursSinceLastInbound != nil {
		t.Error("expected nil HoursSinceLastInbound for never-responded lead")
	}
	if ctx.Window24hExpiresAt != nil {
		t.Error("expected no engagement window")
	}
	if ctx.CanSendFreeformNow {
		t.Error("free-form must be closed without an inbound message")
	}
	if ctx.DaysSilent != 1 {
		t.Errorf("expected 1 day silent, got %d", ctx.DaysSilent)
	}
	if ctx.LastMessageDirection != models.DirectionOutbound {
		t.Errorf("expected outbound last direction, got %q", ctx.LastMessageDirection)
	}
}

func TestBuildOpenWindowAndTiming(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b, st := newBuilderAt(t, now)
	seedState(t, st, "conv-1")
	inboundAt := now.Add(-5 * time.Hour)
	for _, m := range []models.ConversationMessage{
		{Direction: models.DirectionOutbound, Content: "prima proposta", SentAt: now.Add(-48 * time.Hour)},
		{Direction: models.DirectionInbound, Content: "interessante, ci penso", SentAt: inboundAt},
		{Direction: models.DirectionOutbound, Content: "perfetto, resto in attesa", SentAt: now.Add(-4 * time.Hour)},
	} {
		if err := st.AddConversationMessage("conv-1", m); err != nil {
			t.Fatalf("failed to add message: %v", err)
		}
	}

	ctx, err := b.Build("conv-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if ctx.LeadNeverResponded {
		t.Error("lead has responded")
	}
	if ctx.HoursSinceLastInbound == nil || *ctx.HoursSinceLastInbound < 4.9 || *ctx.HoursSinceLastInbound > 5.1 {
		t.Errorf("unexpected HoursSinceLastInbound: %v", ctx.HoursSinceLastInbound)
	}
	if ctx.Window24hExpiresAt == nil || !ctx.Window24hExpiresAt.Equal(inboundAt.Add(24*time.Hour)) {
		t.Errorf("unexpected window expiry: %v", ctx.Window24hExpiresAt)
	}
	if !ctx.CanSendFreeformNow {
		t.Error("window should still be open")
	}
	if ctx.LastMessageDirection != models.DirectionOutbound {
		t.Errorf("expected outbound last direction, got %q", ctx.LastMessageDirection)
	}
	if ctx.TemperatureLevel != models.TemperatureWarm {
		t.Errorf("expected warm temperature, got %q", ctx.TemperatureLevel)
	}
}

func TestBuildPersistsTemperatureChange(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b, st := newBuilderAt(t, now)
	state := seedState(t, st, "conv-1")
	state.TemperatureLevel = models.TemperatureHot
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if err := st.AddConversationMessage("conv-1", models.ConversationMessage{
		Direction: models.DirectionInbound,
		Content:   "ok",
		SentAt:    now.Add(-10 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}

	ctx, err := b.Build("conv-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if ctx.TemperatureLevel != models.TemperatureGhost {
		t.Errorf("expected ghost temperature, got %q", ctx.TemperatureLevel)
	}
	stored, err := st.GetConversationState("conv-1")
	if err != nil {
		t.Fatalf("failed to reload state: %v", err)
	}
	if stored.TemperatureLevel != models.TemperatureGhost {
		t.Errorf("temperature not persisted, got %q", stored.TemperatureLevel)
	}
}

func TestBuildDefaultsPreferences(t *testing.T) {
	b, st := newBuilderAt(t, time.Now())
	seedState(t, st, "conv-1")
	ctx, err := b.Build("conv-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := models.DefaultPreferences("consultant-1")
	if ctx.Preferences != want {
		t.Errorf("expected default preferences, got %+v", ctx.Preferences)
	}
}

func TestBuildLoadsTemplatesAndEvaluations(t *testing.T) {
	b, st := newBuilderAt(t, time.Now())
	seedState(t, st, "conv-1")
	if err := st.SaveTemplate(&models.MessageTemplate{
		ConsultantID:   "consultant-1",
		Name:           "gentle-nudge",
		Body:           "Gentile {{nome}}, ha avuto modo di valutare?",
		ApprovalStatus: models.TemplateApproved,
		Priority:       10,
	}); err != nil {
		t.Fatalf("failed to save template: %v", err)
	}
	if err := st.AppendEvaluationLog(&models.FollowupAiEvaluationLog{
		ConversationID:  "conv-1",
		Decision:        string(models.DecisionSkip),
		Reasoning:       "window still open",
		ConfidenceScore: 0.8,
		ModelUsed:       "gpt-4o-mini",
	}); err != nil {
		t.Fatalf("failed to append evaluation log: %v", err)
	}

	ctx, err := b.Build("conv-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(ctx.AvailableTemplates) != 1 {
		t.Fatalf("expected 1 template, got %d", len(ctx.AvailableTemplates))
	}
	if len(ctx.PreviousEvaluations) != 1 {
		t.Fatalf("expected 1 previous evaluation, got %d", len(ctx.PreviousEvaluations))
	}
	if ctx.PreviousEvaluations[0].Decision != string(models.DecisionSkip) {
		t.Errorf("unexpected previous evaluation decision %q", ctx.PreviousEvaluations[0].Decision)
	}
}

func TestCalculateTemperature(t *testing.T) {
	tests := []struct {
		name            string
		hoursInbound    *float64
		hoursAny        float64
		engagementScore int
		want            models.TemperatureLevel
	}{
		{name: "fresh reply is hot", hoursInbound: hoursPtr(1), want: models.TemperatureHot},
		{name: "same day is warm", hoursInbound: hoursPtr(10), want: models.TemperatureWarm},
		{name: "few days silent is cold", hoursInbound: hoursPtr(72), want: models.TemperatureCold},
		{name: "week of silence is ghost", hoursInbound: hoursPtr(8 * 24), want: models.TemperatureGhost},
		{name: "engaged lead gets extra slack", hoursInbound: hoursPtr(8 * 24), engagementScore: 70, want: models.TemperatureCold},
		{name: "engaged lead eventually ghosts too", hoursInbound: hoursPtr(15 * 24), engagementScore: 70, want: models.TemperatureGhost},
		{name: "never responded falls back to any message", hoursAny: 30, want: models.TemperatureCold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTemperature(tt.hoursInbound, tt.hoursAny, tt.engagementScore)
			if got != tt.want {
				t.Errorf("CalculateTemperature() = %q, want %q", got, tt.want)
			}
		})
	}
}
