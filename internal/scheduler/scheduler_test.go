package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

type mockSender struct {
	messages  []string
	templates []string
	err       error
}

func (m *mockSender) SendMessage(_ context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, to+": "+body)
	return nil
}

func (m *mockSender) SendTemplate(_ context.Context, to, templateRef string, _ map[string]string) error {
	if m.err != nil {
		return m.err
	}
	m.templates = append(m.templates, to+": "+templateRef)
	return nil
}

func newTestRuntime(t *testing.T, st *store.InMemoryStore, sender MessageSender) *Runtime {
	t.Helper()
	builder := engine.NewContextBuilder(st)
	eng := engine.NewEngine(builder, nil)
	r := NewRuntime(st, eng, engine.NewDecisionLogger(st), sender, WithLocation(time.UTC))
	return r
}

func seedConversation(t *testing.T, st *store.InMemoryStore, id string) *models.ConversationState {
	t.Helper()
	state := &models.ConversationState{
		ConversationID:      id,
		ConsultantID:        "consultant-1",
		LeadName:            "Maria Bianchi",
		LeadPhone:           "+393331234567",
		CurrentState:        models.StateContacted,
		MaxFollowupsAllowed: models.DefaultMaxFollowups,
		Active:              true,
	}
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
	if err := st.CreateFollowupRule(&models.FollowupRule{
		ConsultantID:      "consultant-1",
		Name:              "default",
		Enabled:           true,
		TriggerAfterHours: 24,
		MaxFollowups:      models.DefaultMaxFollowups,
	}); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
	return state
}

func TestEvaluationCycleQueuesImmediateFollowup(t *testing.T) {
	st := store.NewInMemoryStore()
	r := newTestRuntime(t, st, &mockSender{})
	seedConversation(t, st, "conv-1")
	now := time.Now()
	// Engaged lead, our message pending a reply inside the window.
	for _, m := range []models.ConversationMessage{
		{Direction: models.DirectionInbound, Content: "dimmi di più", SentAt: now.Add(-5 * time.Hour)},
		{Direction: models.DirectionOutbound, Content: "ecco i dettagli", SentAt: now.Add(-4 * time.Hour)},
	} {
		if err := st.AddConversationMessage("conv-1", m); err != nil {
			t.Fatalf("failed to add message: %v", err)
		}
	}

	cycle, err := r.RunEvaluationCycle(context.Background())
	if err != nil {
		t.Fatalf("evaluation cycle failed: %v", err)
	}
	if cycle.CandidatesEvaluated != 1 || cycle.RuleDecisions != 1 {
		t.Errorf("unexpected cycle counters: %+v", cycle)
	}
	if cycle.MessagesScheduled != 1 {
		t.Errorf("expected 1 scheduled message, got %d", cycle.MessagesScheduled)
	}

	pending, err := st.ListScheduledMessages(models.MessageStatusPending, 0)
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	if pending[0].ScheduledFor.After(time.Now()) {
		t.Error("immediate follow-up should be due already")
	}

	state, _ := st.GetConversationState("conv-1")
	if state.NextFollowupScheduledAt == nil {
		t.Error("expected NextFollowupScheduledAt to be set")
	}
	if state.AiRecommendation != string(models.DecisionSendNow) {
		t.Errorf("unexpected recommendation %q", state.AiRecommendation)
	}

	evals, err := st.GetPreviousEvaluations("conv-1", 5)
	if err != nil || len(evals) != 1 {
		t.Fatalf("expected 1 audit row, got %d (err %v)", len(evals), err)
	}
}

func TestEvaluationCycleStopsRejectedLead(t *testing.T) {
	st := store.NewInMemoryStore()
	r := newTestRuntime(t, st, &mockSender{})
	state := seedConversation(t, st, "conv-1")
	state.HasSaidNoExplicitly = true
	if err := st.SaveConversationState(state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	// A pending follow-up that must be withdrawn by the stop.
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "ciao!",
		ScheduledFor:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	if _, err := r.RunEvaluationCycle(context.Background()); err != nil {
		t.Fatalf("evaluation cycle failed: %v", err)
	}

	updated, _ := st.GetConversationState("conv-1")
	if updated.CurrentState != models.StateClosedLost {
		t.Errorf("expected closed_lost, got %q", updated.CurrentState)
	}
	if updated.PreviousState != models.StateContacted {
		t.Errorf("expected previous state preserved, got %q", updated.PreviousState)
	}
	cancelled, _ := st.ListScheduledMessages(models.MessageStatusCancelled, 0)
	if len(cancelled) != 1 {
		t.Fatalf("expected 1 cancelled message, got %d", len(cancelled))
	}
	if cancelled[0].CancellationReason != "followups_stopped" {
		t.Errorf("unexpected cancellation reason %q", cancelled[0].CancellationReason)
	}
}

func TestProcessingCycleDeliversFreeform(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	r := newTestRuntime(t, st, sender)
	seedConversation(t, st, "conv-1")
	if err := st.AddConversationMessage("conv-1", models.ConversationMessage{
		Direction: models.DirectionInbound,
		Content:   "interessante",
		SentAt:    time.Now().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "ciao {{nome}}, novità?",
		ScheduledFor:   time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	// The inbound predates the queued message, so it does not withdraw it.

	cycle, err := r.RunProcessingCycle(context.Background())
	if err != nil {
		t.Fatalf("processing cycle failed: %v", err)
	}
	if cycle.MessagesSent != 1 {
		t.Fatalf("expected 1 sent, got %+v", cycle)
	}
	if len(sender.messages) != 1 || sender.messages[0] != "+393331234567: ciao Maria, novità?" {
		t.Errorf("unexpected outbound payloads %v", sender.messages)
	}

	state, _ := st.GetConversationState("conv-1")
	if state.FollowupCount != 1 {
		t.Errorf("expected follow-up count 1, got %d", state.FollowupCount)
	}
	if state.LastFollowupAt == nil {
		t.Error("expected LastFollowupAt set")
	}
	if state.ConsecutiveNoReplyCount != 1 {
		t.Errorf("expected no-reply count 1, got %d", state.ConsecutiveNoReplyCount)
	}
	msgs, _ := st.GetRecentMessages("conv-1", 10)
	if len(msgs) != 2 {
		t.Fatalf("expected transcript of 2, got %d", len(msgs))
	}
}

func TestProcessingCycleWithdrawsWhenLeadReplied(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	r := newTestRuntime(t, st, sender)
	seedConversation(t, st, "conv-1")
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "ci sei?",
		ScheduledFor:   time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}
	// The lead replies after the follow-up was queued.
	if err := st.AddConversationMessage("conv-1", models.ConversationMessage{
		Direction: models.DirectionInbound,
		Content:   "eccomi, scusa il ritardo",
		SentAt:    time.Now().Add(time.Second),
	}); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}

	cycle, err := r.RunProcessingCycle(context.Background())
	if err != nil {
		t.Fatalf("processing cycle failed: %v", err)
	}
	if cycle.MessagesCancelled != 1 || cycle.MessagesSent != 0 {
		t.Fatalf("expected withdrawal, got %+v", cycle)
	}
	if len(sender.messages) != 0 {
		t.Errorf("nothing should have been sent, got %v", sender.messages)
	}
	cancelled, _ := st.ListScheduledMessages(models.MessageStatusCancelled, 0)
	if len(cancelled) != 1 || cancelled[0].CancellationReason != CancelReasonUserReplied {
		t.Fatalf("expected user_replied cancellation, got %+v", cancelled)
	}
}

func TestProcessingCycleOutsideWindowUsesTemplate(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	r := newTestRuntime(t, st, sender)
	seedConversation(t, st, "conv-1")
	if err := st.SaveTemplate(&models.MessageTemplate{
		ConsultantID:   "consultant-1",
		Name:           "re-engage",
		Body:           "Gentile {{nome}}, possiamo risentirci?",
		ProviderRef:    "HX0123",
		ApprovalStatus: models.TemplateApproved,
		Priority:       10,
	}); err != nil {
		t.Fatalf("failed to save template: %v", err)
	}
	if err := st.AddConversationMessage("conv-1", models.ConversationMessage{
		Direction: models.DirectionInbound,
		Content:   "ok",
		SentAt:    time.Now().Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "testo libero che non può partire",
		ScheduledFor:   time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	cycle, err := r.RunProcessingCycle(context.Background())
	if err != nil {
		t.Fatalf("processing cycle failed: %v", err)
	}
	if cycle.MessagesSent != 1 {
		t.Fatalf("expected 1 sent, got %+v", cycle)
	}
	if len(sender.templates) != 1 || sender.templates[0] != "+393331234567: HX0123" {
		t.Errorf("expected template send, got templates=%v messages=%v", sender.templates, sender.messages)
	}
}

func TestProcessingCycleNoApprovedTemplateFails(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	r := newTestRuntime(t, st, sender)
	seedConversation(t, st, "conv-1")
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "testo libero",
		ScheduledFor:   time.Now().Add(-time.Minute),
		MaxAttempts:    1,
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	cycle, err := r.RunProcessingCycle(context.Background())
	if err != nil {
		t.Fatalf("processing cycle failed: %v", err)
	}
	if cycle.MessagesFailed != 1 {
		t.Fatalf("expected 1 failed, got %+v", cycle)
	}
	failed, _ := st.ListScheduledMessages(models.MessageStatusFailed, 0)
	if len(failed) != 1 {
		t.Fatalf("expected failed message, got %d", len(failed))
	}
	if !strings.Contains(failed[0].ErrorMessage, "no approved template") {
		t.Errorf("expected template resolution error recorded, got %q", failed[0].ErrorMessage)
	}
	if len(sender.messages) != 0 || len(sender.templates) != 0 {
		t.Errorf("nothing may reach the sender, got messages=%v templates=%v", sender.messages, sender.templates)
	}
}

func TestPendingShortWindowNudgeDeliveredWithoutTemplates(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	r := newTestRuntime(t, st, sender)
	seedConversation(t, st, "conv-1")
	now := time.Now()
	// Engaged lead inside the window, no templates configured anywhere.
	for _, m := range []models.ConversationMessage{
		{Direction: models.DirectionInbound, Content: "interessante, dimmi di più", SentAt: now.Add(-5 * time.Hour)},
		{Direction: models.DirectionOutbound, Content: "ecco la proposta", SentAt: now.Add(-2 * time.Hour)},
	} {
		if err := st.AddConversationMessage("conv-1", m); err != nil {
			t.Fatalf("failed to add message: %v", err)
		}
	}

	if _, err := r.RunEvaluationCycle(context.Background()); err != nil {
		t.Fatalf("evaluation cycle failed: %v", err)
	}
	pending, err := st.ListScheduledMessages(models.MessageStatusPending, 0)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d (err %v)", len(pending), err)
	}
	if pending[0].FallbackMessage == "" {
		t.Fatal("open-window nudge must carry a fallback message")
	}

	cycle, err := r.RunProcessingCycle(context.Background())
	if err != nil {
		t.Fatalf("processing cycle failed: %v", err)
	}
	if cycle.MessagesSent != 1 || cycle.MessagesFailed != 0 {
		t.Fatalf("expected clean delivery, got %+v", cycle)
	}
	if len(sender.messages) != 1 || !strings.Contains(sender.messages[0], "volevo solo assicurarmi") {
		t.Errorf("expected canned nudge delivered, got %v", sender.messages)
	}
	sent, _ := st.ListScheduledMessages(models.MessageStatusSent, 0)
	if len(sent) != 1 {
		t.Fatalf("expected sent message, got %d", len(sent))
	}
}

func TestProcessingCycleRateLimitReleases(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	r := newTestRuntime(t, st, sender)
	r.limiter = newRateLimiter(0, time.Hour)
	seedConversation(t, st, "conv-1")
	if err := st.AddConversationMessage("conv-1", models.ConversationMessage{
		Direction: models.DirectionInbound,
		Content:   "ok",
		SentAt:    time.Now().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}
	if err := st.CreateScheduledMessage(&models.ScheduledFollowupMessage{
		ConversationID: "conv-1",
		ConsultantID:   "consultant-1",
		MessageText:    "ciao",
		ScheduledFor:   time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	cycle, err := r.RunProcessingCycle(context.Background())
	if err != nil {
		t.Fatalf("processing cycle failed: %v", err)
	}
	if cycle.RateLimited != 1 || cycle.MessagesSent != 0 {
		t.Fatalf("expected rate-limited release, got %+v", cycle)
	}
	pending, _ := st.ListScheduledMessages(models.MessageStatusPending, 0)
	if len(pending) != 1 {
		t.Fatalf("message should be back in pending, got %d", len(pending))
	}
}

func TestScheduleTimeFor(t *testing.T) {
	st := store.NewInMemoryStore()
	r := newTestRuntime(t, st, nil)
	now := time.Date(2026, 3, 10, 16, 30, 0, 0, time.UTC)

	if got := r.scheduleTimeFor(models.UrgencyNow, now); !got.Equal(now) {
		t.Errorf("now urgency should send immediately, got %v", got)
	}
	want := time.Date(2026, 3, 11, models.DefaultScheduledSendHour, 0, 0, 0, time.UTC)
	if got := r.scheduleTimeFor(models.UrgencyTomorrow, now); !got.Equal(want) {
		t.Errorf("tomorrow = %v, want %v", got, want)
	}
	want = time.Date(2026, 3, 17, models.DefaultScheduledSendHour, 0, 0, 0, time.UTC)
	if got := r.scheduleTimeFor(models.UrgencyNextWeek, now); !got.Equal(want) {
		t.Errorf("next_week = %v, want %v", got, want)
	}
}

func TestClampSendHour(t *testing.T) {
	early := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	if got := clampSendHour(early); got.Hour() != models.EarliestScheduledSendHour {
		t.Errorf("early clamp = %v", got)
	}
	late := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	got := clampSendHour(late)
	if got.Day() != 11 || got.Hour() != models.EarliestScheduledSendHour {
		t.Errorf("late clamp = %v", got)
	}
	fine := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	if got := clampSendHour(fine); !got.Equal(fine) {
		t.Errorf("in-band time must pass through, got %v", got)
	}
}

func TestRenderTemplate(t *testing.T) {
	out := renderTemplate("Gentile {{nome}}, {{ missing }} e {{lead_name}}", map[string]string{
		"nome":      "Maria",
		"lead_name": "Maria Bianchi",
	})
	if out != "Gentile Maria, {{ missing }} e Maria Bianchi" {
		t.Errorf("unexpected rendering %q", out)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Now()
	l := newRateLimiter(2, time.Hour)
	if !l.Allow("c", now) || !l.Allow("c", now) {
		t.Fatal("first two sends must pass")
	}
	if l.Allow("c", now.Add(time.Minute)) {
		t.Error("third send inside the window must be limited")
	}
	if !l.Allow("c", now.Add(2*time.Hour)) {
		t.Error("send after the window must pass")
	}
	if !l.Allow("other", now) {
		t.Error("limits are per consultant")
	}
}
