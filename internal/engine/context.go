package engine

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// Default number of transcript messages embedded in the decision prompt.
const DefaultRecentMessageLimit = 20

// ContextBuilder assembles the complete situational snapshot for one
// conversation: classified transcript, timing, window state, templates,
// prior evaluations and consultant preferences.
type ContextBuilder struct {
	store store.Store
	now   func() time.Time
}

// NewContextBuilder creates a ContextBuilder backed by the given store.
func NewContextBuilder(st store.Store) *ContextBuilder {
	return &ContextBuilder{store: st, now: time.Now}
}

// Build produces the snapshot for one conversation. Every field the rule
// evaluator or the AI prompt needs is present; missing data defaults
// conservatively.
func (b *ContextBuilder) Build(conversationID string) (*models.ConversationContext, error) {
	state, err := b.store.GetConversationState(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if state == nil {
		return nil, models.ErrConversationNotFound
	}

	now := b.now()

	messages, err := b.store.GetRecentMessages(conversationID, DefaultRecentMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation messages: %w", err)
	}
	// Classification is re-derived on every build so heuristic improvements
	// apply to historical messages too.
	for i := range messages {
		messages[i].Type = ClassifyMessage(messages[i].Direction, messages[i].Content, messages[i].Metadata)
	}

	ctx := &models.ConversationContext{
		ConversationID:        conversationID,
		ConsultantID:          state.ConsultantID,
		LeadName:              state.LeadName,
		LeadPhone:             state.LeadPhone,
		CurrentState:          state.CurrentState,
		FollowupCount:         state.FollowupCount,
		MaxFollowupsAllowed:   state.MaxFollowupsAllowed,
		HasAskedPrice:         state.HasAskedPrice,
		HasMentionedUrgency:   state.HasMentionedUrgency,
		HasSaidNoExplicitly:   state.HasSaidNoExplicitly,
		DiscoveryCompleted:    state.DiscoveryCompleted,
		DemoPresented:         state.DemoPresented,
		EngagementScore:       state.EngagementScore,
		ConversionProbability: state.ConversionProbability,
		TemperatureLevel:      state.TemperatureLevel,
		RecentMessages:        messages,
		LeadNeverResponded:    true,
		BuiltAt:               now,
	}
	if ctx.MaxFollowupsAllowed <= 0 {
		ctx.MaxFollowupsAllowed = models.DefaultMaxFollowups
	}

	// Timing derivations from the transcript.
	var lastMessageAt, lastInboundAt *time.Time
	for i := range messages {
		m := messages[i]
		t := m.SentAt
		if lastMessageAt == nil || t.After(*lastMessageAt) {
			lastMessageAt = &t
			ctx.LastMessageDirection = m.Direction
		}
		if m.Direction == models.DirectionInbound && (lastInboundAt == nil || t.After(*lastInboundAt)) {
			inboundAt := t
			lastInboundAt = &inboundAt
		}
	}
	if lastMessageAt != nil {
		ctx.HoursSinceLastMessage = now.Sub(*lastMessageAt).Hours()
		ctx.DaysSilent = int(math.Floor(ctx.HoursSinceLastMessage / 24))
	}
	if lastInboundAt != nil {
		ctx.LeadNeverResponded = false
		hours := now.Sub(*lastInboundAt).Hours()
		ctx.HoursSinceLastInbound = &hours
		expires := lastInboundAt.Add(models.EngagementWindowHours * time.Hour)
		ctx.Window24hExpiresAt = &expires
		ctx.CanSendFreeformNow = now.Before(expires)
	}

	// Temperature is recomputed from the timing we just derived and written
	// back so the evaluation cadence tracks reality.
	ctx.TemperatureLevel = CalculateTemperature(ctx.HoursSinceLastInbound, ctx.HoursSinceLastMessage, ctx.EngagementScore)
	if ctx.TemperatureLevel != state.TemperatureLevel {
		state.TemperatureLevel = ctx.TemperatureLevel
		if err := b.store.SaveConversationState(state); err != nil {
			slog.Warn("ContextBuilder.Build: failed to persist temperature update", "conversationID", conversationID, "error", err)
		}
	}

	templates, err := b.store.ListTemplates(state.ConsultantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	ctx.AvailableTemplates = templates

	previous, err := b.store.GetPreviousEvaluations(conversationID, models.PreviousEvaluationsPromptSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous evaluations: %w", err)
	}
	ctx.PreviousEvaluations = previous

	prefs, err := b.store.GetPreferences(state.ConsultantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	if prefs == nil {
		defaults := models.DefaultPreferences(state.ConsultantID)
		prefs = &defaults
	}
	ctx.Preferences = *prefs

	slog.Debug("ContextBuilder.Build: context assembled",
		"conversationID", conversationID,
		"messages", len(messages),
		"leadNeverResponded", ctx.LeadNeverResponded,
		"canSendFreeform", ctx.CanSendFreeformNow,
		"temperature", ctx.TemperatureLevel)
	return ctx, nil
}

// CalculateTemperature classifies re-engagement priority from lead silence.
// hoursSinceInbound is nil when the lead has never responded; silence then
// falls back to hours since the last message of any kind.
func CalculateTemperature(hoursSinceInbound *float64, hoursSinceLastMessage float64, engagementScore int) models.TemperatureLevel {
	hours := hoursSinceLastMessage
	if hoursSinceInbound != nil {
		hours = *hoursSinceInbound
	}

	ghostThreshold := float64(models.GhostThresholdDays * 24)
	if engagementScore >= models.EngagedGhostScoreFloor {
		// Engaged leads get extra slack before being written off.
		ghostThreshold = float64(models.EngagedGhostThresholdDays * 24)
	}

	switch {
	case hours < 2:
		return models.TemperatureHot
	case hours < 24:
		return models.TemperatureWarm
	case hours < ghostThreshold:
		return models.TemperatureCold
	default:
		return models.TemperatureGhost
	}
}
