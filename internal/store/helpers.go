package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/leadpulse/leadpulse/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// conversationStateColumns is the fixed column order used by every
// conversation_states query across backends.
const conversationStateColumns = `conversation_id, consultant_id, lead_name, lead_phone, current_state, previous_state,
	followup_count, max_followups_allowed, consecutive_no_reply_count, engagement_score, conversion_probability,
	temperature_level, has_asked_price, has_mentioned_urgency, has_said_no_explicitly, discovery_completed,
	demo_presented, last_followup_at, next_followup_scheduled_at, dormant_until, dormant_reason,
	permanently_excluded, last_ai_evaluation_at, ai_recommendation, active, created_at, updated_at`

// scanConversationState scans a ConversationState in conversationStateColumns order.
func scanConversationState(row rowScanner) (models.ConversationState, error) {
	var c models.ConversationState
	var leadName, leadPhone, previousState, dormantReason, aiRecommendation sql.NullString
	var lastFollowupAt, nextFollowupAt, dormantUntil, lastAiEvalAt sql.NullTime
	err := row.Scan(
		&c.ConversationID, &c.ConsultantID, &leadName, &leadPhone, &c.CurrentState, &previousState,
		&c.FollowupCount, &c.MaxFollowupsAllowed, &c.ConsecutiveNoReplyCount, &c.EngagementScore, &c.ConversionProbability,
		&c.TemperatureLevel, &c.HasAskedPrice, &c.HasMentionedUrgency, &c.HasSaidNoExplicitly, &c.DiscoveryCompleted,
		&c.DemoPresented, &lastFollowupAt, &nextFollowupAt, &dormantUntil, &dormantReason,
		&c.PermanentlyExcluded, &lastAiEvalAt, &aiRecommendation, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.LeadName = leadName.String
	c.LeadPhone = leadPhone.String
	c.PreviousState = models.ConversationStateValue(previousState.String)
	c.DormantReason = dormantReason.String
	c.AiRecommendation = aiRecommendation.String
	if lastFollowupAt.Valid {
		c.LastFollowupAt = &lastFollowupAt.Time
	}
	if nextFollowupAt.Valid {
		c.NextFollowupScheduledAt = &nextFollowupAt.Time
	}
	if dormantUntil.Valid {
		c.DormantUntil = &dormantUntil.Time
	}
	if lastAiEvalAt.Valid {
		c.LastAiEvaluationAt = &lastAiEvalAt.Time
	}
	return c, nil
}

// scheduledMessageColumns is the fixed column order used by every
// scheduled_messages query across backends.
const scheduledMessageColumns = `id, conversation_id, consultant_id, template_id, message_text, fallback_message,
	scheduled_for, status, attempt_count, max_attempts, last_attempt_at, sent_at, error_message,
	cancellation_reason, ai_decision_reasoning, ai_confidence_score, created_at, updated_at`

// scanScheduledMessage scans a ScheduledFollowupMessage in scheduledMessageColumns order.
func scanScheduledMessage(row rowScanner) (models.ScheduledFollowupMessage, error) {
	var m models.ScheduledFollowupMessage
	var templateID, messageText, fallbackMessage, errorMessage, cancellationReason, reasoning sql.NullString
	var lastAttemptAt, sentAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.ConsultantID, &templateID, &messageText, &fallbackMessage,
		&m.ScheduledFor, &m.Status, &m.AttemptCount, &m.MaxAttempts, &lastAttemptAt, &sentAt, &errorMessage,
		&cancellationReason, &reasoning, &m.AiConfidenceScore, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	m.TemplateID = templateID.String
	m.MessageText = messageText.String
	m.FallbackMessage = fallbackMessage.String
	m.ErrorMessage = errorMessage.String
	m.CancellationReason = cancellationReason.String
	m.AiDecisionReasoning = reasoning.String
	if lastAttemptAt.Valid {
		m.LastAttemptAt = &lastAttemptAt.Time
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	return m, nil
}

// scanConversationMessage scans a transcript row: direction, type, content, metadata_json, sent_at.
func scanConversationMessage(row rowScanner) (models.ConversationMessage, error) {
	var m models.ConversationMessage
	var metadataJSON sql.NullString
	if err := row.Scan(&m.Direction, &m.Type, &m.Content, &metadataJSON, &m.SentAt); err != nil {
		return m, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("failed to decode message metadata: %w", err)
		}
	}
	return m, nil
}

// scanFollowupRule scans a FollowupRule row.
func scanFollowupRule(row rowScanner) (models.FollowupRule, error) {
	var r models.FollowupRule
	var templateID sql.NullString
	err := row.Scan(
		&r.ID, &r.ConsultantID, &r.Name, &r.Priority, &r.Enabled,
		&r.TriggerAfterHours, &r.MaxFollowups, &templateID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.TemplateID = templateID.String
	return r, nil
}

// scanTemplate scans a MessageTemplate row.
func scanTemplate(row rowScanner) (models.MessageTemplate, error) {
	var t models.MessageTemplate
	var providerRef, language sql.NullString
	err := row.Scan(
		&t.ID, &t.ConsultantID, &t.Name, &t.Body, &providerRef,
		&t.ApprovalStatus, &t.Priority, &language, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.ProviderRef = providerRef.String
	t.Language = language.String
	return t, nil
}

// encodeMetadata encodes message metadata for storage, returning nil for empty maps.
func encodeMetadata(metadata map[string]string) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message metadata: %w", err)
	}
	return string(b), nil
}
