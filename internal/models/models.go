// Package models defines the core data structures for LeadPulse.
//
// It includes the conversation lifecycle record, scheduled follow-up messages,
// evaluation audit logs, and consultant preferences shared across modules.
package models

import (
	"errors"
	"time"
)

// ConversationStateValue is the lifecycle state of a lead conversation.
type ConversationStateValue string

const (
	// StateNew marks a conversation that has not been worked yet.
	StateNew ConversationStateValue = "new"
	// StateContacted marks a conversation with at least one outbound message.
	StateContacted ConversationStateValue = "contacted"
	// StateInterested marks a lead that has shown positive signals.
	StateInterested ConversationStateValue = "interested"
	// StateQualified marks a lead that passed discovery.
	StateQualified ConversationStateValue = "qualified"
	// StateStalled marks a conversation that stopped progressing.
	StateStalled ConversationStateValue = "stalled"
	// StateGhost marks a lead that went silent past the ghost threshold.
	StateGhost ConversationStateValue = "ghost"
	// StateClosedWon is terminal: the lead converted.
	StateClosedWon ConversationStateValue = "closed_won"
	// StateClosedLost is terminal: the lead is gone.
	StateClosedLost ConversationStateValue = "closed_lost"
)

// IsValidConversationState checks if the given state value is supported.
func IsValidConversationState(s ConversationStateValue) bool {
	switch s {
	case StateNew, StateContacted, StateInterested, StateQualified,
		StateStalled, StateGhost, StateClosedWon, StateClosedLost:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state permits no further evaluation.
func (s ConversationStateValue) IsTerminal() bool {
	return s == StateClosedWon || s == StateClosedLost
}

// TemperatureLevel is the coarse re-engagement priority of a conversation.
type TemperatureLevel string

const (
	TemperatureHot   TemperatureLevel = "hot"
	TemperatureWarm  TemperatureLevel = "warm"
	TemperatureCold  TemperatureLevel = "cold"
	TemperatureGhost TemperatureLevel = "ghost"
)

// ScheduledMessageStatus is the lifecycle state of a scheduled follow-up message.
type ScheduledMessageStatus string

const (
	MessageStatusPending    ScheduledMessageStatus = "pending"
	MessageStatusProcessing ScheduledMessageStatus = "processing"
	MessageStatusSent       ScheduledMessageStatus = "sent"
	MessageStatusFailed     ScheduledMessageStatus = "failed"
	MessageStatusCancelled  ScheduledMessageStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is allowed.
func (s ScheduledMessageStatus) IsTerminal() bool {
	return s == MessageStatusSent || s == MessageStatusFailed || s == MessageStatusCancelled
}

// IsValidMessageStatus reports whether s is a recognized message status.
func IsValidMessageStatus(s ScheduledMessageStatus) bool {
	switch s {
	case MessageStatusPending, MessageStatusProcessing, MessageStatusSent,
		MessageStatusFailed, MessageStatusCancelled:
		return true
	}
	return false
}

// TemplateApprovalStatus is the channel-side review status of a message template.
type TemplateApprovalStatus string

const (
	TemplateApproved TemplateApprovalStatus = "approved"
	TemplatePending  TemplateApprovalStatus = "pending"
	TemplateRejected TemplateApprovalStatus = "rejected"
)

// Default limits applied when a consultant has no stored preferences.
const (
	DefaultMaxFollowups           = 5
	DefaultMinHoursBetween        = 24
	DefaultAggressivenessLevel    = 5
	DefaultPersistenceLevel       = 5
	DefaultMessageMaxAttempts     = 3
	DefaultScheduledSendHour      = 10
	EarliestScheduledSendHour     = 9
	LatestScheduledSendHour       = 18
	EngagementWindowHours         = 24
	GhostThresholdDays            = 7
	EngagedGhostThresholdDays     = 14
	EngagedGhostScoreFloor        = 60
	DormancyAfterNoReplyCount     = 3
	ExclusionAfterNoReplyCount    = 5
	DormancyDays                  = 7
	PreviousEvaluationsPromptSize = 3
)

// Error variables for better error handling and testability
var (
	ErrConversationNotFound    = errors.New("conversation state not found")
	ErrMessageNotFound         = errors.New("scheduled message not found")
	ErrInvalidStateValue       = errors.New("invalid conversation state value")
	ErrInvalidStatus           = errors.New("invalid scheduled message status")
	ErrNoApprovedTemplate      = errors.New("no approved template available")
	ErrMessageNotCancellable   = errors.New("only pending messages can be cancelled")
	ErrMessageNotRetryable     = errors.New("only failed messages can be retried")
	ErrMessageNotPending       = errors.New("only pending messages can be rescheduled")
	ErrTemplateNotFound        = errors.New("message template not found")
	ErrRuleNotFound            = errors.New("follow-up rule not found")
	ErrEmptyRecipient          = errors.New("recipient cannot be empty")
	ErrPermanentlyExcluded     = errors.New("conversation is permanently excluded from follow-up")
	ErrTemplateSendUnsupported = errors.New("channel does not support template sends")
)

// ConversationState is the durable state machine record per conversation.
// Never physically deleted; terminal states end evaluation instead.
type ConversationState struct {
	ConversationID          string                 `json:"conversation_id"`
	ConsultantID            string                 `json:"consultant_id"`
	LeadName                string                 `json:"lead_name"`
	LeadPhone               string                 `json:"lead_phone"`
	CurrentState            ConversationStateValue `json:"current_state"`
	PreviousState           ConversationStateValue `json:"previous_state,omitempty"`
	FollowupCount           int                    `json:"followup_count"`
	MaxFollowupsAllowed     int                    `json:"max_followups_allowed"`
	ConsecutiveNoReplyCount int                    `json:"consecutive_no_reply_count"`
	EngagementScore         int                    `json:"engagement_score"`
	ConversionProbability   float64                `json:"conversion_probability"`
	TemperatureLevel        TemperatureLevel       `json:"temperature_level"`
	HasAskedPrice           bool                   `json:"has_asked_price"`
	HasMentionedUrgency     bool                   `json:"has_mentioned_urgency"`
	HasSaidNoExplicitly     bool                   `json:"has_said_no_explicitly"`
	DiscoveryCompleted      bool                   `json:"discovery_completed"`
	DemoPresented           bool                   `json:"demo_presented"`
	LastFollowupAt          *time.Time             `json:"last_followup_at,omitempty"`
	NextFollowupScheduledAt *time.Time             `json:"next_followup_scheduled_at,omitempty"`
	DormantUntil            *time.Time             `json:"dormant_until,omitempty"`
	DormantReason           string                 `json:"dormant_reason,omitempty"`
	PermanentlyExcluded     bool                   `json:"permanently_excluded"`
	LastAiEvaluationAt      *time.Time             `json:"last_ai_evaluation_at,omitempty"`
	AiRecommendation        string                 `json:"ai_recommendation,omitempty"`
	Active                  bool                   `json:"active"`
	CreatedAt               time.Time              `json:"created_at"`
	UpdatedAt               time.Time              `json:"updated_at"`
}

// Validate performs basic validation on a ConversationState record.
func (c *ConversationState) Validate() error {
	if c.ConversationID == "" {
		return errors.New("conversation ID is required")
	}
	if !IsValidConversationState(c.CurrentState) {
		return ErrInvalidStateValue
	}
	if c.EngagementScore < 0 || c.EngagementScore > 100 {
		return errors.New("engagement score must be between 0 and 100")
	}
	if c.ConversionProbability < 0 || c.ConversionProbability > 1 {
		return errors.New("conversion probability must be between 0 and 1")
	}
	return nil
}

// ScheduledFollowupMessage is one planned send produced by the evaluation loop.
type ScheduledFollowupMessage struct {
	ID                  string                 `json:"id"`
	ConversationID      string                 `json:"conversation_id"`
	ConsultantID        string                 `json:"consultant_id"`
	TemplateID          string                 `json:"template_id,omitempty"`
	MessageText         string                 `json:"message_text,omitempty"`
	FallbackMessage     string                 `json:"fallback_message,omitempty"`
	ScheduledFor        time.Time              `json:"scheduled_for"`
	Status              ScheduledMessageStatus `json:"status"`
	AttemptCount        int                    `json:"attempt_count"`
	MaxAttempts         int                    `json:"max_attempts"`
	LastAttemptAt       *time.Time             `json:"last_attempt_at,omitempty"`
	SentAt              *time.Time             `json:"sent_at,omitempty"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
	CancellationReason  string                 `json:"cancellation_reason,omitempty"`
	AiDecisionReasoning string                 `json:"ai_decision_reasoning,omitempty"`
	AiConfidenceScore   float64                `json:"ai_confidence_score"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// FollowupAiEvaluationLog is one immutable audit row per evaluation attempt,
// rule-based or AI-based.
type FollowupAiEvaluationLog struct {
	ID                  string    `json:"id"`
	ConversationID      string    `json:"conversation_id"`
	ConversationContext string    `json:"conversation_context"` // JSON snapshot
	Decision            string    `json:"decision"`
	Urgency             string    `json:"urgency,omitempty"`
	SelectedTemplateID  string    `json:"selected_template_id,omitempty"`
	Reasoning           string    `json:"reasoning"`
	ConfidenceScore     float64   `json:"confidence_score"`
	ModelUsed           string    `json:"model_used"`
	LatencyMs           int64     `json:"latency_ms"`
	WasExecuted         bool      `json:"was_executed"`
	CreatedAt           time.Time `json:"created_at"`
}

// ConsultantAiPreferences is the per-consultant tunable follow-up policy.
type ConsultantAiPreferences struct {
	ConsultantID             string `json:"consultant_id"`
	MaxFollowupsTotal        int    `json:"max_followups_total"`
	MinHoursBetweenFollowups int    `json:"min_hours_between_followups"`
	AggressivenessLevel      int    `json:"aggressiveness_level"`
	PersistenceLevel         int    `json:"persistence_level"`
	StopOnFirstNo            bool   `json:"stop_on_first_no"`
	CustomInstructions       string `json:"custom_instructions,omitempty"`
}

// DefaultPreferences returns the documented defaults applied when a consultant
// has no stored preference row.
func DefaultPreferences(consultantID string) ConsultantAiPreferences {
	return ConsultantAiPreferences{
		ConsultantID:             consultantID,
		MaxFollowupsTotal:        DefaultMaxFollowups,
		MinHoursBetweenFollowups: DefaultMinHoursBetween,
		AggressivenessLevel:      DefaultAggressivenessLevel,
		PersistenceLevel:         DefaultPersistenceLevel,
		StopOnFirstNo:            true,
	}
}

// FollowupRule is a per-consultant activation row for the follow-up pipeline.
// A consultant enters the candidate pool only with at least one enabled rule.
type FollowupRule struct {
	ID                string    `json:"id"`
	ConsultantID      string    `json:"consultant_id"`
	Name              string    `json:"name"`
	Priority          int       `json:"priority"`
	Enabled           bool      `json:"enabled"`
	TriggerAfterHours int       `json:"trigger_after_hours"`
	MaxFollowups      int       `json:"max_followups"`
	TemplateID        string    `json:"template_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate performs basic validation on a FollowupRule.
func (r *FollowupRule) Validate() error {
	if r.ConsultantID == "" {
		return errors.New("consultant ID is required")
	}
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if r.TriggerAfterHours < 0 {
		return errors.New("trigger hours cannot be negative")
	}
	return nil
}

// MessageTemplate is a pre-approved channel template with placeholder variables.
type MessageTemplate struct {
	ID             string                 `json:"id"`
	ConsultantID   string                 `json:"consultant_id"`
	Name           string                 `json:"name"`
	Body           string                 `json:"body"`
	ProviderRef    string                 `json:"provider_ref,omitempty"` // e.g. Twilio Content SID
	ApprovalStatus TemplateApprovalStatus `json:"approval_status"`
	Priority       int                    `json:"priority"`
	Language       string                 `json:"language,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// IsApproved reports whether the template may be sent outside the engagement window.
func (t *MessageTemplate) IsApproved() bool {
	return t.ApprovalStatus == TemplateApproved
}

// DeliveryStatus tracks the channel-level lifecycle of an outbound message.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// Receipt represents a delivery event for an outbound message.
type Receipt struct {
	To     string         `json:"to"`
	Status DeliveryStatus `json:"status"`
	Time   int64          `json:"time"`
}

// Response represents an incoming message from a lead.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
