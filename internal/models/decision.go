package models

import "time"

// FollowupDecision is what the engine decides to do with a conversation this cycle.
type FollowupDecision string

const (
	// DecisionSendNow dispatches a follow-up immediately.
	DecisionSendNow FollowupDecision = "send_now"
	// DecisionSchedule defers the follow-up to a computed future time.
	DecisionSchedule FollowupDecision = "schedule"
	// DecisionSkip does nothing this cycle; the conversation is progressing on its own.
	DecisionSkip FollowupDecision = "skip"
	// DecisionStop ceases follow-ups permanently.
	DecisionStop FollowupDecision = "stop"
)

// IsValidDecision checks if the given decision value is supported.
func IsValidDecision(d FollowupDecision) bool {
	switch d {
	case DecisionSendNow, DecisionSchedule, DecisionSkip, DecisionStop:
		return true
	default:
		return false
	}
}

// FollowupUrgency refines when a send_now/schedule decision should fire.
type FollowupUrgency string

const (
	UrgencyNow      FollowupUrgency = "now"
	UrgencyTomorrow FollowupUrgency = "tomorrow"
	UrgencyNextWeek FollowupUrgency = "next_week"
	UrgencyNever    FollowupUrgency = "never"
)

// MessageType classifies a conversation message for prompt tagging and
// engagement-window logic.
type MessageType string

const (
	MessageTypeTemplateOutbound   MessageType = "template_outbound"
	MessageTypeFreeformOutbound   MessageType = "freeform_outbound"
	MessageTypeLeadResponse       MessageType = "lead_response"
	MessageTypeSystemNotification MessageType = "system_notification"
	MessageTypeUnknown            MessageType = "unknown"
)

// MessageDirection indicates who authored a conversation message.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// ConversationMessage is one entry of the conversation transcript,
// classified for the decision prompt.
type ConversationMessage struct {
	Direction MessageDirection  `json:"direction"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

// PreviousEvaluation is the reduced form of an audit-log row injected back
// into future prompts.
type PreviousEvaluation struct {
	Decision        string    `json:"decision"`
	Reasoning       string    `json:"reasoning"`
	Timestamp       time.Time `json:"timestamp"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// ConversationContext is the complete situational snapshot for one
// conversation, consumed by both the rule evaluator and the AI prompt.
type ConversationContext struct {
	ConversationID        string                  `json:"conversation_id"`
	ConsultantID          string                  `json:"consultant_id"`
	LeadName              string                  `json:"lead_name"`
	LeadPhone             string                  `json:"lead_phone"`
	CurrentState          ConversationStateValue  `json:"current_state"`
	FollowupCount         int                     `json:"followup_count"`
	MaxFollowupsAllowed   int                     `json:"max_followups_allowed"`
	DaysSilent            int                     `json:"days_silent"`
	HoursSinceLastMessage float64                 `json:"hours_since_last_message"`
	HoursSinceLastInbound *float64                `json:"hours_since_last_inbound,omitempty"` // nil when the lead has never responded
	LastMessageDirection  MessageDirection        `json:"last_message_direction,omitempty"`
	LeadNeverResponded    bool                    `json:"lead_never_responded"`
	HasAskedPrice         bool                    `json:"has_asked_price"`
	HasMentionedUrgency   bool                    `json:"has_mentioned_urgency"`
	HasSaidNoExplicitly   bool                    `json:"has_said_no_explicitly"`
	DiscoveryCompleted    bool                    `json:"discovery_completed"`
	DemoPresented         bool                    `json:"demo_presented"`
	EngagementScore       int                     `json:"engagement_score"`
	ConversionProbability float64                 `json:"conversion_probability"`
	TemperatureLevel      TemperatureLevel        `json:"temperature_level"`
	Window24hExpiresAt    *time.Time              `json:"window_24h_expires_at,omitempty"`
	CanSendFreeformNow    bool                    `json:"can_send_freeform_now"`
	RecentMessages        []ConversationMessage   `json:"recent_messages"`
	AvailableTemplates    []MessageTemplate       `json:"available_templates"`
	PreviousEvaluations   []PreviousEvaluation    `json:"previous_evaluations"`
	Preferences           ConsultantAiPreferences `json:"preferences"`
	BuiltAt               time.Time               `json:"built_at"`
}

// Decision is the outcome of one evaluation, rule-based or AI-based.
type Decision struct {
	Decision                     FollowupDecision `json:"decision"`
	Urgency                      FollowupUrgency  `json:"urgency,omitempty"`
	SuggestedTemplateID          string           `json:"suggested_template_id,omitempty"`
	SuggestedMessage             string           `json:"suggested_message,omitempty"`
	FallbackMessage              string           `json:"fallback_message,omitempty"`
	Reasoning                    string           `json:"reasoning"`
	ConfidenceScore              float64          `json:"confidence_score"`
	UpdatedEngagementScore       *int             `json:"updated_engagement_score,omitempty"`
	UpdatedConversionProbability *float64         `json:"updated_conversion_probability,omitempty"`
	StateTransition              string           `json:"state_transition,omitempty"`
	InternalThinking             string           `json:"internal_thinking,omitempty"`
}

// RuleResult is the outcome of running the deterministic system rules over a context.
type RuleResult struct {
	Matched              bool             `json:"matched"`
	RuleName             string           `json:"rule_name,omitempty"`
	Decision             FollowupDecision `json:"decision,omitempty"`
	Reasoning            string           `json:"reasoning"`
	AllowFreeformMessage bool             `json:"allow_freeform_message"`
}
