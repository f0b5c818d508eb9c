// Package engine implements the follow-up decision pipeline: deterministic
// system rules, conversation context assembly, and the evaluation audit trail.
//
// The rule evaluator runs before any AI call and short-circuits the
// unambiguous cases. Rules are evaluated in strict descending priority order;
// the first match wins.
package engine

import (
	"fmt"

	"github.com/leadpulse/leadpulse/internal/models"
)

// SystemRule is one deterministic precondition that bypasses the AI call.
type SystemRule struct {
	Name                 string                  `json:"name"`
	Priority             int                     `json:"priority"`
	Decision             models.FollowupDecision `json:"decision"`
	Description          string                  `json:"description"`
	AllowFreeformMessage bool                    `json:"allow_freeform_message"`

	matches func(ctx *models.ConversationContext) bool
}

// systemRules is the live rule table, ordered by descending priority.
// The same table backs the read-only listing for the dashboard, so the
// display can never drift from live behavior.
var systemRules = []SystemRule{
	{
		Name:        "explicit_rejection",
		Priority:    100,
		Decision:    models.DecisionStop,
		Description: "lead has explicitly said no",
		matches: func(ctx *models.ConversationContext) bool {
			return ctx.HasSaidNoExplicitly
		},
	},
	{
		Name:        "max_followups_reached",
		Priority:    99,
		Decision:    models.DecisionStop,
		Description: "follow-up budget exhausted",
		matches: func(ctx *models.ConversationContext) bool {
			return ctx.FollowupCount >= ctx.MaxFollowupsAllowed
		},
	},
	{
		Name:        "conversation_won",
		Priority:    98,
		Decision:    models.DecisionStop,
		Description: "conversation already closed won",
		matches: func(ctx *models.ConversationContext) bool {
			return ctx.CurrentState == models.StateClosedWon
		},
	},
	{
		Name:        "conversation_lost",
		Priority:    97,
		Decision:    models.DecisionStop,
		Description: "conversation already closed lost",
		matches: func(ctx *models.ConversationContext) bool {
			return ctx.CurrentState == models.StateClosedLost
		},
	},
	{
		Name:                 "pending_short_window",
		Priority:             96,
		Decision:             models.DecisionSendNow,
		Description:          "engaged lead, open 24h window, our message pending a reply",
		AllowFreeformMessage: true,
		matches: func(ctx *models.ConversationContext) bool {
			// Never free-form toward a lead with no prior consent signal.
			if ctx.LeadNeverResponded {
				return false
			}
			return ctx.HoursSinceLastInbound != nil &&
				*ctx.HoursSinceLastInbound < models.EngagementWindowHours &&
				ctx.LastMessageDirection == models.DirectionOutbound
		},
	},
	{
		Name:        "recent_response_24h",
		Priority:    95,
		Decision:    models.DecisionSkip,
		Description: "lead replied recently, give the thread room",
		matches: func(ctx *models.ConversationContext) bool {
			if ctx.LeadNeverResponded {
				return false
			}
			return ctx.HoursSinceLastInbound != nil &&
				*ctx.HoursSinceLastInbound < models.EngagementWindowHours &&
				ctx.LastMessageDirection == models.DirectionInbound
		},
	},
}

// EvaluateSystemRules runs the deterministic rule table over a context.
// Returns a non-matching result when no rule applies and the AI should decide.
func EvaluateSystemRules(ctx *models.ConversationContext) models.RuleResult {
	for _, rule := range systemRules {
		if rule.matches(ctx) {
			return models.RuleResult{
				Matched:              true,
				RuleName:             rule.Name,
				Decision:             rule.Decision,
				Reasoning:            fmt.Sprintf("system rule %s (priority %d): %s", rule.Name, rule.Priority, rule.Description),
				AllowFreeformMessage: rule.AllowFreeformMessage,
			}
		}
	}
	return models.RuleResult{
		Matched:   false,
		Reasoning: "no system rule matched, deferring to AI evaluation",
	}
}

// ListSystemRules returns a copy of the rule table for display purposes.
func ListSystemRules() []SystemRule {
	out := make([]SystemRule, len(systemRules))
	copy(out, systemRules)
	return out
}
