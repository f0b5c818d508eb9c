package genai

import (
	"fmt"
	"strings"

	"github.com/leadpulse/leadpulse/internal/models"
)

// BuildSystemPrompt composes the role instructions, tuned by the
// consultant's follow-up policy.
func BuildSystemPrompt(prefs models.ConsultantAiPreferences) string {
	var b strings.Builder
	b.WriteString("You are a follow-up assistant for a sales consultant who nurtures leads over WhatsApp. ")
	b.WriteString("Given the state of one conversation, decide whether and when to follow up.\n\n")

	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{
  "decision": "send_now" | "schedule" | "skip" | "stop",
  "urgency": "now" | "tomorrow" | "next_week" | "never",
  "suggested_template_id": "<id of an available template, or empty>",
  "suggested_message": "<free-form message text, or empty>",
  "reasoning": "<one or two sentences for the consultant>",
  "confidence_score": <0.0-1.0>,
  "updated_engagement_score": <0-100, optional>,
  "updated_conversion_probability": <0.0-1.0, optional>,
  "state_transition": "<new conversation state, optional>",
  "internal_thinking": "<your private analysis, optional>"
}
`)
	b.WriteString("\nRules:\n")
	b.WriteString("- Free-form messages are only deliverable while the 24h engagement window is open; outside it an approved template must be used.\n")
	b.WriteString("- Never pressure a lead who shows disinterest. Prefer stop over annoying them.\n")
	b.WriteString("- Write suggested messages in the language the lead uses in the transcript.\n")

	fmt.Fprintf(&b, "\nConsultant policy: at most %d follow-ups per conversation, at least %d hours apart. ",
		prefs.MaxFollowupsTotal, prefs.MinHoursBetweenFollowups)
	fmt.Fprintf(&b, "Aggressiveness %d/10, persistence %d/10.", prefs.AggressivenessLevel, prefs.PersistenceLevel)
	if prefs.StopOnFirstNo {
		b.WriteString(" Stop at the first explicit no.")
	}
	if prefs.CustomInstructions != "" {
		b.WriteString("\nConsultant instructions: ")
		b.WriteString(prefs.CustomInstructions)
	}
	return b.String()
}

// BuildUserPrompt serializes the conversation snapshot into the prompt body.
func BuildUserPrompt(ctx *models.ConversationContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Lead: %s (%s)\n", ctx.LeadName, ctx.LeadPhone)
	fmt.Fprintf(&b, "Conversation state: %s, temperature: %s\n", ctx.CurrentState, ctx.TemperatureLevel)
	fmt.Fprintf(&b, "Follow-ups sent: %d of %d allowed\n", ctx.FollowupCount, ctx.MaxFollowupsAllowed)
	fmt.Fprintf(&b, "Engagement score: %d/100, conversion probability: %.2f\n", ctx.EngagementScore, ctx.ConversionProbability)
	fmt.Fprintf(&b, "Days silent: %d (%.1f hours since last message)\n", ctx.DaysSilent, ctx.HoursSinceLastMessage)

	if ctx.LeadNeverResponded {
		b.WriteString("The lead has NEVER responded.\n")
	} else if ctx.HoursSinceLastInbound != nil {
		fmt.Fprintf(&b, "Hours since the lead last replied: %.1f\n", *ctx.HoursSinceLastInbound)
	}
	if ctx.CanSendFreeformNow {
		b.WriteString("The 24h engagement window is OPEN: free-form messages are deliverable.\n")
	} else {
		b.WriteString("The 24h engagement window is CLOSED: only approved templates are deliverable.\n")
	}

	var signals []string
	if ctx.HasAskedPrice {
		signals = append(signals, "asked about price")
	}
	if ctx.HasMentionedUrgency {
		signals = append(signals, "mentioned urgency")
	}
	if ctx.HasSaidNoExplicitly {
		signals = append(signals, "said no explicitly")
	}
	if ctx.DiscoveryCompleted {
		signals = append(signals, "discovery completed")
	}
	if ctx.DemoPresented {
		signals = append(signals, "demo presented")
	}
	if len(signals) > 0 {
		fmt.Fprintf(&b, "Signals: %s\n", strings.Join(signals, ", "))
	}

	if len(ctx.RecentMessages) > 0 {
		b.WriteString("\nRecent transcript (oldest first):\n")
		for _, m := range ctx.RecentMessages {
			speaker := "consultant"
			if m.Direction == models.DirectionInbound {
				speaker = "lead"
			}
			fmt.Fprintf(&b, "[%s] %s (%s): %s\n", m.SentAt.Format("2006-01-02 15:04"), speaker, m.Type, m.Content)
		}
	}

	if len(ctx.AvailableTemplates) > 0 {
		b.WriteString("\nAvailable templates:\n")
		for _, t := range ctx.AvailableTemplates {
			if !t.IsApproved() {
				continue
			}
			fmt.Fprintf(&b, "- id=%s name=%q priority=%d body=%q\n", t.ID, t.Name, t.Priority, t.Body)
		}
	}

	if len(ctx.PreviousEvaluations) > 0 {
		b.WriteString("\nYour previous evaluations of this conversation (newest first):\n")
		for _, e := range ctx.PreviousEvaluations {
			fmt.Fprintf(&b, "- %s: %s (confidence %.2f) %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Decision, e.ConfidenceScore, e.Reasoning)
		}
	}

	b.WriteString("\nDecide now. JSON only.")
	return b.String()
}
