package engine

import (
	"regexp"
	"strings"

	"github.com/leadpulse/leadpulse/internal/models"
)

// Content heuristics for recognizing template-originated text when the
// channel did not tag the message. Best effort; explicit metadata always wins.
var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*\w+\s*\}\}`)
	salutationPattern  = regexp.MustCompile(`(?i)^(gentile|egregio|spett\.?le|dear)\s`)
)

// ClassifyMessage maps one conversation message to a MessageType.
// Resolution order: explicit metadata, then direction, then content patterns.
func ClassifyMessage(direction models.MessageDirection, content string, metadata map[string]string) models.MessageType {
	if metadata != nil {
		if t, ok := metadata["message_type"]; ok {
			switch models.MessageType(t) {
			case models.MessageTypeTemplateOutbound, models.MessageTypeFreeformOutbound,
				models.MessageTypeLeadResponse, models.MessageTypeSystemNotification:
				return models.MessageType(t)
			}
		}
		if metadata["template_id"] != "" || metadata["content_sid"] != "" {
			return models.MessageTypeTemplateOutbound
		}
		if metadata["system"] == "true" {
			return models.MessageTypeSystemNotification
		}
	}

	switch direction {
	case models.DirectionInbound:
		return models.MessageTypeLeadResponse
	case models.DirectionOutbound:
		if placeholderPattern.MatchString(content) || salutationPattern.MatchString(strings.TrimSpace(content)) {
			return models.MessageTypeTemplateOutbound
		}
		return models.MessageTypeFreeformOutbound
	}
	return models.MessageTypeUnknown
}
