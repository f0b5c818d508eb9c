// Package messaging provides the pluggable WhatsApp delivery layer and the
// inbound response pipeline that keeps conversation state in sync with what
// leads actually write back.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

const (
	// DefaultChannelBufferSize defines the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped indicates a send was attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier per the backend's rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a free-form message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendTemplate sends an approved template by its provider reference.
	// Backends without template support return ErrTemplateSendUnsupported.
	SendTemplate(ctx context.Context, to string, templateRef string, variables map[string]string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming lead messages.
	Responses() <-chan models.Response
}
