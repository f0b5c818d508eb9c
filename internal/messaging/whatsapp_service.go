package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based client.
// It has no template notion: outside-window sends must go through Twilio.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // underlying client for event handling, nil for mocks
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
	}
	return service
}

// ValidateAndCanonicalizeRecipient strips non-numeric characters and checks
// the remainder looks like a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// Start begins event processing when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient != nil {
		go s.handleEvents(ctx)
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	close(s.done)
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.DeliverySent, Time: time.Now().Unix()})
	return nil
}

// SendTemplate is not supported on the direct WhatsApp channel.
func (s *WhatsAppService) SendTemplate(ctx context.Context, to string, templateRef string, variables map[string]string) error {
	return models.ErrTemplateSendUnsupported
}

// Receipts returns a channel of delivery events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming lead messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents forwards whatsmeow events into the service channels.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService.handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})

	<-ctx.Done()
}

// handleIncomingMessage forwards incoming text messages from leads.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	switch {
	case evt.Message.Conversation != nil:
		messageText = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		messageText = *evt.Message.ExtendedTextMessage.Text
	default:
		// Non-text messages (images, audio) are not evaluated.
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	response := models.Response{From: fromNumber, Body: messageText, Time: evt.Info.Timestamp.Unix()}
	select {
	case s.responses <- response:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From)
	}
}

// handleMessageReceipt forwards delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	toNumber := evt.MessageSource.Sender.User
	if !strings.HasPrefix(toNumber, "+") {
		toNumber = "+" + toNumber
	}

	var status models.DeliveryStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.DeliveryDelivered
	case events.ReceiptTypeRead:
		status = models.DeliveryRead
	default:
		return
	}

	s.emitReceipt(models.Receipt{To: toNumber, Status: status, Time: evt.Timestamp.Unix()})
}

func (s *WhatsAppService) emitReceipt(receipt models.Receipt) {
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}
