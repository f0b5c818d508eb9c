package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/twiliowhatsapp"
)

// TwilioService implements Service on the Twilio WhatsApp Business API.
// This is the backend that supports approved content templates.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService around the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient strips non-numeric characters and checks
// the remainder looks like a phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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
	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound traffic arrives over the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()
	return nil
}

// SendMessage sends a free-form message via Twilio and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.DeliverySent, Time: time.Now().Unix()})
	return nil
}

// SendTemplate sends an approved content template via Twilio.
func (s *TwilioService) SendTemplate(ctx context.Context, to string, templateRef string, variables map[string]string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendTemplate: validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendTemplate(ctx, canonicalTo, templateRef, variables); err != nil {
		return err
	}
	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.DeliverySent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel of delivery events.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel of inbound lead messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

func (s *TwilioService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}

// WebhookHandler handles inbound Twilio webhook requests and emits the
// parsed messages into the Responses channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("TwilioService.WebhookHandler: inbound message", "from", from, "bodyLength", len(body))
	s.safeEmitResponse(models.Response{From: from, Body: body, Time: time.Now().Unix()})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) safeEmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
