package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/twiliowhatsapp"
)

func TestTwilioServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{name: "plain digits", recipient: "393331234567", want: "393331234567"},
		{name: "plus and spaces stripped", recipient: "+39 333 123 4567", want: "393331234567"},
		{name: "whatsapp prefix stripped", recipient: "whatsapp:+393331234567", want: "393331234567"},
		{name: "empty", recipient: "", wantErr: true},
		{name: "no digits", recipient: "not-a-number", wantErr: true},
		{name: "too short", recipient: "12345", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.recipient)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.recipient)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTwilioServiceSendMessageEmitsReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+393331234567", "ciao"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "393331234567" {
		t.Fatalf("unexpected sends %+v", mock.SentMessages)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.DeliverySent {
			t.Errorf("expected sent receipt, got %q", receipt.Status)
		}
	default:
		t.Error("expected a receipt to be emitted")
	}
}

func TestTwilioServiceSendTemplate(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	err := svc.SendTemplate(context.Background(), "+393331234567", "HX0123", map[string]string{"nome": "Maria"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentTemplates) != 1 || mock.SentTemplates[0].ContentSid != "HX0123" {
		t.Fatalf("unexpected template sends %+v", mock.SentTemplates)
	}
}

func TestTwilioServiceSendAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+393331234567", "ciao"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if err := svc.SendTemplate(context.Background(), "+393331234567", "HX0123", nil); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+393331234567")
	form.Set("Body", "mi interessa")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+393331234567" || resp.Body != "mi interessa" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Error("expected inbound response to be emitted")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+393331234567")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
