package messaging

import (
	"context"
	"testing"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/whatsapp"
)

func TestWhatsAppServiceSendMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	if err := svc.SendMessage(context.Background(), "+393331234567", "ciao"); err != nil {
		t.Fatalf("unexpected error: %v", err)
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

func TestWhatsAppServiceSendMessageInvalidRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "", "ciao"); err == nil {
		t.Error("expected validation error for empty recipient")
	}
}

func TestWhatsAppServiceTemplateUnsupported(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	err := svc.SendTemplate(context.Background(), "+393331234567", "HX0123", nil)
	if err != models.ErrTemplateSendUnsupported {
		t.Errorf("expected ErrTemplateSendUnsupported, got %v", err)
	}
}

func TestWhatsAppServiceStartWithMock(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Errorf("start with mock client must be a no-op, got %v", err)
	}
}
