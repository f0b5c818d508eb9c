// Package twiliowhatsapp wraps the Twilio REST API for WhatsApp delivery,
// including approved content templates for sends outside the 24h window.
package twiliowhatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioWhatsAppSender is the delivery interface, mocked in tests.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendTemplate(ctx context.Context, to string, contentSid string, variables map[string]string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number ("whatsapp:+1234567890").
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

// NewClient builds a Twilio client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromWhats: cfg.FromWhats}, nil
}

// SendMessage sends a free-form WhatsApp message. Deliverable only inside
// the recipient's 24h engagement window.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("twiliowhatsapp.SendMessage: send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("twiliowhatsapp.SendMessage: message sent", "to", to)
	return nil
}

// SendTemplate sends an approved content template identified by its Content
// SID, with {{key}} variables substituted by Twilio.
func (c *Client) SendTemplate(ctx context.Context, to string, contentSid string, variables map[string]string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetContentSid(contentSid)
	if len(variables) > 0 {
		encoded, err := json.Marshal(variables)
		if err != nil {
			return fmt.Errorf("failed to encode template variables: %w", err)
		}
		params.SetContentVariables(string(encoded))
	}

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("twiliowhatsapp.SendTemplate: send failed", "to", to, "contentSid", contentSid, "error", err)
		return fmt.Errorf("failed to send template %s to %s: %w", contentSid, to, err)
	}
	slog.Debug("twiliowhatsapp.SendTemplate: template sent", "to", to, "contentSid", contentSid)
	return nil
}

// MockClient records sends for tests.
type MockClient struct {
	SentMessages  []SentMessage
	SentTemplates []SentTemplate
	Err           error
}

type SentMessage struct {
	To   string
	Body string
}

type SentTemplate struct {
	To         string
	ContentSid string
	Variables  map[string]string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendTemplate(ctx context.Context, to string, contentSid string, variables map[string]string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentTemplates = append(m.SentTemplates, SentTemplate{To: to, ContentSid: contentSid, Variables: variables})
	return nil
}
