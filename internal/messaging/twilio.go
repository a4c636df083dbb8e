package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioMessageAPI is the slice of the Twilio REST client the sender uses.
// Narrowed for testing.
type twilioMessageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration for the Twilio WhatsApp sender.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption configures the Twilio WhatsApp sender.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number, in
// "whatsapp:+1234567890" format.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioSender delivers reflection summaries over WhatsApp through the
// Twilio API.
type TwilioSender struct {
	api       twilioMessageAPI
	fromWhats string
}

// NewTwilioSender creates a Twilio-backed WhatsApp sender. Options fall
// back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSender(opts ...TwilioOption) (*TwilioSender, error) {
	var cfg TwilioOpts
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

	return &TwilioSender{api: client.Api, fromWhats: cfg.FromWhats}, nil
}

// Send delivers the content body as a WhatsApp message.
func (s *TwilioSender) Send(ctx context.Context, recipient string, content Content) error {
	canonical, err := CanonicalizePhone(recipient)
	if err != nil {
		slog.Error("TwilioSender.Send validation error", "error", err, "to", recipient)
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + canonical)
	params.SetFrom(s.fromWhats)
	params.SetBody(content.Body)

	if _, err := s.api.CreateMessage(params); err != nil {
		slog.Error("TwilioSender.Send failed", "to", canonical, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}

	slog.Debug("TwilioSender.Send succeeded", "to", canonical)
	return nil
}
