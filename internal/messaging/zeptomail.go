package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultZeptoMailEndpoint is the ZeptoMail transactional send API.
const DefaultZeptoMailEndpoint = "https://api.zeptomail.com/v1.1/email"

// DefaultSendTimeout bounds a single email dispatch.
const DefaultSendTimeout = 15 * time.Second

// ZeptoMailOpts holds configuration for the ZeptoMail email sender.
type ZeptoMailOpts struct {
	Token       string
	FromAddress string
	FromName    string
	Endpoint    string
	HTTPClient  *http.Client
}

// ZeptoMailOption configures the ZeptoMail email sender.
type ZeptoMailOption func(*ZeptoMailOpts)

// WithToken sets the ZeptoMail send token.
func WithToken(token string) ZeptoMailOption {
	return func(o *ZeptoMailOpts) { o.Token = token }
}

// WithFromAddress sets the sending address.
func WithFromAddress(addr string) ZeptoMailOption {
	return func(o *ZeptoMailOpts) { o.FromAddress = addr }
}

// WithFromName sets the sending display name.
func WithFromName(name string) ZeptoMailOption {
	return func(o *ZeptoMailOpts) { o.FromName = name }
}

// WithEndpoint overrides the API endpoint, for tests.
func WithEndpoint(url string) ZeptoMailOption {
	return func(o *ZeptoMailOpts) { o.Endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ZeptoMailOption {
	return func(o *ZeptoMailOpts) { o.HTTPClient = c }
}

// ZeptoMailSender delivers reflection summaries as transactional email.
type ZeptoMailSender struct {
	token    string
	from     zeptoAddress
	endpoint string
	client   *http.Client
}

type zeptoAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type zeptoRecipient struct {
	EmailAddress zeptoAddress `json:"email_address"`
}

type zeptoMessage struct {
	From     zeptoAddress     `json:"from"`
	To       []zeptoRecipient `json:"to"`
	Subject  string           `json:"subject"`
	TextBody string           `json:"textbody"`
}

// NewZeptoMailSender creates a ZeptoMail-backed email sender. Options fall
// back to ZEPTOMAIL_TOKEN, ZEPTOMAIL_FROM_DOMAIN and ZEPTOMAIL_FROM_NAME.
func NewZeptoMailSender(opts ...ZeptoMailOption) (*ZeptoMailSender, error) {
	var cfg ZeptoMailOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("ZEPTOMAIL_TOKEN")
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = os.Getenv("ZEPTOMAIL_FROM_DOMAIN")
	}
	if cfg.FromName == "" {
		cfg.FromName = os.Getenv("ZEPTOMAIL_FROM_NAME")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultZeptoMailEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultSendTimeout}
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("ZeptoMail token must be provided")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("from address must be provided")
	}

	return &ZeptoMailSender{
		token:    cfg.Token,
		from:     zeptoAddress{Address: cfg.FromAddress, Name: cfg.FromName},
		endpoint: cfg.Endpoint,
		client:   cfg.HTTPClient,
	}, nil
}

// Send delivers the content as a plain-text email.
func (s *ZeptoMailSender) Send(ctx context.Context, recipient string, content Content) error {
	msg := zeptoMessage{
		From:     s.from,
		To:       []zeptoRecipient{{EmailAddress: zeptoAddress{Address: recipient, Name: content.ReceiverName}}},
		Subject:  content.Subject,
		TextBody: content.Body,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Zoho-enczapikey "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("ZeptoMailSender.Send failed", "to", recipient, "error", err)
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("ZeptoMailSender.Send rejected", "to", recipient, "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}

	slog.Debug("ZeptoMailSender.Send succeeded", "to", recipient)
	return nil
}
