// Package whatsapp wraps the Whatsmeow client for delivering reflection
// summaries over a linked WhatsApp device, as an alternative to the
// Twilio-backed channel.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/unsent-labs/unsent/internal/messaging"
	"github.com/unsent-labs/unsent/internal/store"
)

const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database.
	DefaultSQLitePath = "/var/lib/unsent/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// Opts holds configuration options for the WhatsApp client: the whatsmeow
// session database and login settings.
type Opts struct {
	DBDSN       string
	QRPath      string
	NumericCode bool
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to the given path instead of
// stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode uses a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client wraps the Whatsmeow client behind the messaging.Sender contract.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient creates and connects a WhatsApp client. First use requires a
// device link; the login QR code is written to stdout or the configured
// path.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient using default SQLite path", "path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		// whatsmeow strongly recommends foreign keys on SQLite.
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite session database does not appear to have foreign keys enabled; "+
				"consider adding '?_foreign_keys=on' to the connection string",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("whatsapp.NewClient failed to initialize session store", "error", err)
		return nil, fmt.Errorf("failed to initialize whatsapp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("whatsapp.NewClient failed to get device", "error", err)
		return nil, fmt.Errorf("failed to get device from whatsapp session store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient failed to connect during login", "error", err)
			return nil, fmt.Errorf("failed to connect to whatsapp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient failed to connect", "error", err)
			return nil, fmt.Errorf("failed to connect to whatsapp server: %w", err)
		}
	}

	slog.Info("WhatsApp client connected")
	return &Client{waClient: waClient}, nil
}

// Send delivers the content body to the recipient phone number as a plain
// conversation message.
func (c *Client) Send(ctx context.Context, recipient string, content messaging.Content) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	canonical, err := messaging.CanonicalizePhone(recipient)
	if err != nil {
		return err
	}
	if content.Body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(canonical, JIDSuffix)
	msg := &waE2E.Message{Conversation: proto.String(content.Body)}

	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("whatsapp.Send failed", "to", canonical, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", canonical, err)
	}

	slog.Debug("whatsapp.Send succeeded", "to", canonical)
	return nil
}

// Disconnect tears down the WhatsApp connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockClient satisfies messaging.Sender without a real WhatsApp
// connection, for tests.
type MockClient struct {
	Sent []string
}

// NewMockClient creates a mock WhatsApp sender.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Send records the recipient and succeeds.
func (m *MockClient) Send(ctx context.Context, recipient string, content messaging.Content) error {
	m.Sent = append(m.Sent, recipient)
	return nil
}
