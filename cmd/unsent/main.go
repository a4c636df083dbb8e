package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/unsent-labs/unsent/internal/api"
	"github.com/unsent-labs/unsent/internal/classify"
	"github.com/unsent-labs/unsent/internal/delivery"
	"github.com/unsent-labs/unsent/internal/flow"
	"github.com/unsent-labs/unsent/internal/genai"
	"github.com/unsent-labs/unsent/internal/messaging"
	"github.com/unsent-labs/unsent/internal/models"
	"github.com/unsent-labs/unsent/internal/prompts"
	"github.com/unsent-labs/unsent/internal/store"
	"github.com/unsent-labs/unsent/internal/util"
	"github.com/unsent-labs/unsent/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Unsent state data
	DefaultStateDir = "/var/lib/unsent"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "unsent.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("Unsent failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Unsent exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	APIAddr         string
	WhatsAppBackend string
	WhatsAppDSN     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	dbDSN           *string
	openaiKey       *string
	apiAddr         *string
	whatsappBackend *string
	whatsappDSN     *string
}

// initializeLogger sets up structured logging with the level from
// $LOG_LEVEL, defaulting to info.
func initializeLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("UNSENT_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		APIAddr:         os.Getenv("API_ADDR"),
		WhatsAppBackend: os.Getenv("WHATSAPP_BACKEND"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No UNSENT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"UNSENT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"WHATSAPP_BACKEND", config.WhatsAppBackend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:        flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:         flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for Unsent data (overrides $UNSENT_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the reflection store (overrides $DATABASE_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		whatsappBackend: flag.String("whatsapp-backend", config.WhatsAppBackend, "WhatsApp delivery backend: twilio, whatsmeow, or empty to disable (overrides $WHATSAPP_BACKEND)"),
		whatsappDSN:     flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"whatsappBackend", *flags.whatsappBackend)

	return flags
}

func run(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, store.DefaultDirPermissions); err != nil {
		return err
	}

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := prompts.EnsureSeed(st); err != nil {
		return err
	}

	llm, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		return err
	}

	detector := buildDetector(*flags.openaiKey)
	resolver := prompts.NewResolver(st)
	intents := classify.NewIntentClassifier(instructionResolver(resolver), llm)

	emailSender := buildEmailSender()
	whatsappSender := buildWhatsAppSender(flags)

	sequencer := delivery.NewSequencer(st, emailSender, whatsappSender)
	ventingWindow := util.ParseDurationEnv("VENTING_WINDOW", flow.DefaultVentingWindow)
	engine := flow.NewEngine(st, resolver, llm, sequencer, flow.WithVentingWindow(ventingWindow))
	orchestrator := flow.NewOrchestrator(st, engine, detector, intents, flow.NewSessionLocks(0))

	server := api.NewServer(orchestrator, sequencer, st, api.WithAddr(*flags.apiAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Unsent with configured modules",
		"store_type", store.DetectDSNType(*flags.dbDSN),
		"email_enabled", emailSender != nil,
		"whatsapp_enabled", whatsappSender != nil)
	return server.Run(ctx)
}

// openStore selects the storage backend from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildDetector assembles the safety detector. Without an API key the
// semantic screen is skipped and only the lexical screen runs.
func buildDetector(openaiKey string) *classify.Detector {
	opts := []classify.DetectorOption{
		classify.WithCriticalThreshold(util.ParseFloatEnv("SEVERITY_CRITICAL_THRESHOLD", classify.DefaultCriticalThreshold)),
		classify.WithWarningThreshold(util.ParseFloatEnv("SEVERITY_WARNING_THRESHOLD", classify.DefaultWarningThreshold)),
	}
	embedder, err := genai.NewEmbedder(genai.WithAPIKey(openaiKey))
	if err != nil {
		slog.Warn("Semantic safety screen disabled", "error", err)
		return classify.NewDetector(opts...)
	}
	return classify.NewDetector(append(opts, classify.WithEmbedder(embedder))...)
}

// instructionResolver adapts the stage resolver to the classifier's
// instruction lookup.
func instructionResolver(r *prompts.Resolver) func(models.Stage, map[string]string) (string, error) {
	return func(stage models.Stage, values map[string]string) (string, error) {
		resolved, err := r.Resolve(stage, values)
		if err != nil {
			return "", err
		}
		return resolved.Prompt, nil
	}
}

// buildEmailSender configures the ZeptoMail channel, or nil when not
// configured.
func buildEmailSender() messaging.Sender {
	sender, err := messaging.NewZeptoMailSender()
	if err != nil {
		slog.Warn("Email delivery disabled", "error", err)
		return nil
	}
	return sender
}

// buildWhatsAppSender configures the WhatsApp channel, or nil when not
// configured.
func buildWhatsAppSender(flags Flags) messaging.Sender {
	switch *flags.whatsappBackend {
	case "twilio":
		sender, err := messaging.NewTwilioSender()
		if err != nil {
			slog.Warn("WhatsApp delivery disabled", "backend", "twilio", "error", err)
			return nil
		}
		return sender
	case "whatsmeow":
		opts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			slog.Warn("WhatsApp delivery disabled", "backend", "whatsmeow", "error", err)
			return nil
		}
		return client
	case "":
		slog.Debug("No WhatsApp backend configured")
		return nil
	default:
		slog.Warn("Unknown WhatsApp backend, delivery disabled", "backend", *flags.whatsappBackend)
		return nil
	}
}
