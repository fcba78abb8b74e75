package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/RentBot/internal/api"
	"github.com/BTreeMap/RentBot/internal/bot"
	"github.com/BTreeMap/RentBot/internal/conversation"
	"github.com/BTreeMap/RentBot/internal/genai"
	"github.com/BTreeMap/RentBot/internal/lockfile"
	"github.com/BTreeMap/RentBot/internal/messaging"
	"github.com/BTreeMap/RentBot/internal/store"
	"github.com/BTreeMap/RentBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/RentBot/internal/util"
	"github.com/BTreeMap/RentBot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RentBot state data
	DefaultStateDir = "/var/lib/rentbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "rentbot.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Supported values of WHATSAPP_TRANSPORT.
const (
	TransportNone      = "none"
	TransportCloud     = "cloud"
	TransportWhatsmeow = "whatsmeow"
	TransportTwilio    = "twilio"
)

func main() {
	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	initializeLogger(config.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping RentBot", "transport", config.Transport, "state_dir", config.StateDir, "in_memory", config.InMemory)
	if err := run(ctx, config); err != nil {
		slog.Error("RentBot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RentBot exited successfully")
}

// Config holds environment and command line configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	InMemory      bool
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	APIAddr       string
	Transport     string
	PublicURL     string
	CloudAPIURL   string
	CloudToken    string
	VerifyToken   string
	WhatsAppDSN   string
	QROutput      string
	NumericCode   bool
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	Debug         bool
}

// initializeLogger sets up structured logging; debug enables verbose output.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      util.EnvOr("RENTBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		InMemory:      util.ParseBoolEnv("RENTBOT_IN_MEMORY", false),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       util.EnvOr("API_ADDR", api.DefaultAddr),
		Transport:     strings.ToLower(util.EnvOr("WHATSAPP_TRANSPORT", TransportNone)),
		PublicURL:     os.Getenv("RENTBOT_PUBLIC_URL"),
		CloudAPIURL:   os.Getenv("WHATSAPP_API_URL"),
		CloudToken:    os.Getenv("WHATSAPP_API_TOKEN"),
		VerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		Debug:         util.ParseBoolEnv("RENTBOT_DEBUG", false),
	}

	slog.Debug("environment variables loaded",
		"RENTBOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"WHATSAPP_TRANSPORT", config.Transport)
	return config
}

// parseCommandLineFlags applies command line overrides on top of config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for lock file and default database (overrides $RENTBOT_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "Postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.BoolVar(&config.InMemory, "in-memory", config.InMemory, "keep records in memory only (overrides $RENTBOT_IN_MEMORY)")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.OpenAIBaseURL, "openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)")
	fs.StringVar(&config.OpenAIModel, "openai-model", config.OpenAIModel, "chat model name (overrides $OPENAI_MODEL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Transport, "transport", config.Transport, "WhatsApp transport: none, cloud, whatsmeow or twilio (overrides $WHATSAPP_TRANSPORT)")
	fs.StringVar(&config.PublicURL, "public-url", config.PublicURL, "externally visible base URL used for Twilio signatures (overrides $RENTBOT_PUBLIC_URL)")
	fs.StringVar(&config.WhatsAppDSN, "wa-db-dsn", config.WhatsAppDSN, "whatsmeow session store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "use numeric login code instead of QR code")
	if err := fs.Parse(args); err != nil {
		return config, err
	}
	config.Transport = strings.ToLower(config.Transport)

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseURL != "",
		"inMemory", config.InMemory,
		"apiAddr", config.APIAddr,
		"transport", config.Transport)
	return config, nil
}

// storeDSN picks DATABASE_URL or the SQLite file in the state directory.
func storeDSN(config Config) string {
	if config.DatabaseURL != "" {
		return config.DatabaseURL
	}
	return filepath.Join(config.StateDir, DefaultDBFileName)
}

// whatsAppDSN defaults the session store next to the application database.
func whatsAppDSN(config Config) string {
	if config.WhatsAppDSN != "" {
		return config.WhatsAppDSN
	}
	return filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
}

func openStore(config Config) (store.Store, error) {
	if config.InMemory {
		slog.Info("Using in-memory store; records are lost on exit")
		return store.NewInMemoryStore(), nil
	}
	dsn := storeDSN(config)
	slog.Debug("Opening store", "dsn_type", store.DetectDSNType(dsn))
	return store.Open(dsn)
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config) []genai.Option {
	var genaiOpts []genai.Option
	if config.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(config.OpenAIKey))
	}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	return genaiOpts
}

// buildWhatsAppOptions constructs whatsmeow client options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(whatsAppDSN(config))}
	if config.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// transport is a running messaging service plus the API options that
// expose its webhook.
type transport struct {
	apiOpts []api.Option
	stop    func()
}

// startTransport connects the configured WhatsApp transport and starts
// answering its messages through b.
func startTransport(ctx context.Context, config Config, b messaging.Replier, dedup store.DedupRepo) (*transport, error) {
	var (
		svc     messaging.Service
		apiOpts []api.Option
		closers []func()
	)
	switch config.Transport {
	case TransportNone:
		return &transport{stop: func() {}}, nil
	case TransportCloud:
		cloud, err := messaging.NewCloudService(
			messaging.WithCloudAPIURL(config.CloudAPIURL),
			messaging.WithCloudToken(config.CloudToken))
		if err != nil {
			return nil, err
		}
		if config.VerifyToken == "" {
			slog.Warn("WHATSAPP_VERIFY_TOKEN is not set; webhook verification will be rejected")
		}
		svc = cloud
		apiOpts = append(apiOpts, api.WithCloudWebhook(cloud, config.VerifyToken))
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioSID),
			twiliowhatsapp.WithAuthToken(config.TwilioToken),
			twiliowhatsapp.WithFromNumber(config.TwilioFrom))
		if err != nil {
			return nil, err
		}
		tw := messaging.NewTwilioService(client)
		svc = tw
		apiOpts = append(apiOpts, api.WithTwilioWebhook(tw, config.TwilioToken))
		if config.PublicURL != "" {
			apiOpts = append(apiOpts, api.WithPublicURL(config.PublicURL))
		}
	case TransportWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, err
		}
		closers = append(closers, client.Disconnect)
		svc = messaging.NewWhatsAppService(client)
	default:
		return nil, fmt.Errorf("unknown transport %q", config.Transport)
	}

	if err := svc.Start(ctx); err != nil {
		for _, c := range closers {
			c()
		}
		return nil, fmt.Errorf("failed to start %s transport: %w", config.Transport, err)
	}
	done := messaging.NewResponseHandler(svc, b, messaging.WithDedup(dedup)).Start(ctx)
	slog.Info("WhatsApp transport started", "transport", config.Transport)

	return &transport{
		apiOpts: apiOpts,
		stop: func() {
			if err := svc.Stop(); err != nil {
				slog.Warn("Transport stop failed", "error", err)
			}
			<-done
			for _, c := range closers {
				c()
			}
		},
	}, nil
}

// run wires storage, the conversation engine, the bot, the transport and
// the API server, and blocks until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	st, err := openStore(config)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	engine := conversation.NewEngine(st)
	var botOpts []bot.Option
	apiOpts := []api.Option{api.WithAddr(config.APIAddr), api.WithFlowInspector(engine)}

	llm, err := genai.NewClient(buildGenAIOptions(config)...)
	if err != nil {
		slog.Warn("LLM not configured; free-form replies and summaries are disabled", "error", err)
	} else {
		botOpts = append(botOpts, bot.WithReplyGenerator(llm))
		apiOpts = append(apiOpts, api.WithSummarizer(llm))
	}
	b := bot.NewBot(engine, st, st, botOpts...)

	tr, err := startTransport(ctx, config, b, st)
	if err != nil {
		return err
	}
	defer tr.stop()
	apiOpts = append(apiOpts, tr.apiOpts...)

	err = api.NewServer(st, b, apiOpts...).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
