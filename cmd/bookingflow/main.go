package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/palinopr/bookingflow/internal/api"
	"github.com/palinopr/bookingflow/internal/genai"
	"github.com/palinopr/bookingflow/internal/ghl"
	"github.com/palinopr/bookingflow/internal/lockfile"
	"github.com/palinopr/bookingflow/internal/store"
	"github.com/palinopr/bookingflow/internal/twiliowhatsapp"
	"github.com/palinopr/bookingflow/internal/util"
	"github.com/palinopr/bookingflow/internal/whatsapp"
)

const (
	// DefaultStateDir is the default directory for bookingflow state data.
	DefaultStateDir = "/var/lib/bookingflow"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "bookingflow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}

	// One instance per state directory; flock is released by the kernel if
	// the process dies.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	ghlOpts := buildGHLOptions(flags)
	waOpts := buildWhatsAppOptions(flags)
	twilioOpts := buildTwilioOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping bookingflow with configured modules",
		"channel", *flags.channel, "state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, genaiOpts, ghlOpts, waOpts, twilioOpts, apiOpts); err != nil {
		slog.Error("bookingflow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("bookingflow exited successfully")
}

// Config holds environment configuration.
type Config struct {
	DatabaseURL     string
	WhatsAppDSN     string
	StateDir        string
	OpenAIKey       string
	GHLAPIKey       string
	GHLLocationID   string
	GHLCalendarID   string
	APIAddr         string
	Channel         string
	BudgetThreshold int
	GHLStateBackend bool
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	dbDSN           *string
	waDSN           *string
	openaiKey       *string
	ghlAPIKey       *string
	ghlLocationID   *string
	ghlCalendarID   *string
	apiAddr         *string
	channel         *string
	budgetThreshold *int
	ghlState        *bool
}

// initializeLogger sets up structured logging.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// the .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:        os.Getenv("BOOKINGFLOW_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		GHLAPIKey:       os.Getenv("GHL_API_KEY"),
		GHLLocationID:   os.Getenv("GHL_LOCATION_ID"),
		GHLCalendarID:   os.Getenv("GHL_CALENDAR_ID"),
		APIAddr:         os.Getenv("API_ADDR"),
		Channel:         os.Getenv("MESSAGING_CHANNEL"),
		BudgetThreshold: util.ParseIntEnv("BUDGET_THRESHOLD", 0),
		GHLStateBackend: util.ParseBoolEnv("GHL_STATE_BACKEND", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"BOOKINGFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GHL_API_KEY_SET", config.GHLAPIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_CHANNEL", config.Channel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:        flag.String("qr-output", "", "path to write login QR code (whatsapp channel)"),
		numeric:         flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for bookingflow data (overrides $BOOKINGFLOW_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "conversation store DSN (overrides $DATABASE_URL)"),
		waDSN:           flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		ghlAPIKey:       flag.String("ghl-api-key", config.GHLAPIKey, "GHL API key (overrides $GHL_API_KEY)"),
		ghlLocationID:   flag.String("ghl-location-id", config.GHLLocationID, "GHL location ID (overrides $GHL_LOCATION_ID)"),
		ghlCalendarID:   flag.String("ghl-calendar-id", config.GHLCalendarID, "GHL calendar ID (overrides $GHL_CALENDAR_ID)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:         flag.String("channel", config.Channel, "messaging channel: ghl, twilio, or whatsapp (overrides $MESSAGING_CHANNEL)"),
		budgetThreshold: flag.Int("budget-threshold", config.BudgetThreshold, "minimum qualifying monthly budget (overrides $BUDGET_THRESHOLD)"),
		ghlState:        flag.Bool("ghl-state", config.GHLStateBackend, "store conversation state in GHL custom fields (overrides $GHL_STATE_BACKEND)"),
	}

	flag.Parse()

	// A custom state directory moves the default SQLite databases with it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	if *flags.waDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, "whatsmeow.db") && *flags.stateDir != config.StateDir {
		*flags.waDSN = filepath.Join(*flags.stateDir, "whatsmeow.db")
	}

	return flags
}

// buildStoreOptions constructs conversation store options.
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options.
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildGHLOptions constructs GHL client configuration options.
func buildGHLOptions(flags Flags) []ghl.Option {
	var ghlOpts []ghl.Option
	if *flags.ghlAPIKey != "" {
		ghlOpts = append(ghlOpts, ghl.WithAPIKey(*flags.ghlAPIKey))
	}
	if *flags.ghlLocationID != "" {
		ghlOpts = append(ghlOpts, ghl.WithLocationID(*flags.ghlLocationID))
	}
	if *flags.ghlCalendarID != "" {
		ghlOpts = append(ghlOpts, ghl.WithCalendarID(*flags.ghlCalendarID))
	}
	return ghlOpts
}

// buildWhatsAppOptions constructs WhatsApp client configuration options.
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client configuration options. The
// Twilio client itself falls back to TWILIO_* environment variables.
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	return nil
}

// buildAPIOptions constructs API server configuration options.
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.channel != "" {
		apiOpts = append(apiOpts, api.WithChannel(*flags.channel))
	}
	if *flags.budgetThreshold > 0 {
		apiOpts = append(apiOpts, api.WithBudgetThreshold(*flags.budgetThreshold))
	}
	if *flags.ghlState {
		apiOpts = append(apiOpts, api.WithGHLStateBackend())
	}
	return apiOpts
}
