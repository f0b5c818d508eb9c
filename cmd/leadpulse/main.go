// LeadPulse is an AI-driven WhatsApp follow-up engine for consultant CRMs.
// It watches lead conversations, decides when and how to re-engage each lead,
// and delivers the follow-ups through Twilio or a linked WhatsApp device.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadpulse/leadpulse/internal/api"
	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/genai"
	"github.com/leadpulse/leadpulse/internal/lockfile"
	"github.com/leadpulse/leadpulse/internal/messaging"
	"github.com/leadpulse/leadpulse/internal/recovery"
	"github.com/leadpulse/leadpulse/internal/scheduler"
	"github.com/leadpulse/leadpulse/internal/store"
	"github.com/leadpulse/leadpulse/internal/twiliowhatsapp"
	"github.com/leadpulse/leadpulse/internal/util"
	"github.com/leadpulse/leadpulse/internal/whatsapp"
)

const (
	// DefaultStateDir is the default directory for LeadPulse state data.
	DefaultStateDir = "/var/lib/leadpulse"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "leadpulse.db"
	// TwilioWebhookPath is where the Twilio inbound message callback mounts.
	TwilioWebhookPath = "/webhooks/twilio"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(config, flags); err != nil {
		slog.Error("LeadPulse failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPulse exited successfully")
}

// Config holds environment configuration.
type Config struct {
	DbDSN              string
	StateDir           string
	OpenAIKey          string
	OpenAIModel        string
	APIAddr            string
	UseTwilio          bool
	EvaluationSchedule string
	ProcessingSchedule string
	Timezone           string
	BatchSize          int
	SendsPerHour       int
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	useTwilio    *bool
	evalCron     *string
	procCron     *string
	timezone     *string
	batchSize    *int
	sendsPerHour *int
}

func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// the .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DbDSN:              os.Getenv("DATABASE_URL"),
		StateDir:           os.Getenv("LEADPULSE_STATE_DIR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		APIAddr:            os.Getenv("API_ADDR"),
		UseTwilio:          util.ParseBoolEnv("USE_TWILIO", false),
		EvaluationSchedule: os.Getenv("EVALUATION_SCHEDULE"),
		ProcessingSchedule: os.Getenv("PROCESSING_SCHEDULE"),
		Timezone:           os.Getenv("TIMEZONE"),
		BatchSize:          util.ParseIntEnv("PROCESSING_BATCH_SIZE", scheduler.DefaultProcessingBatchSize),
		SendsPerHour:       util.ParseIntEnv("SENDS_PER_HOUR", scheduler.DefaultSendsPerHour),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DbDSN == "" {
		config.DbDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DbDSN)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"LEADPULSE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"USE_TWILIO", config.UseTwilio)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for LeadPulse data (overrides $LEADPULSE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DbDSN, "database DSN (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		useTwilio:    flag.Bool("use-twilio", config.UseTwilio, "deliver via Twilio instead of a linked WhatsApp device (overrides $USE_TWILIO)"),
		evalCron:     flag.String("evaluation-schedule", config.EvaluationSchedule, "cron expression for the evaluation cycle (overrides $EVALUATION_SCHEDULE)"),
		procCron:     flag.String("processing-schedule", config.ProcessingSchedule, "cron expression for the processing cycle (overrides $PROCESSING_SCHEDULE)"),
		timezone:     flag.String("timezone", config.Timezone, "IANA timezone for send-time scheduling (overrides $TIMEZONE)"),
		batchSize:    flag.Int("batch-size", config.BatchSize, "messages claimed per processing cycle (overrides $PROCESSING_BATCH_SIZE)"),
		sendsPerHour: flag.Int("sends-per-hour", config.SendsPerHour, "per-consultant hourly send cap (overrides $SENDS_PER_HOUR)"),
	}
	flag.Parse()

	// Keep the SQLite file inside the state directory when only the latter
	// was overridden.
	if *flags.dbDSN == config.DbDSN && config.DbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	return flags
}

// ensureDirectoriesExist creates the state directory when a file-based DSN is
// in use.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func run(config Config, flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := recovery.NewManager(st).RecoverAll(ctx); err != nil {
		return err
	}

	aiClient := buildGenAIClient(flags, config)

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	respHandler := messaging.NewResponseHandler(st)
	go respHandler.Run(ctx, msgService)

	builder := engine.NewContextBuilder(st)
	var decisions engine.DecisionClient
	if aiClient != nil {
		decisions = aiClient
	}
	eng := engine.NewEngine(builder, decisions)
	audit := engine.NewDecisionLogger(st)

	runtime := scheduler.NewRuntime(st, eng, audit, msgService, buildSchedulerOptions(flags)...)
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer runtime.Stop()

	var ruleGen api.RuleGenerator
	if aiClient != nil {
		ruleGen = aiClient
	}
	server := api.NewServer(st, runtime, ruleGen, buildAPIOptions(flags)...)
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		server.RegisterWebhook(TwilioWebhookPath, twilioSvc.WebhookHandler)
	}

	slog.Info("LeadPulse running",
		"state_dir", *flags.stateDir,
		"dsn_type", store.DetectDSNType(*flags.dbDSN),
		"channel", channelName(*flags.useTwilio),
		"api_addr", *flags.apiAddr)
	return server.Run(ctx)
}

// buildStore opens the SQL store matching the DSN type.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildGenAIClient creates the AI client, or nil when no key is configured.
// Without it, system rules still run and unmatched conversations are skipped.
func buildGenAIClient(flags Flags, config Config) *genai.Client {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(config.OpenAIModel))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		slog.Warn("GenAI disabled, falling back to rule-only evaluation", "error", err)
		return nil
	}
	return client
}

// buildMessagingService selects the delivery backend.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.useTwilio {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}

	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}

// buildSchedulerOptions constructs scheduler runtime options.
func buildSchedulerOptions(flags Flags) []scheduler.Option {
	var opts []scheduler.Option
	if *flags.evalCron != "" {
		opts = append(opts, scheduler.WithEvaluationSchedule(*flags.evalCron))
	}
	if *flags.procCron != "" {
		opts = append(opts, scheduler.WithProcessingSchedule(*flags.procCron))
	}
	if *flags.batchSize > 0 {
		opts = append(opts, scheduler.WithBatchSize(*flags.batchSize))
	}
	if *flags.sendsPerHour > 0 {
		opts = append(opts, scheduler.WithSendsPerHour(*flags.sendsPerHour))
	}
	if *flags.timezone != "" {
		loc, err := time.LoadLocation(*flags.timezone)
		if err != nil {
			slog.Warn("Invalid timezone, using local time", "timezone", *flags.timezone, "error", err)
		} else {
			opts = append(opts, scheduler.WithLocation(loc))
		}
	}
	return opts
}

// buildAPIOptions constructs API server options.
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}

func channelName(useTwilio bool) string {
	if useTwilio {
		return "twilio"
	}
	return "whatsapp"
}
