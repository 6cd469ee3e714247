package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/AlterEgo/internal/api"
	"github.com/BTreeMap/AlterEgo/internal/flow"
	"github.com/BTreeMap/AlterEgo/internal/genai"
	"github.com/BTreeMap/AlterEgo/internal/history"
	"github.com/BTreeMap/AlterEgo/internal/lockfile"
	"github.com/BTreeMap/AlterEgo/internal/messaging"
	"github.com/BTreeMap/AlterEgo/internal/program"
	"github.com/BTreeMap/AlterEgo/internal/render"
	"github.com/BTreeMap/AlterEgo/internal/scheduler"
	"github.com/BTreeMap/AlterEgo/internal/store"
	"github.com/BTreeMap/AlterEgo/internal/twiliowhatsapp"
	"github.com/BTreeMap/AlterEgo/internal/util"
	"github.com/BTreeMap/AlterEgo/internal/whatsapp"
)

// Default configuration constants
const (
	DefaultStateDir           = "/var/lib/alterego"
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	DefaultAppDBFileName      = "alterego.db"
	DefaultRunTimeout         = 30 * time.Minute

	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

func main() {
	config := loadEnvironmentConfig()
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(os.Stdout, config.LogLevel)
	if err := config.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping AlterEgo", "transport", config.Transport, "state_dir", config.StateDir,
		"app_dsn_set", config.AppDBDSN != "", "api_addr", config.APIAddr, "timezone", config.Timezone)
	if err := run(ctx, config); err != nil {
		slog.Error("AlterEgo failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AlterEgo exited successfully")
}

// Config holds the process configuration, seeded from the environment and
// overridden by flags.
type Config struct {
	StateDir      string
	WhatsAppDBDSN string
	AppDBDSN      string
	Transport     string
	QROutput      string
	NumericCode   bool

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	APIAddr     string
	PublicURL   string
	CatalogPath string

	MorningCron string
	EveningCron string
	Timezone    string
	RunTimeout  time.Duration
	Concurrency int

	DevUnlock bool
	LogLevel  string
}

// initializeLogger installs a text slog handler at the given level (debug when unparsable).
func initializeLogger(w io.Writer, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// loadEnvironmentConfig loads .env and reads the ALTEREGO_* environment.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:      util.EnvOr("ALTEREGO_STATE_DIR", DefaultStateDir),
		WhatsAppDBDSN: util.EnvOr("WHATSAPP_DB_DSN", ""),
		AppDBDSN:      util.EnvOr("DATABASE_DSN", util.EnvOr("DATABASE_URL", "")),
		Transport:     strings.ToLower(util.EnvOr("ALTEREGO_TRANSPORT", TransportWhatsApp)),
		OpenAIKey:     util.EnvOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL: util.EnvOr("OPENAI_BASE_URL", ""),
		OpenAIModel:   util.EnvOr("ALTEREGO_MODEL", genai.DefaultModel),
		APIAddr:       util.EnvOr("API_ADDR", api.DefaultAddr),
		PublicURL:     util.EnvOr("ALTEREGO_PUBLIC_URL", ""),
		CatalogPath:   util.EnvOr("ALTEREGO_CATALOG", ""),
		MorningCron:   util.EnvOr("ALTEREGO_MORNING_CRON", program.DefaultMorningCron),
		EveningCron:   util.EnvOr("ALTEREGO_EVENING_CRON", program.DefaultEveningCron),
		Timezone:      util.EnvOr("ALTEREGO_TIMEZONE", "Local"),
		RunTimeout:    util.ParseDurationEnv("ALTEREGO_RUN_TIMEOUT", DefaultRunTimeout),
		Concurrency:   util.ParseIntEnv("ALTEREGO_CONCURRENCY", program.DefaultConcurrency),
		DevUnlock:     util.ParseBoolEnv("ALTEREGO_DEV_UNLOCK", false),
		LogLevel:      util.EnvOr("ALTEREGO_LOG_LEVEL", "info"),
	}
	config.applyStateDirDefaults()
	return config
}

// applyStateDirDefaults fills the database DSNs that were left blank with
// SQLite files under the state directory.
func (c *Config) applyStateDirDefaults() {
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.AppDBDSN == "" {
		c.AppDBDSN = filepath.Join(c.StateDir, DefaultAppDBFileName)
	}
}

// parseCommandLineFlags overrides config with command line flags. DSNs that
// were derived from the state directory follow a -state-dir override.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config *Config) error {
	envStateDir := config.StateDir
	derivedWA := config.WhatsAppDBDSN == "file:"+filepath.Join(envStateDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on"
	derivedApp := config.AppDBDSN == filepath.Join(envStateDir, DefaultAppDBFileName)

	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory (overrides $ALTEREGO_STATE_DIR)")
	fs.StringVar(&config.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow session database (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.AppDBDSN, "db-dsn", config.AppDBDSN, "application database; postgres DSN or SQLite path, empty for in-memory (overrides $DATABASE_DSN)")
	fs.StringVar(&config.Transport, "transport", config.Transport, "whatsapp or twilio (overrides $ALTEREGO_TRANSPORT)")
	fs.StringVar(&config.QROutput, "qr-output", config.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", config.NumericCode, "print the raw login code instead of a QR code")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key; generation falls back to static texts without it (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.OpenAIModel, "model", config.OpenAIModel, "chat model (overrides $ALTEREGO_MODEL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "HTTP listen address (overrides $API_ADDR)")
	fs.StringVar(&config.PublicURL, "public-url", config.PublicURL, "public base URL used for media links (overrides $ALTEREGO_PUBLIC_URL)")
	fs.StringVar(&config.CatalogPath, "catalog", config.CatalogPath, "program catalog YAML; empty for the built-in protocol (overrides $ALTEREGO_CATALOG)")
	fs.StringVar(&config.MorningCron, "morning-cron", config.MorningCron, "morning broadcast schedule (overrides $ALTEREGO_MORNING_CRON)")
	fs.StringVar(&config.EveningCron, "evening-cron", config.EveningCron, "evening broadcast schedule (overrides $ALTEREGO_EVENING_CRON)")
	fs.StringVar(&config.Timezone, "timezone", config.Timezone, "IANA zone for schedules and dates (overrides $ALTEREGO_TIMEZONE)")
	fs.BoolVar(&config.DevUnlock, "dev-unlock", config.DevUnlock, "let the blackbox unlock button activate a subscription without payment")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $ALTEREGO_LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if config.StateDir != envStateDir {
		if derivedWA && config.WhatsAppDBDSN == "file:"+filepath.Join(envStateDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on" {
			config.WhatsAppDBDSN = ""
		}
		if derivedApp && config.AppDBDSN == filepath.Join(envStateDir, DefaultAppDBFileName) {
			config.AppDBDSN = ""
		}
		config.applyStateDirDefaults()
	}
	config.Transport = strings.ToLower(strings.TrimSpace(config.Transport))
	return nil
}

// Validate reports configuration that would stop startup.
func (c Config) Validate() error {
	if c.Transport != TransportWhatsApp && c.Transport != TransportTwilio {
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportWhatsApp, TransportTwilio)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.StateDir == "" {
		return errors.New("state directory must be set")
	}
	return nil
}

// buildStoreOptions picks the store backend from the application DSN.
func buildStoreOptions(config Config) []store.Option {
	if config.AppDBDSN == "" {
		return nil
	}
	if store.DetectDSNType(config.AppDBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(config.AppDBDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", config.AppDBDSN)
	return []store.Option{store.WithSQLiteDSN(config.AppDBDSN)}
}

// buildWhatsAppOptions constructs WhatsApp login options.
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	var opts []whatsapp.Option
	if config.WhatsAppDBDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(config.WhatsAppDBDSN))
	}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildGenAIOptions constructs generator options.
func buildGenAIOptions(config Config) []genai.Option {
	opts := []genai.Option{genai.WithAPIKey(config.OpenAIKey), genai.WithModel(config.OpenAIModel)}
	if config.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	return opts
}

// buildGenerator returns nil when no API key is configured; every caller has a static fallback.
func buildGenerator(config Config) genai.Generator {
	client, err := genai.NewClient(buildGenAIOptions(config)...)
	if err != nil {
		slog.Warn("Generation disabled, using static fallbacks", "error", err)
		return nil
	}
	return client
}

// transport is the messaging service plus the Twilio-only pieces the HTTP server mounts.
type transport struct {
	svc    messaging.Service
	twilio *messaging.TwilioService
	media  *api.MediaCache
}

func buildTransport(config Config) (*transport, error) {
	switch config.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		t := &transport{}
		var publisher messaging.MediaPublisher
		if config.PublicURL != "" {
			t.media = api.NewMediaCache(config.PublicURL, api.DefaultMediaTTL)
			publisher = t.media
		} else {
			slog.Warn("No public URL configured; cards will be sent as text over Twilio")
		}
		t.twilio = messaging.NewTwilioService(client, publisher)
		t.svc = t.twilio
		return t, nil
	default:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return &transport{svc: messaging.NewWhatsAppService(client)}, nil
	}
}

func buildEngineOptions(config Config, loc *time.Location, gen genai.Generator, renderer render.Renderer) []flow.Option {
	opts := []flow.Option{flow.WithLocation(loc), flow.WithDevUnlock(config.DevUnlock)}
	if gen != nil {
		opts = append(opts, flow.WithGenerator(gen))
	}
	if renderer != nil {
		opts = append(opts, flow.WithRenderer(renderer))
	}
	return opts
}

func buildBroadcasterOptions(config Config, loc *time.Location, gen genai.Generator) []program.Option {
	opts := []program.Option{program.WithLocation(loc), program.WithConcurrency(config.Concurrency)}
	if gen != nil {
		opts = append(opts, program.WithGenerator(gen))
	}
	return opts
}

// drainReceipts logs delivery receipts so senders never block on a full channel.
func drainReceipts(ctx context.Context, svc messaging.Service) {
	for {
		select {
		case r, ok := <-svc.Receipts():
			if !ok {
				return
			}
			slog.Debug("Receipt", "to", r.To, "status", r.Status)
		case <-ctx.Done():
			return
		}
	}
}

// run wires every component and blocks until ctx is cancelled or the HTTP server fails.
// logNextRuns reports when each broadcast slot fires next, in the schedule's zone.
func logNextRuns(sched *scheduler.Scheduler) {
	for _, slot := range []program.Slot{program.SlotMorning, program.SlotEvening} {
		next, ok := sched.Next(string(slot))
		if !ok {
			slog.Warn("logNextRuns: slot not scheduled", "slot", slot)
			continue
		}
		slog.Info("logNextRuns: next broadcast", "slot", slot, "at", next.In(sched.Location()).Format(time.RFC3339))
	}
}

func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	st, err := store.NewStore(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	hist := history.NewCache(st)
	if err := hist.Load(ctx); err != nil {
		return fmt.Errorf("failed to load win history: %w", err)
	}

	catalog, err := program.LoadCatalog(config.CatalogPath)
	if err != nil {
		return err
	}

	gen := buildGenerator(config)
	var renderer render.Renderer
	if r, err := render.NewCardRenderer(); err != nil {
		slog.Warn("Card rendering disabled, cards will be sent as text", "error", err)
	} else {
		renderer = r
	}

	engine := flow.NewEngine(st, hist, catalog, buildEngineOptions(config, loc, gen, renderer)...)

	tr, err := buildTransport(config)
	if err != nil {
		return err
	}
	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer tr.svc.Stop()
	go drainReceipts(ctx, tr.svc)

	deliverer := messaging.NewDeliverer(tr.svc, messaging.NewChoiceTracker())
	rh := messaging.NewResponseHandler(tr.svc, engine, deliverer)
	rh.Start(ctx)
	defer rh.Wait()

	b := program.NewBroadcaster(st, deliverer, catalog, buildBroadcasterOptions(config, loc, gen)...)
	sched := scheduler.NewScheduler(scheduler.WithLocation(loc))
	defer sched.Stop()
	if err := program.Schedule(ctx, sched, b, config.MorningCron, config.EveningCron, config.RunTimeout); err != nil {
		return err
	}
	logNextRuns(sched)

	apiOpts := []api.Option{api.WithAddr(config.APIAddr)}
	if tr.twilio != nil {
		apiOpts = append(apiOpts, api.WithTwilio(tr.twilio))
	}
	if tr.media != nil {
		apiOpts = append(apiOpts, api.WithMediaCache(tr.media))
	}
	return api.NewServer(st, engine, deliverer, b, apiOpts...).Run(ctx)
}
