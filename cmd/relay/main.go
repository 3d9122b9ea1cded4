package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/chatrelay/internal/bot"
	"github.com/stupiduntilnot/chatrelay/internal/config"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/dummy"
	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/openai"
	"github.com/stupiduntilnot/chatrelay/internal/ratelimit"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/sanitize"
	"github.com/stupiduntilnot/chatrelay/internal/session"
	"github.com/stupiduntilnot/chatrelay/internal/telegram"
	"github.com/stupiduntilnot/chatrelay/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	journal, closeDB, err := openJournal(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event journal")
	}
	defer closeDB()

	tr, err := newTransport(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init transport")
	}
	provider, err := newProvider(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init completion provider")
	}

	limiter := ratelimit.NewLimiter(cfg.MaxRequests, time.Duration(cfg.WindowSeconds)*time.Second)
	store := session.NewStore(cfg.MaxHistory, time.Duration(cfg.SessionTimeoutSeconds)*time.Second)
	pipeline := relay.New(
		sanitize.NewValidator(cfg.MaxMessageLength),
		limiter,
		store,
		provider,
		journal,
		cfg.SystemPrompt,
		time.Duration(cfg.OpenAITimeoutSeconds)*time.Second,
	)
	relayBot := bot.New(tr, pipeline, limiter, store, journal, bot.Options{
		PollTimeoutSeconds:   cfg.PollTimeoutSeconds,
		SleepSeconds:         cfg.SleepSeconds,
		DropPending:          cfg.DropPending,
		PendingWindowSeconds: cfg.PendingWindowSeconds,
		ModelName:            cfg.OpenAIModel,
		SessionTimeout:       time.Duration(cfg.SessionTimeoutSeconds) * time.Second,
	})

	journal.Log(nil, db.EventProcessStarted, map[string]any{
		"role":      "relay",
		"pid":       os.Getpid(),
		"transport": cfg.Transport,
		"provider":  cfg.Provider,
		"model":     cfg.OpenAIModel,
	})
	log.Info().
		Str("transport", cfg.Transport).
		Str("provider", cfg.Provider).
		Str("model", cfg.OpenAIModel).
		Msg("relay starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return relayBot.Run(ctx)
	})
	group.Go(func() error {
		return runSweeper(ctx, limiter, store, journal,
			time.Duration(cfg.CleanupIntervalSeconds)*time.Second)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("relay shut down")
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// openJournal opens the event journal when a path is configured. An
// empty path yields a nil-backed journal that drops events.
func openJournal(path string) (*db.Journal, func(), error) {
	if path == "" {
		return db.NewJournal(nil), func() {}, nil
	}
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	return db.NewJournal(database), func() { database.Close() }, nil
}

func newTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case "telegram":
		// The HTTP timeout must outlast the long-poll timeout.
		return telegram.NewClient(
			cfg.TelegramAPIBase,
			time.Duration(cfg.PollTimeoutSeconds+10)*time.Second,
		), nil
	case "dummy":
		return dummy.NewTransport(cfg.DummyTransportScript, cfg.DummyChatID)
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

func newProvider(cfg *config.Config) (model.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(
			cfg.OpenAIAPIKey,
			cfg.OpenAIChatCompURL,
			cfg.OpenAIModel,
			cfg.OpenAIMaxTokens,
			cfg.OpenAITemperature,
			time.Duration(cfg.OpenAITimeoutSeconds)*time.Second,
			control.RetryPolicy{MaxAttempts: cfg.OpenAIMaxRetries, BaseDelay: time.Second},
		), nil
	case "dummy":
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unknown completion provider: %s", cfg.Provider)
	}
}

// runSweeper periodically evicts idle sessions and empty rate windows.
func runSweeper(
	ctx context.Context,
	limiter *ratelimit.Limiter,
	store *session.Store,
	journal *db.Journal,
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sessions := store.SweepExpired()
			windows := limiter.Sweep()
			if sessions > 0 || windows > 0 {
				log.Debug().
					Int("expired_sessions", sessions).
					Int("idle_windows", windows).
					Msg("sweep completed")
				journal.Log(nil, db.EventSweepCompleted, map[string]any{
					"expired_sessions": sessions,
					"idle_windows":     windows,
				})
			}
		}
	}
}
