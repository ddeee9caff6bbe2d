package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/engine"
	"github.com/loftcall/loftcall/pkg/core/live"
	"github.com/loftcall/loftcall/pkg/core/session"
	"github.com/loftcall/loftcall/pkg/core/tools"
	"github.com/loftcall/loftcall/pkg/core/voice/stt"
	"github.com/loftcall/loftcall/pkg/core/voice/tts"
	"github.com/loftcall/loftcall/pkg/core/workflow"
	"github.com/loftcall/loftcall/pkg/gateway/config"
	"github.com/loftcall/loftcall/pkg/gateway/ice"
	"github.com/loftcall/loftcall/pkg/gateway/metrics"
	gatewayserver "github.com/loftcall/loftcall/pkg/gateway/server"
	"github.com/loftcall/loftcall/pkg/store"
	"github.com/loftcall/loftcall/pkg/store/bookings"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.DebugMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	workflows, err := workflow.LoadDir(cfg.WorkflowDir)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	if _, ok := workflows[cfg.DefaultWorkflow]; !ok {
		return fmt.Errorf("default workflow %q not found in %s", cfg.DefaultWorkflow, cfg.WorkflowDir)
	}
	logger.Info("workflows loaded", "count", len(workflows), "default", cfg.DefaultWorkflow)

	m := metrics.New()

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	provider = m.InstrumentProvider(engine.NewPool(provider, cfg.EngineConcurrency))

	registry, err := buildTools(ctx, cfg, logger)
	if err != nil {
		return err
	}

	snapshots := buildStore(cfg, logger)

	iceProvider, err := ice.New(ice.Credentials{
		AccountSID: cfg.TwilioAccountSID,
		APIKey:     cfg.TwilioAPIKey,
		APISecret:  cfg.TwilioAPISecret,
	}, cfg.ICEServersJSON, logger)
	if err != nil {
		return fmt.Errorf("ice provider: %w", err)
	}

	settings := live.DefaultSettings()
	settings.TTSVoice = cfg.TTSVoice

	srv := gatewayserver.New(cfg, gatewayserver.Deps{
		Logger:    logger,
		Workflows: workflows,
		Provider:  provider,
		Tools:     registry,
		STT:       stt.NewOpenAI(cfg.OpenAIAPIKey, cfg.STTModel),
		TTS:       tts.NewOpenAI(cfg.OpenAIAPIKey, cfg.TTSModel),
		Settings:  live.NewSettingsStore(settings),
		Registry:  session.NewRegistry(logger),
		Store:     snapshots,
		Metrics:   m,
		ICE:       iceProvider,
	})

	err = srv.Run(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// buildProvider selects the configured model backend.
func buildProvider(ctx context.Context, cfg config.Config) (engine.Provider, error) {
	switch cfg.EngineBackend {
	case config.EngineOpenAI:
		return engine.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel), nil
	case config.EngineGemini:
		p, err := engine.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.EngineBackend)
	}
}

// buildTools wires the tool registry: vector listing search, calendar
// availability, and booking creation with optional Postgres persistence.
func buildTools(ctx context.Context, cfg config.Config, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	host, port, err := splitQdrantAddr(cfg.QdrantAddr)
	if err != nil {
		return nil, err
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.QdrantAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	embedder := tools.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	registry.Register(tools.NewListingSearch(qc, embedder, cfg.QdrantCollection, cfg.SearchTopK))

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	calendar := tools.NewInMemoryCalendar()
	registry.Register(tools.NewCheckAvailability(calendar, cfg.CalendarID, loc))

	booking := tools.NewCreateBooking(calendar, cfg.CalendarID, loc)
	if cfg.DatabaseURL != "" {
		bookingStore, err := buildBookingStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		booking.OnBooked(func(ctx context.Context, event tools.Event, created tools.CreatedEvent) {
			sessionID, _ := core.SessionIDFrom(ctx)
			email := ""
			if len(event.Attendees) > 0 {
				email = event.Attendees[0]
			}
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := bookingStore.Insert(saveCtx, bookings.Booking{
				SessionID:      sessionID,
				ListingAddress: event.Location,
				CallerName:     event.AttendeeName,
				CallerEmail:    email,
				StartsAt:       event.Start,
				CalendarEvent:  created.EventID,
			})
			if err != nil {
				logger.Error("booking persistence failed", "error", err, "session_id", sessionID)
			}
		})
	}
	registry.Register(booking)

	return registry, nil
}

func buildBookingStore(ctx context.Context, dsn string) (*bookings.Store, error) {
	if err := bookings.Migrate(ctx, dsn); err != nil {
		return nil, fmt.Errorf("migrate bookings: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return bookings.New(pool), nil
}

func buildStore(cfg config.Config, logger *slog.Logger) store.SessionStore {
	if cfg.RedisAddr == "" {
		logger.Info("session snapshots in memory")
		return store.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	logger.Info("session snapshots in redis", "addr", cfg.RedisAddr)
	return store.NewRedisStore(client, cfg.SessionTTL)
}

func splitQdrantAddr(addr string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		// Bare host; use the default gRPC port.
		return addr, 6334, nil
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return "", 0, fmt.Errorf("qdrant addr %q: bad port", addr)
	}
	return host, port, nil
}
