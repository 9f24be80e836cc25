package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ihep/integration-gateway/internal/canonical"
	"github.com/ihep/integration-gateway/internal/config"
	"github.com/ihep/integration-gateway/internal/partner"
	"github.com/ihep/integration-gateway/internal/platform/db"
	"github.com/ihep/integration-gateway/internal/platform/hl7v2"
	"github.com/ihep/integration-gateway/internal/platform/middleware"
	"github.com/ihep/integration-gateway/internal/platform/queue"
	syncpkg "github.com/ihep/integration-gateway/internal/sync"
	"github.com/ihep/integration-gateway/internal/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "EHR Integration Gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the integration gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the gateway tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrate")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.EnsureSchema(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Schema is up to date.")
			return nil
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Stores: Postgres when configured, in-memory otherwise so the gateway
	// can run without external services in development.
	ctx := context.Background()
	var eventStore webhook.EventStore = webhook.NewInMemoryEventStore()
	var syncStore syncpkg.Store = syncpkg.NewInMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure schema")
		}
		eventStore = webhook.NewEventStorePG(pool)
		syncStore = syncpkg.NewStorePG(pool)
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
	}

	// Durable queue
	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.QueueEnabled() {
		rp, err := queue.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.QueueStream, cfg.RedisDB, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rp.Close()
		publisher = rp
		logger.Info().Str("stream", cfg.QueueStream).Msg("queue publisher connected")
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, queue publishing disabled")
	}

	// Partners
	registry, err := partner.NewRegistry(cfg.Partners, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build partner registry")
	}

	// Sync orchestrator
	localStore := syncpkg.NewInMemoryLocalStore()
	outbox := syncpkg.NewInMemoryOutbox()
	orch := syncpkg.NewOrchestrator(registry, syncStore, localStore, outbox, logger)

	// Webhook pipeline. Each partner gets a prefix route so any event type
	// it emits kicks an inbound sync; a sync already running counts as
	// handled.
	policy := webhook.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		Multiplier:   cfg.RetryMultiplier,
	}
	router := webhook.NewRouter(eventStore, publisher, policy, logger)
	for _, entry := range registry.All() {
		router.Register(entry.Definition.ID+".", orch.WebhookTrigger(entry.Definition.ID))
	}

	secrets := func(source string) (string, bool) {
		entry, ok := registry.Get(source)
		if !ok {
			return "", false
		}
		return entry.Definition.WebhookSecret, true
	}
	webhookHandler := webhook.NewHandler(router, eventStore, secrets, logger)
	syncHandler := syncpkg.NewHandler(orch, syncStore)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(1 << 20))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	apiV1 := e.Group("/api/v1")
	webhookHandler.RegisterRoutes(apiV1)
	syncHandler.RegisterRoutes(apiV1)

	// HL7v2 MLLP TCP listener
	if cfg.MLLPListenAddr != "" {
		mllpServer := hl7v2.NewServer(cfg.MLLPListenAddr, mllpDispatch(localStore, publisher, logger), logger)
		if err := mllpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("MLLP server failed to start")
		}
		defer mllpServer.Stop()
		logger.Info().Str("addr", cfg.MLLPListenAddr).Msg("MLLP server started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// mllpDispatch converts inbound HL7v2 messages to canonical resources, stores
// them, and publishes a queue message per resource. The returned ack reflects
// whether every resource was stored.
func mllpDispatch(store syncpkg.LocalStore, publisher queue.Publisher, logger zerolog.Logger) hl7v2.MessageHandler {
	return func(msg *hl7v2.Message) string {
		partnerID := msg.SendingFac
		if partnerID == "" {
			partnerID = msg.SendingApp
		}

		var resources []canonical.Resource
		switch {
		case strings.HasPrefix(msg.Type, "ADT"):
			res, err := canonical.PatientFromHL7(msg, partnerID)
			if err != nil {
				return hl7v2.GenerateAck(msg, hl7v2.AckError, err.Error())
			}
			resources = append(resources, res)
		case strings.HasPrefix(msg.Type, "ORU"):
			resources = canonical.ObservationsFromHL7(msg, partnerID)
		case strings.HasPrefix(msg.Type, "SIU"):
			res, err := canonical.AppointmentFromHL7(msg, partnerID)
			if err != nil {
				return hl7v2.GenerateAck(msg, hl7v2.AckError, err.Error())
			}
			resources = append(resources, res)
		default:
			return hl7v2.GenerateAck(msg, hl7v2.AckReject, "unsupported message type "+msg.Type)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, res := range resources {
			if err := store.Upsert(ctx, res); err != nil {
				logger.Error().Err(err).Str("key", res.Key()).Msg("failed to store inbound resource")
				return hl7v2.GenerateAck(msg, hl7v2.AckError, err.Error())
			}

			body, err := json.Marshal(res)
			if err != nil {
				logger.Error().Err(err).Str("key", res.Key()).Msg("failed to encode inbound resource")
				continue
			}
			pub := queue.Message{
				EventID:   uuid.New().String(),
				EventType: "hl7v2." + strings.ToLower(strings.ReplaceAll(msg.Type, "^", ".")),
				Source:    webhook.HashSource(partnerID),
				Body:      body,
			}
			if err := publisher.Publish(ctx, pub); err != nil {
				logger.Error().Err(err).Str("event_id", pub.EventID).Msg("queue publish failed")
			}
		}

		logger.Info().
			Str("message_type", msg.Type).
			Str("control_id", msg.ControlID).
			Int("resources", len(resources)).
			Msg("inbound HL7v2 message processed")
		return hl7v2.GenerateAck(msg, hl7v2.AckAccept, "")
	}
}
