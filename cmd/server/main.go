package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/api"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/config"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/dispatch"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/escalation"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/events"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/lottery"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/metrics"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/presence"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/shifts"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/skills"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/store"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/workload"
	"github.com/trojahn-tecnologia/troia-assignment-engine/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting troia assignment engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Assignment store: DynamoDB in production, in-memory for local runs
	backend, err := store.NewBackend(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize assignment store")
	}

	// WebSocket hub fans assignment events out to dashboards
	hub := events.NewHub(log.Logger)
	go hub.Run()

	assignments := store.NewAssignments(backend, hub, log.Logger)

	// Presence: in-memory tracker fed by /internal/availability, optionally
	// mirrored through Redis for other engine instances
	tracker := presence.NewTracker()
	var presenceSrc presence.Source = tracker
	var mirror *presence.RedisSource
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		mirror = presence.NewRedisSource(client, tracker, log.Logger)
		presenceSrc = mirror
		log.Info().Str("addr", cfg.RedisAddr).Msg("presence mirrored through redis")
	}

	workloads := workload.NewTracker(cfg.Timezone)
	resolver := shifts.NewResolver(presenceSrc, workloads, log.Logger)
	skillFilter := skills.NewFilter()
	lotteryEngine := lottery.NewEngine(rand.NewSource(time.Now().UnixNano()), log.Logger)

	configs := dispatch.NewConfigRegistry()
	ruleRegistry := dispatch.NewRuleRegistry()
	directory := dispatch.NewDirectory()

	dispatcher := dispatch.NewDispatcher(
		configs, ruleRegistry, directory, resolver, skillFilter,
		workloads, lotteryEngine, assignments, presenceSrc, log.Logger,
	)

	escalationMgr := escalation.NewManager(assignments, nil, log.Logger)
	escalationMgr.SetDispatcher(dispatcher)
	dispatcher.SetEscalationHook(escalationMgr)
	defer escalationMgr.Stop()

	// HTTP handlers
	assignHandler := api.NewAssignmentsHandler(dispatcher, assignments, workloads, log.Logger)
	lifecycleHandler := api.NewLifecycleHandler(assignments, workloads, escalationMgr, configs, log.Logger)
	availHandler := api.NewAvailabilityHandler(tracker, mirror, log.Logger)
	wsHandler := events.NewHandler(hub, cfg, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())
	r.Get("/ws", wsHandler.ServeHTTP)

	r.Route("/api/assignments", func(r chi.Router) {
		r.Post("/", assignHandler.Create)
		r.Post("/bulk", assignHandler.Bulk)
		r.Get("/", assignHandler.History)
		r.Get("/{id}", assignHandler.Get)
		r.Post("/{id}/accept", lifecycleHandler.Accept)
		r.Post("/{id}/reject", lifecycleHandler.Reject)
		r.Post("/{id}/complete", lifecycleHandler.Complete)
		r.Post("/{id}/cancel", lifecycleHandler.Cancel)
	})
	r.Get("/api/workload/{userId}", assignHandler.Workload)

	// Internal routes for sibling platform services
	r.Route("/internal", func(r chi.Router) {
		r.Post("/availability", availHandler.Ingest)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"troia-assignment-engine"}`)
}
