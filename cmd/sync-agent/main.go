package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/garimto81/gfx-json/internal/config"
	"github.com/garimto81/gfx-json/internal/health"
	"github.com/garimto81/gfx-json/internal/observability"
	"github.com/garimto81/gfx-json/internal/queue"
	"github.com/garimto81/gfx-json/internal/registry"
	"github.com/garimto81/gfx-json/internal/service"
	"github.com/garimto81/gfx-json/internal/supabase"
	"github.com/garimto81/gfx-json/internal/watcher"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Str("nas_base", cfg.NasBasePath).
		Msg("Starting GFX sync agent")

	// Initialize tracer (if enabled)
	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "gfx-sync-agent",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	// Source registry
	reg, err := registry.Load(cfg.FullRegistryPath(), cfg.NasBasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load source registry")
	}

	// Persisted file state for the watcher
	state, err := watcher.NewStateStore(cfg.StateDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file state store")
	}
	defer state.Close()

	// Durable retry queue
	q, err := queue.Open(cfg.QueueDBPath, cfg.QueueMaxSize, cfg.QueueMaxRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open retry queue")
	}
	defer q.Close()

	// Remote store client
	client := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseSecretKey, cfg.SupabaseTimeout)
	defer client.Close()

	w := watcher.New(reg.Enabled, state, cfg.FilePattern, cfg.PollInterval)
	agent := service.New(cfg, reg, w, client, q)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	agent.Start(ctx)

	var healthSrv *health.Server
	if cfg.HealthEnabled {
		healthSrv = health.NewServer(cfg.HealthPort, agent.Stats, q)
		healthSrv.Start()
	}

	log.Info().
		Str("instance_id", agent.InstanceID()).
		Msg("Sync agent started successfully")

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Received shutdown signal")

	// Graceful shutdown. Agent.Stop sequences the drain itself; cancelling
	// ctx here would abort its in-flight deliveries.
	log.Info().Msg("Shutting down gracefully...")

	if healthSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping health server")
		}
		shutdownCancel()
	}

	agent.Stop()

	log.Info().Msg("Sync agent stopped")
}
