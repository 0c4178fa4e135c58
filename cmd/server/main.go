package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/cloakshare/relay/internal/adapters/http"
	signalws "github.com/cloakshare/relay/internal/adapters/signal"
	"github.com/cloakshare/relay/internal/app"
	"github.com/cloakshare/relay/internal/config"
	"github.com/cloakshare/relay/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	directory := app.NewDirectory(app.DirectoryConfig{
		MeshMemberCap:  cfg.MeshMaxParticipants,
		CodeRetryLimit: cfg.CodeRetryLimit,
		PairTTL:        cfg.PairSessionTTL,
		MeshTTL:        cfg.MeshSessionTTL,
	}, store.NewMemoryStore())

	relay := &app.Relay{
		Directory: directory,
		Registry:  app.NewRegistry(),
		Policy:    app.NewSlowConsumerPolicy(8),
	}
	relay.Calls = app.NewCallMachine(app.CallConfig{
		RingTimeout:        cfg.RingTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		Cooldown:           cfg.CallCooldown,
	}, relay)
	relay.Mesh = app.NewMeshCoordinator(relay)

	reaper := app.NewReaper(app.ReaperConfig{
		Interval:       cfg.ReapInterval,
		PairTTL:        cfg.PairSessionTTL,
		MeshTTL:        cfg.MeshSessionTTL,
		PairIdleCutoff: cfg.PairIdleCutoff,
		MeshIdleCutoff: cfg.MeshIdleCutoff,
	}, relay)
	go reaper.Run(ctx)

	ctrl := signalws.NewController(relay, signalws.Config{
		ReadLimit:    cfg.ReadLimit,
		MaxFileSize:  cfg.MaxFileSize,
		CreateLimit:  cfg.CreateRateLimit,
		CreateWindow: cfg.CreateRateWindow,
	})

	r := router.SetupRouter(ctx, cfg, relay, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
