package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genstudio/internal/bootstrap"
	"genstudio/internal/domain"
	"genstudio/internal/http/handlers"
	httpapi "genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/infra/geoip"
	"genstudio/internal/middleware"
	"genstudio/internal/session"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer stack.Close()

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	sessions, err := session.NewManager(session.Options{
		Factory:     stack.NewOrchestrator,
		IdleTimeout: cfg.SessionIdleTimeout,
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: session manager")
	}
	go sessions.RunReaper(ctx, time.Minute)

	var lister domain.ArtifactLister
	if stack.Artifacts != nil {
		lister = stack.Artifacts
	}
	app, err := handlers.NewApp(handlers.AppOptions{
		Sessions:  sessions,
		Artifacts: lister,
		Gatherer:  stack.Registry,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: handlers")
	}

	router := httpapi.NewRouter(app, httpapi.Deps{
		Logger:          &logger,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Static:          stack.Files.Handler(),
	})
	server := infra.NewHTTPServer(cfg, router)
	// Ends open event streams before the server waits on them.
	cancelled := 0
	server.BeforeShutdown(func() { cancelled = sessions.CloseAll() })

	logger.Info().
		Str("port", cfg.Port).
		Str("backend", cfg.ProviderBackend).
		Msg("api: listening")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
		cancelled += sessions.CloseAll()
	}
	logger.Info().Int("cancelled_tasks", cancelled).Msg("api: stopped")
}
