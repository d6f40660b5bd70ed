package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/config"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/flow"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/geminiservice"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/server"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/session"
	"github.com/chaeyeong-lee-00/Taste-of-Weather/internal/utility"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 10 * time.Second
)

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func gracefulShutdown(ctx context.Context, apiServer *http.Server) error {
	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	// The server has 5 seconds to finish the requests it is currently handling.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	return nil
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	setupLogger(cfg.Log)

	ai := geminiservice.NewClient(cfg.Gemini.APIKey,
		geminiservice.WithTextModel(cfg.Gemini.Model),
		geminiservice.WithImageModel(cfg.Gemini.ImageModel),
		geminiservice.WithBaseURL(cfg.Gemini.BaseURL),
		geminiservice.WithRetry(cfg.Gemini.MaxRetries, cfg.Gemini.InitialBackoff),
		geminiservice.WithRequestTimeout(cfg.Gemini.RequestTimeout),
		geminiservice.WithLogger(&log.Logger),
	)

	store, err := session.NewStore(session.Options{
		Secret:     []byte(cfg.Session.Secret),
		MaxEntries: cfg.Session.MaxEntries,
		IdleTTL:    cfg.Session.IdleTTL,
		SweepSpec:  cfg.Session.SweepSpec,
		Secure:     cfg.IsProduction(),
		Logger:     &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not create session store")
	}
	if err := store.Start(); err != nil {
		log.Fatal().Err(err).Msg("could not start session janitor")
	}
	defer store.Stop()

	srv := server.New(cfg, store, flow.NewMachine(ai, &log.Logger), utility.NewHub())
	apiServer := srv.HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", apiServer.Addr).Str("env", cfg.AppEnv).Msg("server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := gracefulShutdown(gctx, apiServer)
		stop() // Allow Ctrl+C to force shutdown
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("http server error")
	}

	srv.Drain(drainTimeout)
	log.Info().Msg("graceful shutdown complete")
}
