package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/mcdev12/refgame/go/internal/refgame/config"
	"github.com/mcdev12/refgame/go/internal/refgame/datalog"
	"github.com/mcdev12/refgame/go/internal/refgame/dispatcher"
	"github.com/mcdev12/refgame/go/internal/refgame/gateway"
	"github.com/mcdev12/refgame/go/internal/refgame/trials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := config.FromEnv()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.LogLevel)

	catalog, err := trials.LoadCatalog(cfg.StimuliFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.StimuliFile).Msg("failed to load stimuli")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mirrors []datalog.MirrorOpener
	var checks []gateway.HealthCheck

	if cfg.DatabaseEnabled {
		pg, err := datalog.NewPostgresMirror(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Str("dsn", cfg.Database.Redacted()).Msg("failed to connect to database")
		}
		defer pg.Close()
		mirrors = append(mirrors, pg)
		checks = append(checks, pg)
	}

	if cfg.JetStream.URL != "" {
		js, err := datalog.NewJetStreamMirror(ctx, cfg.JetStream)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.JetStream.URL).Msg("failed to connect to NATS")
		}
		defer js.Close()
		mirrors = append(mirrors, js)
		checks = append(checks, js)
	}

	log.Info().
		Str("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Int("rounds", catalog.Rounds()).
		Int("mirrors", len(mirrors)).
		Dur("round_advance_delay", cfg.Dispatcher.RoundAdvanceDelay).
		Msg("starting refgame server")

	establisher := datalog.NewEstablisher(cfg.DataDir, mirrors...)
	d := dispatcher.New(establisher, clockwork.NewRealClock(), cfg.Dispatcher)
	svc := gateway.NewService(gateway.DefaultConfig(), d, trials.NewGenerator(catalog, seed))
	for _, c := range checks {
		svc.AddHealthCheck(c)
	}
	svc.AddCounter(establisher)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     svc.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	svcDone := make(chan struct{})
	go func() {
		defer close(svcDone)
		if err := svc.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Ends every session, closing its data files
	cancel()
	select {
	case <-svcDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timed out waiting for sessions to end")
	}

	log.Info().Msg("refgame shutdown complete")
}
