package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homesync/pkg/api"
	"github.com/urmzd/homesync/pkg/hub"
	"github.com/urmzd/homesync/pkg/scene"
	"github.com/urmzd/homesync/pkg/schema"
	"github.com/urmzd/homesync/pkg/session"
	"github.com/urmzd/homesync/pkg/transport"
)

// @title           Homesync API
// @version         1.0
// @description     REST API over a live mirror of a smart-home controller's entity state

// @host      localhost:8090
// @BasePath  /api/v1
// @schemes   http https

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to session database (default: ~/.config/homesync/homesync.db)")
	addr := flag.String("addr", "0.0.0.0:8090", "API listen address")
	endpoint := flag.String("endpoint", "", "Controller base URL (overrides the saved session)")
	token := flag.String("token", "", "Bearer credential (overrides the saved session)")
	kind := flag.String("transport", string(transport.KindPush), "Transport kind: push or rest")
	flag.Parse()

	ctx := context.Background()

	// Open the session database
	database, err := session.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session database")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close session database")
		}
	}()

	log.Info().Str("path", database.Path()).Msg("Session database opened")

	if err := database.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	validator := schema.NewValidator()
	h := hub.New(validator, database)
	engine := scene.NewEngine(h)

	// Resume the saved session unless overridden on the command line
	resume := &session.Session{
		Endpoint:  *endpoint,
		Token:     *token,
		Transport: *kind,
	}
	if resume.Endpoint == "" {
		saved, err := database.LoadSession(ctx)
		switch {
		case err == nil:
			resume = saved
		case errors.Is(err, session.ErrNoSession):
			resume = nil
		default:
			log.Fatal().Err(err).Msg("Failed to load saved session")
		}
	}

	if resume != nil {
		log.Info().Str("endpoint", resume.Endpoint).Str("transport", resume.Transport).
			Msg("Connecting to controller")
		if err := h.Connect(ctx, resume.Endpoint, resume.Token, transport.Kind(resume.Transport)); err != nil {
			log.Warn().Err(err).Msg("Initial connection failed, starting disconnected")
		}
	} else {
		log.Info().Msg("No saved session, starting disconnected")
	}

	router := api.NewRouter(h, engine)

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down...")
		h.Disconnect()
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close session database")
		}
		os.Exit(0)
	}()

	log.Info().Str("address", *addr).Msg("Starting API server")

	if err := router.Run(*addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
