package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homesync/pkg/hub"
	homesyncmcp "github.com/urmzd/homesync/pkg/mcp"
	"github.com/urmzd/homesync/pkg/scene"
	"github.com/urmzd/homesync/pkg/schema"
	"github.com/urmzd/homesync/pkg/session"
	"github.com/urmzd/homesync/pkg/transport"
)

func main() {
	// Logging must go to stderr — stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to session database (default: ~/.config/homesync/homesync.db)")
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

	// Resume the saved session; the MCP surface is read-mostly and still
	// useful disconnected, so a missing session is not fatal.
	saved, err := database.LoadSession(ctx)
	switch {
	case err == nil:
		if err := h.Connect(ctx, saved.Endpoint, saved.Token, transport.Kind(saved.Transport)); err != nil {
			log.Warn().Err(err).Msg("Initial connection failed, starting disconnected")
		}
	case errors.Is(err, session.ErrNoSession):
		log.Info().Msg("No saved session, starting disconnected")
	default:
		log.Fatal().Err(err).Msg("Failed to load saved session")
	}

	mcpServer := homesyncmcp.NewServer(h, engine)

	log.Info().Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
