package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhdewitt/tinyhttpd/internal/config"
	"github.com/nhdewitt/tinyhttpd/internal/files"
	"github.com/nhdewitt/tinyhttpd/internal/router"
	"github.com/nhdewitt/tinyhttpd/internal/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		return err
	}

	store, err := files.Open(cfg.Files.Directory)
	if err != nil {
		return err
	}
	defer store.Close()

	rt := router.New(store, logger)
	srv, err := server.Serve(cfg, rt.Route, logger)
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	logger.Info().
		Str("addr", srv.Addr().String()).
		Str("directory", store.Dir()).
		Int("workers", cfg.Pool.Size).
		Int("queue", cfg.Pool.QueueSize).
		Msg("server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}

	logger.Info().EmbedObject(srv.Stats()).Msg("server gracefully stopped")
	return nil
}
