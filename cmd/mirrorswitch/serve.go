package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/BadgerOps/mirrorswitch/internal/locator"
	"github.com/BadgerOps/mirrorswitch/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Activate the fastest mirror and serve the resolution API",
		Long: `Register the configured mirrors, race them, activate the winner and start
the HTTP API. Resolution requests are rewritten to the active mirror. When no
mirror can be activated the server still starts and identifiers pass through
unchanged.

By default, the server listens on the address configured in the config file
(default: 0.0.0.0:8080). Use --listen to override.`,
		Example: `  mirrorswitch serve
  mirrorswitch serve --listen 127.0.0.1:9000`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalService == nil {
		return fmt.Errorf("locator service not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := globalService.Bootstrap(ctx, locator.BootstrapConfig{
		Enabled: globalCfg.Mirrors.Enabled,
		Remotes: globalCfg.Mirrors.Remotes,
		Tries:   globalCfg.Mirrors.URLTriesCount,
		Timeout: globalCfg.Mirrors.Timeout(),
	})
	switch {
	case res.Success:
		log.Info("mirror active", "remote_url", res.URL, "catalog_url", res.CatalogURL)
	case errors.Is(res.Err, locator.ErrGloballyDisabled):
		log.Info("remote mirrors disabled, identifiers pass through unchanged")
	default:
		log.Warn("no mirror activated, identifiers pass through unchanged", "error", res.Err)
	}

	srv := server.NewServer(globalService, globalResolver, globalStore, globalCfg, globalRegistry, logger)

	errChan := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
		fmt.Fprintln(os.Stderr, "\nShutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := multierr.Combine(
		srv.Shutdown(shutdownCtx),
		globalService.Close(),
	)
	globalService = nil
	globalStore = nil
	if err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}
