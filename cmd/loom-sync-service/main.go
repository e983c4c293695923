// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// loom-sync-service is the server of record for Loom's real-time
// state layer: the entity store, the REST surface clients fetch from,
// and the WebRTC room server that carries change envelopes and
// presence rosters.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/config"
	"github.com/loomchat/loom/lib/jointoken"
	"github.com/loomchat/loom/server"
	"github.com/loomchat/loom/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var listenOverride string

	flagSet := pflag.NewFlagSet("loom-sync-service", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "loom.yaml", "path to the service configuration file")
	flagSet.StringVar(&listenOverride, "listen", "", "override the configured listen address")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Server.ListenAddress = listenOverride
	}

	secret, err := os.ReadFile(cfg.Realtime.TokenSecretFile)
	if err != nil {
		return fmt.Errorf("reading token secret: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	issuer, err := jointoken.NewIssuer(jointoken.IssuerConfig{
		Secret: secret,
		TTL:    cfg.Realtime.TokenTTL,
		Clock:  clk,
	})
	if err != nil {
		return err
	}

	store, err := server.OpenStore(server.StoreConfig{
		Path:   cfg.Server.DatabasePath,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	rooms, err := transport.NewRoomServer(transport.RoomServerConfig{
		Tokens:      issuer,
		STUNServers: cfg.Realtime.STUNServers,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer rooms.Close()

	metrics := server.NewMetrics()
	api, err := server.NewAPI(server.APIConfig{
		Store:       store,
		Broadcaster: server.NewBroadcaster(rooms, logger, metrics),
		Tokens:      issuer,
		Rooms:       rooms,
		Clock:       clk,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.ListenAndServe()
	}()

	logger.Info("sync service running",
		"environment", cfg.Environment,
		"listen", cfg.Server.ListenAddress,
		"database", cfg.Server.DatabasePath,
	)

	select {
	case err := <-serveDone:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := <-serveDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
