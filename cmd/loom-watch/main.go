// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// loom-watch is a read-only observer for a Loom space: it joins the
// space's room, runs the full sync loop, and prints entity changes and
// roster movements as they happen. Useful for verifying a deployment
// end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/loomchat/loom/client"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/replica"
	"github.com/loomchat/loom/schema"
	"github.com/loomchat/loom/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var serverURL string
	var spaceFlag string
	var identityFlag string
	var refresh time.Duration
	var verbose bool

	flagSet := pflag.NewFlagSet("loom-watch", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "http://localhost:8480", "base URL of the sync service")
	flagSet.StringVar(&spaceFlag, "space", "", "space to watch, e.g. @space-1")
	flagSet.StringVar(&identityFlag, "identity", "@loom-watch", "participant identity to join as")
	flagSet.DurationVar(&refresh, "refresh", time.Minute, "periodic full refresh interval (0 disables)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log transport internals")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if spaceFlag == "" {
		return fmt.Errorf("--space is required")
	}

	space, err := ref.ParseSpaceID(spaceFlag)
	if err != nil {
		return err
	}
	identity, err := ref.ParseParticipantID(identityFlag)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	remote := client.NewRemote(serverURL, nil)
	binding, err := transport.NewWebRTCBinding(transport.WebRTCBindingConfig{
		Tokens: client.NewTokenSource(remote, identity),
		Joiner: &transport.HTTPJoiner{BaseURL: serverURL},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// Print raw room traffic alongside the replica's view: envelopes
	// as they arrive, rosters as members come and go.
	binding.Subscribe(func(envelope schema.Envelope) {
		fmt.Printf("%s  %s %s\n", envelope.Timestamp, envelope.Type, envelope.Data.ID)
	})
	binding.OnRoster(func(roster []ref.ParticipantID) {
		fmt.Printf("roster (%d):", len(roster))
		for _, participant := range roster {
			fmt.Printf(" %s", participant)
		}
		fmt.Println()
	})

	orchestrator, err := replica.New(replica.Config{
		Binding:         binding,
		Remote:          remote,
		Logger:          logger,
		RefreshInterval: refresh,
		OnState: func(state replica.State) {
			fmt.Printf("state: %s\n", state)
		},
	})
	if err != nil {
		return err
	}
	defer orchestrator.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Connect(ctx, space); err != nil {
		return err
	}

	views := orchestrator.List()
	fmt.Printf("synced %d entities in %s\n", len(views), space)
	for _, view := range views {
		printView(view)
	}

	<-ctx.Done()
	return nil
}

func printView(view replica.View) {
	online := ""
	if view.Kind == schema.KindBeing {
		online = "  offline"
		if view.Online {
			online = "  online"
		}
	}
	fmt.Printf("  %s  %s  %s%s\n", view.ID, view.Kind, view.ModifiedAt.Format(time.RFC3339), online)
}
