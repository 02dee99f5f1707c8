/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmd/devicetracker/config"
	"github.com/dmd/devicetracker/internal/logger"
	"github.com/dmd/devicetracker/internal/mq"
	"github.com/dmd/devicetracker/internal/server"
	"github.com/spf13/cobra"
)

// eventsCmd represents the events command.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Work with the assignment event stream",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print assignment events as JSON lines until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.SetupDefault(os.Stderr, cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := server.OpenEvents(ctx, cfg)
		if err != nil {
			return err
		}
		if events == nil {
			return errors.New("EVENTS_BACKEND is not configured")
		}
		defer events.Close()

		// Pub/Sub delivers concurrently.
		var mu sync.Mutex
		enc := json.NewEncoder(cmd.OutOrStdout())
		log.Info("tailing assignment events", slog.String("backend", cfg.EventsBackend), slog.String("channel", cfg.EventsChannel))
		err = events.Subscribe(ctx, cfg.EventsChannel, func(ctx context.Context, msg mq.Message) error {
			event, err := mq.DecodeEvent(msg)
			if err != nil {
				// Undecodable messages are dropped so they are not redelivered forever.
				log.Warn("skipping malformed event", slog.String("message_id", msg.ID), slog.Any("error", err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(event)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
