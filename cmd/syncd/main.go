package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sync-client/internal/config"
	"sync-client/internal/engine"
	"sync-client/internal/obs"
	"sync-client/internal/session"
	"sync-client/internal/sink"
	"sync-client/internal/status"
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "Realtime messaging & notification sync daemon",
		Long: `syncd maintains an authenticated realtime channel to the server and
keeps the conversation directory, open thread and notification feed
consistent across reconnects, out-of-order delivery and concurrent REST
calls. Embedding surfaces read its state over the status endpoint or by
linking the engine directly.`,
	}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			log := obs.NewLogger(cfg.Env, level)
			slog.SetDefault(log)
			log.Info("starting sync daemon", "env", cfg.Env)

			keys := session.Keys{
				Token:       cfg.Session.TokenKey,
				LegacyToken: cfg.Session.LegacyTokenKey,
				Refresh:     cfg.Session.RefreshKey,
				Profile:     cfg.Session.ProfileKey,
			}
			var store session.Store
			switch cfg.Session.Backend {
			case "memory":
				store = session.NewMemoryStore(keys)
			default:
				rs, err := session.NewRedisStore(&cfg.Redis, keys, log)
				if err != nil {
					return fmt.Errorf("session store: %w", err)
				}
				defer rs.Close()
				store = rs
			}

			opts := engine.Options{}
			if cfg.Sink.Enabled {
				ks := sink.NewKafka(cfg.Sink.Brokers, cfg.Sink.Topic, log)
				defer ks.Close()
				opts.Sink = ks
				log.Info("event sink enabled", "topic", cfg.Sink.Topic)
			}
			eng := engine.New(cfg, store, log, opts)

			srv := &http.Server{
				Addr:    cfg.Status.Addr,
				Handler: status.NewRouter(eng),
			}
			go func() {
				log.Info("status server listening", "addr", cfg.Status.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("status server failed", "error", err)
				}
			}()

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				log.Info("shutting down")
				cancel()
			}()

			eng.Run(ctx)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := addr
			if strings.HasPrefix(target, ":") {
				target = "localhost" + target
			}

			resp, err := http.Get("http://" + target + "/status")
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}
			defer resp.Body.Close()

			var state struct {
				Connected           bool   `json:"connected"`
				State               string `json:"state"`
				Conversations       int    `json:"conversations"`
				UnreadTotal         int    `json:"unreadTotal"`
				NotificationsUnread int    `json:"notificationsUnread"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
				return fmt.Errorf("malformed status response: %w", err)
			}

			if state.Connected {
				color.Green("● connected")
			} else {
				color.Red("● %s", state.State)
			}
			fmt.Printf("conversations:         %d\n", state.Conversations)
			fmt.Printf("unread messages:       %d\n", state.UnreadTotal)
			fmt.Printf("unread notifications:  %d\n", state.NotificationsUnread)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8990", "status address of the running daemon")
	return cmd
}
