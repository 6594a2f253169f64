// notifytail connects to the notification socket and prints messages to the console.
// Usage: go run ./cmd/notifytail --config configs/notifier.yaml [--type notification]
//
// Credentials come from the config's auth section; ${VAR} references are
// expanded from the environment and any --env-file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/realtime-notify/internal/api"
	"github.com/rickgao/realtime-notify/internal/auth"
	"github.com/rickgao/realtime-notify/internal/config"
	"github.com/rickgao/realtime-notify/internal/connection"
)

func main() {
	configPath := pflag.String("config", "configs/notifier.yaml", "path to config file")
	envFiles := pflag.StringSlice("env-file", []string{".env"}, "dotenv files loaded before the config")
	types := pflag.StringSlice("type", nil, "only print these message types (default: all)")
	verbose := pflag.BoolP("verbose", "v", false, "print full payload JSON")
	pflag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadDotEnv(*envFiles...); err != nil {
		logger.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiClient := api.NewClient(cfg.API.BaseURL, api.WithLogger(logger), api.WithTimeout(cfg.API.Timeout))

	initial := auth.Tokens{AccessToken: cfg.Auth.AccessToken, RefreshToken: cfg.Auth.RefreshToken}
	if cfg.Auth.TokenFile != "" {
		if stored, err := auth.LoadTokens(cfg.Auth.TokenFile); err == nil && stored.AccessToken != "" {
			initial = stored
		}
	}
	if initial.AccessToken == "" && cfg.Auth.Email != "" {
		initial, err = apiClient.Login(ctx, cfg.Auth.Email, cfg.Auth.Password)
		if err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
	}
	session := auth.NewSession(apiClient, initial, logger)

	mgr := connection.NewManager(
		cfg.ManagerConfig(),
		session,
		connection.NewWebSocketDialer(cfg.ClientConfig(), logger),
		connection.WithLogger(logger),
	)
	defer mgr.Close()

	mgr.OnConnectionStateChange(func(s connection.State) {
		fmt.Printf("[STATE] %s attempts=%d queued=%d\n", s, mgr.ReconnectAttempts(), mgr.QueueLen())
	})

	show := func(msg connection.Message) { printMessage(msg, *verbose) }
	if len(*types) == 0 {
		mgr.On(connection.ChannelMessage, show)
	} else {
		for _, t := range *types {
			mgr.On(t, show)
		}
	}

	mgr.Connect()
	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Disconnect()
	logger.Info("shutdown complete")
}

func printMessage(msg connection.Message, verbose bool) {
	ts := time.Now().Format("15:04:05.000")
	if !verbose {
		fmt.Printf("%s [%s] %d bytes\n", ts, msg.Type, len(msg.Payload))
		return
	}

	var v any
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		fmt.Printf("%s [%s] %s\n", ts, msg.Type, msg.Payload)
		return
	}
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Printf("%s [%s] %s\n", ts, msg.Type, data)
}
