// notifier keeps a notification socket open and archives every inbound
// message to Postgres.
// Usage: notifier --config configs/notifier.yaml [--env-file .env]
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/realtime-notify/internal/api"
	"github.com/rickgao/realtime-notify/internal/config"
	"github.com/rickgao/realtime-notify/internal/connection"
	"github.com/rickgao/realtime-notify/internal/database"
	"github.com/rickgao/realtime-notify/internal/metrics"
	"github.com/rickgao/realtime-notify/internal/router"
	"github.com/rickgao/realtime-notify/internal/version"
	"github.com/rickgao/realtime-notify/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := pflag.String("config", "configs/notifier.yaml", "path to config file")
	envFiles := pflag.StringSlice("env-file", []string{".env"}, "dotenv files loaded before the config (missing files are skipped)")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := pflag.String("log-format", "json", "log format (json, text)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting notifier",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(*configPath, *envFiles, logger); err != nil {
		logger.Error("notifier failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func run(configPath string, envFiles []string, logger *slog.Logger) error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.BaseURL,
		"database_enabled", cfg.Database.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create API client
	userAgent := cfg.API.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(userAgent),
	)

	session, err := newSession(ctx, cfg.Auth, apiClient, logger)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()

	clientCfg := cfg.ClientConfig()
	if clientCfg.Header == nil {
		clientCfg.Header = http.Header{"User-Agent": {userAgent}}
	}
	mgr := connection.NewManager(
		cfg.ManagerConfig(),
		session,
		connection.NewWebSocketDialer(clientCfg, logger),
		connection.WithLogger(logger),
		connection.WithObserver(collector),
	)
	defer mgr.Close()

	mgr.OnConnectionStateChange(func(s connection.State) {
		logger.Info("connection state", "state", s.String(), "reconnect_attempts", mgr.ReconnectAttempts())
	})

	var pool *pgxpool.Pool
	var rtr router.Router
	var nw *writer.NotificationWriter

	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")

		rtrCfg := router.DefaultRouterConfig()
		rtrCfg.BufferLimit = cfg.Writer.BufferSize
		rtrCfg.IgnoreTypes = cfg.Connection.IgnoreTypes
		rtr = router.NewRouter(rtrCfg, mgr, logger)

		nw = writer.NewNotificationWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			InstanceID:    cfg.Instance.ID,
		}, rtr.Buffer(), pool, logger)

		registerPipelineMetrics(collector, rtr, nw)
	}

	// Start router and writer before connecting so nothing is missed
	if rtr != nil {
		if err := rtr.Start(ctx); err != nil {
			return fmt.Errorf("start router: %w", err)
		}
		if err := nw.Start(ctx); err != nil {
			return fmt.Errorf("start writer: %w", err)
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHTTPHandler(cfg.Metrics.Path, collector, mgr, pool),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		mgr.Connect()
		<-gctx.Done()

		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		mgr.Disconnect()
		if rtr != nil {
			rtr.Stop(shutdownCtx)
			nw.Stop(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func registerPipelineMetrics(c *metrics.Collector, rtr router.Router, nw *writer.NotificationWriter) {
	c.GaugeFunc("router", "buffer_len", "Notifications waiting to be written", func() float64 {
		return float64(rtr.Stats().Buffer.Len)
	})
	c.CounterFunc("router", "evicted_total", "Notifications evicted from a full buffer", func() float64 {
		return float64(rtr.Stats().MessagesEvicted)
	})
	c.CounterFunc("router", "ignored_total", "Messages skipped by type filter", func() float64 {
		return float64(rtr.Stats().MessagesIgnored)
	})
	c.CounterFunc("writer", "inserts_total", "Notifications inserted", func() float64 {
		return float64(nw.Stats().Inserts)
	})
	c.CounterFunc("writer", "conflicts_total", "Notifications skipped as duplicates", func() float64 {
		return float64(nw.Stats().Conflicts)
	})
	c.CounterFunc("writer", "errors_total", "Failed insert batches", func() float64 {
		return float64(nw.Stats().Errors)
	})
}

// newHTTPHandler serves metrics and a health check.
func newHTTPHandler(metricsPath string, c *metrics.Collector, mgr *connection.Manager, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, c.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := mgr.State()
		health.Components["connection"] = map[string]any{
			"state":              state.String(),
			"reconnect_attempts": mgr.ReconnectAttempts(),
			"queued":             mgr.QueueLen(),
		}
		switch state {
		case connection.StateError:
			health.Status = "unhealthy"
		case connection.StateConnecting, connection.StateDisconnected:
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
