package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvjson/internal/config"
	"github.com/JonMunkholm/csvjson/internal/core"
	"github.com/JonMunkholm/csvjson/internal/logging"
	"github.com/JonMunkholm/csvjson/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"history_backend", cfg.History.Backend,
		"convert_max_concurrent", cfg.Convert.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	history, err := openHistory(ctx, cfg)
	if err != nil {
		slog.Error("failed to open job history", "backend", cfg.History.Backend, "error", err)
		os.Exit(1)
	}
	defer history.Close()

	core.JobTimeout = cfg.Convert.JobTimeout
	limiter := core.NewLimiter(cfg.Convert.MaxConcurrent, cfg.Convert.MaxWaitTime)
	service := core.NewService(limiter, history)

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartHistoryPruner(jobCtx, core.PruneConfig{
		Retention:     cfg.History.Retention,
		CheckInterval: cfg.History.PruneInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running conversions (with timeout)
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for conversions to complete", "active", status.Active)
			if err := service.WaitForConversions(shutdownCtx); err != nil {
				slog.Warn("conversions did not complete in time", "error", err)
			} else {
				slog.Info("all conversions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	slog.Info("server stopped")
}

// openHistory opens the job history backend selected by cfg.
func openHistory(ctx context.Context, cfg *config.Config) (core.HistoryStore, error) {
	switch strings.ToLower(cfg.History.Backend) {
	case config.HistoryFile:
		slog.Info("using file job history", "path", cfg.History.Path)
		return core.OpenFileHistory(cfg.History.Path, cfg.History.Capacity)

	case config.HistoryPostgres:
		pool, err := connectDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		h, err := core.NewPostgresHistory(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return h, nil

	default:
		return core.NewMemoryHistory(cfg.History.Capacity), nil
	}
}

// connectDB opens and verifies a pgx pool configured from cfg.
func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
