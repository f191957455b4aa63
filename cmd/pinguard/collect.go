// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinguard/internal/collector"
	"github.com/jeremyhahn/go-pinguard/internal/config"
	"github.com/jeremyhahn/go-pinguard/pkg/report"
)

// collectCmd runs the report-uri collector.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a report-uri collector for pin violation reports",
	Long: `Run an HTTP endpoint that accepts pin violation reports as posted by
pinguard clients configured with report_uris.

  POST /v1/reports          submit one JSON report
  GET  /v1/reports          list recent reports (?host=, ?limit=)
  GET  /v1/reports/summary  report counts per host
  GET  /healthz             liveness

Reports are kept in memory unless --redis-addr is set. Every flag falls back
to a PINGUARD_* environment variable: PINGUARD_LISTEN_ADDR,
PINGUARD_REDIS_ADDR, PINGUARD_REDIS_PASSWORD, PINGUARD_REDIS_DB,
PINGUARD_REDIS_KEY, PINGUARD_MAX_REPORTS, PINGUARD_MAX_BODY_BYTES,
PINGUARD_SHUTDOWN_TIMEOUT and PINGUARD_LOG_REPORTS.`,
	RunE: runCollect,
}

var collectSettings = config.CollectorFromEnv()

func init() {
	f := collectCmd.Flags()
	f.StringVar(&collectSettings.ListenAddr, "listen", collectSettings.ListenAddr, "TCP listen address")
	f.StringVar(&collectSettings.RedisAddr, "redis-addr", collectSettings.RedisAddr, "Redis address (default: in-memory store)")
	f.IntVar(&collectSettings.RedisDB, "redis-db", collectSettings.RedisDB, "Redis database")
	f.StringVar(&collectSettings.RedisKey, "redis-key", collectSettings.RedisKey, "Redis key prefix")
	f.IntVar(&collectSettings.MaxReports, "max-reports", collectSettings.MaxReports, "number of reports retained")
	f.Int64Var(&collectSettings.MaxBodyBytes, "max-body-bytes", collectSettings.MaxBodyBytes, "maximum report size")
	f.DurationVar(&collectSettings.ShutdownTimeout, "shutdown-timeout", collectSettings.ShutdownTimeout, "graceful shutdown timeout")
	f.BoolVar(&collectSettings.LogReports, "log-reports", collectSettings.LogReports, "log every accepted report")
}

func runCollect(cmd *cobra.Command, args []string) error {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, sigStop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigStop()

	server, closeStore, err := newCollector(sigCtx, collectSettings, slog.Default())
	if err != nil {
		return err
	}
	defer closeStore()

	if err := server.Run(sigCtx, collectSettings.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrCollectorFailed, err)
	}
	slog.Info("collector stopped")
	return nil
}

// newCollector builds the collector server and its store from settings.
func newCollector(ctx context.Context, settings config.Collector, logger *slog.Logger) (*collector.Server, func(), error) {
	if settings.ListenAddr == "" {
		return nil, nil, fmt.Errorf("%w: listen address is required", ErrInvalidInput)
	}

	var (
		store      collector.Store
		closeStore = func() {}
	)
	if settings.RedisAddr != "" {
		rs, err := collector.NewRedisStore(&collector.RedisConfig{
			Addr:       settings.RedisAddr,
			Password:   settings.RedisPassword,
			DB:         settings.RedisDB,
			Key:        settings.RedisKey,
			MaxReports: settings.MaxReports,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("%w: %w", ErrCollectorFailed, err)
		}
		store = rs
		closeStore = func() { _ = rs.Close() }
		logger.Info("using redis report store", "addr", settings.RedisAddr, "key", settings.RedisKey)
	} else {
		ms, err := collector.NewMemoryStore(settings.MaxReports)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		store = ms
	}

	var forward report.Reporter
	if settings.LogReports {
		forward = report.NewLogReporter(logger)
	}

	server, err := collector.NewServer(&collector.ServerConfig{
		Store:           store,
		Forward:         forward,
		MaxBodyBytes:    settings.MaxBodyBytes,
		ShutdownTimeout: settings.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return server, closeStore, nil
}
