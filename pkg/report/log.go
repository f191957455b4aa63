// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package report

import (
	"context"
	"log/slog"

	"github.com/jeremyhahn/go-pinguard/pkg/pinning"
)

// LogReporter writes reports to a structured logger. Report-only mismatches
// are logged at warn level, everything else at error level.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter. If logger is nil, slog.Default() is
// used.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger.With("component", "pin_report")}
}

// Report logs r.
func (l *LogReporter) Report(ctx context.Context, r *Report) {
	level := slog.LevelError
	if r.Verdict == pinning.MismatchReportOnly {
		level = slog.LevelWarn
	}
	attrs := []any{
		"host", r.Host,
		"verdict", r.Verdict.String(),
		"enforced", r.Enforced,
		"expected", r.KnownPins,
		"computed", r.ComputedPins,
	}
	if r.NotedHost != "" && r.NotedHost != r.Host {
		attrs = append(attrs, "policy_host", r.NotedHost)
	}
	if r.Error != "" {
		attrs = append(attrs, "error", r.Error)
	}
	l.logger.Log(ctx, level, "pin validation failed", attrs...)
}
