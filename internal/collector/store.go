// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package collector receives pin violation reports posted by
// report.HTTPReporter (or any RFC 7469 style report-uri client) and keeps
// the most recent ones in memory or in Redis.
package collector

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-pinguard/pkg/report"
)

var (
	// ErrInvalidConfig indicates the collector configuration is invalid.
	ErrInvalidConfig = errors.New("collector: invalid configuration")

	// ErrInvalidReport indicates a submitted report failed validation.
	ErrInvalidReport = errors.New("collector: invalid report")

	// ErrStoreFailed indicates the report store could not complete an
	// operation.
	ErrStoreFailed = errors.New("collector: store failed")
)

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 100

// Store persists received reports. Implementations must be safe for
// concurrent use.
type Store interface {
	// Add records a report.
	Add(ctx context.Context, r *report.Report) error

	// List returns up to limit reports, newest first. A non-empty host
	// restricts the result to reports for that hostname.
	List(ctx context.Context, host string, limit int) ([]report.Report, error)

	// Summary returns the number of reports received per hostname.
	Summary(ctx context.Context) (map[string]int64, error)
}

// MemoryStore keeps the most recent reports in a bounded ring.
type MemoryStore struct {
	mu     sync.Mutex
	ring   []report.Report
	next   int
	full   bool
	counts map[string]int64
}

// NewMemoryStore creates a MemoryStore holding at most capacity reports.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		return nil, ErrInvalidConfig
	}
	return &MemoryStore{
		ring:   make([]report.Report, capacity),
		counts: make(map[string]int64),
	}, nil
}

// Add implements Store.
func (m *MemoryStore) Add(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = *r
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	m.counts[strings.ToLower(r.Host)]++
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, host string, limit int) ([]report.Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	host = strings.ToLower(host)

	m.mu.Lock()
	defer m.mu.Unlock()
	size := m.next
	if m.full {
		size = len(m.ring)
	}
	out := make([]report.Report, 0, min(limit, size))
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (m.next - 1 - i + len(m.ring)) % len(m.ring)
		r := m.ring[idx]
		if host != "" && !strings.EqualFold(r.Host, host) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Summary implements Store.
func (m *MemoryStore) Summary(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for host, n := range m.counts {
		out[host] = n
	}
	return out, nil
}

// HostCount is one row of a sorted summary.
type HostCount struct {
	Host    string `json:"host"`
	Reports int64  `json:"reports"`
}

// SortedSummary orders a summary by descending count, then hostname.
func SortedSummary(summary map[string]int64) []HostCount {
	out := make([]HostCount, 0, len(summary))
	for host, n := range summary {
		out = append(out, HostCount{Host: host, Reports: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reports != out[j].Reports {
			return out[i].Reports > out[j].Reports
		}
		return out[i].Host < out[j].Host
	})
	return out
}
