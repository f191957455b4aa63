// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultQueueSize is the number of reports buffered for delivery.
	DefaultQueueSize = 64

	// DefaultSendTimeout bounds a single report POST.
	DefaultSendTimeout = 10 * time.Second

	// ContentType is the media type of posted reports.
	ContentType = "application/json"
)

// HTTPConfig configures an HTTPReporter.
type HTTPConfig struct {
	// URIs receive every report, in addition to the policy-specific
	// Report.ReportURIs.
	URIs []string

	// Client sends the reports. Defaults to an http.Client with the
	// standard transport; it must not itself be pinned to a policy that
	// reports through this reporter.
	Client *http.Client

	// QueueSize is the delivery buffer. When full, new reports are dropped.
	// Default: DefaultQueueSize.
	QueueSize int

	// SendTimeout bounds each POST. Default: DefaultSendTimeout.
	SendTimeout time.Duration

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

type delivery struct {
	uris []string
	body []byte
}

// HTTPReporter posts JSON reports to report-uri collectors from a background
// worker so that the handshake path never waits on the network.
type HTTPReporter struct {
	uris     []string
	client   *http.Client
	timeout  time.Duration
	queue    chan delivery
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger

	// mu orders enqueues before Close so the worker's final drain sees
	// every accepted report.
	mu     sync.RWMutex
	closed bool
}

// NewHTTPReporter creates and starts an HTTPReporter. Call Close to flush
// the queue and stop the worker.
func NewHTTPReporter(cfg *HTTPConfig) (*HTTPReporter, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &HTTPReporter{
		uris:    slices.Clone(cfg.URIs),
		client:  client,
		timeout: timeout,
		queue:   make(chan delivery, queueSize),
		stopCh:  make(chan struct{}),
		logger:  logger.With("component", "http_reporter"),
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

// Report enqueues r for delivery. Reports without any destination, reports
// arriving after Close, and reports that do not fit in the queue are dropped.
func (h *HTTPReporter) Report(_ context.Context, r *Report) {
	uris := mergeURIs(h.uris, r.ReportURIs)
	if len(uris) == 0 {
		return
	}

	body, err := json.Marshal(r)
	if err != nil {
		h.logger.Error("encode report", "host", r.Host, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.logger.Debug("reporter closed, dropping report", "host", r.Host)
		return
	}
	select {
	case h.queue <- delivery{uris: uris, body: body}:
	default:
		h.logger.Warn("report queue full, dropping report", "host", r.Host)
	}
}

// Close stops accepting reports, delivers whatever is queued and waits for
// the worker to exit.
func (h *HTTPReporter) Close() error {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.stopCh)
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

func (h *HTTPReporter) run() {
	defer h.wg.Done()
	for {
		select {
		case d := <-h.queue:
			h.deliver(d)
		case <-h.stopCh:
			for {
				select {
				case d := <-h.queue:
					h.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (h *HTTPReporter) deliver(d delivery) {
	for _, uri := range d.uris {
		if err := h.post(uri, d.body); err != nil {
			h.logger.Warn("report delivery failed", "uri", uri, "error", err)
			continue
		}
		h.logger.Debug("report delivered", "uri", uri)
	}
}

func (h *HTTPReporter) post(uri string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := h.client.Do(req) // #nosec G704 -- report URIs come from operator config
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func mergeURIs(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	out := slices.Clone(base)
	for _, u := range extra {
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}
