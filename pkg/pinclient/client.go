// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-pinguard/pkg/dispatch"
)

const (
	// DefaultTimeout is the default timeout for requests and dials.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxResponseSize is the default response body limit (1 MB).
	DefaultMaxResponseSize = 1 << 20
)

// ClientConfig configures a pinned Client.
type ClientConfig struct {
	// Dispatcher decides every handshake. Required.
	Dispatcher *dispatch.Dispatcher

	// TLSConfig is the base TLS configuration. RootCAs is used for baseline
	// trust evaluation. Optional.
	TLSConfig *tls.Config

	// Timeout bounds each request and dial. Default: DefaultTimeout.
	Timeout time.Duration

	// MaxResponseSize limits the body read by Get.
	// Default: DefaultMaxResponseSize.
	MaxResponseSize int64

	// OnDecision is called with the decision of every handshake, accepted
	// or not. Optional.
	OnDecision func(*dispatch.Decision)

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client performs HTTPS requests and TLS dials whose server trust is
// decided by a Dispatcher.
type Client struct {
	dispatcher *dispatch.Dispatcher
	base       *tls.Config
	timeout    time.Duration
	maxSize    int64
	onDecision func(*dispatch.Decision)
	dialer     *net.Dialer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a pinned client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxSize := cfg.MaxResponseSize
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		dispatcher: cfg.Dispatcher,
		base:       cfg.TLSConfig,
		timeout:    timeout,
		maxSize:    maxSize,
		onDecision: cfg.OnDecision,
		dialer:     &net.Dialer{Timeout: timeout},
		logger:     logger.With("component", "pinned_client"),
	}
	c.httpClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialTLSContext:      c.dialTLS,
			TLSHandshakeTimeout: timeout,
		},
	}
	return c, nil
}

// HTTPClient returns the underlying pinned http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Get fetches url and returns the response body. Pinning failures can be
// detected on the returned error with IsPinningFailure.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	c.logger.Debug("fetching", "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned %d", ErrRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("fetch complete", "url", url, "size", len(body))
	return body, nil
}

// Dial opens a TLS connection to addr (host:port) and completes the
// handshake under the dispatcher's decision.
func (c *Client) Dial(ctx context.Context, addr string) (*tls.Conn, error) {
	conn, err := c.dialTLS(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn.(*tls.Conn), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port %q", ErrRequestFailed, portStr)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, newTLSConfig(c.dispatcher, c.base, host, port, c.onDecision))
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		if IsPinningFailure(err) {
			c.logger.Warn("handshake cancelled by pinning", "host", host, "port", port, "error", err)
		}
		return nil, err
	}
	return conn, nil
}
