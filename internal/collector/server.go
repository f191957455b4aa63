// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-pinguard/pkg/report"
)

// Routes served by the collector.
const (
	RouteHealth  = "/healthz"
	RouteReports = "/v1/reports"
	RouteSummary = "/v1/reports/summary"
)

const (
	// DefaultMaxBodyBytes limits a posted report.
	DefaultMaxBodyBytes = 64 << 10

	// DefaultShutdownTimeout bounds graceful shutdown in Run.
	DefaultShutdownTimeout = 10 * time.Second
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Store persists reports. Required.
	Store Store

	// Forward additionally receives every accepted report, typically a
	// report.LogReporter. Optional.
	Forward report.Reporter

	// MaxBodyBytes limits request bodies. Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// ShutdownTimeout bounds graceful shutdown. Default:
	// DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Now returns the receive time for reports without date-time.
	// Default: time.Now.
	Now func() time.Time

	// Logger for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server is the report-uri HTTP endpoint.
type Server struct {
	engine          *gin.Engine
	store           Store
	forward         report.Reporter
	maxBody         int64
	shutdownTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, ErrInvalidConfig
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:          gin.New(),
		store:           cfg.Store,
		forward:         cfg.Forward,
		maxBody:         maxBody,
		shutdownTimeout: shutdownTimeout,
		now:             now,
		logger:          logger.With("component", "collector"),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("collector: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) routes() {
	s.engine.GET(RouteHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST(RouteReports, s.handleSubmit)
	s.engine.GET(RouteReports, s.handleList)
	s.engine.GET(RouteSummary, s.handleSummary)
}

func (s *Server) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)

	var r report.Report
	if err := c.ShouldBindJSON(&r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", "report exceeds size limit")
			return
		}
		writeError(c, http.StatusBadRequest, "INVALID_JSON", "report is not valid JSON")
		return
	}
	if err := s.normalize(&r); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REPORT", err.Error())
		return
	}

	if err := s.store.Add(c.Request.Context(), &r); err != nil {
		s.logger.Error("store report", "host", r.Host, "error", err)
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "report could not be stored")
		return
	}
	if s.forward != nil {
		s.forward.Report(c.Request.Context(), &r)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) normalize(r *report.Report) error {
	r.Host = strings.ToLower(strings.TrimSpace(r.Host))
	if r.Host == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalidReport)
	}
	if r.NotedHost == "" {
		r.NotedHost = r.Host
	}
	if r.Time.IsZero() {
		r.Time = s.now().UTC()
	}
	return nil
}

func (s *Server) handleList(c *gin.Context) {
	limit := DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}
	reports, err := s.store.List(c.Request.Context(), c.Query("host"), limit)
	if err != nil {
		s.logger.Error("list reports", "error", err)
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "reports could not be listed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.store.Summary(c.Request.Context())
	if err != nil {
		s.logger.Error("summarize reports", "error", err)
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "summary unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": SortedSummary(summary)})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"remote", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message})
}
