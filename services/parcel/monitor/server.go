// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor serves a small HTTP API for watching and stopping a running
// learner.
//
// Routes:
//
//	GET  /health             liveness
//	GET  /metrics            Prometheus exposition
//	GET  /v1/parcel/status   current search counters
//	GET  /v1/parcel/best     best partial definitions so far (?n=5)
//	GET  /v1/parcel/logs     recent log entries (?n=100&level=warn)
//	POST /v1/parcel/stop     request an early stop
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/parcel/pkg/logging"
	"github.com/AleutianAI/parcel/services/parcel/concept"
	"github.com/AleutianAI/parcel/services/parcel/search"
	"github.com/AleutianAI/parcel/services/parcel/telemetry"
)

// ErrServerStarted is returned by Start when the server is already serving.
var ErrServerStarted = errors.New("monitor: server already started")

// Source is the learner as seen by the monitor.
type Source interface {
	Snapshot() (search.Snapshot, bool)
	CurrentlyBestDescriptions(n int) []*concept.Expr
	Stop()
}

// LogSource holds recently logged entries.
type LogSource interface {
	// Last returns up to n of the newest entries, oldest first; n <= 0
	// returns all of them.
	Last(n int) []logging.LogEntry
}

// DefaultLogCapacity is how many log entries a learn run keeps for the
// logs route.
const DefaultLogCapacity = 1000

// Option configures a Server.
type Option func(*Server)

// WithRecentLogs serves entries from src on /v1/parcel/logs. Without it the
// route answers 404.
func WithRecentLogs(src LogSource) Option {
	return func(s *Server) {
		s.logs = src
	}
}

// Config configures the monitor server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464". Port 0 picks a
	// free port; see Server.Addr.
	Addr string

	// ServiceName labels the otelgin spans.
	ServiceName string

	// ShutdownTimeout bounds Shutdown when the caller's context has no
	// deadline.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a loopback-only configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:9464",
		ServiceName:     "parcel",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the monitor HTTP server.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	cfg     Config
	source  Source
	metrics *telemetry.Metrics
	logs    LogSource
	logger  *slog.Logger
	router  *gin.Engine

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	done     chan struct{}
}

// New builds the server and its routes. metrics and logger may be nil.
func New(cfg Config, source Source, metrics *telemetry.Metrics, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "parcel"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		source:  source,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "monitor")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.cfg.ServiceName))
	router.Use(s.requestMetrics())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := router.Group("/v1/parcel")
	{
		v1.GET("/status", s.status)
		v1.GET("/best", s.best)
		v1.GET("/logs", s.recentLogs)
		v1.POST("/stop", s.stop)
	}
	return router
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on cfg.Addr and serves in the background.
//
// Outputs:
//   - error: ErrServerStarted, or the listen error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("monitor: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server failed", slog.String("error", err.Error()))
		}
	}(s.http, s.done)

	s.logger.Info("monitor listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones. It is a
// no-op if the server was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.http, s.done
	s.http, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	err := srv.Shutdown(ctx)
	<-done
	if err != nil {
		return fmt.Errorf("monitor: shutdown: %w", err)
	}
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	snap, ok := s.source.Snapshot()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run started"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// countParam reads the "n" query parameter. It writes a 400 response and
// returns false when the value is not a non-negative integer.
func countParam(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("n")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func (s *Server) best(c *gin.Context) {
	n, ok := countParam(c, 5)
	if !ok {
		return
	}
	exprs := s.source.CurrentlyBestDescriptions(n)
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = e.String()
	}
	c.JSON(http.StatusOK, gin.H{"descriptions": out})
}

func (s *Server) recentLogs(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log capture disabled"})
		return
	}
	n, ok := countParam(c, 100)
	if !ok {
		return
	}
	minLevel := logging.LevelDebug
	if raw := c.Query("level"); raw != "" {
		level, err := logging.ParseLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		minLevel = level
	}

	entries := []logging.LogEntry{}
	for _, e := range s.logs.Last(0) {
		if e.Level >= minLevel {
			entries = append(entries, e)
		}
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) stop(c *gin.Context) {
	snap, ok := s.source.Snapshot()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no run started"})
		return
	}
	if !snap.Running {
		c.JSON(http.StatusOK, gin.H{"status": "finished", "run_id": snap.RunID})
		return
	}
	s.logger.Info("stop requested over http",
		slog.String("run_id", snap.RunID),
		slog.String("remote", c.ClientIP()),
	)
	s.source.Stop()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping", "run_id": snap.RunID})
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordRequest(c.Request.Context(), route, c.Writer.Status(), time.Since(start))
	}
}

// metricsHandler prefers the OpenTelemetry Prometheus exporter's handler and
// falls back to the default registry, which holds the engine's collectors.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}
