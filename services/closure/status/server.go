// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	shutdownTimeout       = 5 * time.Second
	defaultStreamInterval = time.Second
)

// Server serves a Tracker over HTTP.
type Server struct {
	tracker        *Tracker
	router         *gin.Engine
	logger         *slog.Logger
	streamInterval time.Duration

	// closing is closed by Shutdown to end open status streams, which
	// http.Server.Shutdown does not track.
	closing   chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStreamInterval sets how often /v1/status/stream pushes a snapshot.
func WithStreamInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

// NewServer builds the router. metrics may be nil, in which case /metrics
// is not registered.
func NewServer(tracker *Tracker, metrics http.Handler, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("closure-status"))

	s := &Server{
		tracker:        tracker,
		router:         router,
		logger:         logger,
		streamInterval: defaultStreamInterval,
		closing:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	router.GET("/health", s.health)
	router.GET("/v1/status", s.status)
	router.GET("/v1/status/stream", s.stream)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Snapshot())
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound, so Addr is valid afterwards.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("status server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", slog.String("error", err.Error()))
		}
	}(s.srv, s.done)

	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))
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

// Shutdown ends open streams and stops the server, waiting up to five
// seconds for in-flight requests. Safe to call when the server never
// started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	<-done
	return nil
}
