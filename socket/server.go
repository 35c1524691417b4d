// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relaymesh/relaymesh/geo"
	"github.com/relaymesh/relaymesh/lib/clock"
	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/lib/token"
	"github.com/relaymesh/relaymesh/policy"
	"github.com/relaymesh/relaymesh/presence"
)

// Server is the portal's HTTP surface: the per-role WebSocket
// endpoints plus the status API. Follows the Serve(ctx)/Ready
// lifecycle: Serve blocks until the context is cancelled, then drains.
type Server struct {
	address  string
	tokens   *token.Service
	tracker  *presence.Tracker
	policies policy.Source
	clock    clock.Clock
	logger   *slog.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	shutdownTimeout   time.Duration

	codec    *frameCodec
	broker   *broker
	limiter  *ipLimiter
	upgrader websocket.Upgrader
	router   *mux.Router

	// connCtx governs every established connection; cancelled during
	// drain. The HTTP server cannot close upgraded connections itself
	// because they are hijacked from it.
	connCtx     context.Context
	cancelConns context.CancelFunc
	connections sync.WaitGroup

	ready chan struct{}
	addr  net.Addr
}

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address. Required.
	Address string

	// Tokens authenticates handshake fragments. Required.
	Tokens *token.Service

	// Tracker is the process-wide presence registry. Required.
	Tracker *presence.Tracker

	// Policies supplies resource sets for gateway snapshots. Required.
	Policies policy.Source

	// Clock drives heartbeats. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// HeartbeatInterval is the ping cadence; HeartbeatTimeout is how
	// long a pong may lag before the connection is dropped. Default
	// 30s / 10s.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// CompressionThreshold is the envelope size in bytes at which
	// frames switch to zstd-compressed binary. Zero keeps the 4 KiB
	// default; negative disables compression.
	CompressionThreshold int

	// AuthRatePerSecond and AuthRateBurst shape the per-IP limit on
	// connection attempts. Defaults 5/10.
	AuthRatePerSecond float64
	AuthRateBurst     int

	// ShutdownTimeout bounds the graceful drain. Defaults to 15s.
	ShutdownTimeout time.Duration
}

// NewServer validates the configuration and creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("socket: Address is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("socket: Tokens is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("socket: Tracker is required")
	}
	if cfg.Policies == nil {
		return nil, fmt.Errorf("socket: Policies is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	heartbeatTimeout := cfg.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 10 * time.Second
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	ratePerSecond := cfg.AuthRatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	rateBurst := cfg.AuthRateBurst
	if rateBurst <= 0 {
		rateBurst = 10
	}
	threshold := cfg.CompressionThreshold
	if threshold == 0 {
		threshold = 4096
	}

	codec, err := newFrameCodec(threshold)
	if err != nil {
		return nil, err
	}

	connCtx, cancelConns := context.WithCancel(context.Background())
	server := &Server{
		address:           cfg.Address,
		tokens:            cfg.Tokens,
		tracker:           cfg.Tracker,
		policies:          cfg.Policies,
		clock:             clk,
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		shutdownTimeout:   shutdownTimeout,
		codec:             codec,
		broker:            newBroker(logger),
		limiter:           newIPLimiter(ratePerSecond, rateBurst),
		upgrader: websocket.Upgrader{
			// Peers are daemons and devices, not browsers; the Origin
			// header carries no trust here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connCtx:     connCtx,
		cancelConns: cancelConns,
		ready:       make(chan struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/{role}/websocket", server.handleUpgrade).Methods(http.MethodGet)
	router.HandleFunc("/v1/online", server.handleOnline).Methods(http.MethodGet)
	router.HandleFunc("/healthz", server.handleHealth).Methods(http.MethodGet)
	server.router = router

	return server, nil
}

// Ready returns a channel closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Valid after Ready closes.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then performs the
// graceful drain: the listener stops, in-flight HTTP requests get the
// shutdown timeout, and every live WebSocket is told to go away.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("socket: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("portal listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("portal shutting down")
	case err := <-serveDone:
		s.cancelConns()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	shutdownErr := httpServer.Shutdown(shutdownCtx)

	// Upgraded connections are hijacked from the HTTP server; drain
	// them explicitly and wait.
	s.cancelConns()
	drained := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		s.logger.Warn("drain timed out with connections still open")
	}

	if shutdownErr != nil {
		return fmt.Errorf("socket: shutdown: %w", shutdownErr)
	}
	s.logger.Info("portal stopped")
	return nil
}

// handleUpgrade is the connecting phase: validate, rate-limit,
// authenticate, resolve origin, then hand the socket to a conn.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	kind, err := principal.ParseKind(mux.Vars(r)["role"])
	if err != nil {
		reject(w, ReasonValidation, "unknown role")
		return
	}

	origin := geo.Resolve(r.RemoteAddr, r.Header)
	if !s.limiter.allow(origin.RemoteIP) {
		s.logger.Warn("connection attempt rate limited", "remote_ip", origin.RemoteIP)
		reject(w, ReasonRateLimit, "too many connection attempts")
		return
	}

	fragment, identity, err := parseHandshake(r.URL.Query())
	if err != nil {
		reject(w, ReasonValidation, err.Error())
		return
	}

	p, err := s.tokens.AuthenticateFor(r.Context(), fragment, kind, identity, origin)
	if err != nil {
		reason := authReason(err)
		if reason == ReasonInternal {
			s.logger.Error("authentication unavailable", "error", err)
			reject(w, ReasonInternal, "authentication unavailable")
			return
		}
		reject(w, reason, "")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own response.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connection := newConn(s, ws, p, origin)
	s.connections.Add(1)
	go func() {
		defer s.connections.Done()
		connection.run(s.connCtx)
	}()
}

// handleOnline lists the distinct principals present on a topic.
func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		reject(w, ReasonValidation, "topic parameter is required")
		return
	}
	ids := s.tracker.List(topic)
	if ids == nil {
		ids = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"topic":         topic,
		"principal_ids": ids,
	})
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
