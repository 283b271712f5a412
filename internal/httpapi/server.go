// SPDX-License-Identifier: MPL-2.0

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/faultlab/faultlab/internal/core/lifecycle"
	"github.com/faultlab/faultlab/internal/failure"
)

const (
	// DefaultShutdownTimeout bounds graceful shutdown when the Stop context
	// has no deadline.
	DefaultShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

type (
	// Config configures a Server.
	Config struct {
		// Address is the listen address; port 0 picks a free port.
		Address         string
		AllowedOrigins  []string
		ShutdownTimeout time.Duration
	}

	// Server serves the API on a TCP listener. It is single-use.
	Server struct {
		cfg     Config
		ops     Operations
		tracker *lifecycle.Tracker
		srv     *http.Server
		addr    string
	}
)

// NewServer returns a Server in the created state.
func NewServer(ops Operations, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		cfg:     cfg,
		ops:     ops,
		tracker: lifecycle.NewTracker(),
	}
}

// Start binds the listener and serves in the background. It returns once
// the server accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if err := s.tracker.Begin(ctx); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		err = failure.NewErrorContext().
			WithKind(failure.KindInternal).
			WithOperation("start API server").
			WithResource(s.cfg.Address).
			WithSuggestion("Choose a free address with --address or server.address in the config file").
			Wrap(err).
			BuildError()
		s.tracker.Fail(err)
		return err
	}
	s.addr = ln.Addr().String()

	h, root := newHandler(s.ops, s.cfg.AllowedOrigins)
	s.srv = &http.Server{
		Handler:           root,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.srv.RegisterOnShutdown(h.closeTerminals)

	s.tracker.Go(func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.tracker.Fail(fmt.Errorf("serve: %w", err))
		}
	})

	s.tracker.Ready()
	slog.Info("API server listening", "address", s.addr)
	return nil
}

// Stop shuts the server down gracefully, waiting for in-flight requests
// until ctx or the shutdown timeout expires. Stopping a server that never
// started is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.tracker.BeginStop() {
		return nil
	}
	defer s.tracker.Stopped()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		// Force close hijacked and idle connections.
		_ = s.srv.Close()
		return fmt.Errorf("shutdown API server: %w", err)
	}
	return nil
}

// Addr is the bound address, valid after Start succeeds.
func (s *Server) Addr() string { return s.addr }

// State returns the lifecycle state.
func (s *Server) State() lifecycle.State { return s.tracker.State() }

// Err delivers fatal serve errors.
func (s *Server) Err() <-chan error { return s.tracker.Err() }
