// SPDX-License-Identifier: MPL-2.0

package sshterm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"golang.org/x/crypto/bcrypt"

	"github.com/faultlab/faultlab/internal/console"
	"github.com/faultlab/faultlab/internal/core/lifecycle"
	"github.com/faultlab/faultlab/internal/failure"
)

// DefaultShutdownTimeout bounds graceful shutdown when the Stop context has
// no deadline. Sessions still open afterwards are disconnected.
const DefaultShutdownTimeout = 5 * time.Second

type (
	// Config configures a Server.
	Config struct {
		// Address is the listen address; port 0 picks a free port.
		Address string
		// HostKeyPath is created with a new ed25519 key when missing. Empty
		// uses a throwaway key for the life of the process.
		HostKeyPath string
		// PasswordHash is a bcrypt hash every login must match. Empty
		// disables authentication.
		PasswordHash    string
		ShutdownTimeout time.Duration
	}

	// Server accepts SSH sessions on a TCP listener. It is single-use.
	Server struct {
		cfg     Config
		ops     console.Operations
		tracker *lifecycle.Tracker
		logger  *slog.Logger
		srv     *ssh.Server
		addr    string
	}
)

// Validate checks the password hash and listen address.
func (c Config) Validate() error {
	if c.Address == "" {
		return failure.InvalidInput("configure SSH server", "address is empty")
	}
	if c.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
			return failure.NewErrorContext().
				WithKind(failure.KindInvalidInput).
				WithOperation("configure SSH server").
				WithSuggestion("Generate a bcrypt hash, for example with: htpasswd -bnBC 10 '' secret | tr -d ':'").
				Wrap(err).
				BuildError()
		}
	}
	return nil
}

// NewServer returns a Server in the created state.
func NewServer(ops console.Operations, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		cfg:     cfg,
		ops:     ops,
		tracker: lifecycle.NewTracker(),
		logger:  slog.Default().With("component", "ssh"),
	}
}

// Start binds the listener and serves in the background. It returns once
// the server accepts connections.
func (s *Server) Start(ctx context.Context) error {
	if err := s.tracker.Begin(ctx); err != nil {
		return err
	}
	if err := s.cfg.Validate(); err != nil {
		s.tracker.Fail(err)
		return err
	}

	srv, err := wish.NewServer(s.options()...)
	if err != nil {
		err = failure.Wrap(err, failure.KindInternal, "create SSH server")
		s.tracker.Fail(err)
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		err = failure.NewErrorContext().
			WithKind(failure.KindInternal).
			WithOperation("start SSH server").
			WithResource(s.cfg.Address).
			WithSuggestion("Choose a free address with --ssh-address or ssh.address in the config file").
			Wrap(err).
			BuildError()
		s.tracker.Fail(err)
		return err
	}
	s.srv = srv
	s.addr = ln.Addr().String()

	s.tracker.Go(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.tracker.Fail(fmt.Errorf("serve: %w", err))
		}
	})

	s.tracker.Ready()
	s.logger.Info("SSH server listening", "address", s.addr, "auth", s.cfg.PasswordHash != "")
	return nil
}

// Stop closes the listener and waits for open sessions until ctx or the
// shutdown timeout expires, then disconnects the rest. Stopping a server
// that never started is a no-op.
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
		s.logger.Info("disconnecting open SSH sessions")
		if cerr := s.srv.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			return fmt.Errorf("close SSH server: %w", cerr)
		}
	}
	s.logger.Info("SSH server stopped")
	return nil
}

// Addr is the bound address, valid after Start succeeds.
func (s *Server) Addr() string { return s.addr }

// State returns the lifecycle state.
func (s *Server) State() lifecycle.State { return s.tracker.State() }

// Err delivers fatal serve errors.
func (s *Server) Err() <-chan error { return s.tracker.Err() }

func (s *Server) options() []ssh.Option {
	opts := []ssh.Option{
		wish.WithAddress(s.cfg.Address),
		// The last middleware runs first.
		wish.WithMiddleware(
			s.challengeMiddleware(),
			activeterm.Middleware(),
			s.logMiddleware(),
		),
	}
	if s.cfg.HostKeyPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.HostKeyPath), 0o700); err != nil {
			s.logger.Warn("cannot create host key directory", "path", s.cfg.HostKeyPath, "error", err)
		}
		opts = append(opts, wish.WithHostKeyPath(s.cfg.HostKeyPath))
	}
	if s.cfg.PasswordHash != "" {
		opts = append(opts, wish.WithPasswordAuth(s.passwordHandler))
	}
	return opts
}

func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("SSH password rejected", "user", ctx.User(), "remote", ctx.RemoteAddr().String())
		return false
	}
	return true
}

func (s *Server) logMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			start := time.Now()
			s.logger.Info("SSH session opened", "user", sess.User(), "remote", sess.RemoteAddr().String())
			next(sess)
			s.logger.Info("SSH session closed", "user", sess.User(), "duration", time.Since(start).Round(time.Millisecond))
		}
	}
}
