// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrInvalidProvisionConfig is the sentinel wrapped by Config.Validate errors.
var ErrInvalidProvisionConfig = errors.New("invalid provision config")

// DefaultToolPackages are the diagnostic utilities layered onto every base
// image: network, process, filesystem, and documentation tools.
var DefaultToolPackages = []string{
	"curl", "wget", "vim", "nano", "less", "procps", "net-tools",
	"iputils-ping", "dnsutils", "iproute2", "man-db",
}

type (
	// Config holds provisioning settings.
	Config struct {
		// ToolPackages are apt packages installed on top of the base image.
		ToolPackages []string

		// ForceRebuild rebuilds the image even when it already exists.
		ForceRebuild bool

		// BuildAttempts bounds retries of transient build failures.
		BuildAttempts int

		// BuildBackoff is the wait before the first retry; it doubles per attempt.
		BuildBackoff time.Duration

		// BuildTimeout bounds a single image build. Zero means no bound.
		BuildTimeout time.Duration

		// StopTimeout is the grace period given to an environment on removal.
		StopTimeout time.Duration

		// TagPrefix prefixes image tags ("<prefix>-<normalized id>").
		TagPrefix string

		// BuildOutput receives build progress. Nil discards it.
		BuildOutput io.Writer
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ToolPackages:  append([]string(nil), DefaultToolPackages...),
		BuildAttempts: 3,
		BuildBackoff:  2 * time.Second,
		BuildTimeout:  10 * time.Minute,
		StopTimeout:   2 * time.Second,
		TagPrefix:     "faultlab",
	}
}

// WithForceRebuild sets ForceRebuild.
func WithForceRebuild(force bool) Option {
	return func(c *Config) { c.ForceRebuild = force }
}

// WithToolPackages replaces the diagnostic package list.
func WithToolPackages(pkgs []string) Option {
	return func(c *Config) { c.ToolPackages = append([]string(nil), pkgs...) }
}

// WithBuildAttempts sets the number of build attempts and the base backoff.
func WithBuildAttempts(attempts int, backoff time.Duration) Option {
	return func(c *Config) {
		c.BuildAttempts = attempts
		c.BuildBackoff = backoff
	}
}

// WithBuildTimeout bounds a single build.
func WithBuildTimeout(d time.Duration) Option {
	return func(c *Config) { c.BuildTimeout = d }
}

// WithBuildOutput streams build progress to w.
func WithBuildOutput(w io.Writer) Option {
	return func(c *Config) { c.BuildOutput = w }
}

// WithTagPrefix sets the image tag prefix, e.g. to isolate test images.
func WithTagPrefix(prefix string) Option {
	return func(c *Config) { c.TagPrefix = prefix }
}

// Apply applies the options in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.BuildAttempts < 1 {
		errs = append(errs, fmt.Errorf("build attempts must be at least 1, got %d", c.BuildAttempts))
	}
	if c.BuildBackoff < 0 {
		errs = append(errs, fmt.Errorf("build backoff must not be negative, got %s", c.BuildBackoff))
	}
	if c.BuildTimeout < 0 {
		errs = append(errs, fmt.Errorf("build timeout must not be negative, got %s", c.BuildTimeout))
	}
	if c.TagPrefix == "" {
		errs = append(errs, errors.New("tag prefix must not be empty"))
	}
	for _, p := range c.ToolPackages {
		if p == "" {
			errs = append(errs, errors.New("tool package names must not be empty"))
			break
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidProvisionConfig, errors.Join(errs...))
}
