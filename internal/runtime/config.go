// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// DefaultCommandTimeout bounds a single learner command.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultVerifyTimeout bounds a whole verification run, copy included.
	DefaultVerifyTimeout = 2 * time.Minute
	// DefaultRemotePath is where the verification script is placed.
	DefaultRemotePath = "/tmp/verification_script.sh"
	// DefaultShell runs verification scripts and shell-fallback commands.
	DefaultShell = "bash"
	// DefaultTimeoutProgram enforces CommandTimeout inside the environment.
	DefaultTimeoutProgram = "timeout"

	// killAfter is how long the in-environment timeout waits after TERM
	// before sending KILL.
	killAfter = 2 * time.Second
	// backstopGrace extends the engine-side wait past CommandTimeout so the
	// in-environment timeout fires first.
	backstopGrace = killAfter + 3*time.Second

	cleanupTimeout = 10 * time.Second
)

// ErrInvalidExecutorConfig is returned when a Config fails validation.
var ErrInvalidExecutorConfig = errors.New("invalid executor config")

// Config controls how commands and verification scripts run.
type Config struct {
	// CommandTimeout bounds Execute. Zero disables the bound.
	CommandTimeout time.Duration
	// VerifyTimeout bounds Verify. Zero disables the bound.
	VerifyTimeout time.Duration
	// Cleanup removes the local and in-environment script copies after Verify.
	Cleanup bool
	// RemotePath is the absolute in-environment path of the verification script.
	RemotePath string
	// Shell is the interpreter used for verification and shell fallback.
	Shell string
	// ShellFallback runs lines that need a shell (pipes, redirects, globs)
	// through "Shell -c". When false such lines are rejected.
	ShellFallback bool
	// TimeoutProgram wraps learner commands as "TimeoutProgram -k 2 <secs>"
	// so a command that outlives CommandTimeout is killed inside the
	// environment. Empty leaves only the engine-side bound.
	TimeoutProgram string
	// WorkDir is the working directory for learner commands. Empty keeps
	// the image default.
	WorkDir string
	// TempDir holds local script copies. Empty means os.TempDir.
	TempDir string
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: DefaultCommandTimeout,
		VerifyTimeout:  DefaultVerifyTimeout,
		Cleanup:        true,
		RemotePath:     DefaultRemotePath,
		Shell:          DefaultShell,
		ShellFallback:  true,
		TimeoutProgram: DefaultTimeoutProgram,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("command timeout must not be negative, got %s", c.CommandTimeout))
	}
	if c.VerifyTimeout < 0 {
		errs = append(errs, fmt.Errorf("verify timeout must not be negative, got %s", c.VerifyTimeout))
	}
	if !path.IsAbs(c.RemotePath) || path.Clean(c.RemotePath) != c.RemotePath {
		errs = append(errs, fmt.Errorf("remote path %q must be a clean absolute path", c.RemotePath))
	}
	if strings.ContainsAny(c.RemotePath, " \t\n'\"$`;&|") {
		errs = append(errs, fmt.Errorf("remote path %q contains shell metacharacters", c.RemotePath))
	}
	if strings.TrimSpace(c.Shell) == "" || strings.ContainsAny(c.Shell, " \t\n") {
		errs = append(errs, fmt.Errorf("shell %q must be a single program name", c.Shell))
	}
	if strings.ContainsAny(c.TimeoutProgram, " \t\n") {
		errs = append(errs, fmt.Errorf("timeout program %q must be a single program name", c.TimeoutProgram))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidExecutorConfig, errors.Join(errs...))
	}
	return nil
}
