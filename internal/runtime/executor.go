// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/core/keyed"
	"github.com/faultlab/faultlab/internal/failure"
)

// Executor runs learner commands and verification scripts in environments.
// Operations on one environment are serialized; different environments
// proceed independently.
type Executor struct {
	engine container.Engine
	config Config
	locks  *keyed.Mutex[container.ContainerID]
	logger *slog.Logger
}

// NewExecutor creates an executor on top of engine.
func NewExecutor(engine container.Engine, cfg Config) (*Executor, error) {
	if engine == nil {
		return nil, errors.New("executor requires a container engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		engine: engine,
		config: cfg,
		locks:  keyed.NewMutex[container.ContainerID](),
		logger: slog.With("component", "runtime"),
	}, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() Config { return e.config }

// Execute runs line inside the environment and returns its combined output.
//
// A command that exits non-zero, or that the engine cannot start, is not an
// error: the failure is appended to the output as an "Error: ..." line.
// Errors are returned only for unusable input (failure.KindInvalidInput) and
// for an expired bounded wait (failure.KindTimeout).
//
// With a CommandTimeout and a TimeoutProgram the command runs under that
// program inside the environment, so it is gone before the environment lock
// is released. The engine-side wait is a backstop a few seconds longer. If
// only the backstop fires, the engine CLI is killed but the command may
// keep running in the environment and overlap the next operation.
func (e *Executor) Execute(ctx context.Context, envID container.ContainerID, line string) (string, error) {
	if err := envID.Validate(); err != nil {
		return "", failure.InvalidInput("execute command", err.Error())
	}

	argv, err := e.commandArgs(line)
	if err != nil {
		return "", err
	}

	wrapped := false
	if limit := e.config.CommandTimeout; limit > 0 {
		wait := limit
		if e.config.TimeoutProgram != "" {
			argv = timeoutArgs(e.config.TimeoutProgram, limit, argv)
			wait += backstopGrace
			wrapped = true
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	unlock, err := e.locks.Lock(ctx, envID)
	if err != nil {
		return "", waitError(err, "execute command", envID)
	}
	defer unlock()

	e.logger.Debug("executing command", "environment", envID.Short(), "argv", argv)

	// One buffer for both streams keeps their interleaving.
	var out bytes.Buffer
	start := time.Now()
	result, err := e.engine.Exec(ctx, envID, argv, container.ExecOptions{
		WorkDir: e.config.WorkDir,
		Stdout:  &out,
		Stderr:  &out,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", waitError(ctxErr, "execute command", envID)
	}
	if wrapped && err == nil && result.Error == nil && timedOutInside(result.ExitCode, time.Since(start), e.config.CommandTimeout) {
		return "", waitError(context.DeadlineExceeded, "execute command", envID)
	}

	output := out.String()
	switch {
	case err != nil:
		return appendError(output, err.Error()), nil
	case result.Error != nil:
		return appendError(output, result.Error.Error()), nil
	case result.ExitCode != 0:
		return appendError(output, fmt.Sprintf("exit status %d", result.ExitCode)), nil
	}
	return output, nil
}

// timeoutArgs prefixes argv with the in-environment timeout program.
func timeoutArgs(program string, limit time.Duration, argv []string) []string {
	secs := strconv.FormatFloat(limit.Seconds(), 'f', -1, 64)
	kill := strconv.FormatFloat(killAfter.Seconds(), 'f', -1, 64)
	return append([]string{program, "-k", kill, secs}, argv...)
}

// timedOutInside reports whether the timeout program ended the command:
// 124 after TERM, 137 after KILL, and only once the limit has passed.
func timedOutInside(exitCode int, elapsed, limit time.Duration) bool {
	return (exitCode == 124 || exitCode == 137) && elapsed >= limit
}

// commandArgs turns a command line into argv.
func (e *Executor) commandArgs(line string) ([]string, error) {
	if strings.TrimSpace(line) == "" {
		return nil, failure.InvalidInput("execute command", "command is required")
	}

	argv, simple, err := Tokenize(line)
	switch {
	case errors.Is(err, ErrEmptyCommand):
		return nil, failure.InvalidInput("execute command", "command is required")
	case err != nil:
		return nil, failure.NewErrorContext().
			WithKind(failure.KindInvalidInput).
			WithOperation("parse command").
			WithResource(line).
			WithSuggestion("Check that every quote is closed").
			Wrap(err).
			BuildError()
	case simple:
		return argv, nil
	case e.config.ShellFallback:
		return []string{e.config.Shell, "-c", line}, nil
	default:
		return nil, failure.NewErrorContext().
			WithKind(failure.KindInvalidInput).
			WithOperation("parse command").
			WithResource(line).
			WithSuggestion("Pipes, redirections, globs and variables need shell fallback to be enabled").
			Wrap(errors.New("command requires a shell")).
			BuildError()
	}
}

// appendError folds a failure into command output.
func appendError(output, detail string) string {
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output + "Error: " + detail
}

// waitError classifies a context failure at the execution boundary.
func waitError(err error, operation string, envID container.ContainerID) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.NewErrorContext().
			WithKind(failure.KindTimeout).
			WithOperation(operation).
			WithResource(envID.Short()).
			WithSuggestion("Long-running commands should be started in the background").
			Wrap(err).
			BuildError()
	}
	return failure.NewErrorContext().
		WithKind(failure.KindInternal).
		WithOperation(operation).
		WithResource(envID.Short()).
		Wrap(err).
		BuildError()
}
