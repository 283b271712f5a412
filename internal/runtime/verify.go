// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

// Verdict is the outcome of one verification run.
type Verdict struct {
	// Resolved is true when the verification script exited 0.
	Resolved bool
	// ExitCode is the script's exit status.
	ExitCode int
	// Output is the script's output without the trailing status line.
	Output string
	// Feedback is the learner-facing message.
	Feedback string
}

// Verify runs the issue's verification script inside the environment.
//
// A script that runs and exits non-zero is a normal negative result, not
// an error. Errors mean the script could not be delivered or run
// (failure.KindVerificationTransport) or the bounded wait expired
// (failure.KindTimeout).
func (e *Executor) Verify(ctx context.Context, envID container.ContainerID, issue *scenario.Issue) (Verdict, error) {
	if err := envID.Validate(); err != nil {
		return Verdict{}, failure.InvalidInput("verify solution", err.Error())
	}
	if issue == nil || strings.TrimSpace(issue.VerificationScript) == "" {
		return Verdict{}, failure.InvalidInput("verify solution", "issue has no verification script")
	}

	if e.config.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.VerifyTimeout)
		defer cancel()
	}

	localPath, err := e.writeLocalScript(issue.VerificationScript)
	if err != nil {
		return Verdict{}, transportError(err, "stage verification script", envID)
	}
	if e.config.Cleanup {
		defer func() {
			if rmErr := os.Remove(localPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				e.logger.Warn("failed to remove local verification script", "path", localPath, "error", rmErr)
			}
		}()
	}

	unlock, err := e.locks.Lock(ctx, envID)
	if err != nil {
		return Verdict{}, waitError(err, "verify solution", envID)
	}
	defer unlock()

	remote := e.config.RemotePath
	if err := e.mustRun(ctx, envID, "prepare script directory", "mkdir", "-p", path.Dir(remote)); err != nil {
		return Verdict{}, err
	}
	if err := e.engine.CopyTo(ctx, localPath, envID, remote); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, waitError(ctxErr, "copy verification script", envID)
		}
		return Verdict{}, transportError(err, "copy verification script", envID)
	}
	if e.config.Cleanup {
		defer e.removeRemote(envID, remote)
	}
	if err := e.mustRun(ctx, envID, "mark verification script executable", "chmod", "+x", remote); err != nil {
		return Verdict{}, err
	}

	wrapper := fmt.Sprintf("%s %s; echo $?", e.config.Shell, remote)
	stdout, stderr, err := e.run(ctx, envID, "run verification script", e.config.Shell, "-c", wrapper)
	if err != nil {
		return Verdict{}, err
	}
	if stderr != "" {
		e.logger.Debug("verification stderr", "environment", envID.Short(), "stderr", stderr)
	}

	code, diagnostics := ParseVerificationOutput(stdout)
	v := Verdict{Resolved: code == 0, ExitCode: code, Output: diagnostics}
	if v.Resolved {
		v.Feedback = SuccessFeedback(issue)
	} else {
		v.Feedback = FailureFeedback(diagnostics)
	}

	e.logger.Info("verification finished", "environment", envID.Short(), "issue", issue.ID, "resolved", v.Resolved, "exit_code", code)
	return v, nil
}

// ParseVerificationOutput splits wrapper output into the script's exit code
// (its last line) and the lines before it. Empty output means exit code 1.
// A last line that is not an integer also yields 1, and is kept in the
// diagnostics.
func ParseVerificationOutput(text string) (exitCode int, diagnostics string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 1, ""
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	code, err := strconv.Atoi(last)
	if err != nil {
		return 1, text
	}
	return code, strings.Join(lines[:len(lines)-1], "\n")
}

// SuccessFeedback is the message shown when an issue is resolved.
func SuccessFeedback(issue *scenario.Issue) string {
	return fmt.Sprintf(`
Great job! You've successfully resolved the issue: %s

The solution was:
%s

This is a common issue in %s scenarios. Understanding how to troubleshoot and fix this type of problem is valuable for system administration and DevOps roles.
`, issue.Title, issue.Solution, issue.Category)
}

// FailureFeedback is the message shown when verification still fails.
func FailureFeedback(diagnostics string) string {
	return fmt.Sprintf(`
The issue hasn't been completely resolved yet. Keep trying!

Verification output:
%s

Remember, you can ask for a hint if you're stuck.
`, diagnostics)
}

func (e *Executor) writeLocalScript(script string) (string, error) {
	f, err := os.CreateTemp(e.config.TempDir, "faultlab-verify-*.sh")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0o755); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// run execs argv and reports anything other than a clean start as a
// transport failure. The command's own exit status is not checked.
func (e *Executor) run(ctx context.Context, envID container.ContainerID, operation string, argv ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	result, err := e.engine.Exec(ctx, envID, argv, container.ExecOptions{Stdout: &outBuf, Stderr: &errBuf})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", "", waitError(ctxErr, operation, envID)
	}
	if err == nil && result.Error != nil {
		err = result.Error
	}
	if err == nil && result.ExitCode != 0 {
		err = fmt.Errorf("exit status %d: %s", result.ExitCode, strings.TrimSpace(errBuf.String()))
	}
	if err != nil {
		return "", "", transportError(err, operation, envID)
	}
	return outBuf.String(), errBuf.String(), nil
}

func (e *Executor) mustRun(ctx context.Context, envID container.ContainerID, operation string, argv ...string) error {
	_, _, err := e.run(ctx, envID, operation, argv...)
	return err
}

// removeRemote deletes the in-environment script copy. It runs after the
// verification context may have expired, so it gets its own short bound.
func (e *Executor) removeRemote(envID container.ContainerID, remote string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	result, err := e.engine.Exec(ctx, envID, []string{"rm", "-f", remote}, container.ExecOptions{})
	if err == nil && result.Error != nil {
		err = result.Error
	}
	if err != nil || result.ExitCode != 0 {
		e.logger.Warn("failed to remove verification script", "environment", envID.Short(), "path", remote, "error", err)
	}
}

func transportError(err error, operation string, envID container.ContainerID) error {
	return failure.NewErrorContext().
		WithKind(failure.KindVerificationTransport).
		WithOperation(operation).
		WithResource(envID.Short()).
		WithSuggestion("Check that the environment is still running").
		Wrap(err).
		BuildError()
}
