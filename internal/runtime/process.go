// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/failure"
)

// psArgs lists every process without a header, one "pid user args" per line.
var psArgs = []string{"ps", "-eo", "pid=,user=,args="}

// Process is one entry of an environment's process table.
type Process struct {
	PID     int    `json:"pid"`
	User    string `json:"user"`
	Command string `json:"command"`
}

// Processes lists the processes running in the environment.
func (e *Executor) Processes(ctx context.Context, envID container.ContainerID) ([]Process, error) {
	const op = "list processes"
	if err := envID.Validate(); err != nil {
		return nil, failure.InvalidInput(op, err.Error())
	}

	ctx, cancel := e.commandContext(ctx)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, envID)
	if err != nil {
		return nil, waitError(err, op, envID)
	}
	defer unlock()

	return e.processes(ctx, op, envID)
}

// StartProcess launches command in the background of the environment,
// detached with nohup, and reports whether a process named after its first
// word is running afterwards.
func (e *Executor) StartProcess(ctx context.Context, envID container.ContainerID, command string) (bool, error) {
	const op = "start process"
	if err := envID.Validate(); err != nil {
		return false, failure.InvalidInput(op, err.Error())
	}
	argv, _, err := Tokenize(command)
	if err != nil {
		return false, failure.InvalidInput(op, "command is required and must parse: "+command)
	}
	name := strings.Fields(command)[0]
	if len(argv) > 0 {
		name = argv[0]
	}

	ctx, cancel := e.commandContext(ctx)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, envID)
	if err != nil {
		return false, waitError(err, op, envID)
	}
	defer unlock()

	var out bytes.Buffer
	line := "nohup " + command + " >/dev/null 2>&1 &"
	res, err := e.engine.Exec(ctx, envID, []string{e.config.Shell, "-c", line}, container.ExecOptions{Stdout: &out, Stderr: &out})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, waitError(ctxErr, op, envID)
	}
	if err == nil {
		err = res.Error
	}
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(out.String()))
	}
	if err != nil {
		return false, failure.Wrap(err, failure.KindExecution, op)
	}

	procs, err := e.processes(ctx, op, envID)
	if err != nil {
		return false, err
	}
	return ProcessRunning(procs, name), nil
}

// ProcessRunning reports whether any process command line mentions name.
func ProcessRunning(procs []Process, name string) bool {
	if name == "" {
		return false
	}
	for _, p := range procs {
		if strings.Contains(p.Command, name) {
			return true
		}
	}
	return false
}

func (e *Executor) processes(ctx context.Context, op string, envID container.ContainerID) ([]Process, error) {
	var stdout, stderr bytes.Buffer
	res, err := e.engine.Exec(ctx, envID, psArgs, container.ExecOptions{Stdout: &stdout, Stderr: &stderr})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, waitError(ctxErr, op, envID)
	}
	if err == nil {
		err = res.Error
	}
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("ps exited with status %d: %s", res.ExitCode, strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		return nil, failure.Wrap(err, failure.KindExecution, op)
	}
	return ParseProcesses(stdout.String()), nil
}

// ParseProcesses reads "pid user args" lines. The ps invocation itself and
// malformed lines are skipped.
func ParseProcesses(out string) []Process {
	var procs []Process
	for line := range strings.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		cmd := strings.Join(fields[2:], " ")
		if cmd == strings.Join(psArgs, " ") {
			continue
		}
		procs = append(procs, Process{PID: pid, User: fields[1], Command: cmd})
	}
	return procs
}

// commandContext applies the command bound used by the process tools.
func (e *Executor) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.CommandTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.CommandTimeout)
}
