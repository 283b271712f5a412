// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/faultlab/faultlab/internal/failure"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// Tests inject a recorder here.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements the engine operations shared by the Docker and
	// Podman CLIs. Engine-specific probes (Available, Version, ImageExists)
	// live on the concrete types.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// BuildArgs constructs arguments for an image build.
//
// Generated command: <binary> build [-f file] [-t tag] [--no-cache] [--build-arg k=v]... <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) && opts.ContextDir != "" {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	if opts.Tag != "" {
		args = append(args, "-t", string(opts.Tag))
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	for _, k := range slices.Sorted(maps.Keys(opts.BuildArgs)) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}

	return append(args, opts.ContextDir)
}

// RunArgs constructs arguments for starting a container.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Detach {
		args = append(args, "-d")
	}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	if opts.TTY {
		args = append(args, "-t")
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	args = append(args, string(opts.Image))
	return append(args, opts.Command...)
}

// ExecArgs constructs arguments for a command in a running container.
//
// Generated command: <binary> exec [-i] [-w dir] [-e k=v]... <container> <command...>
func (e *BaseCLIEngine) ExecArgs(containerID ContainerID, command []string, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.Stdin != nil {
		args = append(args, "-i")
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	args = append(args, string(containerID))
	return append(args, command...)
}

// CopyArgs constructs arguments for copying a host file into a container.
func (e *BaseCLIEngine) CopyArgs(hostPath string, containerID ContainerID, containerPath string) []string {
	return []string{"cp", hostPath, string(containerID) + ":" + containerPath}
}

// StopArgs constructs arguments for stopping a container. A zero timeout
// keeps the engine default grace period.
func (e *BaseCLIEngine) StopArgs(containerID ContainerID, timeout time.Duration) []string {
	args := []string{"stop"}
	if timeout > 0 {
		args = append(args, "-t", strconv.Itoa(int(timeout.Round(time.Second)/time.Second)))
	}
	return append(args, string(containerID))
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(containerID ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(containerID))
}

// RemoveImageArgs constructs arguments for an image remove command.
func (e *BaseCLIEngine) RemoveImageArgs(image ImageTag, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(image))
}

// InspectArgs constructs arguments for inspecting a container.
func (e *BaseCLIEngine) InspectArgs(containerID ContainerID) []string {
	return []string{"inspect", "--type", "container", string(containerID)}
}

// ListArgs constructs arguments for listing containers by label.
//
// Generated command: <binary> ps -a -q --no-trunc [--filter label=k=v]...
func (e *BaseCLIEngine) ListArgs(labels map[string]string) []string {
	args := []string{"ps", "-a", "-q", "--no-trunc"}
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		args = append(args, "--filter", "label="+k+"="+labels[k])
	}
	return args
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the engine binary.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandStatus executes a command and returns only the error status.
// Standard error is folded into the returned error.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, args, stderr.String(), err)
	}
	return nil
}

// RunCommandWithOutput executes a command and returns its standard output.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", commandError(e.binaryPath, args, stderr.String(), err)
	}

	return out.String(), nil
}

// --- Engine Operations ---

// Build builds an image from a Dockerfile.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	var stderr bytes.Buffer
	cmd.Stdout = opts.Stdout
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, opts.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, commandError(e.binaryPath, []string{"build"}, stderr.String(), err))
	}

	return nil
}

// Run starts a container. A non-zero exit code is captured in
// RunResult.ExitCode; only infrastructure failures set RunResult.Error.
// For detached runs the engine prints the new container id, which is
// returned trimmed in RunResult.ContainerID, and a non-zero exit also sets
// Error because the container never started.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = opts.Stdout
	if opts.Stdout == nil {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = opts.Stderr
	if opts.Stderr == nil {
		cmd.Stderr = &stderr
	}

	result := &RunResult{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if opts.Detach {
				result.Error = runContainerError(e.name, opts, commandError(e.binaryPath, []string{"run"}, stderr.String(), err))
			}
		} else {
			result.ExitCode = 1
			result.Error = runContainerError(e.name, opts, err)
		}
		return result, nil
	}

	if opts.Detach {
		result.ContainerID = ContainerID(strings.TrimSpace(stdout.String()))
	}

	return result, nil
}

// Exec runs a command in a running container.
func (e *BaseCLIEngine) Exec(ctx context.Context, containerID ContainerID, command []string, opts ExecOptions) (*RunResult, error) {
	if err := containerID.Validate(); err != nil {
		return nil, err
	}
	if len(command) == 0 {
		return nil, errors.New("exec: command is empty")
	}

	cmd := e.CreateCommand(ctx, e.ExecArgs(containerID, command, opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()

	result := &RunResult{ContainerID: containerID}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			result.Error = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.Error = fmt.Errorf("%w: %w", ctxErr, err)
			}
		}
	}

	return result, nil
}

// CopyTo copies a host file into a running container.
func (e *BaseCLIEngine) CopyTo(ctx context.Context, hostPath string, containerID ContainerID, containerPath string) error {
	if err := containerID.Validate(); err != nil {
		return err
	}
	return e.RunCommandStatus(ctx, e.CopyArgs(hostPath, containerID, containerPath)...)
}

// Stop stops a running container.
func (e *BaseCLIEngine) Stop(ctx context.Context, containerID ContainerID, timeout time.Duration) error {
	return e.RunCommandStatus(ctx, e.StopArgs(containerID, timeout)...)
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID ContainerID, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(containerID, force)...)
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image ImageTag, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// inspectRecord is the subset of "inspect" output shared by Docker and
// Podman.
type inspectRecord struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Config struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
}

// Inspect reports a container's id, name, image and state.
func (e *BaseCLIEngine) Inspect(ctx context.Context, containerID ContainerID) (*ContainerInfo, error) {
	if err := containerID.Validate(); err != nil {
		return nil, err
	}

	out, err := e.RunCommandWithOutput(ctx, e.InspectArgs(containerID)...)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such") {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return nil, err
	}

	var records []inspectRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		return nil, fmt.Errorf("decode %s inspect output: %w", e.name, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}

	r := records[0]
	return &ContainerInfo{
		ID:     ContainerID(r.ID),
		Name:   strings.TrimPrefix(r.Name, "/"),
		Image:  ImageTag(r.Config.Image),
		Status: ContainerStatus(strings.ToLower(r.State.Status)),
		Labels: r.Config.Labels,
	}, nil
}

// List returns the ids of containers carrying every given label.
func (e *BaseCLIEngine) List(ctx context.Context, labels map[string]string) ([]ContainerID, error) {
	out, err := e.RunCommandWithOutput(ctx, e.ListArgs(labels)...)
	if err != nil {
		return nil, err
	}
	var ids []ContainerID
	for line := range strings.Lines(out) {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, ContainerID(id))
		}
	}
	return ids, nil
}

// --- Helpers ---

// commandError wraps a CLI failure with the engine's stderr, which carries
// the actual reason (missing image, name conflict, ...).
func commandError(binary string, args []string, stderr string, err error) error {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("%s %s: %s: %w", filepath.Base(binary), sub, msg, err)
	}
	return fmt.Errorf("%s %s: %w", filepath.Base(binary), sub, err)
}

// buildContainerError creates an actionable error for image build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := failure.NewErrorContext().
		WithKind(failure.KindProvisioning).
		WithOperation("build environment image")

	switch {
	case opts.Tag != "":
		ctx.WithResource(string(opts.Tag))
	case opts.ContextDir != "":
		ctx.WithResource(filepath.Join(opts.ContextDir, "Dockerfile"))
	}

	ctx.WithSuggestion("Ensure the base image is available (try: " + engine + " pull <base-image>)")
	ctx.WithSuggestion("Check that the setup script runs cleanly on the base image")
	ctx.WithSuggestion("Run with --verbose to see the full build output")

	return ctx.Wrap(cause).BuildError()
}

// runContainerError creates an actionable error for container start failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	ctx := failure.NewErrorContext().
		WithKind(failure.KindProvisioning).
		WithOperation("start environment").
		WithResource(string(opts.Image))

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	if opts.Name != "" {
		ctx.WithSuggestion("Check for a leftover container named " + opts.Name + " (try: faultlab reap)")
	}

	return ctx.Wrap(cause).BuildError()
}
