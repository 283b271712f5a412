// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// EngineTypePodman selects the Podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the Docker CLI.
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrInvalidContainerID is the sentinel wrapped by InvalidContainerIDError.
	ErrInvalidContainerID = errors.New("invalid container id")
	// ErrInvalidImageTag is the sentinel wrapped by InvalidImageTagError.
	ErrInvalidImageTag = errors.New("invalid image tag")
	// ErrInvalidEngineType is returned for unknown engine types.
	ErrInvalidEngineType = errors.New("invalid container engine type")
	// ErrEngineUnavailable is the sentinel wrapped by EngineNotAvailableError.
	ErrEngineUnavailable = errors.New("container engine not available")
	// ErrContainerNotFound is returned by Inspect for an unknown container.
	ErrContainerNotFound = errors.New("container not found")
)

const (
	// StatusCreated is a container that was created but never started.
	StatusCreated ContainerStatus = "created"
	// StatusRunning is a started container.
	StatusRunning ContainerStatus = "running"
	// StatusPaused is a paused container.
	StatusPaused ContainerStatus = "paused"
	// StatusExited is a container whose main process ended.
	StatusExited ContainerStatus = "exited"
)

type (
	// Engine is the environment runtime: a container engine reached through
	// its CLI.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available reports whether the engine binary exists and its daemon answers.
		Available() bool
		// Version returns the engine server version.
		Version(ctx context.Context) (string, error)

		// Build builds an image from a Dockerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// Run starts a container. With Detach set, RunResult.ContainerID holds
		// the id printed by the engine.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Exec runs a command in a running container. A non-zero exit status is
		// reported in RunResult.ExitCode, not as an error.
		Exec(ctx context.Context, containerID ContainerID, command []string, opts ExecOptions) (*RunResult, error)
		// CopyTo copies a host file into a running container.
		CopyTo(ctx context.Context, hostPath string, containerID ContainerID, containerPath string) error
		// Stop stops a running container, waiting at most timeout before killing it.
		Stop(ctx context.Context, containerID ContainerID, timeout time.Duration) error
		// Remove removes a container.
		Remove(ctx context.Context, containerID ContainerID, force bool) error
		// ImageExists checks if an image exists locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)
		// RemoveImage removes an image.
		RemoveImage(ctx context.Context, image ImageTag, force bool) error
		// Inspect reports a container's state. An unknown container yields
		// an error wrapping ErrContainerNotFound.
		Inspect(ctx context.Context, containerID ContainerID) (*ContainerInfo, error)
		// List returns the ids of all containers, running or not, carrying
		// every given label.
		List(ctx context.Context, labels map[string]string) ([]ContainerID, error)
	}

	// ContainerStatus is the engine's state name for a container, such as
	// "running" or "exited".
	ContainerStatus string

	// ContainerInfo is the engine's view of one container.
	ContainerInfo struct {
		ID     ContainerID       `json:"id"`
		Name   string            `json:"name"`
		Image  ImageTag          `json:"image"`
		Status ContainerStatus   `json:"status"`
		Labels map[string]string `json:"labels,omitempty"`
	}

	// EngineType identifies the container engine type.
	EngineType string

	// ContainerID identifies a container as printed by the engine.
	ContainerID string

	// InvalidContainerIDError is returned when a ContainerID is empty or
	// contains whitespace.
	InvalidContainerIDError struct {
		Value ContainerID
	}

	// ImageTag is an image reference such as "faultlab-dns-01" or "ubuntu:20.04".
	ImageTag string

	// InvalidImageTagError is returned when an ImageTag is empty or contains
	// whitespace.
	InvalidImageTagError struct {
		Value ImageTag
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the path to the Dockerfile (relative to ContextDir).
		Dockerfile string
		// Tag is the image tag.
		Tag ImageTag
		// BuildArgs are build-time variables.
		BuildArgs map[string]string
		// NoCache disables the build cache.
		NoCache bool
		// Stdout receives build output.
		Stdout io.Writer
		// Stderr receives build errors.
		Stderr io.Writer
	}

	// RunOptions contains options for starting a container.
	RunOptions struct {
		// Image is the image to run.
		Image ImageTag
		// Command overrides the image CMD.
		Command []string
		// Name is the container name.
		Name string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Env contains environment variables.
		Env map[string]string
		// Labels are attached to the container for later discovery.
		Labels map[string]string
		// Detach starts the container in the background.
		Detach bool
		// TTY allocates a pseudo-TTY.
		TTY bool
		// Remove automatically removes the container after exit.
		Remove bool
		// Stdout receives the engine's standard output. When nil and Detach is
		// set, output is captured to read the container id.
		Stdout io.Writer
		// Stderr receives the engine's standard error.
		Stderr io.Writer
	}

	// ExecOptions contains options for running a command in a container.
	ExecOptions struct {
		// WorkDir is the working directory for the command.
		WorkDir string
		// Env contains extra environment variables.
		Env map[string]string
		// Stdin is the standard input.
		Stdin io.Reader
		// Stdout receives standard output.
		Stdout io.Writer
		// Stderr receives standard error.
		Stderr io.Writer
	}

	// RunResult contains the result of running or exec-ing in a container.
	RunResult struct {
		// ContainerID is the container the command ran in.
		ContainerID ContainerID
		// ExitCode is the exit code.
		ExitCode int
		// Error holds an infrastructure failure (binary missing, daemon down).
		// It is nil when the command merely exited non-zero.
		Error error
	}

	// EngineNotAvailableError is returned when no usable engine is found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// String returns the string representation of the ContainerID.
func (id ContainerID) String() string { return string(id) }

// Short returns the first 12 characters of the id, as engines display it.
func (id ContainerID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// Validate returns an error if the ContainerID is empty or contains whitespace.
func (id ContainerID) Validate() error {
	s := string(id)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return &InvalidContainerIDError{Value: id}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidContainerIDError) Error() string {
	return fmt.Sprintf("invalid container id %q: must be non-empty without whitespace", e.Value)
}

// Unwrap returns ErrInvalidContainerID for errors.Is() compatibility.
func (e *InvalidContainerIDError) Unwrap() error { return ErrInvalidContainerID }

// String returns the string representation of the ImageTag.
func (t ImageTag) String() string { return string(t) }

// Validate returns an error if the ImageTag is empty or contains whitespace.
func (t ImageTag) Validate() error {
	s := string(t)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return &InvalidImageTagError{Value: t}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidImageTagError) Error() string {
	return fmt.Sprintf("invalid image tag %q: must be non-empty without whitespace", e.Value)
}

// Unwrap returns ErrInvalidImageTag for errors.Is() compatibility.
func (e *InvalidImageTagError) Unwrap() error { return ErrInvalidImageTag }

// Validate checks the fields BuildOptions needs to produce a build command.
func (o BuildOptions) Validate() error {
	if o.ContextDir == "" {
		return errors.New("build options: context directory is required")
	}
	if o.Tag != "" {
		if err := o.Tag.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields RunOptions needs to produce a run command.
func (o RunOptions) Validate() error {
	return o.Image.Validate()
}

// String returns the string representation of the ContainerStatus.
func (s ContainerStatus) String() string { return string(s) }

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

// Validate returns an error if t is not docker or podman.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEngineType, string(t))
	}
}

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineUnavailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineUnavailable }

// NewEngine creates an engine of the preferred type, falling back to the
// other engine when the preferred one is not available.
func NewEngine(preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	if err := preferredType.Validate(); err != nil {
		return nil, err
	}

	var primary, fallback Engine
	switch preferredType {
	case EngineTypePodman:
		primary, fallback = NewPodmanEngine(opts...), NewDockerEngine(opts...)
	default:
		primary, fallback = NewDockerEngine(opts...), NewPodmanEngine(opts...)
	}

	if primary.Available() {
		return primary, nil
	}
	if fallback.Available() {
		return fallback, nil
	}
	return nil, &EngineNotAvailableError{
		Engine: string(preferredType),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available",
			primary.Name(), fallback.Name()),
	}
}

// AutoDetectEngine returns the first available engine, trying Docker first.
func AutoDetectEngine() (Engine, error) {
	engine, err := NewEngine(EngineTypeDocker)
	if err != nil {
		return nil, &EngineNotAvailableError{
			Engine: "any",
			Reason: "no container engine (docker or podman) is available on this system",
		}
	}
	return engine, nil
}
