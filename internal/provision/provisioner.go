// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

// digestLength is the number of hex digits of the content digest kept in
// image tags.
const digestLength = 12

// discardTimeout bounds the cleanup of a container whose start failed.
const discardTimeout = 30 * time.Second

const (
	// LabelManaged marks containers started by faultlab.
	LabelManaged = "faultlab.managed"
	// LabelIssue records the issue id a container was provisioned for.
	LabelIssue = "faultlab.issue"
)

// Compile-time interface check
var _ Provisioner = (*ImageProvisioner)(nil)

type (
	// Provisioner turns issues into running environments and tears them down.
	Provisioner interface {
		// Provision builds (or reuses) the issue image and starts a fresh
		// environment from it. Failures are *failure.ActionableError values
		// of kind KindProvisioning.
		Provision(ctx context.Context, issue *scenario.Issue) (container.ContainerID, error)
		// Remove stops and discards an environment. It is best-effort and
		// idempotent: failures are logged, never returned.
		Remove(ctx context.Context, envID container.ContainerID)
	}

	// ImageProvisioner is the container-engine backed Provisioner.
	ImageProvisioner struct {
		engine container.Engine
		config *Config
		builds singleflight.Group
		logger *slog.Logger
	}
)

// NewImageProvisioner creates a provisioner. A nil cfg uses DefaultConfig.
func NewImageProvisioner(engine container.Engine, cfg *Config) *ImageProvisioner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &ImageProvisioner{
		engine: engine,
		config: cfg,
		logger: slog.Default().With("component", "provision"),
	}
}

// Config returns the provisioner's configuration.
func (p *ImageProvisioner) Config() *Config {
	return p.config
}

// ImageTag returns the image tag for an issue:
// "<prefix>-<normalized id>-<content digest>". The digest covers the
// generated Dockerfile and setup script, so an issue whose id repeats with
// different content gets its own image.
func (p *ImageProvisioner) ImageTag(issue *scenario.Issue) container.ImageTag {
	sum := sha256.New()
	sum.Write([]byte(p.generateDockerfile(issue)))
	sum.Write([]byte{0})
	sum.Write([]byte(setupScript(issue)))
	digest := hex.EncodeToString(sum.Sum(nil))[:digestLength]
	return container.ImageTag(p.config.TagPrefix + "-" + issue.NormalizedID() + "-" + digest)
}

// Provision realizes the issue as a running environment and returns its id.
func (p *ImageProvisioner) Provision(ctx context.Context, issue *scenario.Issue) (container.ContainerID, error) {
	if issue == nil || issue.NormalizedID() == "" {
		return "", provisioningError("provision environment", "", errors.New("issue has no usable id"))
	}

	tag := p.ImageTag(issue)
	if err := p.ensureImage(ctx, issue, tag); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-env-%s-%s", p.config.TagPrefix, issue.NormalizedID(), uuid.NewString()[:8])
	var stderr bytes.Buffer
	res, err := p.engine.Run(ctx, container.RunOptions{
		Image:  tag,
		Name:   name,
		Detach: true,
		TTY:    true,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelIssue:   issue.ID,
		},
		Stderr: &stderr,
	})
	if err == nil && res.Error != nil {
		err = res.Error
	}
	if err == nil {
		if idErr := res.ContainerID.Validate(); idErr != nil {
			err = fmt.Errorf("engine returned no container id: %s", strings.TrimSpace(stderr.String()))
		}
	}
	if err != nil {
		// The engine may have created the container before failing or
		// before the caller gave up; its name is the only handle left.
		p.discard(ctx, name)
		return "", provisioningError("start environment", string(tag), err)
	}

	envID := res.ContainerID
	p.logger.Info("environment started", "issue", issue.ID, "environment", envID.Short(), "name", name)
	return envID, nil
}

// Remove stops then force-removes an environment. Both steps are
// best-effort; removing an already-removed environment is a no-op.
func (p *ImageProvisioner) Remove(ctx context.Context, envID container.ContainerID) {
	if envID == "" {
		return
	}
	if err := p.engine.Stop(ctx, envID, p.config.StopTimeout); err != nil {
		p.logger.Debug("stop environment failed", "environment", envID.Short(), "error", err)
	}
	if err := p.engine.Remove(ctx, envID, true); err != nil {
		p.logger.Warn("remove environment failed", "environment", envID.Short(), "error", err)
		return
	}
	p.logger.Info("environment removed", "environment", envID.Short())
}

// Inspect reports the engine's view of an environment.
func (p *ImageProvisioner) Inspect(ctx context.Context, envID container.ContainerID) (*container.ContainerInfo, error) {
	return p.engine.Inspect(ctx, envID)
}

// Managed lists every container, running or not, that carries LabelManaged.
func (p *ImageProvisioner) Managed(ctx context.Context) ([]container.ContainerID, error) {
	return p.engine.List(ctx, map[string]string{LabelManaged: "true"})
}

// discard force-removes a container by name after a failed start.
func (p *ImageProvisioner) discard(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := p.engine.Remove(ctx, container.ContainerID(name), true); err != nil {
		p.logger.Debug("discard failed start", "name", name, "error", err)
		return
	}
	p.logger.Info("discarded failed start", "name", name)
}

// RemoveImage discards the issue image. Like Remove it is best-effort.
func (p *ImageProvisioner) RemoveImage(ctx context.Context, issue *scenario.Issue) {
	if issue == nil || issue.NormalizedID() == "" {
		return
	}
	tag := p.ImageTag(issue)
	if err := p.engine.RemoveImage(ctx, tag, true); err != nil {
		p.logger.Warn("remove image failed", "image", tag, "error", err)
		return
	}
	p.logger.Info("image removed", "image", tag)
}

// ensureImage builds the issue image unless it already exists. Concurrent
// calls for the same tag share one build. The shared build runs detached
// from any single caller, bounded by BuildTimeout; each caller stops
// waiting when its own context ends.
func (p *ImageProvisioner) ensureImage(ctx context.Context, issue *scenario.Issue, tag container.ImageTag) error {
	if !p.config.ForceRebuild {
		exists, err := p.engine.ImageExists(ctx, tag)
		if err != nil {
			p.logger.Debug("image lookup failed, rebuilding", "image", tag, "error", err)
		}
		if exists {
			p.logger.Debug("reusing image", "image", tag)
			return nil
		}
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := p.builds.DoChan(string(tag), func() (any, error) {
		return nil, p.buildImage(buildCtx, issue, tag)
	})
	select {
	case res := <-ch:
		if res.Shared {
			p.logger.Debug("joined in-flight build", "image", tag)
		}
		return res.Err
	case <-ctx.Done():
		return provisioningError("build environment image", string(tag), ctx.Err())
	}
}

// buildImage stages the build context and runs the engine build, retrying
// transient failures.
func (p *ImageProvisioner) buildImage(ctx context.Context, issue *scenario.Issue, tag container.ImageTag) error {
	buildCtx, cleanup, err := p.prepareBuildContext(issue)
	if err != nil {
		return provisioningError("stage build context", string(tag), err)
	}
	defer cleanup()

	if p.config.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.BuildTimeout)
		defer cancel()
	}

	out := p.config.BuildOutput
	if out == nil {
		out = io.Discard
	}

	p.logger.Info("building image", "image", tag, "base", issue.Image())

	err = container.RetryWithBackoff(ctx, p.config.BuildAttempts, p.config.BuildBackoff, func(attempt int) (bool, error) {
		buildErr := p.engine.Build(ctx, container.BuildOptions{
			ContextDir: buildCtx,
			Dockerfile: dockerfileName,
			Tag:        tag,
			Stdout:     out,
			Stderr:     out,
		})
		if buildErr != nil && container.IsTransientError(buildErr) {
			p.logger.Warn("transient build failure, retrying", "image", tag, "attempt", attempt+1, "error", buildErr)
			return true, buildErr
		}
		return false, buildErr
	})
	if err != nil {
		return provisioningError("build environment image", string(tag), err)
	}
	return nil
}

// prepareBuildContext writes setup.sh and the Dockerfile into a fresh
// directory. The returned cleanup removes it.
//
// Docker installed via Snap cannot read /tmp or hidden directories, so a
// visible directory under $HOME is preferred.
func (p *ImageProvisioner) prepareBuildContext(issue *scenario.Issue) (dir string, cleanup func(), err error) {
	parent := filepath.Join(os.TempDir(), "faultlab-build")
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		if _, statErr := os.Stat(home); statErr == nil {
			parent = filepath.Join(home, "faultlab-build")
		}
	}

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, fmt.Errorf("create build context parent: %w", err)
	}

	dir, err = os.MkdirTemp(parent, "ctx-*")
	if err != nil {
		return "", nil, fmt.Errorf("create build context: %w", err)
	}
	cleanup = func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.Debug("remove build context failed", "dir", dir, "error", rmErr)
		}
	}

	//nolint:gosec // setup script must be executable inside the image
	if err := os.WriteFile(filepath.Join(dir, setupScriptName), []byte(setupScript(issue)), 0o755); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write setup script: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, dockerfileName), []byte(p.generateDockerfile(issue)), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write Dockerfile: %w", err)
	}

	return dir, cleanup, nil
}

func provisioningError(operation, resource string, cause error) error {
	var ae *failure.ActionableError
	if errors.As(cause, &ae) && ae.Kind == failure.KindProvisioning {
		return cause
	}
	return failure.NewErrorContext().
		WithKind(failure.KindProvisioning).
		WithOperation(operation).
		WithResource(resource).
		WithSuggestion("Run 'faultlab doctor' to check the container engine").
		Wrap(cause).
		BuildError()
}
