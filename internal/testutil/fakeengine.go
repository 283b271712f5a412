// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faultlab/faultlab/internal/container"
)

// Compile-time interface check
var _ container.Engine = (*FakeEngine)(nil)

type (
	// FakeEngine is an in-memory container.Engine. Containers have a flat
	// map of files and understand a handful of shell commands (ls, cat,
	// touch, rm, echo, mkdir, chmod). Verification-style invocations
	// ("bash -c 'bash <script>; echo $?'") are answered by ScriptFunc.
	FakeEngine struct {
		mu         sync.Mutex
		images     map[container.ImageTag]bool
		containers map[container.ContainerID]*FakeContainer
		seq        int

		// Builds records every build, with the staged setup script and Dockerfile.
		Builds []FakeBuild

		// BuildErrs are returned by successive Build calls before builds succeed.
		BuildErrs []error
		// RunErr, when set, makes Run report a start failure.
		RunErr error
		// RunLeaks makes a RunErr failure leave a created, never started
		// container behind, as engines do when the start step fails.
		RunLeaks bool
		// BuildGate, when set, holds every Build after it is recorded until
		// the channel is closed or the build context ends.
		BuildGate chan struct{}
		// ExecDelay delays every Exec, honoring context cancellation.
		ExecDelay time.Duration
		// ScriptFunc evaluates a script run through "bash <path>". The
		// default reports success with no output.
		ScriptFunc func(c *FakeContainer, script string) (output string, exitCode int)
		// ExecHook, when set, answers Exec before the built-in commands.
		// Returning handled=false falls through to the defaults.
		ExecHook func(c *FakeContainer, cmd []string) (stdout string, exitCode int, handled bool)

		active    atomic.Int32
		maxActive atomic.Int32
	}

	// FakeBuild is one recorded image build.
	FakeBuild struct {
		Tag         container.ImageTag
		Dockerfile  string
		SetupScript string
	}

	// FakeContainer is one simulated environment.
	FakeContainer struct {
		ID      container.ContainerID
		Name    string
		Image   container.ImageTag
		Labels  map[string]string
		Running bool
		// Created marks a container that was never started.
		Created bool
		Removed bool
		Files   map[string]string
		// Processes are the command lines "ps" reports, pid 1 first.
		Processes []string
		// Commands records every exec'd argv.
		Commands [][]string
	}
)

// NewFakeEngine creates an empty fake engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		images:     make(map[container.ImageTag]bool),
		containers: make(map[container.ContainerID]*FakeContainer),
	}
}

// Name returns "fake".
func (f *FakeEngine) Name() string { return "fake" }

// Available always reports true.
func (f *FakeEngine) Available() bool { return true }

// Version returns a fixed version string.
func (f *FakeEngine) Version(context.Context) (string, error) { return "0.0.0-fake", nil }

// Build records the build and registers the image.
func (f *FakeEngine) Build(ctx context.Context, opts container.BuildOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dockerfile, _ := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	setup, _ := os.ReadFile(filepath.Join(opts.ContextDir, "setup.sh"))

	f.mu.Lock()
	f.Builds = append(f.Builds, FakeBuild{Tag: opts.Tag, Dockerfile: string(dockerfile), SetupScript: string(setup)})
	gate := f.BuildGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.BuildErrs) > 0 {
		err := f.BuildErrs[0]
		f.BuildErrs = f.BuildErrs[1:]
		return err
	}
	f.images[opts.Tag] = true
	return nil
}

// Run starts a simulated container.
func (f *FakeEngine) Run(ctx context.Context, opts container.RunOptions) (*container.RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RunErr != nil {
		if f.RunLeaks {
			f.add(opts, false)
		}
		return &container.RunResult{ExitCode: 125, Error: f.RunErr}, nil
	}
	if !f.images[opts.Image] {
		return &container.RunResult{ExitCode: 125, Error: fmt.Errorf("unable to find image %q", opts.Image)}, nil
	}
	for _, c := range f.containers {
		if opts.Name != "" && c.Name == opts.Name && !c.Removed {
			return &container.RunResult{ExitCode: 125, Error: fmt.Errorf("container name %q is already in use", opts.Name)}, nil
		}
	}

	return &container.RunResult{ContainerID: f.add(opts, true)}, nil
}

// add registers a container. Callers hold f.mu.
func (f *FakeEngine) add(opts container.RunOptions, started bool) container.ContainerID {
	f.seq++
	id := container.ContainerID(fmt.Sprintf("%012x%052x", f.seq, f.seq))
	f.containers[id] = &FakeContainer{
		ID:        id,
		Name:      opts.Name,
		Image:     opts.Image,
		Labels:    opts.Labels,
		Running:   started,
		Created:   !started,
		Files:     map[string]string{"/root/.bashrc": "# bashrc\n"},
		Processes: []string{"tail -f /dev/null"},
	}
	return id
}

// Exec runs a simulated command.
func (f *FakeEngine) Exec(ctx context.Context, id container.ContainerID, cmd []string, opts container.ExecOptions) (*container.RunResult, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.ExecDelay > 0 {
		select {
		case <-ctx.Done():
			return &container.RunResult{ContainerID: id, ExitCode: 1, Error: ctx.Err()}, nil
		case <-time.After(f.ExecDelay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok || !c.Running {
		writeTo(opts.Stderr, fmt.Sprintf("Error response from daemon: No such container: %s\n", id))
		return &container.RunResult{ContainerID: id, ExitCode: 1}, nil
	}
	c.Commands = append(c.Commands, slices.Clone(cmd))

	stdout, stderr, code := f.simulate(c, cmd)
	writeTo(opts.Stdout, stdout)
	writeTo(opts.Stderr, stderr)
	return &container.RunResult{ContainerID: id, ExitCode: code}, nil
}

// CopyTo copies a host file into the simulated container.
func (f *FakeEngine) CopyTo(_ context.Context, hostPath string, id container.ContainerID, containerPath string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("cp: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok || !c.Running {
		return fmt.Errorf("cp: no such container: %s", id)
	}
	c.Files[containerPath] = string(data)
	return nil
}

// Stop stops a simulated container.
func (f *FakeEngine) Stop(_ context.Context, id container.ContainerID, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok || c.Removed {
		return fmt.Errorf("no such container: %s", id)
	}
	c.Running = false
	return nil
}

// Remove removes a simulated container, by id or by name.
func (f *FakeEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok || c.Removed {
		return fmt.Errorf("no such container: %s", id)
	}
	c.Running = false
	c.Removed = true
	return nil
}

// Inspect reports a simulated container's state.
func (f *FakeEngine) Inspect(_ context.Context, id container.ContainerID) (*container.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok || c.Removed {
		return nil, fmt.Errorf("%w: %s", container.ErrContainerNotFound, id)
	}
	status := container.StatusExited
	switch {
	case c.Running:
		status = container.StatusRunning
	case c.Created:
		status = container.StatusCreated
	}
	return &container.ContainerInfo{
		ID:     c.ID,
		Name:   c.Name,
		Image:  c.Image,
		Status: status,
		Labels: maps.Clone(c.Labels),
	}, nil
}

// List returns the ids of non-removed containers carrying every label.
func (f *FakeEngine) List(_ context.Context, labels map[string]string) ([]container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []container.ContainerID
	for id, c := range f.containers {
		if c.Removed {
			continue
		}
		match := true
		for k, v := range labels {
			if c.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ImageExists reports whether a build registered the image.
func (f *FakeEngine) ImageExists(_ context.Context, image container.ImageTag) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

// RemoveImage forgets an image.
func (f *FakeEngine) RemoveImage(_ context.Context, image container.ImageTag, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, image)
	return nil
}

// Container returns a snapshot of a simulated container.
func (f *FakeEngine) Container(id container.ContainerID) (FakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok {
		return FakeContainer{}, false
	}
	snap := *c
	snap.Files = maps.Clone(c.Files)
	snap.Commands = slices.Clone(c.Commands)
	snap.Processes = slices.Clone(c.Processes)
	return snap, true
}

// Live returns the ids of containers that are running.
func (f *FakeEngine) Live() []container.ContainerID {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []container.ContainerID
	for id, c := range f.containers {
		if c.Running {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Present returns the ids of containers that were not removed, started
// or not.
func (f *FakeEngine) Present() []container.ContainerID {
	ids, _ := f.List(context.Background(), nil)
	return ids
}

// BuildCount returns the number of recorded builds.
func (f *FakeEngine) BuildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Builds)
}

// MaxConcurrentExec returns the highest number of Exec calls observed in flight.
func (f *FakeEngine) MaxConcurrentExec() int {
	return int(f.maxActive.Load())
}

// WriteFile places a file inside a running simulated container.
func (f *FakeEngine) WriteFile(id container.ContainerID, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.Files[path] = content
	}
}

// lookup finds a container by id or name. Callers hold f.mu.
func (f *FakeEngine) lookup(ref container.ContainerID) (*FakeContainer, bool) {
	if c, ok := f.containers[ref]; ok {
		return c, true
	}
	for _, c := range f.containers {
		if c.Name != "" && c.Name == string(ref) && !c.Removed {
			return c, true
		}
	}
	return nil, false
}

// HasFile reports whether the container holds path.
func (c *FakeContainer) HasFile(path string) bool {
	_, ok := c.Files[path]
	return ok
}

func (f *FakeEngine) simulate(c *FakeContainer, cmd []string) (stdout, stderr string, code int) {
	if f.ExecHook != nil {
		if out, exit, handled := f.ExecHook(c, cmd); handled {
			return out, "", exit
		}
	}

	switch cmd[0] {
	case "timeout":
		if inner := unwrapTimeout(cmd); len(inner) > 0 {
			return f.simulate(c, inner)
		}
		return "", "timeout: missing operand\n", 125
	case "bash", "sh":
		return f.simulateShell(c, cmd)
	case "echo":
		return strings.Join(cmd[1:], " ") + "\n", "", 0
	case "mkdir", "chmod", "true":
		return "", "", 0
	case "touch":
		for _, p := range cmd[1:] {
			if _, ok := c.Files[p]; !ok {
				c.Files[p] = ""
			}
		}
		return "", "", 0
	case "rm":
		for _, p := range cmd[1:] {
			if !strings.HasPrefix(p, "-") {
				delete(c.Files, p)
			}
		}
		return "", "", 0
	case "cat":
		var sb strings.Builder
		for _, p := range cmd[1:] {
			content, ok := c.Files[p]
			if !ok {
				return sb.String(), fmt.Sprintf("cat: %s: No such file or directory\n", p), 1
			}
			sb.WriteString(content)
		}
		return sb.String(), "", 0
	case "ls":
		paths := slices.Sorted(maps.Keys(c.Files))
		var sb strings.Builder
		fmt.Fprintf(&sb, "total %d\n", len(paths))
		for _, p := range paths {
			fmt.Fprintf(&sb, "-rw-r--r-- 1 root root %d %s\n", len(c.Files[p]), p)
		}
		return sb.String(), "", 0
	case "false":
		return "", "", 1
	case "ps":
		var sb strings.Builder
		for i, p := range c.Processes {
			fmt.Fprintf(&sb, "%7d root     %s\n", i+1, p)
		}
		fmt.Fprintf(&sb, "%7d root     %s\n", len(c.Processes)+1, strings.Join(cmd, " "))
		return sb.String(), "", 0
	default:
		return "", fmt.Sprintf("OCI runtime exec failed: exec: %q: executable file not found in $PATH\n", cmd[0]), 127
	}
}

// simulateShell handles "bash -c 'bash <path>; echo $?'" and "bash <path>".
func (f *FakeEngine) simulateShell(c *FakeContainer, cmd []string) (stdout, stderr string, code int) {
	if len(cmd) == 3 && cmd[1] == "-c" && strings.HasPrefix(cmd[2], "nohup ") {
		proc := strings.TrimPrefix(cmd[2], "nohup ")
		proc = strings.TrimSuffix(proc, " >/dev/null 2>&1 &")
		c.Processes = append(c.Processes, proc)
		return "", "", 0
	}

	var path string
	appendStatus := false
	switch {
	case len(cmd) == 3 && cmd[1] == "-c":
		fields := strings.Fields(strings.TrimSpace(cmd[2]))
		if len(fields) >= 2 && (fields[0] == "bash" || fields[0] == "sh") {
			path = strings.TrimSuffix(fields[1], ";")
			appendStatus = strings.Contains(cmd[2], "echo $?")
		}
	case len(cmd) == 2:
		path = cmd[1]
	}
	if path == "" {
		return "", "unsupported shell invocation\n", 2
	}

	script, ok := c.Files[path]
	if !ok {
		out := fmt.Sprintf("bash: %s: No such file or directory\n", path)
		if appendStatus {
			return out + "127\n", "", 0
		}
		return "", out, 127
	}

	output, exit := "", 0
	if f.ScriptFunc != nil {
		output, exit = f.ScriptFunc(c, script)
	}
	if appendStatus {
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		return fmt.Sprintf("%s%d\n", output, exit), "", 0
	}
	return output, "", exit
}

// unwrapTimeout strips "timeout [-k N] [-s SIG] DURATION" from argv.
func unwrapTimeout(cmd []string) []string {
	rest := cmd[1:]
	for len(rest) > 1 && (rest[0] == "-k" || rest[0] == "-s") {
		rest = rest[2:]
	}
	if len(rest) < 2 {
		return nil
	}
	return rest[1:]
}

func writeTo(w io.Writer, s string) {
	if w != nil && s != "" {
		_, _ = io.WriteString(w, s)
	}
}
