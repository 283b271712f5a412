// SPDX-License-Identifier: MPL-2.0

package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/hint"
	"github.com/faultlab/faultlab/internal/ledger"
	"github.com/faultlab/faultlab/internal/provision"
	"github.com/faultlab/faultlab/internal/runtime"
	"github.com/faultlab/faultlab/internal/scenario"
	"github.com/faultlab/faultlab/internal/testutil"
)

// scriptedGenerator returns its issues in order, then repeats the last one.
type scriptedGenerator struct {
	mu     sync.Mutex
	issues []*scenario.Issue
	err    error
	calls  int
}

func (g *scriptedGenerator) Generate(ctx context.Context, _ scenario.Difficulty, _ scenario.Category) (*scenario.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	i := min(g.calls-1, len(g.issues)-1)
	return g.issues[i].Clone(), nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testEnv struct {
	svc    *Service
	engine *testutil.FakeEngine
	ledger *ledger.SQLite
	gen    *scriptedGenerator
}

func newTestService(t *testing.T, gen *scriptedGenerator, opts ...Option) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	engine := testutil.NewFakeEngine()
	engine.ScriptFunc = testutil.MarkerScript

	provCfg := provision.DefaultConfig()
	provCfg.Apply(provision.WithBuildAttempts(1, time.Millisecond))

	rtCfg := runtime.DefaultConfig()
	rtCfg.TempDir = t.TempDir()
	exec, err := runtime.NewExecutor(engine, rtCfg)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	l, err := ledger.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	svc, err := New(Dependencies{
		Generator:   gen,
		Provisioner: provision.NewImageProvisioner(engine, provCfg),
		Runner:      exec,
		Hints:       hint.NewSequencer(hint.WithRandomSource(hint.NewFixedSource(0.5))),
		Ledger:      l,
		EngineName:  engine.Name(),
	}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{svc: svc, engine: engine, ledger: l, gen: gen}
}

func generatorFor(issues ...*scenario.Issue) *scriptedGenerator {
	return &scriptedGenerator{issues: issues}
}

func assertKind(t *testing.T, err error, want failure.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want kind %s", want)
	}
	if got := failure.KindOf(err); got != want {
		t.Fatalf("KindOf(%v) = %s, want %s", err, got, want)
	}
}

func TestService_EndToEnd(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("fs-marker-01")))
	ctx := context.Background()

	gen, err := env.svc.GenerateIssue(ctx, GenerateRequest{Difficulty: scenario.DifficultyEasy})
	if err != nil {
		t.Fatalf("GenerateIssue() error = %v", err)
	}
	if gen.SessionID == "" || gen.EnvironmentID == "" {
		t.Fatalf("GenerateIssue() = %+v, want session and environment ids", gen)
	}
	if gen.Title != "Missing marker file" || gen.Difficulty != scenario.DifficultyEasy {
		t.Errorf("GenerateIssue() = %+v", gen)
	}

	out, err := env.svc.ExecuteCommand(ctx, gen.SessionID, "ls -la")
	if err != nil {
		t.Fatalf("ExecuteCommand(ls -la) error = %v", err)
	}
	if strings.TrimSpace(out.Output) == "" {
		t.Error("ExecuteCommand(ls -la) returned empty output")
	}

	verdict, err := env.svc.VerifySolution(ctx, gen.SessionID)
	if err != nil {
		t.Fatalf("VerifySolution() error = %v", err)
	}
	if verdict.Resolved || !strings.Contains(verdict.Feedback, "marker missing") {
		t.Errorf("VerifySolution() before fix = %+v", verdict)
	}

	h, err := env.svc.GetHint(ctx, gen.SessionID)
	if err != nil {
		t.Fatalf("GetHint() error = %v", err)
	}
	if h.Hint != "Hint 1: check logs" {
		t.Errorf("GetHint() = %q, want %q", h.Hint, "Hint 1: check logs")
	}

	if _, err := env.svc.ExecuteCommand(ctx, gen.SessionID, "touch "+testutil.MarkerFile); err != nil {
		t.Fatalf("ExecuteCommand(touch) error = %v", err)
	}
	verdict, err = env.svc.VerifySolution(ctx, gen.SessionID)
	if err != nil {
		t.Fatalf("VerifySolution() error = %v", err)
	}
	if !verdict.Resolved || !strings.Contains(verdict.Feedback, "touch "+testutil.MarkerFile) {
		t.Errorf("VerifySolution() after fix = %+v", verdict)
	}

	info, err := env.svc.Session(ctx, gen.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if len(info.History) != 2 || info.History[0].Command != "ls -la" {
		t.Errorf("Session().History = %+v", info.History)
	}

	live, err := env.ledger.Live(ctx)
	if err != nil || len(live) != 1 || live[0].EnvironmentID != gen.EnvironmentID {
		t.Fatalf("ledger Live() = %+v, %v", live, err)
	}
	if live[0].SessionID != gen.SessionID || live[0].Engine != "fake" {
		t.Errorf("ledger entry = %+v", live[0])
	}

	if err := env.svc.EndSession(ctx, gen.SessionID); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	if len(env.engine.Live()) != 0 {
		t.Errorf("environments still running after EndSession: %v", env.engine.Live())
	}
	if live, _ := env.ledger.Live(ctx); len(live) != 0 {
		t.Errorf("ledger still lists %d environments", len(live))
	}
	_, err = env.svc.Session(ctx, gen.SessionID)
	assertKind(t, err, failure.KindNotFound)
}

func TestService_SessionIsolation(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("iso-a"), testutil.SampleIssue("iso-b")))
	ctx := context.Background()

	a, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if a.SessionID == b.SessionID || a.EnvironmentID == b.EnvironmentID {
		t.Fatalf("sessions share ids: %+v / %+v", a, b)
	}

	if _, err := env.svc.ExecuteCommand(ctx, a.SessionID, "touch "+testutil.MarkerFile); err != nil {
		t.Fatal(err)
	}

	va, _ := env.svc.VerifySolution(ctx, a.SessionID)
	vb, _ := env.svc.VerifySolution(ctx, b.SessionID)
	if !va.Resolved || vb.Resolved {
		t.Errorf("resolved a=%t b=%t, want true/false", va.Resolved, vb.Resolved)
	}
}

func TestService_HintCursorPerSession(t *testing.T) {
	// Both sessions run the same issue id.
	env := newTestService(t, generatorFor(testutil.SampleIssue("shared")))
	ctx := context.Background()

	a, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})
	b, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})

	first, _ := env.svc.GetHint(ctx, a.SessionID)
	second, _ := env.svc.GetHint(ctx, a.SessionID)
	other, _ := env.svc.GetHint(ctx, b.SessionID)

	if first.Hint != "Hint 1: check logs" || second.Hint != "Hint 2: check permissions" {
		t.Errorf("session a hints = %q, %q", first.Hint, second.Hint)
	}
	if other.Hint != "Hint 1: check logs" {
		t.Errorf("session b first hint = %q, want its own cursor", other.Hint)
	}
}

func TestService_RegeneratesInvalidIssues(t *testing.T) {
	invalid := testutil.SampleIssue("broken")
	invalid.Hints = []string{"only one"}
	valid := testutil.SampleIssue("fixed")

	t.Run("retry succeeds", func(t *testing.T) {
		env := newTestService(t, generatorFor(invalid, valid), WithMaxAttempts(2))

		res, err := env.svc.GenerateIssue(context.Background(), GenerateRequest{})
		if err != nil {
			t.Fatalf("GenerateIssue() error = %v", err)
		}
		if env.gen.Calls() != 2 {
			t.Errorf("generator calls = %d, want 2", env.gen.Calls())
		}
		info, _ := env.svc.Session(context.Background(), res.SessionID)
		if info.IssueID != "fixed" {
			t.Errorf("session issue = %q, want fixed", info.IssueID)
		}
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		env := newTestService(t, generatorFor(invalid), WithMaxAttempts(2))

		_, err := env.svc.GenerateIssue(context.Background(), GenerateRequest{})
		assertKind(t, err, failure.KindValidation)
		if env.gen.Calls() != 2 {
			t.Errorf("generator calls = %d, want 2", env.gen.Calls())
		}
		if env.engine.BuildCount() != 0 || len(env.svc.Sessions(context.Background())) != 0 {
			t.Error("invalid issue reached the provisioner or the store")
		}
	})
}

func TestService_GeneratorFailureNotRetried(t *testing.T) {
	gen := &scriptedGenerator{err: failure.New(failure.KindGeneration, "generate issue", "quota exceeded")}
	env := newTestService(t, gen, WithMaxAttempts(3))

	_, err := env.svc.GenerateIssue(context.Background(), GenerateRequest{})
	assertKind(t, err, failure.KindGeneration)
	if gen.Calls() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.Calls())
	}
}

func TestService_ProvisioningFailureIsRecoverable(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("no-daemon")))
	env.engine.RunErr = errors.New("Cannot connect to the Docker daemon")
	ctx := context.Background()

	_, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	assertKind(t, err, failure.KindProvisioning)
	if n := len(env.svc.Sessions(ctx)); n != 0 {
		t.Errorf("%d sessions left after failed provisioning", n)
	}

	// The service keeps working once the engine recovers.
	env.engine.RunErr = nil
	if _, err := env.svc.GenerateIssue(ctx, GenerateRequest{}); err != nil {
		t.Fatalf("GenerateIssue() after recovery error = %v", err)
	}
}

func TestService_InvalidInput(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("input")))
	ctx := context.Background()
	res, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
		want failure.Kind
	}{
		{"bad difficulty", func() error {
			_, err := env.svc.GenerateIssue(ctx, GenerateRequest{Difficulty: "insane"})
			return err
		}, failure.KindInvalidInput},
		{"bad category", func() error {
			_, err := env.svc.GenerateIssue(ctx, GenerateRequest{Category: "kernel"})
			return err
		}, failure.KindInvalidInput},
		{"empty command", func() error {
			_, err := env.svc.ExecuteCommand(ctx, res.SessionID, "   ")
			return err
		}, failure.KindInvalidInput},
		{"missing session id", func() error {
			_, err := env.svc.ExecuteCommand(ctx, "", "ls")
			return err
		}, failure.KindInvalidInput},
		{"unknown session execute", func() error {
			_, err := env.svc.ExecuteCommand(ctx, "nope", "ls")
			return err
		}, failure.KindNotFound},
		{"unknown session verify", func() error {
			_, err := env.svc.VerifySolution(ctx, "nope")
			return err
		}, failure.KindNotFound},
		{"unknown session hint", func() error {
			_, err := env.svc.GetHint(ctx, "nope")
			return err
		}, failure.KindNotFound},
		{"unknown session end", func() error {
			return env.svc.EndSession(ctx, "nope")
		}, failure.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertKind(t, tt.call(), tt.want)
		})
	}
}

func TestService_VerificationTransportError(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("transport")))
	ctx := context.Background()

	res, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	// The environment disappears behind the service's back.
	_ = env.engine.Remove(ctx, res.EnvironmentID, true)

	_, err = env.svc.VerifySolution(ctx, res.SessionID)
	assertKind(t, err, failure.KindVerificationTransport)

	// Teardown of a vanished environment is still quiet.
	if err := env.svc.EndSession(ctx, res.SessionID); err != nil {
		t.Errorf("EndSession() error = %v", err)
	}
}

func TestService_EndSessionImages(t *testing.T) {
	ctx := context.Background()
	issue := testutil.SampleIssue("img")

	imageOf := func(env *testEnv, res GenerateResult) container.ImageTag {
		c, _ := env.engine.Container(res.EnvironmentID)
		return c.Image
	}

	t.Run("kept by default", func(t *testing.T) {
		env := newTestService(t, generatorFor(issue))
		res, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})
		tag := imageOf(env, res)
		_ = env.svc.EndSession(ctx, res.SessionID)
		if ok, _ := env.engine.ImageExists(ctx, tag); !ok {
			t.Error("image removed although images are kept")
		}
	})

	t.Run("removed after last session", func(t *testing.T) {
		env := newTestService(t, generatorFor(issue), WithKeepImages(false))
		a, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})
		b, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})
		tag := imageOf(env, a)

		_ = env.svc.EndSession(ctx, a.SessionID)
		if ok, _ := env.engine.ImageExists(ctx, tag); !ok {
			t.Fatal("image removed while another session still uses it")
		}
		_ = env.svc.EndSession(ctx, b.SessionID)
		if ok, _ := env.engine.ImageExists(ctx, tag); ok {
			t.Error("image kept after its last session ended")
		}
	})

	t.Run("same id with other content has its own image", func(t *testing.T) {
		changed := issue.Clone()
		changed.SetupScript = "rm -f /root/fixed /root/backup"
		env := newTestService(t, generatorFor(issue, changed), WithKeepImages(false))
		a, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})
		b, _ := env.svc.GenerateIssue(ctx, GenerateRequest{})
		tagA, tagB := imageOf(env, a), imageOf(env, b)
		if tagA == tagB {
			t.Fatalf("both sessions run image %q", tagA)
		}

		_ = env.svc.EndSession(ctx, a.SessionID)
		if ok, _ := env.engine.ImageExists(ctx, tagA); ok {
			t.Error("first image kept although no session uses it")
		}
		if ok, _ := env.engine.ImageExists(ctx, tagB); !ok {
			t.Error("second image removed while its session is live")
		}
	})
}

func TestService_SessionEnvironmentState(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("state")))
	ctx := context.Background()

	res, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	info, err := env.svc.Session(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if info.EnvironmentState != "running" || !strings.HasPrefix(info.EnvironmentName, "faultlab-env-state-") {
		t.Errorf("Session() state = %q, name = %q", info.EnvironmentState, info.EnvironmentName)
	}

	if err := env.engine.Stop(ctx, res.EnvironmentID, 0); err != nil {
		t.Fatal(err)
	}
	if info, _ := env.svc.Session(ctx, res.SessionID); info.EnvironmentState != "exited" {
		t.Errorf("Session() state after stop = %q, want exited", info.EnvironmentState)
	}

	if err := env.engine.Remove(ctx, res.EnvironmentID, true); err != nil {
		t.Fatal(err)
	}
	if info, _ := env.svc.Session(ctx, res.SessionID); info.EnvironmentState != EnvironmentMissing {
		t.Errorf("Session() state after removal = %q, want %q", info.EnvironmentState, EnvironmentMissing)
	}
}

func TestService_Processes(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("procs")))
	ctx := context.Background()

	res, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	list, err := env.svc.Processes(ctx, res.SessionID, "nginx")
	if err != nil {
		t.Fatalf("Processes() error = %v", err)
	}
	if len(list.Processes) != 1 || list.Processes[0].PID != 1 || list.Running {
		t.Errorf("Processes() = %+v, want only pid 1 and nginx not running", list)
	}

	started, err := env.svc.StartProcess(ctx, res.SessionID, "nginx -g 'daemon off;'")
	if err != nil {
		t.Fatalf("StartProcess() error = %v", err)
	}
	if !started.Running || started.Name != "nginx" || len(started.Processes) != 2 {
		t.Errorf("StartProcess() = %+v", started)
	}

	list, err = env.svc.Processes(ctx, res.SessionID, "nginx")
	if err != nil || !list.Running {
		t.Errorf("Processes() after start = %+v, %v", list, err)
	}

	_, err = env.svc.StartProcess(ctx, res.SessionID, "  ")
	assertKind(t, err, failure.KindInvalidInput)
	_, err = env.svc.Processes(ctx, "no-such-session", "")
	assertKind(t, err, failure.KindNotFound)
}

func TestService_Reap(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("reap")))
	ctx := context.Background()

	owned, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	orphan := testutil.StartEnvironment(t, env.engine)
	if err := env.ledger.Record(ctx, ledger.Entry{
		EnvironmentID: orphan,
		SessionID:     "crashed-session",
		IssueID:       "old",
		CreatedAt:     time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.Reap(ctx, ReapOptions{})
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if !slices.Equal(res.Removed, []container.ContainerID{orphan}) {
		t.Errorf("Reap().Removed = %v, want [%s]", res.Removed, orphan)
	}
	if live := env.engine.Live(); !slices.Equal(live, []container.ContainerID{owned.EnvironmentID}) {
		t.Errorf("running environments = %v, want only the owned one", live)
	}

	res, err = env.svc.Reap(ctx, ReapOptions{})
	if err != nil || len(res.Removed) != 0 {
		t.Errorf("second Reap() = %v, %v; want nothing to do", res.Removed, err)
	}
}

func TestService_ReapLabelled(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("reap")))
	ctx := context.Background()

	owned, err := env.svc.GenerateIssue(ctx, GenerateRequest{})
	if err != nil {
		t.Fatal(err)
	}
	unmanaged := testutil.StartEnvironment(t, env.engine)

	// Started by a provisioner whose caller never journaled it.
	stray, err := provision.NewImageProvisioner(env.engine, nil).Provision(ctx, testutil.SampleIssue("stray"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.Reap(ctx, ReapOptions{})
	if err != nil || len(res.Removed) != 0 {
		t.Fatalf("Reap() = %v, %v; the ledger knows no orphan", res.Removed, err)
	}

	res, err = env.svc.Reap(ctx, ReapOptions{Labelled: true})
	if err != nil {
		t.Fatalf("Reap(labelled) error = %v", err)
	}
	if !slices.Equal(res.Removed, []container.ContainerID{stray}) {
		t.Errorf("Reap(labelled).Removed = %v, want [%s]", res.Removed, stray)
	}
	want := []container.ContainerID{owned.EnvironmentID, unmanaged}
	slices.Sort(want)
	if live := env.engine.Live(); !slices.Equal(live, want) {
		t.Errorf("running = %v, want %v", live, want)
	}
}

func TestService_Shutdown(t *testing.T) {
	env := newTestService(t, generatorFor(testutil.SampleIssue("a"), testutil.SampleIssue("b"), testutil.SampleIssue("c")))
	ctx := context.Background()

	for range 3 {
		if _, err := env.svc.GenerateIssue(ctx, GenerateRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := len(env.svc.Sessions(ctx)); n != 0 {
		t.Errorf("%d sessions left after Shutdown", n)
	}
	if live := env.engine.Live(); len(live) != 0 {
		t.Errorf("environments still running: %v", live)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{})
	if err == nil || !strings.Contains(err.Error(), "generator, provisioner, runner") {
		t.Errorf("New(empty) error = %v", err)
	}
}
