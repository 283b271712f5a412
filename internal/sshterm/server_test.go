// SPDX-License-Identifier: MPL-2.0

package sshterm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/bcrypt"

	appsvc "github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/core/lifecycle"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

type (
	stubOps struct {
		mu    sync.Mutex
		reqs  []appsvc.GenerateRequest
		ended int
	}

	syncBuffer struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
)

func (o *stubOps) GenerateIssue(_ context.Context, req appsvc.GenerateRequest) (appsvc.GenerateResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reqs = append(o.reqs, req)
	return appsvc.GenerateResult{SessionID: "s-1", Title: "Remote trouble", Description: "Fix it.", Difficulty: req.Difficulty.OrDefault()}, nil
}

func (o *stubOps) ExecuteCommand(_ context.Context, _, line string) (appsvc.ExecuteResult, error) {
	return appsvc.ExecuteResult{Output: "ran " + line + "\n"}, nil
}

func (o *stubOps) VerifySolution(context.Context, string) (appsvc.VerifyResult, error) {
	return appsvc.VerifyResult{Feedback: "not yet"}, nil
}

func (o *stubOps) GetHint(context.Context, string) (appsvc.HintResult, error) {
	return appsvc.HintResult{Hint: "check the logs"}, nil
}

func (o *stubOps) EndSession(context.Context, string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended++
	return nil
}

func (o *stubOps) snapshot() ([]appsvc.GenerateRequest, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appsvc.GenerateRequest(nil), o.reqs...), o.ended
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in:\n%s", want, b.String())
}

func startServer(t *testing.T, ops *stubOps, hash string) *Server {
	t.Helper()
	srv := NewServer(ops, Config{
		Address:      "127.0.0.1:0",
		HostKeyPath:  filepath.Join(t.TempDir(), "keys", "host_ed25519"),
		PasswordHash: hash,
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv
}

func dial(t *testing.T, addr, user, password string) (*gossh.Client, error) {
	t.Helper()
	cfg := &gossh.ClientConfig{
		User:            user,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	if password != "" {
		cfg.Auth = []gossh.AuthMethod{gossh.Password(password)}
	}
	return gossh.Dial("tcp", addr, cfg)
}

func TestServer_PlaysChallenge(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ops := &stubOps{}
	srv := startServer(t, ops, string(hash))

	client, err := dial(t, srv.Addr(), "medium.networking", "letmein")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer sess.Close()

	if err := sess.RequestPty("xterm", 40, 120, gossh.TerminalModes{}); err != nil {
		t.Fatalf("RequestPty() error = %v", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	out := &syncBuffer{}
	sess.Stdout = out
	if err := sess.Shell(); err != nil {
		t.Fatalf("Shell() error = %v", err)
	}

	out.waitFor(t, "# Remote trouble")
	out.waitFor(t, "faultlab> ")

	_, _ = io.WriteString(stdin, "uptime\r")
	out.waitFor(t, "ran uptime")

	_, _ = io.WriteString(stdin, "hint\r")
	out.waitFor(t, "Hint: check the logs")

	_, _ = io.WriteString(stdin, "quit\r")
	out.waitFor(t, "Thanks for playing")

	if err := sess.Wait(); err != nil {
		t.Errorf("Wait() error = %v, want clean exit", err)
	}

	reqs, ended := ops.snapshot()
	if len(reqs) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(reqs))
	}
	if reqs[0].Difficulty != scenario.DifficultyMedium || reqs[0].Category != scenario.CategoryNetworking {
		t.Errorf("request = %+v", reqs[0])
	}
	if ended != 1 {
		t.Errorf("ended sessions = %d, want 1", ended)
	}
}

func TestServer_RejectsWrongPassword(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv := startServer(t, &stubOps{}, string(hash))

	if client, err := dial(t, srv.Addr(), "easy", "nope"); err == nil {
		_ = client.Close()
		t.Fatal("dial succeeded with the wrong password")
	}
}

func TestServer_RequiresPty(t *testing.T) {
	t.Parallel()

	ops := &stubOps{}
	srv := startServer(t, ops, "")

	client, err := dial(t, srv.Addr(), "easy", "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	err = sess.Run("")
	var exitErr *gossh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 1 {
		t.Errorf("Run() error = %v, want exit status 1", err)
	}
	if reqs, _ := ops.snapshot(); len(reqs) != 0 {
		t.Errorf("challenge started without a terminal: %+v", reqs)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubOps{}, Config{Address: "127.0.0.1:0"})
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() before Start error = %v", err)
	}
	if srv.State() != lifecycle.StateStopped {
		t.Errorf("State() = %v, want stopped", srv.State())
	}

	bad := NewServer(&stubOps{}, Config{Address: "127.0.0.1:0", PasswordHash: "plain-text"})
	err := bad.Start(context.Background())
	if !errors.Is(err, failure.ErrInvalidInput) {
		t.Errorf("Start() with a bad hash error = %v, want invalid input", err)
	}
	if bad.State() != lifecycle.StateFailed {
		t.Errorf("State() = %v, want failed", bad.State())
	}

	running := NewServer(&stubOps{}, Config{Address: "127.0.0.1:0"})
	if err := running.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if running.State() != lifecycle.StateRunning {
		t.Errorf("State() = %v, want running", running.State())
	}
	if err := running.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if running.State() != lifecycle.StateStopped {
		t.Errorf("State() = %v, want stopped", running.State())
	}
}

func TestRequestFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		user string
		want appsvc.GenerateRequest
	}{
		{"easy", appsvc.GenerateRequest{Difficulty: scenario.DifficultyEasy}},
		{"HARD", appsvc.GenerateRequest{Difficulty: scenario.DifficultyHard}},
		{"medium.permissions", appsvc.GenerateRequest{Difficulty: scenario.DifficultyMedium, Category: scenario.CategoryPermissions}},
		{"alice", appsvc.GenerateRequest{}},
		{"hard.astrology", appsvc.GenerateRequest{Difficulty: scenario.DifficultyHard}},
		{"", appsvc.GenerateRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			t.Parallel()
			if got := RequestFor(tt.user); got != tt.want {
				t.Errorf("RequestFor(%q) = %+v, want %+v", tt.user, got, tt.want)
			}
		})
	}
}
