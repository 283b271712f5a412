// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faultlab/faultlab/internal/config"
)

// newConfigApp returns an App on the real file provider with the config
// and state directories moved into a temp dir.
func newConfigApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	config.SetConfigDirOverride(filepath.Join(dir, "config"))
	config.SetStateDirOverride(filepath.Join(dir, "state"))
	t.Cleanup(config.Reset)
	t.Chdir(dir)

	var stdout, stderr bytes.Buffer
	plain := true
	return NewApp(Dependencies{Stdout: &stdout, Stderr: &stderr, Plain: &plain}), filepath.Join(dir, "config")
}

func TestConfigCommands(t *testing.T) {
	app, cfgDir := newConfigApp(t)
	want := filepath.Join(cfgDir, "config.cue")

	res := runCLI(t, app, "config", "path")
	if res.err != nil {
		t.Fatalf("config path error = %v", res.err)
	}
	if strings.TrimSpace(res.stdout) != want {
		t.Errorf("config path = %q, want %q", strings.TrimSpace(res.stdout), want)
	}

	app, _ = newConfigApp(t)
	app.stdout.(*bytes.Buffer).Reset()
	res = runCLI(t, app, "config", "show")
	if res.err != nil {
		t.Fatalf("config show error = %v", res.err)
	}
	if !strings.Contains(res.stdout, "(using defaults)") {
		t.Errorf("config show without file:\n%s", res.stdout)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	app, cfgDir := newConfigApp(t)
	path := filepath.Join(cfgDir, "config.cue")

	res := runCLI(t, app, "config", "init")
	if res.err != nil {
		t.Fatalf("config init error = %v", res.err)
	}
	if !strings.Contains(res.stdout, "Created config file:") {
		t.Errorf("config init output:\n%s", res.stdout)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	app.stdout.(*bytes.Buffer).Reset()
	res = runCLI(t, app, "config", "init")
	if res.err != nil || !strings.Contains(res.stdout, "already exists") {
		t.Errorf("second init = %q, %v", res.stdout, res.err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(data), "generator: {", "generator: {\n\tapi_key: \"sk-secret\"", 1)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	app.stdout.(*bytes.Buffer).Reset()
	res = runCLI(t, app, "config", "show")
	if res.err != nil {
		t.Fatalf("config show error = %v", res.err)
	}
	if !strings.Contains(res.stdout, path) {
		t.Errorf("config show does not name the file:\n%s", res.stdout)
	}
	if strings.Contains(res.stdout, "sk-secret") || !strings.Contains(res.stdout, maskedSecret) {
		t.Errorf("api key not masked:\n%s", res.stdout)
	}
}

func TestConfigShow_ExplicitMissingFile(t *testing.T) {
	app, _ := newConfigApp(t)
	res := runCLI(t, app, "--config", "/nonexistent/faultlab.cue", "config", "show")
	if res.err == nil {
		t.Fatal("config show succeeded with a missing --config file")
	}
}
