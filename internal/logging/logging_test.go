// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      Options
		wantDebug bool
		wantInfo  bool
	}{
		{"default is info", Options{}, false, true},
		{"debug", Options{Level: "debug"}, true, true},
		{"warn hides info", Options{Level: "warn"}, false, false},
		{"verbose forces debug", Options{Level: "error", Verbose: true}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger, err := New(&buf, tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			logger.Debug("debug line")
			logger.Info("info line", "session", "s-1")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %t, want %t\n%s", got, tt.wantDebug, out)
			}
			if got := strings.Contains(out, "info line"); got != tt.wantInfo {
				t.Errorf("info logged = %t, want %t\n%s", got, tt.wantInfo, out)
			}
			if tt.wantInfo && !strings.Contains(out, "s-1") {
				t.Errorf("attributes missing from output: %s", out)
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(&buf, Options{Format: "json"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("environment removed", "environment", "abc123")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "environment removed" || record["environment"] != "abc123" {
		t.Errorf("record = %v", record)
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("New(level=loud) error = nil")
	}
	if _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("New(format=xml) error = nil")
	}
}
