// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"errors"
	"strings"
	"testing"

	"github.com/faultlab/faultlab/internal/failure"
)

func validIssue() *Issue {
	return &Issue{
		ID:                 "perm-01",
		Title:              "Unreadable web root",
		Description:        "The web server returns 403 for every page even though the files are present on disk.",
		Category:           CategoryPermissions,
		Difficulty:         DifficultyEasy,
		SetupScript:        "#!/bin/bash\nchmod 000 /var/www/html\n",
		VerificationScript: "#!/bin/bash\ntest -r /var/www/html/index.html\n",
		Hints:              []string{"check logs", "check permissions"},
		Solution:           "chmod 755 /var/www/html",
	}
}

func TestIssue_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Issue)
		wantErr string
	}{
		{name: "valid", mutate: func(*Issue) {}},
		{name: "missing id", mutate: func(i *Issue) { i.ID = "" }, wantErr: "missing required field id"},
		{name: "whitespace title", mutate: func(i *Issue) { i.Title = "  " }, wantErr: "missing required field title"},
		{name: "missing solution", mutate: func(i *Issue) { i.Solution = "" }, wantErr: "missing required field solution"},
		{name: "nil hints", mutate: func(i *Issue) { i.Hints = nil }, wantErr: "missing required field hints"},
		{name: "short description", mutate: func(i *Issue) { i.Description = strings.Repeat("x", 49) }, wantErr: "description is 49"},
		{name: "description at limit", mutate: func(i *Issue) { i.Description = strings.Repeat("x", 50) }},
		{name: "short setup", mutate: func(i *Issue) { i.SetupScript = strings.Repeat("x", 19) }, wantErr: "setup_script is 19"},
		{name: "setup at limit", mutate: func(i *Issue) { i.SetupScript = strings.Repeat("x", 20) }},
		{name: "short verification", mutate: func(i *Issue) { i.VerificationScript = "exit 0" }, wantErr: "verification_script is 6"},
		{name: "one hint", mutate: func(i *Issue) { i.Hints = []string{"only"} }, wantErr: "hints has 1"},
		{name: "empty hints", mutate: func(i *Issue) { i.Hints = []string{} }, wantErr: "hints has 0"},
		{name: "base image optional", mutate: func(i *Issue) { i.BaseImage = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issue := validIssue()
			tt.mutate(issue)
			err := issue.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
			if !errors.Is(err, failure.ErrValidation) {
				t.Error("Validate() error should match failure.ErrValidation")
			}
			if !errors.Is(err, ErrInvalidIssue) {
				t.Error("Validate() error should match ErrInvalidIssue")
			}
		})
	}
}

func TestIssue_ValidateCollectsAllViolations(t *testing.T) {
	t.Parallel()

	issue := &Issue{ID: "x", Description: "short", Hints: []string{"a"}}
	err := issue.Validate()

	var invalid *InvalidIssueError
	if !errors.As(err, &invalid) {
		t.Fatalf("Validate() = %v, want *InvalidIssueError", err)
	}
	// title, category, difficulty, setup_script, verification_script, solution,
	// short description, one hint
	if len(invalid.FieldErrs) != 8 {
		t.Errorf("len(FieldErrs) = %d, want 8: %v", len(invalid.FieldErrs), invalid.FieldErrs)
	}
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"DNS-Broken", "dns-broken"},
		{"  Net_01 ", "net_01"},
		{"a b/c:d", "a-b-c-d"},
		{"-Leading.", "leading"},
		{"550E8400-E29B", "550e8400-e29b"},
	}

	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIssue_ImageAndClone(t *testing.T) {
	t.Parallel()

	issue := validIssue()
	if got := issue.Image(); got != DefaultBaseImage {
		t.Errorf("Image() = %q, want %q", got, DefaultBaseImage)
	}
	issue.BaseImage = "debian:12"
	if got := issue.Image(); got != "debian:12" {
		t.Errorf("Image() = %q, want %q", got, "debian:12")
	}

	c := issue.Clone()
	c.Hints[0] = "changed"
	if issue.Hints[0] == "changed" {
		t.Error("Clone() shares the hints slice with the original")
	}
}

func TestCategoryAndDifficulty_Validate(t *testing.T) {
	t.Parallel()

	for _, c := range Categories() {
		if err := c.Validate(); err != nil {
			t.Errorf("%s.Validate() = %v", c, err)
		}
	}
	if err := Category("").Validate(); err != nil {
		t.Errorf("empty category should be valid, got %v", err)
	}
	if err := Category("kernel").Validate(); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("Category(kernel).Validate() = %v, want ErrInvalidCategory", err)
	}
	if err := Difficulty("extreme").Validate(); !errors.Is(err, ErrInvalidDifficulty) {
		t.Errorf("Difficulty(extreme).Validate() = %v, want ErrInvalidDifficulty", err)
	}
	if got := Difficulty("").OrDefault(); got != DifficultyEasy {
		t.Errorf("OrDefault() = %q, want easy", got)
	}
	if len(Categories()) != 7 {
		t.Errorf("len(Categories()) = %d, want 7", len(Categories()))
	}
}
