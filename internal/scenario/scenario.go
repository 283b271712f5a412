// SPDX-License-Identifier: MPL-2.0

// Package scenario defines troubleshooting issues and their acceptance rules.
package scenario

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/faultlab/faultlab/internal/failure"
)

const (
	// DefaultBaseImage is the environment image used when an issue omits one.
	DefaultBaseImage = "ubuntu:20.04"

	// MinDescriptionLength is the minimum description length in characters.
	MinDescriptionLength = 50
	// MinScriptLength is the minimum setup and verification script length.
	MinScriptLength = 20
	// MinHints is the minimum number of authored hints.
	MinHints = 2
)

// ErrInvalidIssue is the sentinel wrapped by InvalidIssueError.
var ErrInvalidIssue = errors.New("invalid issue")

type (
	// Issue is one troubleshooting scenario: how to break an environment,
	// how to check that it has been fixed, and how to help the learner.
	Issue struct {
		ID                 string     `json:"id" toml:"id"`
		Title              string     `json:"title" toml:"title"`
		Description        string     `json:"description" toml:"description"`
		Category           Category   `json:"category" toml:"category"`
		Difficulty         Difficulty `json:"difficulty" toml:"difficulty"`
		SetupScript        string     `json:"setup_script" toml:"setup_script"`
		VerificationScript string     `json:"verification_script" toml:"verification_script"`
		Hints              []string   `json:"hints" toml:"hints"`
		Solution           string     `json:"solution" toml:"solution"`
		BaseImage          string     `json:"base_image,omitempty" toml:"base_image,omitempty"`
	}

	// InvalidIssueError lists every rule an issue violates.
	InvalidIssueError struct {
		ID        string
		FieldErrs []string
	}
)

// Error implements the error interface.
func (e *InvalidIssueError) Error() string {
	return fmt.Sprintf("issue %q rejected: %s", e.ID, strings.Join(e.FieldErrs, "; "))
}

// Unwrap returns ErrInvalidIssue for errors.Is compatibility.
func (e *InvalidIssueError) Unwrap() error { return ErrInvalidIssue }

// Validate checks the acceptance rules. The returned error is classified as
// failure.KindValidation and wraps an *InvalidIssueError.
func (i *Issue) Validate() error {
	var errs []string

	required := []struct {
		name  string
		value string
	}{
		{"id", i.ID},
		{"title", i.Title},
		{"description", i.Description},
		{"category", string(i.Category)},
		{"difficulty", string(i.Difficulty)},
		{"setup_script", i.SetupScript},
		{"verification_script", i.VerificationScript},
		{"solution", i.Solution},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, "missing required field "+f.name)
		}
	}
	if i.Hints == nil {
		errs = append(errs, "missing required field hints")
	}

	if n := utf8.RuneCountInString(i.Description); n > 0 && n < MinDescriptionLength {
		errs = append(errs, fmt.Sprintf("description is %d characters, need at least %d", n, MinDescriptionLength))
	}
	if n := utf8.RuneCountInString(i.SetupScript); n > 0 && n < MinScriptLength {
		errs = append(errs, fmt.Sprintf("setup_script is %d characters, need at least %d", n, MinScriptLength))
	}
	if n := utf8.RuneCountInString(i.VerificationScript); n > 0 && n < MinScriptLength {
		errs = append(errs, fmt.Sprintf("verification_script is %d characters, need at least %d", n, MinScriptLength))
	}
	if i.Hints != nil && len(i.Hints) < MinHints {
		errs = append(errs, fmt.Sprintf("hints has %d entries, need at least %d", len(i.Hints), MinHints))
	}

	if len(errs) == 0 {
		return nil
	}

	return failure.NewErrorContext().
		WithKind(failure.KindValidation).
		WithOperation("validate issue").
		WithResource(i.ID).
		Wrap(&InvalidIssueError{ID: i.ID, FieldErrs: errs}).
		BuildError()
}

// Image returns the base image, falling back to DefaultBaseImage.
func (i *Issue) Image() string {
	if strings.TrimSpace(i.BaseImage) == "" {
		return DefaultBaseImage
	}
	return i.BaseImage
}

// NormalizedID returns the id lower-cased with every character outside
// [a-z0-9_.-] replaced by '-', suitable for image tags and container names.
func (i *Issue) NormalizedID() string {
	return NormalizeID(i.ID)
}

// NormalizeID is NormalizedID for a bare id string.
func NormalizeID(id string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(id)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	return strings.Trim(sb.String(), "-.")
}

// Clone returns a deep copy of the issue.
func (i *Issue) Clone() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	if i.Hints != nil {
		c.Hints = append([]string(nil), i.Hints...)
	}
	return &c
}
