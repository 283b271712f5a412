// SPDX-License-Identifier: MPL-2.0

package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "provision environment"},
			expected: "failed to provision environment",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "find session", Resource: "abc"},
			expected: "failed to find session: abc",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "build environment image",
				Resource:  "faultlab-net-01",
				Cause:     errors.New("exit status 1"),
			},
			expected: "failed to build environment image: faultlab-net-01: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_IsMatchesKindSentinel(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithKind(KindTimeout).
		WithOperation("execute command").
		Wrap(context.DeadlineExceeded).
		BuildError()

	wrapped := fmt.Errorf("outer: %w", err)

	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("errors.Is(wrapped, ErrTimeout) = false, want true")
	}
	if errors.Is(wrapped, ErrExecution) {
		t.Error("errors.Is(wrapped, ErrExecution) = true, want false")
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("cause should remain reachable through Unwrap")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"not found helper", NotFound("session", "x"), KindNotFound},
		{"invalid input helper", InvalidInput("execute command", "empty"), KindInvalidInput},
		{"wrapped provisioning", fmt.Errorf("ctx: %w", Wrap(errors.New("boom"), KindProvisioning, "provision")), KindProvisioning},
		{"bare sentinel", fmt.Errorf("x: %w", ErrVerificationTransport), KindVerificationTransport},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"plain", errors.New("plain"), KindInternal},
		{"empty kind", &ActionableError{Operation: "x"}, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKind_Validate(t *testing.T) {
	t.Parallel()

	if err := KindGeneration.Validate(); err != nil {
		t.Errorf("KindGeneration.Validate() = %v, want nil", err)
	}
	if err := Kind("bogus").Validate(); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Kind(bogus).Validate() = %v, want ErrInvalidKind", err)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	inner := errors.New("no such image")
	err := NewErrorContext().
		WithKind(KindProvisioning).
		WithOperation("start environment").
		WithSuggestions("Check the engine", "Pull the base image").
		Wrap(fmt.Errorf("run: %w", inner)).
		Build()

	plain := err.Format(false)
	if !strings.Contains(plain, "  • Check the engine") || !strings.Contains(plain, "  • Pull the base image") {
		t.Errorf("Format(false) missing suggestions: %q", plain)
	}
	if strings.Contains(plain, "Error chain:") {
		t.Errorf("Format(false) should not include chain: %q", plain)
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "1. run: no such image") || !strings.Contains(verbose, "2. no such image") {
		t.Errorf("Format(true) missing chain: %q", verbose)
	}
}

func TestErrorContext_BuildRequiresOperation(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without operation should return nil")
	}
	if Wrap(nil, KindExecution, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
