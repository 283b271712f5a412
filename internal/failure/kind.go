// SPDX-License-Identifier: MPL-2.0

package failure

import (
	"context"
	"errors"
	"fmt"
)

const (
	// KindInternal is an unexpected failure with no better classification.
	KindInternal Kind = "internal"
	// KindValidation means an issue definition is structurally unacceptable.
	KindValidation Kind = "validation"
	// KindInvalidInput means a caller-supplied argument was rejected.
	KindInvalidInput Kind = "invalid_input"
	// KindProvisioning means an environment could not be built or started.
	KindProvisioning Kind = "provisioning"
	// KindExecution means the environment runtime failed to run a command.
	KindExecution Kind = "execution"
	// KindVerificationTransport means the verification script could not be
	// delivered to or run inside the environment.
	KindVerificationTransport Kind = "verification_transport"
	// KindNotFound means a session or environment id is unknown.
	KindNotFound Kind = "not_found"
	// KindTimeout means a bounded wait expired.
	KindTimeout Kind = "timeout"
	// KindGeneration means the scenario generator failed.
	KindGeneration Kind = "generation"
)

var (
	// ErrInternal is the sentinel for KindInternal.
	ErrInternal = errors.New("internal error")
	// ErrValidation is the sentinel for KindValidation.
	ErrValidation = errors.New("validation error")
	// ErrInvalidInput is the sentinel for KindInvalidInput.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProvisioning is the sentinel for KindProvisioning.
	ErrProvisioning = errors.New("provisioning error")
	// ErrExecution is the sentinel for KindExecution.
	ErrExecution = errors.New("execution error")
	// ErrVerificationTransport is the sentinel for KindVerificationTransport.
	ErrVerificationTransport = errors.New("verification transport error")
	// ErrNotFound is the sentinel for KindNotFound.
	ErrNotFound = errors.New("not found")
	// ErrTimeout is the sentinel for KindTimeout.
	ErrTimeout = errors.New("timeout")
	// ErrGeneration is the sentinel for KindGeneration.
	ErrGeneration = errors.New("generation error")

	// ErrInvalidKind is returned by Kind.Validate for unknown kinds.
	ErrInvalidKind = errors.New("invalid error kind")

	sentinels = map[Kind]error{
		KindInternal:              ErrInternal,
		KindValidation:            ErrValidation,
		KindInvalidInput:          ErrInvalidInput,
		KindProvisioning:          ErrProvisioning,
		KindExecution:             ErrExecution,
		KindVerificationTransport: ErrVerificationTransport,
		KindNotFound:              ErrNotFound,
		KindTimeout:               ErrTimeout,
		KindGeneration:            ErrGeneration,
	}
)

// Kind classifies an error so callers can distinguish failure categories
// without string matching.
type Kind string

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// Validate returns an error if the Kind is not one of the defined kinds.
func (k Kind) Validate() error {
	if _, ok := sentinels[k]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
	return nil
}

// Sentinel returns the package-level sentinel matched by errors.Is for k.
// Unknown kinds map to ErrInternal.
func (k Kind) Sentinel() error {
	if s, ok := sentinels[k]; ok {
		return s
	}
	return ErrInternal
}

// KindOf classifies err. The kind of the outermost *ActionableError wins;
// bare sentinels and context deadline errors are recognized as well.
// A nil error has no kind and returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var ae *ActionableError
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}

	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	return KindInternal
}
