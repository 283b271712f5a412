// SPDX-License-Identifier: MPL-2.0

package failure

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a classified error with context for user-facing messages.
	// It records what operation failed, on which resource, and what the user
	// can do about it.
	//
	// Use the ErrorContext builder for convenient construction:
	//
	//	err := failure.NewErrorContext().
	//		WithKind(failure.KindProvisioning).
	//		WithOperation("build environment image").
	//		WithResource("faultlab-dns-broken").
	//		WithSuggestion("Run 'faultlab doctor' to check the container engine").
	//		Wrap(cause).
	//		BuildError()
	ActionableError struct {
		// Kind classifies the failure. Empty means KindInternal.
		Kind Kind

		// Operation describes what was being attempted (e.g., "provision environment").
		Operation string

		// Resource identifies the session, environment, or file involved (optional).
		Resource string

		// Suggestions provides hints on how to fix the problem (optional).
		Suggestions []string

		// Cause is the underlying error (optional).
		Cause error
	}

	// ErrorContext is a builder for ActionableError values.
	ErrorContext struct {
		kind        Kind
		operation   string
		resource    string
		suggestions []string
		cause       error
	}
)

// NewErrorContext creates a new ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// New creates an ActionableError of the given kind with no cause.
func New(kind Kind, operation, resource string) *ActionableError {
	return &ActionableError{Kind: kind, Operation: operation, Resource: resource}
}

// Wrap classifies err under kind with operation context.
// It returns nil when err is nil.
func Wrap(err error, kind Kind, operation string) error {
	if err == nil {
		return nil
	}
	return &ActionableError{Kind: kind, Operation: operation, Cause: err}
}

// NotFound builds a KindNotFound error for an unknown id.
func NotFound(what, id string) error {
	return &ActionableError{
		Kind:      KindNotFound,
		Operation: "find " + what,
		Resource:  id,
		Cause:     fmt.Errorf("%s %q does not exist", what, id),
	}
}

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(operation, reason string) error {
	return &ActionableError{
		Kind:      KindInvalidInput,
		Operation: operation,
		Cause:     errors.New(reason),
	}
}

// Error returns a concise message suitable for default output.
func (e *ActionableError) Error() string {
	var msg strings.Builder

	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)

	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}

	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}

	return msg.String()
}

// Unwrap returns the underlying cause.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's kind, so
// errors.Is(err, failure.ErrTimeout) works through wrapping.
func (e *ActionableError) Is(target error) bool {
	return target == e.kindOrDefault().Sentinel()
}

// Format returns the message with suggestions, and the full cause chain
// when verbose is true:
//
//	failed to <operation>: <resource>: <cause message>
//	  • <suggestion 1>
//	  • <suggestion 2>
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder

	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, suggestion := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(suggestion)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		err := e.Cause
		depth := 1
		for err != nil {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			err = errors.Unwrap(err)
			depth++
		}
	}

	return msg.String()
}

// HasSuggestions returns true if the error has any suggestions.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

func (e *ActionableError) kindOrDefault() Kind {
	if e.Kind == "" {
		return KindInternal
	}
	return e.Kind
}

// WithKind sets the error classification.
func (c *ErrorContext) WithKind(k Kind) *ErrorContext {
	c.kind = k
	return c
}

// WithOperation sets the operation being performed.
// The operation should be a verb phrase like "provision environment".
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the resource involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithSuggestion adds a suggestion. Can be called multiple times.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.suggestions = append(c.suggestions, sug)
	return c
}

// WithSuggestions adds multiple suggestions at once.
func (c *ErrorContext) WithSuggestions(sugs ...string) *ErrorContext {
	c.suggestions = append(c.suggestions, sugs...)
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build creates an ActionableError from the context.
// Returns nil if no operation is set.
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}

	return &ActionableError{
		Kind:        c.kind,
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Cause:       c.cause,
	}
}

// BuildError is Build returned as an error interface, for direct use in
// return statements. Returns nil if no operation is set.
func (c *ErrorContext) BuildError() error {
	ae := c.Build()
	if ae == nil {
		return nil
	}
	return ae
}
