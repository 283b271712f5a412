// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

var transientMarkers = []string{
	// OCI runtime and rootless races.
	"OCI runtime error",
	"ping_group_range",
	// Network errors during base image pulls or apt-get inside the build.
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"TLS handshake timeout",
	"i/o timeout",
	"Unable to fetch some archives",
	"Hash Sum mismatch",
	// Storage driver glitches.
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is a container engine failure that
// may succeed on retry: network hiccups during image pulls or package
// installation, storage driver races, and generic engine errors (exit 125).
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
