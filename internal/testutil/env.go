// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"testing"

	"github.com/faultlab/faultlab/internal/container"
)

// FakeImage is the image StartEnvironment runs.
const FakeImage container.ImageTag = "faultlab-fake"

// StartEnvironment starts a running environment on f without going
// through a provisioner.
func StartEnvironment(tb testing.TB, f *FakeEngine) container.ContainerID {
	tb.Helper()

	ctx := context.Background()
	if ok, _ := f.ImageExists(ctx, FakeImage); !ok {
		f.mu.Lock()
		f.images[FakeImage] = true
		f.mu.Unlock()
	}
	result, err := f.Run(ctx, container.RunOptions{Image: FakeImage, Detach: true})
	if err != nil {
		tb.Fatalf("start environment: %v", err)
	}
	if result.Error != nil {
		tb.Fatalf("start environment: %v", result.Error)
	}
	return result.ContainerID
}
