// SPDX-License-Identifier: MPL-2.0

// Package keyed provides concurrency primitives partitioned by key: a
// sharded map whose operations on different keys rarely contend, and a
// per-key mutex whose waits honor context cancellation.
package keyed
