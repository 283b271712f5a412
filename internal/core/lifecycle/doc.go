// SPDX-License-Identifier: MPL-2.0

// Package lifecycle tracks the start/stop state of a long-running
// component such as the HTTP API server.
//
// A Tracker is single-use. It moves created → starting → running and ends
// in stopped or failed; reads are lock-free and transitions are
// compare-and-swap.
package lifecycle
