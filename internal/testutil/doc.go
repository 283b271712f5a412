// SPDX-License-Identifier: MPL-2.0

// Package testutil provides shared test doubles: an in-memory container
// engine that simulates environments, and canned scenario issues.
package testutil
