// SPDX-License-Identifier: MPL-2.0

// Package runtime runs learner commands and verification scripts inside
// provisioned environments.
//
// Executor.Execute tokenizes a command line with a shell-aware lexer and
// execs it in the environment. A failing command is not an error: its exit
// status is folded into the returned text, since failures are what the
// learner is diagnosing. Executor.Verify copies the issue's verification
// script into the environment, runs it behind a wrapper that appends the
// exit status, and turns the result into a Verdict.
//
// Both operations are serialized per environment and bounded by a timeout;
// operations on different environments run in parallel.
package runtime
