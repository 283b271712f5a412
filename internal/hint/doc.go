// SPDX-License-Identifier: MPL-2.0

// Package hint dispenses progressive hints for an issue.
//
// Each (session, issue) pair has a cursor into the issue's authored hints.
// Hints are handed out in order; once they run out the sequencer either
// starts over or derives a hint from the solution, chosen by a RandomSource
// so both branches can be driven deterministically in tests.
package hint
