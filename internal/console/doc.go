// SPDX-License-Identifier: MPL-2.0

// Package console runs the line-oriented practice loop shared by the
// local "play" command and the SSH terminal.
//
// Each input line is either a reserved word (hint, verify, quit) or a
// command run inside the session's environment. Output styling comes from
// a Theme so the same loop serves color terminals and plain streams.
package console
