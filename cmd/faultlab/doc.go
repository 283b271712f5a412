// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the faultlab command-line interface.
//
// The command tree is built from an App, which wires configuration and the
// service collaborators. Tests construct an App with injected dependencies
// (an in-memory container engine, a scripted generator) and drive the
// commands with cobra's SetArgs/SetIn/SetOut.
package cmd
