// SPDX-License-Identifier: MPL-2.0

// Package app is the service boundary of faultlab. A Service ties a
// scenario generator, the session store, the environment provisioner, the
// command and verification runner, the hint sequencer and the environment
// ledger into the request/response operations used by the HTTP API and the
// interactive CLI.
package app
