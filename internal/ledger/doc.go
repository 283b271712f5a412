// SPDX-License-Identifier: MPL-2.0

// Package ledger journals provisioned environments in SQLite so that
// environments orphaned by a crashed process can be found and removed on
// the next start.
package ledger
