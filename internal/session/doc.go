// SPDX-License-Identifier: MPL-2.0

// Package session binds caller-visible session ids to an issue and the
// environment provisioned for it.
//
// The Store is the only shared mutable state in the service. It is
// sharded so operations on the same session serialize while different
// sessions proceed in parallel. It never provisions or tears down
// environments itself; that is the caller's job, done outside any store
// lock.
package session
