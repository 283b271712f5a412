// SPDX-License-Identifier: MPL-2.0

// Package sshterm serves practice challenges over SSH. Every connection
// gets a fresh challenge driven by the same console loop as the local
// play command. The login name picks the challenge:
//
//	ssh -p 2222 medium@host
//	ssh -p 2222 hard.networking@host
//
// Unknown names fall back to an easy challenge in any category.
package sshterm
