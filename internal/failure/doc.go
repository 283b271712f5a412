// SPDX-License-Identifier: MPL-2.0

// Package failure provides actionable, classified errors.
//
// Every error that crosses a package boundary in faultlab is an
// *ActionableError carrying a Kind. Callers branch on the kind with
// errors.Is against the package sentinels (ErrNotFound, ErrTimeout, ...)
// or with KindOf, and present the error to users with Format.
package failure
