// SPDX-License-Identifier: MPL-2.0

// Package catalog loads predefined issues from TOML files.
//
// A catalog file holds any number of [[issue]] tables using the same field
// names as the generator's JSON schema. The built-in catalog is embedded in
// the binary; users can add their own files from a directory.
package catalog
