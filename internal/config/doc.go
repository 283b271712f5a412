// SPDX-License-Identifier: MPL-2.0

// Package config loads faultlab settings from a CUE file validated against an
// embedded schema, layered over defaults and FAULTLAB_* environment variables
// through Viper.
package config
