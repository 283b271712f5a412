// SPDX-License-Identifier: MPL-2.0

// Package logging installs the process-wide slog handler. Call sites use
// log/slog; records are rendered by charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const prefix = "faultlab"

// Options selects the handler's behavior.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is text or json. Empty means text.
	Format string
	// Verbose forces the debug level.
	Verbose bool
}

// New returns a slog logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	formatter := log.TextFormatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
	case "json":
		formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("log format %q: must be text or json", opts.Format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return slog.New(handler), nil
}

// Setup builds a logger with New and makes it the slog default.
func Setup(w io.Writer, opts Options) (*slog.Logger, error) {
	logger, err := New(w, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
