// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/faultlab/faultlab/internal/failure"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the full command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "faultlab",
		Short: "Practice Linux troubleshooting in disposable containers",
		Long: TitleStyle.Render("faultlab") + SubtitleStyle.Render(" - Practice Linux troubleshooting in disposable containers") + `

faultlab breaks a fresh container on purpose and lets you fix it. Each
challenge comes with a description, progressive hints and a verification
script that decides whether the problem is solved.

` + SubtitleStyle.Render("Examples:") + `
  faultlab play                     Start an interactive challenge
  faultlab play --difficulty hard   Pick a harder challenge
  faultlab serve                    Serve the HTTP API for a web frontend
  faultlab doctor                   Check the container engine
  faultlab catalog list             List predefined challenges`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/faultlab/config.cue)")

	root.AddCommand(
		newServeCommand(app),
		newPlayCommand(app),
		newDoctorCommand(app),
		newReapCommand(app),
		newCatalogCommand(app),
		newConfigCommand(app),
	)
	return root
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay uses the actionable rendering when available; in
// verbose mode it includes the full cause chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *failure.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
