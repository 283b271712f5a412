// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faultlab/faultlab/internal/config"
)

const maskedSecret = "********"

func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage faultlab configuration",
		Long: `Manage faultlab configuration.

Configuration is stored in:
  - Linux: ~/.config/faultlab/config.cue
  - macOS: ~/Library/Application Support/faultlab/config.cue
  - Windows: %APPDATA%\faultlab\config.cue

Every key can be overridden with a FAULTLAB_ environment variable, for
example FAULTLAB_SERVER_ADDRESS or FAULTLAB_EXECUTION_COMMAND_TIMEOUT.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.FilePath(app.loadOptions())
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, err := app.Config.Load(ctx, app.loadOptions())
	if err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)

	path, pathErr := config.FilePath(app.loadOptions())
	if pathErr == nil && fileExists(path) {
		fmt.Fprintf(app.stdout, "%s: %s\n", CmdStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(app.stdout, "%s: %s\n", CmdStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(app.stdout)

	shown := *cfg
	if shown.Generator.APIKey != "" {
		shown.Generator.APIKey = maskedSecret
	}
	if shown.SSH.PasswordHash != "" {
		shown.SSH.PasswordHash = maskedSecret
	}
	fmt.Fprint(app.stdout, config.GenerateCUE(&shown))
	return nil
}

func initConfig(app *App) error {
	path, created, err := config.Init(app.loadOptions())
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(app.stdout, "%s %s\n", WarningStyle.Render("Config file already exists:"), path)
		return nil
	}
	fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Created config file:"), path)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
