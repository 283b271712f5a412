// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faultlab/faultlab/internal/config"
)

// errEngineMissing is returned by doctor when no engine can run environments.
var errEngineMissing = errors.New("no usable container engine")

func newDoctorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that faultlab can run",
		Long: `Check the container engine, the scenario generator and the ledger.

A missing container engine is the only condition faultlab cannot recover
from; doctor exits with status 1 in that case.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), app)
		},
	}
}

func runDoctor(ctx context.Context, app *App) error {
	out := app.stdout
	ok := SuccessStyle.Render("✓")
	bad := ErrorStyle.Render("✗")
	warn := WarningStyle.Render("!")

	fmt.Fprintln(out, TitleStyle.Render("faultlab doctor"))
	fmt.Fprintln(out)

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		fmt.Fprintf(out, "%s config: %s\n", bad, formatErrorForDisplay(err, app.verbose))
		fmt.Fprintf(out, "  %s\n", SubtitleStyle.Render("continuing with defaults"))
		cfg = config.DefaultConfig()
	} else {
		fmt.Fprintf(out, "%s config loaded\n", ok)
	}
	if app.verbose {
		if path, err := config.FilePath(app.loadOptions()); err == nil {
			fmt.Fprintf(out, "  %s\n", VerboseStyle.Render("config file: "+path))
		}
	}

	engine, err := app.openEngine(cfg)
	if err != nil {
		fmt.Fprintf(out, "%s container engine: %s\n", bad, formatErrorForDisplay(err, app.verbose))
		return &ExitError{Code: 1, Err: errEngineMissing}
	}
	version, err := engine.Version(ctx)
	if err != nil {
		fmt.Fprintf(out, "%s container engine %s: version unknown (%v)\n", warn, engine.Name(), err)
	} else {
		fmt.Fprintf(out, "%s container engine %s %s\n", ok, engine.Name(), version)
	}
	if engine.Name() != string(cfg.ContainerEngine) && app.engine == nil {
		fmt.Fprintf(out, "  %s\n", SubtitleStyle.Render(fmt.Sprintf("%s not found, using %s", cfg.ContainerEngine, engine.Name())))
	}

	switch cfg.Generator.Provider {
	case config.GeneratorGenAI:
		if cfg.Generator.APIKey != "" || os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
			fmt.Fprintf(out, "%s generator genai (%s)\n", ok, cfg.Generator.Model)
		} else {
			fmt.Fprintf(out, "%s generator genai: no API key; set GEMINI_API_KEY or use the catalog provider\n", warn)
		}
	default:
		c, err := app.openCatalog(cfg)
		if err != nil {
			fmt.Fprintf(out, "%s generator catalog: %s\n", warn, formatErrorForDisplay(err, app.verbose))
		} else {
			fmt.Fprintf(out, "%s generator catalog (%d scenarios)\n", ok, c.Len())
		}
	}

	if cfg.Ledger.Path == "" {
		fmt.Fprintf(out, "%s ledger disabled\n", warn)
	} else {
		fmt.Fprintf(out, "%s ledger %s\n", ok, cfg.Ledger.Path)
	}
	return nil
}

