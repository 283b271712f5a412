// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	appsvc "github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/console"
	"github.com/faultlab/faultlab/internal/scenario"
)

type playOptions struct {
	difficulty string
	category   string
}

func newPlayCommand(app *App) *cobra.Command {
	var opts playOptions
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Start an interactive troubleshooting challenge",
		Long: `Start an interactive troubleshooting challenge.

Every line you type runs inside the broken environment. Three words are
reserved: 'hint' shows the next hint, 'verify' checks your fix and 'quit'
ends the challenge. The environment is removed when the challenge ends or
the program is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlay(cmd.Context(), app, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.difficulty, "difficulty", "d", string(scenario.DifficultyEasy), "difficulty: easy, medium or hard")
	cmd.Flags().StringVarP(&opts.category, "category", "c", "", "scenario category (default: any)")
	return cmd
}

func runPlay(ctx context.Context, app *App, opts playOptions) error {
	req := appsvc.GenerateRequest{
		Difficulty: scenario.Difficulty(opts.difficulty),
		Category:   scenario.Category(opts.category),
	}
	if err := req.Difficulty.Validate(); err != nil {
		return err
	}
	if err := req.Category.Validate(); err != nil {
		return err
	}

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	var buildOutput io.Writer
	if app.verbose {
		buildOutput = app.stderr
	}
	deps, closeDeps, err := app.buildService(ctx, cfg, buildOutput)
	if err != nil {
		return err
	}
	defer closeDeps()
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := deps.service.Shutdown(teardownCtx); err != nil {
			slog.Warn("environment teardown incomplete", "error", err)
		}
	}()

	fmt.Fprintln(app.stdout, TitleStyle.Render("faultlab")+SubtitleStyle.Render(" - a broken Linux box is on its way"))

	c := console.New(deps.service, console.NewStreamReader(ctx, app.stdin, app.stdout), console.Options{
		Out:      app.stdout,
		Err:      app.stderr,
		Theme:    app.consoleTheme(),
		Markdown: func(md string) string { return renderMarkdown(md, app.plain) },
		Engine:   deps.engine.Name(),
		Verbose:  app.verbose,
	})
	return c.Run(ctx, req)
}
