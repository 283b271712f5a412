// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	appsvc "github.com/faultlab/faultlab/internal/app"
)

func newReapCommand(app *App) *cobra.Command {
	var opts appsvc.ReapOptions
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove environments left behind by crashed runs",
		Long: `Remove every environment the ledger still lists as live.

With --labelled, also remove every container carrying the faultlab.managed
label, including ones that were started but never journaled.

Run it only while no other faultlab process is using the same ledger (or,
with --labelled, the same container engine); their environments would be
removed too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReap(cmd.Context(), app, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Labelled, "labelled", false, "also remove unjournaled containers carrying the managed label")
	return cmd
}

func runReap(ctx context.Context, app *App, opts appsvc.ReapOptions) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Ledger.Path == "" && !opts.Labelled {
		fmt.Fprintln(app.stdout, WarningStyle.Render("The ledger is disabled (ledger.path is empty); nothing to reap."))
		return nil
	}

	deps, closeDeps, err := app.buildService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeDeps()

	res, err := deps.service.Reap(ctx, opts)
	if err != nil {
		return err
	}
	if len(res.Removed) == 0 {
		fmt.Fprintln(app.stdout, SuccessStyle.Render("No orphaned environments."))
		return nil
	}
	for _, id := range res.Removed {
		fmt.Fprintf(app.stdout, "  %s %s\n", ErrorStyle.Render("-"), CmdStyle.Render(id.Short()))
	}
	fmt.Fprintln(app.stdout, SuccessStyle.Render(fmt.Sprintf("Removed %d environment(s).", len(res.Removed))))
	return nil
}
