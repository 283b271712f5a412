// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/faultlab/faultlab/internal/scenario"
)

func newCatalogCommand(app *App) *cobra.Command {
	catCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect predefined scenarios",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var difficulty, category string
	list := &cobra.Command{
		Use:   "list",
		Short: "List predefined scenarios",
		Long: `List the built-in scenarios plus those in generator.catalog_dir.

Scenarios in catalog_dir replace built-in ones with the same id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listCatalog(cmd.Context(), app, scenario.Difficulty(difficulty), scenario.Category(category))
		},
	}
	list.Flags().StringVarP(&difficulty, "difficulty", "d", "", "only this difficulty")
	list.Flags().StringVarP(&category, "category", "c", "", "only this category")
	catCmd.AddCommand(list)
	return catCmd
}

func listCatalog(ctx context.Context, app *App, difficulty scenario.Difficulty, category scenario.Category) error {
	if difficulty != "" {
		if err := difficulty.Validate(); err != nil {
			return err
		}
	}
	if category != "" {
		if err := category.Validate(); err != nil {
			return err
		}
	}

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	c, err := app.openCatalog(cfg)
	if err != nil {
		return err
	}

	issues := c.Filter(difficulty, category)
	if len(issues) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("(no matching scenarios)"))
		return nil
	}

	tw := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDIFFICULTY\tCATEGORY\tTITLE")
	for _, is := range issues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", is.ID, is.Difficulty, is.Category, is.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(app.stdout, SubtitleStyle.Render(fmt.Sprintf("%d scenario(s)", len(issues))))
	return nil
}
