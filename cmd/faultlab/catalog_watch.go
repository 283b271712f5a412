// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"log/slog"
	"sync"

	"github.com/faultlab/faultlab/internal/catalog"
	"github.com/faultlab/faultlab/internal/generator"
	"github.com/faultlab/faultlab/internal/watch"
)

// watchCatalog reloads g from dir whenever its TOML files change. A file
// that fails to parse keeps the previous catalog in place. The returned
// function stops the watcher and waits for it.
func watchCatalog(ctx context.Context, dir string, g *generator.FromCatalog) (func(), error) {
	w, err := watch.New(watch.Config{
		Dir:     dir,
		Pattern: "*.toml",
		OnChange: func(_ context.Context, changed []string) error {
			c, err := catalog.Open(dir)
			if err != nil {
				return err
			}
			g.Reload(c)
			slog.Info("catalog reloaded", "dir", dir, "issues", c.Len(), "changed", changed)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := w.Run(ctx); err != nil {
			slog.Warn("catalog watcher stopped", "dir", dir, "error", err)
		}
	})
	return func() {
		cancel()
		wg.Wait()
	}, nil
}
