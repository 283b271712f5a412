// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faultlab/faultlab/internal/catalog"
	"github.com/faultlab/faultlab/internal/generator"
)

const watchedIssue = `[[issue]]
id = "watched-01"
title = "Watched scenario"
description = "A scenario dropped into the catalog directory while the server runs."
category = "networking"
difficulty = "hard"
setup_script = "#!/bin/bash\necho setup\n"
verification_script = "#!/bin/bash\ntrue\nexit 0\n"
hints = ["one", "two"]
solution = "nothing"
`

func TestWatchCatalog_Reloads(t *testing.T) {
	dir := t.TempDir()
	c, err := catalog.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	g := generator.NewFromCatalog(c)
	before := c.Len()

	stop, err := watchCatalog(context.Background(), dir, g)
	if err != nil {
		t.Fatalf("watchCatalog() error = %v", err)
	}
	defer stop()

	// A broken file keeps the current catalog.
	if err := os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("[[issue]]\nid = "), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(watchSettle)
	if g.Catalog().Len() != before {
		t.Fatalf("catalog changed after a broken file: %d issues", g.Catalog().Len())
	}
	if err := os.Remove(filepath.Join(dir, "broken.toml")); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "watched.toml"), []byte(watchedIssue), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := g.Catalog().Get("watched-01"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("catalog was not reloaded")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if g.Catalog().Len() != before+1 {
		t.Errorf("catalog size = %d, want %d", g.Catalog().Len(), before+1)
	}
}

// watchSettle outlasts the watcher debounce.
const watchSettle = 1200 * time.Millisecond
