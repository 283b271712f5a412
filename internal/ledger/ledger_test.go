// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/faultlab/faultlab/internal/container"
)

func openTestLedger(t *testing.T) *SQLite {
	t.Helper()

	l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestSQLite_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := openTestLedger(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{EnvironmentID: "bbbbbbbbbbbb", SessionID: "s2", IssueID: "dns", Image: "faultlab-dns", Engine: "docker", CreatedAt: base.Add(time.Second)},
		{EnvironmentID: "aaaaaaaaaaaa", SessionID: "s1", IssueID: "disk", Image: "faultlab-disk", Engine: "docker", CreatedAt: base.Add(150 * time.Millisecond)},
		{EnvironmentID: "cccccccccccc", SessionID: "s3", IssueID: "perm", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.EnvironmentID, err)
		}
	}

	if err := l.MarkRemoved(ctx, "bbbbbbbbbbbb"); err != nil {
		t.Fatalf("MarkRemoved() error = %v", err)
	}
	// Idempotent, and unknown ids are fine.
	if err := l.MarkRemoved(ctx, "bbbbbbbbbbbb"); err != nil {
		t.Fatalf("second MarkRemoved() error = %v", err)
	}
	if err := l.MarkRemoved(ctx, "ffffffffffff"); err != nil {
		t.Fatalf("MarkRemoved(unknown) error = %v", err)
	}

	live, err := l.Live(ctx)
	if err != nil {
		t.Fatalf("Live() error = %v", err)
	}
	want := []container.ContainerID{"aaaaaaaaaaaa", "cccccccccccc"}
	if len(live) != len(want) {
		t.Fatalf("Live() = %d entries, want %d", len(live), len(want))
	}
	for i, id := range want {
		if live[i].EnvironmentID != id {
			t.Errorf("Live()[%d] = %s, want %s", i, live[i].EnvironmentID, id)
		}
	}
	if live[0].SessionID != "s1" || live[0].Image != "faultlab-disk" || live[0].Engine != "docker" {
		t.Errorf("Live()[0] = %+v, fields not preserved", live[0])
	}
	if !live[0].CreatedAt.Equal(entries[1].CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", live[0].CreatedAt, entries[1].CreatedAt)
	}
}

func TestSQLite_RecordReplacesAndRevives(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := openTestLedger(t)

	e := Entry{EnvironmentID: "aaaaaaaaaaaa", SessionID: "old", IssueID: "x"}
	if err := l.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := l.MarkRemoved(ctx, e.EnvironmentID); err != nil {
		t.Fatalf("MarkRemoved() error = %v", err)
	}
	e.SessionID = "new"
	if err := l.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	live, err := l.Live(ctx)
	if err != nil {
		t.Fatalf("Live() error = %v", err)
	}
	if len(live) != 1 || live[0].SessionID != "new" {
		t.Errorf("Live() = %+v, want the re-recorded entry", live)
	}
}

func TestSQLite_RecordRejectsEmptyID(t *testing.T) {
	t.Parallel()

	if err := openTestLedger(t).Record(context.Background(), Entry{}); err == nil {
		t.Error("Record(empty id) error = nil")
	}
}

func TestSQLite_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := l.Record(ctx, Entry{EnvironmentID: "aaaaaaaaaaaa", SessionID: "s", IssueID: "i"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	live, err := reopened.Live(ctx)
	if err != nil {
		t.Fatalf("Live() error = %v", err)
	}
	if len(live) != 1 {
		t.Errorf("Live() after reopen = %d entries, want 1", len(live))
	}
}

func TestOpen_EmptyPathIsNop(t *testing.T) {
	t.Parallel()

	l, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	if !IsNop(l) {
		t.Fatalf("Open(\"\") = %T, want Nop", l)
	}
	if err := l.Record(context.Background(), Entry{}); err != nil {
		t.Errorf("Nop.Record() error = %v", err)
	}
	if live, _ := l.Live(context.Background()); live != nil {
		t.Errorf("Nop.Live() = %v, want nil", live)
	}
}

func TestOpen_Memory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer func() { _ = l.Close() }()

	if IsNop(l) {
		t.Fatal("Open(:memory:) returned a Nop ledger")
	}
	if err := l.Record(ctx, Entry{EnvironmentID: "aaaaaaaaaaaa"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if live, _ := l.Live(ctx); len(live) != 1 {
		t.Errorf("Live() = %d entries, want 1", len(live))
	}
}
