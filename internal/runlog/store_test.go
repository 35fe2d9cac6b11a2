// SPDX-License-Identifier: MIT

package runlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := newStore(t)

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	summary := map[string]any{"daysFetched": 7, "status": "ok"}
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		err := s.Record(ctx, id, base.Add(time.Duration(i)*time.Hour), 90*time.Second, "ok", summary)
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	// Newest first.
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("order = %s, %s, want c, b", runs[0].ID, runs[1].ID)
	}
	if runs[0].Duration != 90*time.Second {
		t.Errorf("duration = %v", runs[0].Duration)
	}

	var decoded map[string]any
	if err := json.Unmarshal(runs[0].Summary, &decoded); err != nil {
		t.Fatalf("summary not valid JSON: %v", err)
	}
	if decoded["status"] != "ok" {
		t.Errorf("summary = %v", decoded)
	}
}

func TestLastEmptyStore(t *testing.T) {
	s := newStore(t)
	run, err := s.Last(context.Background())
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if run != nil {
		t.Errorf("run = %+v, want nil on empty store", run)
	}
}

func TestLastKeepsStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "r1", time.Now(), time.Second, "no_data", map[string]int{}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	run, err := s.Last(ctx)
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if run == nil || run.Status != "no_data" {
		t.Errorf("run = %+v, want status no_data", run)
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := s.Record(ctx, id, base.AddDate(0, 0, i), time.Second, "ok", nil); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := s.PruneOlderThan(ctx, base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("remaining = %d, want 2", len(runs))
	}
}
