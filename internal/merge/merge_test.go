// SPDX-License-Identifier: MIT

package merge

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/th0ma7/gracenote2epg/internal/guide"
)

var (
	t1 = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	t2 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func day(date string, fetched time.Time, broadcasts ...guide.Broadcast) *guide.DayRecords {
	rec := &guide.DayRecords{
		Lineup:    "USA-OTA30310-DEFAULT",
		Date:      date,
		FetchedAt: fetched,
		Channels: []guide.Channel{
			{ID: "10021", CallSign: "WSB", Name: "WSB", Number: "2.1"},
		},
		Series: []guide.Series{
			{ID: "EP001", Title: "Evening News"},
		},
		Episodes: []guide.Episode{
			{ID: "EP001-01", SeriesID: "EP001", Title: "June 1"},
		},
		Broadcasts: broadcasts,
	}
	return rec
}

func bcast(channel string, start time.Time, dur time.Duration) guide.Broadcast {
	return guide.Broadcast{
		ChannelID: channel,
		Start:     start,
		End:       start.Add(dur),
		EpisodeID: "EP001-01",
		SeriesID:  "EP001",
	}
}

func TestMergeClassifiesNewModifiedUnchanged(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	first := day("20250601", t1, bcast("10021", start, time.Hour))

	rctx := NewContext()
	snap, counts := Merge(NewSnapshot(), []*guide.DayRecords{first}, rctx)

	want := Counts{
		Channels:   Delta{Total: 1, New: 1},
		Series:     Delta{Total: 1, New: 1},
		Episodes:   Delta{Total: 1, New: 1},
		Broadcasts: Delta{Total: 1, New: 1},
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("first merge counts mismatch (-want +got):\n%s", diff)
	}

	// Same content again: everything unchanged.
	second := day("20250601", t2, bcast("10021", start, time.Hour))
	snap2, counts2 := Merge(snap, []*guide.DayRecords{second}, rctx)
	if counts2.Broadcasts.New != 0 || counts2.Broadcasts.Modified != 0 {
		t.Errorf("re-merge broadcasts = %+v, want new:0 modified:0", counts2.Broadcasts)
	}
	if counts2.Series.Modified != 0 {
		t.Errorf("re-merge series modified = %d, want 0", counts2.Series.Modified)
	}

	// Changed rating: modified, not new.
	third := day("20250601", t2)
	b := bcast("10021", start, time.Hour)
	b.Rating = "TV-PG"
	third.Broadcasts = []guide.Broadcast{b}
	_, counts3 := Merge(snap2, []*guide.DayRecords{third}, rctx)
	if counts3.Broadcasts.New != 0 || counts3.Broadcasts.Modified != 1 {
		t.Errorf("modified merge broadcasts = %+v, want modified:1", counts3.Broadcasts)
	}
}

func TestMergeIdempotent(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	days := []*guide.DayRecords{
		day("20250601", t1,
			bcast("10021", start, time.Hour),
			bcast("10021", start.Add(time.Hour), 30*time.Minute),
		),
	}

	snap1, _ := Merge(NewSnapshot(), days, NewContext())
	snap2, counts2 := Merge(snap1, days, NewContext())

	if counts2.Broadcasts.New != 0 || counts2.Broadcasts.Modified != 0 {
		t.Fatalf("second merge broadcasts = %+v, want new:0 modified:0", counts2.Broadcasts)
	}
	if diff := cmp.Diff(snap1.BroadcastList(), snap2.BroadcastList()); diff != "" {
		t.Errorf("snapshot not stable across identical merges (-first +second):\n%s", diff)
	}
}

func TestMergePreservesCachedRecords(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	prev := FromRecords([]*guide.DayRecords{
		day("20250601", t1, bcast("10021", start, time.Hour)),
	})

	// A fresh merge that re-presents nothing for that day keeps the cached
	// broadcast in the snapshot and counts it only in totals.
	otherStart := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	next, counts := Merge(prev, []*guide.DayRecords{
		day("20250602", t2, bcast("10021", otherStart, time.Hour)),
	}, NewContext())

	if len(next.Broadcasts) != 2 {
		t.Fatalf("broadcasts = %d, want 2 (cached one preserved)", len(next.Broadcasts))
	}
	if counts.Broadcasts.Total != 2 || counts.Broadcasts.New != 1 {
		t.Errorf("counts = %+v, want total:2 new:1", counts.Broadcasts)
	}
}

func TestMergeOverlapLatestFetchWins(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	// Same 20:00-21:00 slot fetched twice; the T2 version carries a
	// different episode. Same key, so it replaces rather than conflicts.
	old := bcast("10021", start, time.Hour)
	prev := FromRecords([]*guide.DayRecords{day("20250601", t1, old)})

	updated := bcast("10021", start, time.Hour)
	updated.EpisodeID = "EP002-01"
	updated.SeriesID = "EP002"

	rctx := NewContext()
	next, _ := Merge(prev, []*guide.DayRecords{day("20250601", t2, updated)}, rctx)

	got := next.Broadcasts[updated.Key()]
	if got.EpisodeID != "EP002-01" {
		t.Errorf("kept episode = %s, want the later-fetched EP002-01", got.EpisodeID)
	}
	if !got.FetchedAt.Equal(t2) {
		t.Errorf("kept FetchedAt = %v, want %v", got.FetchedAt, t2)
	}
}

func TestMergeOverlapConflictResolution(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	// Old fetch: a two-hour block at 20:00. New fetch: a one-hour show at
	// 21:00 on the same channel. The newer fetch wins, the block is
	// trimmed, the conflict is recorded.
	block := bcast("10021", start, 2*time.Hour)
	prev := FromRecords([]*guide.DayRecords{day("20250601", t1, block)})

	late := bcast("10021", start.Add(time.Hour), time.Hour)
	late.EpisodeID = "EP003-01"

	rctx := NewContext()
	next, _ := Merge(prev, []*guide.DayRecords{day("20250601", t2, late)}, rctx)

	trimmed := next.Broadcasts[block.Key()]
	if !trimmed.End.Equal(late.Start) {
		t.Errorf("loser end = %v, want trimmed to %v", trimmed.End, late.Start)
	}
	conflicts := rctx.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	if conflicts[0].Dropped {
		t.Errorf("conflict marked dropped, want trimmed")
	}
	if !conflicts[0].WinnerStart.Equal(late.Start) {
		t.Errorf("winner start = %v, want %v", conflicts[0].WinnerStart, late.Start)
	}
}

func TestMergeOverlapDropsCoveredLoser(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	// The newer fetch replaces the slot with a longer programme starting
	// at the same time under a different start? No - same start is the
	// same key. Cover the drop path: older short show starts inside the
	// newer long one.
	short := bcast("10021", start.Add(30*time.Minute), 15*time.Minute)
	prev := FromRecords([]*guide.DayRecords{day("20250601", t1, short)})

	long := bcast("10021", start, 2*time.Hour)
	long.EpisodeID = "EP004-01"

	rctx := NewContext()
	next, _ := Merge(prev, []*guide.DayRecords{day("20250601", t2, long)}, rctx)

	if _, ok := next.Broadcasts[short.Key()]; ok {
		t.Errorf("covered older broadcast survived, want dropped")
	}
	if len(next.Broadcasts) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(next.Broadcasts))
	}
	conflicts := rctx.Conflicts()
	if len(conflicts) != 1 || !conflicts[0].Dropped {
		t.Errorf("conflicts = %+v, want one dropped conflict", conflicts)
	}
}

func TestMergeDeterministicAcrossInputOrder(t *testing.T) {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	d1 := day("20250601", t1, bcast("10021", start, time.Hour))
	d2 := day("20250602", t2, bcast("10021", start.AddDate(0, 0, 1), time.Hour))

	a, _ := Merge(NewSnapshot(), []*guide.DayRecords{d1, d2}, NewContext())
	b, _ := Merge(NewSnapshot(), []*guide.DayRecords{d2, d1}, NewContext())

	if diff := cmp.Diff(a.BroadcastList(), b.BroadcastList()); diff != "" {
		t.Errorf("merge depends on input order (-d1d2 +d2d1):\n%s", diff)
	}
}
