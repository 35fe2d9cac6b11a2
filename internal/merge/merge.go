// SPDX-License-Identifier: MIT

package merge

import (
	"sort"

	"github.com/th0ma7/gracenote2epg/internal/guide"
)

// Merge combines fresh day records with the previous snapshot and returns
// the new snapshot plus this merge's delta counts. The previous snapshot is
// not mutated; records it holds that no day re-presents survive unchanged.
// Classification runs against the previous snapshot after overlap
// resolution, so merging the same input twice yields new:0 modified:0 the
// second time.
func Merge(prev *Snapshot, days []*guide.DayRecords, rctx *Context) (*Snapshot, Counts) {
	next, conflicts := apply(prev, days)
	counts := classify(prev, next)
	if rctx != nil {
		rctx.addCounts(counts)
		rctx.addConflicts(conflicts)
	}
	return next, counts
}

// FromRecords builds a snapshot from cached day records alone, without any
// delta accounting. Used to reconstruct the previous run's state before
// merging fresh data.
func FromRecords(days []*guide.DayRecords) *Snapshot {
	snap, _ := apply(NewSnapshot(), days)
	return snap
}

func apply(prev *Snapshot, days []*guide.DayRecords) (*Snapshot, []Conflict) {
	next := prev.Clone()

	ordered := make([]*guide.DayRecords, 0, len(days))
	for _, d := range days {
		if d != nil {
			ordered = append(ordered, d)
		}
	}
	// Ascending date keeps same-key replacement deterministic; fetch time
	// breaks re-fetch ties within one date.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].FetchedAt.Before(ordered[j].FetchedAt)
	})

	for _, day := range ordered {
		for _, c := range day.Channels {
			next.Channels[c.ID] = c
		}
		for _, s := range day.Series {
			next.Series[s.ID] = s
		}
		for _, ep := range day.Episodes {
			next.Episodes[ep.ID] = ep
		}
		for _, b := range day.Broadcasts {
			b.FetchedAt = day.FetchedAt
			key := b.Key()
			if cur, ok := next.Broadcasts[key]; ok && cur.FetchedAt.After(b.FetchedAt) {
				continue
			}
			next.Broadcasts[key] = b
		}
	}

	conflicts := resolveOverlaps(next)
	return next, conflicts
}

// resolveOverlaps enforces the per-channel no-overlap invariant on the
// snapshot. The broadcast from the most recently fetched day wins; the
// loser is trimmed to end at the winner's start, or dropped when it starts
// inside the winner. Equal fetch times keep the earlier airing intact.
func resolveOverlaps(snap *Snapshot) []Conflict {
	byChannel := make(map[string][]guide.Broadcast)
	for _, b := range snap.Broadcasts {
		byChannel[b.ChannelID] = append(byChannel[b.ChannelID], b)
	}

	channels := make([]string, 0, len(byChannel))
	for id := range byChannel {
		channels = append(channels, id)
	}
	sort.Strings(channels)

	var conflicts []Conflict
	for _, id := range channels {
		list := byChannel[id]
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })

		kept := list[:0]
		for _, cur := range list {
			if len(kept) == 0 {
				kept = append(kept, cur)
				continue
			}
			last := &kept[len(kept)-1]
			if !cur.Overlaps(*last) {
				kept = append(kept, cur)
				continue
			}

			// cur starts at or after last (sorted), so cur losing means a
			// drop and last losing means a trim against cur's start.
			if cur.FetchedAt.After(last.FetchedAt) {
				conflicts = append(conflicts, Conflict{
					ChannelID:   id,
					WinnerStart: cur.Start,
					LoserStart:  last.Start,
					Dropped:     !cur.Start.After(last.Start),
				})
				if cur.Start.After(last.Start) {
					last.End = cur.Start
					snap.Broadcasts[last.Key()] = *last
				} else {
					delete(snap.Broadcasts, last.Key())
					kept = kept[:len(kept)-1]
				}
				kept = append(kept, cur)
			} else {
				conflicts = append(conflicts, Conflict{
					ChannelID:   id,
					WinnerStart: last.Start,
					LoserStart:  cur.Start,
					Dropped:     true,
				})
				delete(snap.Broadcasts, cur.Key())
			}
		}
	}
	return conflicts
}

// classify compares the new snapshot against the previous one. Content
// equality is a deep field comparison, never identifier equality.
func classify(prev, next *Snapshot) Counts {
	var counts Counts

	counts.Channels.Total = len(next.Channels)
	for id, c := range next.Channels {
		old, ok := prev.Channels[id]
		switch {
		case !ok:
			counts.Channels.New++
		case !c.Equal(old):
			counts.Channels.Modified++
		}
	}

	counts.Series.Total = len(next.Series)
	for id, s := range next.Series {
		old, ok := prev.Series[id]
		switch {
		case !ok:
			counts.Series.New++
		case !s.Equal(old):
			counts.Series.Modified++
		}
	}

	counts.Episodes.Total = len(next.Episodes)
	for id, ep := range next.Episodes {
		old, ok := prev.Episodes[id]
		switch {
		case !ok:
			counts.Episodes.New++
		case !ep.Equal(old):
			counts.Episodes.Modified++
		}
	}

	counts.Broadcasts.Total = len(next.Broadcasts)
	for key, b := range next.Broadcasts {
		old, ok := prev.Broadcasts[key]
		switch {
		case !ok:
			counts.Broadcasts.New++
		case !b.Equal(old):
			counts.Broadcasts.Modified++
		}
	}

	return counts
}
