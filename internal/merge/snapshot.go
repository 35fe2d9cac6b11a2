// SPDX-License-Identifier: MIT

// Package merge combines freshly normalized day records with previously
// cached guide state. Every incoming record is classified as new, modified
// or unchanged against the previous snapshot; cached records that are not
// re-presented survive untouched. Overlapping broadcasts on one channel are
// resolved in favor of the most recently fetched day.
package merge

import (
	"sort"

	"github.com/th0ma7/gracenote2epg/internal/guide"
)

// Snapshot is the merged in-memory guide state: every entity kind keyed by
// its uniqueness key. Broadcast keys are (channel id, start time); the rest
// use their provider or synthetic identifiers.
type Snapshot struct {
	Channels   map[string]guide.Channel
	Series     map[string]guide.Series
	Episodes   map[string]guide.Episode
	Broadcasts map[string]guide.Broadcast
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Channels:   make(map[string]guide.Channel),
		Series:     make(map[string]guide.Series),
		Episodes:   make(map[string]guide.Episode),
		Broadcasts: make(map[string]guide.Broadcast),
	}
}

// Clone returns a deep-enough copy: the maps are fresh, the values are
// plain structs copied by assignment.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Channels:   make(map[string]guide.Channel, len(s.Channels)),
		Series:     make(map[string]guide.Series, len(s.Series)),
		Episodes:   make(map[string]guide.Episode, len(s.Episodes)),
		Broadcasts: make(map[string]guide.Broadcast, len(s.Broadcasts)),
	}
	for k, v := range s.Channels {
		out.Channels[k] = v
	}
	for k, v := range s.Series {
		out.Series[k] = v
	}
	for k, v := range s.Episodes {
		out.Episodes[k] = v
	}
	for k, v := range s.Broadcasts {
		out.Broadcasts[k] = v
	}
	return out
}

// ChannelList returns the snapshot's channels sorted by id.
func (s *Snapshot) ChannelList() []guide.Channel {
	out := make([]guide.Channel, 0, len(s.Channels))
	for _, c := range s.Channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SeriesList returns the snapshot's series sorted by id.
func (s *Snapshot) SeriesList() []guide.Series {
	out := make([]guide.Series, 0, len(s.Series))
	for _, v := range s.Series {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EpisodeList returns the snapshot's episodes sorted by id.
func (s *Snapshot) EpisodeList() []guide.Episode {
	out := make([]guide.Episode, 0, len(s.Episodes))
	for _, v := range s.Episodes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BroadcastList returns the snapshot's broadcasts in airing order: start
// time ascending, channel id as the tie-break.
func (s *Snapshot) BroadcastList() []guide.Broadcast {
	out := make([]guide.Broadcast, 0, len(s.Broadcasts))
	for _, v := range s.Broadcasts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

// Combine folds other's entities into s. Keys are expected to be disjoint
// across lineups; on a collision the incoming value wins.
func (s *Snapshot) Combine(other *Snapshot) {
	for k, v := range other.Channels {
		s.Channels[k] = v
	}
	for k, v := range other.Series {
		s.Series[k] = v
	}
	for k, v := range other.Episodes {
		s.Episodes[k] = v
	}
	for k, v := range other.Broadcasts {
		s.Broadcasts[k] = v
	}
}
