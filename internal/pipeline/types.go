// SPDX-License-Identifier: MIT

// Package pipeline orchestrates the fetch-cache-reconcile run: per-lineup
// day fetching with pipeline overlap, normalization, delta merging,
// channel matching against the PVR, and guide emission.
package pipeline

import (
	"context"
	"time"

	"github.com/th0ma7/gracenote2epg/internal/cachestore"
	"github.com/th0ma7/gracenote2epg/internal/gracenote"
	"github.com/th0ma7/gracenote2epg/internal/guide"
	"github.com/th0ma7/gracenote2epg/internal/match"
	"github.com/th0ma7/gracenote2epg/internal/merge"
	"github.com/th0ma7/gracenote2epg/internal/tvheadend"
	"github.com/th0ma7/gracenote2epg/internal/xmltv"
)

// Fetcher retrieves raw day payloads from the listings provider.
type Fetcher interface {
	FetchDay(ctx context.Context, lu gracenote.Lineup, day gracenote.Day) ([]byte, error)
}

// DetailsFetcher retrieves extended series metadata. Optional; the grid
// payload alone produces a complete guide.
type DetailsFetcher interface {
	FetchSeriesDetails(ctx context.Context, seriesID string) (*gracenote.SeriesDetails, error)
}

// Store is the day-unit cache the runner commits to.
type Store interface {
	IsFresh(ctx context.Context, lineup, date string, maxAge time.Duration) (bool, error)
	Put(ctx context.Context, lineup, date string, payload []byte, fetchedAt time.Time) (cachestore.PutResult, *cachestore.Unit, error)
	Payload(ctx context.Context, lineup, date string) ([]byte, error)
	Records(ctx context.Context, lineup, date string) (*guide.DayRecords, error)
	PutRecords(ctx context.Context, rec *guide.DayRecords) error
	Transition(ctx context.Context, lineup, date string, to cachestore.UnitState) (*cachestore.Unit, error)
	PurgeOlderThan(ctx context.Context, cutoff string) (int, error)
}

// Normalizer parses raw payloads into canonical day records.
type Normalizer interface {
	NormalizeDay(lineup, date string, fetchedAt time.Time, payload []byte) (*guide.DayRecords, error)
}

// PVR is the downstream system's read-only surface: channel list in,
// import counters back out.
type PVR interface {
	Channels(ctx context.Context) ([]tvheadend.Channel, error)
	Counters(ctx context.Context) (tvheadend.Counters, error)
}

// Emitter writes the final snapshot to the guide output document.
type Emitter interface {
	Emit(snap *merge.Snapshot, mapping *match.Mapping) (xmltv.Stats, error)
}

// ObjectCache is the TTL cache for extended series details, so one series
// is fetched at most once per TTL across runs.
type ObjectCache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
}
