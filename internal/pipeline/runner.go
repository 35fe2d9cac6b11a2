// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/th0ma7/gracenote2epg/internal/cachestore"
	"github.com/th0ma7/gracenote2epg/internal/gracenote"
	"github.com/th0ma7/gracenote2epg/internal/guide"
	"github.com/th0ma7/gracenote2epg/internal/log"
	"github.com/th0ma7/gracenote2epg/internal/match"
	"github.com/th0ma7/gracenote2epg/internal/merge"
	"github.com/th0ma7/gracenote2epg/internal/metrics"
	"github.com/th0ma7/gracenote2epg/internal/telemetry"
	"github.com/th0ma7/gracenote2epg/internal/tvheadend"
)

// Options tunes a runner. Zero values fall back to workable defaults.
type Options struct {
	Lineups       []gracenote.Lineup
	Days          int
	NearMaxAge    time.Duration // freshness bound for day offsets 0 and 1
	FarMaxAge     time.Duration // freshness bound for day offsets >= 2
	RetentionDays int
	Workers       int // concurrent lineups
	QueueDepth    int // fetched days buffered ahead of normalization
	DayTimeout    time.Duration
	Match         match.Options
	SeriesDetails bool
	DetailsTTL    time.Duration

	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Deps are the runner's collaborators. PVR, Details and Objects are
// optional; everything else is required.
type Deps struct {
	Fetcher    Fetcher
	Details    DetailsFetcher
	Store      Store
	Normalizer Normalizer
	PVR        PVR
	Emitter    Emitter
	Objects    ObjectCache
}

// Runner executes one full pipeline pass. Safe to reuse across runs in
// daemon mode.
type Runner struct {
	opts Options
	deps Deps
}

// New builds a runner, applying option defaults.
func New(opts Options, deps Deps) *Runner {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.NearMaxAge <= 0 {
		opts.NearMaxAge = time.Hour
	}
	if opts.FarMaxAge <= 0 {
		opts.FarMaxAge = 24 * time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 2
	}
	if opts.DayTimeout <= 0 {
		opts.DayTimeout = 10 * time.Minute
	}
	if opts.DetailsTTL <= 0 {
		opts.DetailsTTL = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, deps: deps}
}

func (r *Runner) now() time.Time { return r.opts.Now() }

// Run executes one pipeline pass. The returned summary is always
// populated; the error is non-nil only for fatal conditions (cache
// integrity failures, cancellation, emit failures).
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := r.now()
	runID := uuid.NewString()[:8]
	ctx = log.ContextWithRunID(ctx, runID)
	logger := log.WithComponentFromContext(ctx, "pipeline")

	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "run")
	defer span.End()

	sum := &Summary{
		RunID:       runID,
		DaysPlanned: len(r.opts.Lineups) * r.opts.Days,
	}
	rctx := merge.NewContext()
	final := merge.NewSnapshot()

	logger.Info().
		Str("event", "run.start").
		Int("lineups", len(r.opts.Lineups)).
		Int("days", r.opts.Days).
		Msg("pipeline run starting")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, lu := range r.opts.Lineups {
		g.Go(func() error {
			res, err := r.runLineup(gctx, lu, rctx)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			final.Combine(res.snap)
			sum.DaysFetched += res.fetched
			sum.DaysUnchanged += res.unchanged
			sum.DaysFresh += res.fresh
			sum.Gaps = append(sum.Gaps, res.gaps...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r.fail(logger, sum, started, err)
	}

	sort.Slice(sum.Gaps, func(i, j int) bool {
		if sum.Gaps[i].Lineup != sum.Gaps[j].Lineup {
			return sum.Gaps[i].Lineup < sum.Gaps[j].Lineup
		}
		return sum.Gaps[i].Date < sum.Gaps[j].Date
	})

	sum.Counts = rctx.Counts()
	sum.Conflicts = len(rctx.Conflicts())
	metrics.RecordMergeConflicts(sum.Conflicts)

	mapping := r.matchChannels(ctx, final, sum)

	if sum.usableDays() > 0 {
		stats, err := r.deps.Emitter.Emit(final, mapping)
		if err != nil {
			return r.fail(logger, sum, started, err)
		}
		sum.Output = stats
		r.verifyImport(ctx, logger, sum)
	} else {
		logger.Error().
			Str("event", "run.no_data").
			Int("planned", sum.DaysPlanned).
			Msg("no day unit produced data; guide not emitted")
	}

	if r.opts.RetentionDays > 0 {
		cutoff := r.now().UTC().AddDate(0, 0, -r.opts.RetentionDays).Format(gracenote.DateFormat)
		purged, err := r.deps.Store.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return r.fail(logger, sum, started, err)
		}
		sum.PurgedUnits = purged
	}

	sum.finalize(started, r.now())
	r.publishMetrics(sum)
	span.SetAttributes(telemetry.RunAttributes(runID, sum.Status, sum.DaysPlanned, sum.DaysFetched, len(sum.Gaps))...)

	logger.Info().
		Str("event", "run.done").
		Str("status", sum.Status).
		Int("fetched", sum.DaysFetched).
		Int("unchanged", sum.DaysUnchanged).
		Int("fresh", sum.DaysFresh).
		Int("gaps", len(sum.Gaps)).
		Int("conflicts", sum.Conflicts).
		Dur("duration", sum.Duration).
		Msg("pipeline run complete")
	return sum, nil
}

func (r *Runner) fail(logger zerolog.Logger, sum *Summary, started time.Time, err error) (*Summary, error) {
	sum.Error = err.Error()
	sum.finalize(started, r.now())
	metrics.RecordRun(sum.Status, sum.Duration, false)
	logger.Error().
		Err(err).
		Str("event", "run.failed").
		Dur("duration", sum.Duration).
		Msg("pipeline run aborted")
	return sum, err
}

func (r *Runner) publishMetrics(sum *Summary) {
	c := sum.Counts
	metrics.RecordDelta("channels", c.Channels.Total, c.Channels.New, c.Channels.Modified)
	metrics.RecordDelta("series", c.Series.Total, c.Series.New, c.Series.Modified)
	metrics.RecordDelta("episodes", c.Episodes.Total, c.Episodes.New, c.Episodes.Modified)
	metrics.RecordDelta("broadcasts", c.Broadcasts.Total, c.Broadcasts.New, c.Broadcasts.Modified)
	metrics.RecordRun(sum.Status, sum.Duration, sum.usableDays() > 0)
}

// matchChannels reconciles the snapshot's channels against the PVR's
// list. A PVR failure degrades to an all-unmapped mapping, never a run
// failure.
func (r *Runner) matchChannels(ctx context.Context, snap *merge.Snapshot, sum *Summary) *match.Mapping {
	logger := log.WithComponentFromContext(ctx, "pipeline")

	var external []match.ExternalChannel
	if r.deps.PVR != nil {
		channels, err := r.deps.PVR.Channels(ctx)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "match.pvr_unavailable").
				Msg("pvr channel list unavailable, channels will be unmapped")
		}
		for _, ch := range channels {
			external = append(external, match.ExternalChannel{
				ID:     ch.UUID,
				Name:   ch.Name,
				Number: tvheadend.MatchNumber(ch),
			})
		}
	}

	mapping := match.Match(snap.ChannelList(), external, r.opts.Match)
	sum.Match = mapping.Counts()
	sum.MatchWarnings = mapping.Warnings()
	metrics.RecordMatchStats(sum.Match.Numeric, sum.Match.Name, sum.Match.Unmapped)

	logger.Info().
		Str("event", "match.done").
		Int("total", sum.Match.Total).
		Int("numeric", sum.Match.Numeric).
		Int("name", sum.Match.Name).
		Int("unmapped", sum.Match.Unmapped).
		Msg("channel matching complete")
	return mapping
}

// verifyImport reads the PVR's own counters after emission so operators
// can compare them with this run's accounting.
func (r *Runner) verifyImport(ctx context.Context, logger zerolog.Logger, sum *Summary) {
	if r.deps.PVR == nil {
		return
	}
	counters, err := r.deps.PVR.Counters(ctx)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "verify.pvr_unavailable").
			Msg("pvr import counters unavailable")
		return
	}
	sum.PVRCounters = &counters
	logger.Info().
		Str("event", "verify.counters").
		Int("pvr_channels", counters.Channels).
		Int("pvr_epg_events", counters.EPGEvents).
		Int("emitted_channels", sum.Output.Channels).
		Int("emitted_programmes", sum.Output.Programmes).
		Msg("pvr import counters read")
}

type lineupResult struct {
	snap      *merge.Snapshot
	fetched   int
	unchanged int
	fresh     int
	gaps      []Gap
}

// dayItem travels from the fetch stage to the normalize stage. rec is set
// when stored records can be reused without normalization; otherwise
// payload carries the raw grid for parsing.
type dayItem struct {
	day     gracenote.Day
	rec     *guide.DayRecords
	payload []byte
	outcome string // "fetched", "unchanged" or "fresh"
}

// runLineup fetches, normalizes and merges one lineup's day range.
// Network calls are strictly sequential; normalization of a committed day
// overlaps fetching of the next, bounded by the queue depth.
func (r *Runner) runLineup(ctx context.Context, lu gracenote.Lineup, rctx *merge.Context) (*lineupResult, error) {
	ctx = log.ContextWithLineup(ctx, lu.ID)
	logger := log.WithComponentFromContext(ctx, "pipeline")

	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "lineup")
	defer span.End()

	days := gracenote.PlanDays(r.now(), r.opts.Days)
	seq := gracenote.NewDaySequence(days)

	var prevRecs []*guide.DayRecords
	for _, d := range days {
		rec, err := r.deps.Store.Records(ctx, lu.ID, d.Date)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			prevRecs = append(prevRecs, rec)
		}
	}
	prev := merge.FromRecords(prevRecs)

	res := &lineupResult{}
	items := make(chan dayItem, r.opts.QueueDepth)

	var (
		fetchGaps      []Gap
		parseGaps      []Gap
		dayInputs      []*guide.DayRecords
		normalizedDays []string
	)

	g, gctx := errgroup.WithContext(ctx)

	// Fetch stage: one day at a time, in ascending date order, with
	// per-day commit. Cancellation is honored only at day boundaries; the
	// in-flight day runs on a detached context so its retries and commit
	// finish intact.
	g.Go(func() error {
		defer close(items)
		for {
			day, ok := seq.Next()
			if !ok {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}

			maxAge := r.opts.FarMaxAge
			if day.Offset <= 1 {
				maxAge = r.opts.NearMaxAge
			}
			isFresh, err := r.deps.Store.IsFresh(gctx, lu.ID, day.Date, maxAge)
			if err != nil {
				return err
			}
			if isFresh {
				rec, err := r.deps.Store.Records(gctx, lu.ID, day.Date)
				if err != nil {
					return err
				}
				it := dayItem{day: day, rec: rec, outcome: "fresh"}
				if rec == nil {
					// Fetched but never normalized (prior crash): reuse
					// the stored payload instead of refetching.
					payload, err := r.deps.Store.Payload(gctx, lu.ID, day.Date)
					if err != nil {
						return err
					}
					it.payload = payload
				}
				if err := send(gctx, items, it); err != nil {
					return err
				}
				continue
			}

			if _, err := r.deps.Store.Transition(gctx, lu.ID, day.Date, cachestore.StateFetching); err != nil {
				return err
			}

			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), r.opts.DayTimeout)
			payload, err := r.deps.Fetcher.FetchDay(fetchCtx, lu, day)
			cancel()
			if err != nil {
				if _, terr := r.deps.Store.Transition(gctx, lu.ID, day.Date, cachestore.StateStale); terr != nil {
					return terr
				}
				reason := GapExhausted
				if errors.Is(err, gracenote.ErrPermanent) {
					reason = GapPermanent
				}
				fetchGaps = append(fetchGaps, Gap{Lineup: lu.ID, Date: day.Date, Reason: reason, Error: err.Error()})
				metrics.RecordGap(reason)
				metrics.RecordDayOutcome("gap")
				continue
			}

			putRes, _, err := r.deps.Store.Put(gctx, lu.ID, day.Date, payload, r.now())
			if err != nil {
				return err
			}
			metrics.RecordCachePut(putRes.String())

			if putRes == cachestore.PutUnchanged {
				rec, err := r.deps.Store.Records(gctx, lu.ID, day.Date)
				if err != nil {
					return err
				}
				it := dayItem{day: day, rec: rec, outcome: "unchanged"}
				if rec == nil {
					it.payload = payload
				}
				if err := send(gctx, items, it); err != nil {
					return err
				}
				continue
			}
			if err := send(gctx, items, dayItem{day: day, payload: payload, outcome: "fetched"}); err != nil {
				return err
			}
		}
	})

	// Normalize stage.
	g.Go(func() error {
		for it := range items {
			rec := it.rec
			if rec == nil {
				var err error
				rec, err = r.deps.Normalizer.NormalizeDay(lu.ID, it.day.Date, r.now(), it.payload)
				if err != nil {
					var perr *guide.ParseError
					if errors.As(err, &perr) {
						logger.Warn().
							Err(err).
							Str("event", "normalize.parse_failed").
							Str(log.FieldDay, it.day.Date).
							Msg("day payload unparseable, skipping day")
						parseGaps = append(parseGaps, Gap{Lineup: lu.ID, Date: it.day.Date, Reason: GapParse, Error: err.Error()})
						metrics.RecordGap(GapParse)
						metrics.RecordDayOutcome("gap")
						continue
					}
					return err
				}
				r.enrichDetails(gctx, rec)
				if err := r.deps.Store.PutRecords(gctx, rec); err != nil {
					return err
				}
				normalizedDays = append(normalizedDays, it.day.Date)
			}
			dayInputs = append(dayInputs, rec)
			switch it.outcome {
			case "fetched":
				res.fetched++
			case "unchanged":
				res.unchanged++
			case "fresh":
				res.fresh++
			}
			metrics.RecordDayOutcome(it.outcome)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.gaps = append(fetchGaps, parseGaps...)
	snap, counts := merge.Merge(prev, dayInputs, rctx)
	res.snap = snap

	for _, date := range normalizedDays {
		if _, err := r.deps.Store.Transition(ctx, lu.ID, date, cachestore.StateMerged); err != nil {
			return nil, err
		}
		if _, err := r.deps.Store.Transition(ctx, lu.ID, date, cachestore.StateCommitted); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("event", "lineup.done").
		Int("fetched", res.fetched).
		Int("unchanged", res.unchanged).
		Int("fresh", res.fresh).
		Int("gaps", len(res.gaps)).
		Int("broadcasts", counts.Broadcasts.Total).
		Msg("lineup merged")
	return res, nil
}

func send(ctx context.Context, ch chan<- dayItem, it dayItem) error {
	select {
	case ch <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enrichDetails backfills extended series metadata into one day's
// records. Failures degrade to grid-level metadata.
func (r *Runner) enrichDetails(ctx context.Context, rec *guide.DayRecords) {
	if !r.opts.SeriesDetails || r.deps.Details == nil {
		return
	}
	for i := range rec.Series {
		id := rec.Series[i].ID
		if d := r.seriesDetails(ctx, id); d != nil {
			guide.ApplyDetails(rec, id, d)
		}
	}
}

func (r *Runner) seriesDetails(ctx context.Context, seriesID string) *gracenote.SeriesDetails {
	key := "series:" + seriesID
	if r.deps.Objects != nil {
		if v, ok := r.deps.Objects.Get(key); ok {
			if d, ok := decodeDetails(v); ok {
				return d
			}
		}
	}
	d, err := r.deps.Details.FetchSeriesDetails(ctx, seriesID)
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "pipeline")
		logger.Debug().
			Err(err).
			Str("event", "details.fetch_failed").
			Str(log.FieldSeriesID, seriesID).
			Msg("series details unavailable, keeping grid metadata")
		return nil
	}
	if d != nil && r.deps.Objects != nil {
		r.deps.Objects.Set(key, d, r.opts.DetailsTTL)
	}
	return d
}

// decodeDetails recovers a SeriesDetails from whatever the object cache
// stored: the live pointer (memory backend) or a decoded JSON value
// (redis backend).
func decodeDetails(v any) (*gracenote.SeriesDetails, bool) {
	if d, ok := v.(*gracenote.SeriesDetails); ok {
		return d, true
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out gracenote.SeriesDetails
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, false
	}
	return &out, true
}
