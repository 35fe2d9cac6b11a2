// SPDX-License-Identifier: MIT

package pipeline

import (
	"time"

	"github.com/th0ma7/gracenote2epg/internal/match"
	"github.com/th0ma7/gracenote2epg/internal/merge"
	"github.com/th0ma7/gracenote2epg/internal/tvheadend"
	"github.com/th0ma7/gracenote2epg/internal/xmltv"
)

// Run status values. NoData is deliberately distinct from an all-unchanged
// steady-state run: zero usable days means the integration is broken, zero
// new programs means it is healthy.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusNoData  = "no_data"
	StatusFailed  = "failed"
)

// Gap reasons.
const (
	GapPermanent = "permanent"
	GapExhausted = "exhausted"
	GapParse     = "parse"
)

// Gap records one day unit the run could not produce fresh data for.
// Cached data for the day, if any, stays in the snapshot.
type Gap struct {
	Lineup string `json:"lineup"`
	Date   string `json:"date"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// Summary is the one-stop run report: every non-fatal condition of the
// run is aggregated here instead of being raised individually.
type Summary struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`

	DaysPlanned   int   `json:"daysPlanned"`
	DaysFetched   int   `json:"daysFetched"`   // fetched with new or changed content
	DaysUnchanged int   `json:"daysUnchanged"` // fetched, fingerprint identical
	DaysFresh     int   `json:"daysFresh"`     // skipped, cache within freshness window
	Gaps          []Gap `json:"gaps,omitempty"`

	Counts        merge.Counts        `json:"counts"`
	Conflicts     int                 `json:"conflicts"`
	Match         match.Stats         `json:"match"`
	MatchWarnings []match.Warning     `json:"matchWarnings,omitempty"`
	Output        xmltv.Stats         `json:"output"`
	PVRCounters   *tvheadend.Counters `json:"pvrCounters,omitempty"`

	PurgedUnits int    `json:"purgedUnits,omitempty"`
	Error       string `json:"error,omitempty"`
}

// usableDays counts days that contributed data to the snapshot this run.
func (s *Summary) usableDays() int {
	return s.DaysFetched + s.DaysUnchanged + s.DaysFresh
}

// finalize derives the run status from the collected evidence.
func (s *Summary) finalize(started time.Time, now time.Time) {
	s.StartedAt = started
	s.Duration = now.Sub(started)
	switch {
	case s.Error != "":
		s.Status = StatusFailed
	case s.DaysPlanned > 0 && s.usableDays() == 0:
		s.Status = StatusNoData
	case len(s.Gaps) > 0:
		s.Status = StatusPartial
	default:
		s.Status = StatusOK
	}
}
