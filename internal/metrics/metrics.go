// SPDX-License-Identifier: MIT

// Package metrics exposes the run's observability surface. The per-kind
// {total,new,modified} gauges mirror the merge engine's delta accounting
// exactly; operators alert on them as the primary health signal.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Guide delta accounting, per entity kind and class.
	guideRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gracenote2epg_guide_records",
		Help: "Guide records by entity kind and delta class (last run)",
	}, []string{"kind", "class"}) // kind=channels|series|episodes|broadcasts, class=total|new|modified

	// Fetch pipeline counters.
	fetchDaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gracenote2epg_fetch_days_total",
		Help: "Day-unit fetch outcomes",
	}, []string{"outcome"}) // outcome=fetched|unchanged|fresh|gap

	fetchGapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gracenote2epg_fetch_gaps_total",
		Help: "Day units skipped, by failure class",
	}, []string{"reason"}) // reason=permanent|exhausted|parse

	cachePutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gracenote2epg_cache_puts_total",
		Help: "Cache payload writes by result",
	}, []string{"result"}) // result=new|changed|unchanged

	mergeConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gracenote2epg_merge_conflicts_total",
		Help: "Broadcast overlaps resolved during merges",
	})

	matchedChannels = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gracenote2epg_matched_channels",
		Help: "Provider channels by matching method (last run)",
	}, []string{"method"}) // method=numeric|name|unmapped

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gracenote2epg_runs_total",
		Help: "Completed pipeline runs by status",
	}, []string{"status"}) // status=ok|partial|no_data|failed

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gracenote2epg_run_duration_seconds",
		Help:    "End-to-end pipeline run duration",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gracenote2epg_last_success_timestamp_seconds",
		Help: "Unix time of the last run that produced guide data",
	})
)

// RecordDelta publishes one entity kind's delta counts.
func RecordDelta(kind string, total, added, modified int) {
	guideRecords.WithLabelValues(kind, "total").Set(float64(total))
	guideRecords.WithLabelValues(kind, "new").Set(float64(added))
	guideRecords.WithLabelValues(kind, "modified").Set(float64(modified))
}

// RecordDayOutcome counts one day unit's fetch outcome.
func RecordDayOutcome(outcome string) {
	fetchDaysTotal.WithLabelValues(outcome).Inc()
}

// RecordGap counts a skipped day by failure class.
func RecordGap(reason string) {
	fetchGapsTotal.WithLabelValues(reason).Inc()
}

// RecordCachePut counts a cache write by its result.
func RecordCachePut(result string) {
	cachePutsTotal.WithLabelValues(result).Inc()
}

// RecordMergeConflicts counts resolved broadcast overlaps.
func RecordMergeConflicts(n int) {
	mergeConflictsTotal.Add(float64(n))
}

// RecordMatchStats publishes the channel matcher's outcome split.
func RecordMatchStats(numeric, name, unmapped int) {
	matchedChannels.WithLabelValues("numeric").Set(float64(numeric))
	matchedChannels.WithLabelValues("name").Set(float64(name))
	matchedChannels.WithLabelValues("unmapped").Set(float64(unmapped))
}

// RecordRun counts a finished run and its duration; successful runs move
// the last-success timestamp.
func RecordRun(status string, duration time.Duration, producedData bool) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
	if producedData {
		lastSuccess.SetToCurrentTime()
	}
}
