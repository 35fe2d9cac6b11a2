// SPDX-License-Identifier: MIT

package merge

import (
	"sync"
	"time"
)

// Delta is the per-entity-kind accounting a merge produces. Total counts
// every record of the kind present in the new snapshot; New and Modified
// count only what this merge changed.
type Delta struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Modified int `json:"modified"`
}

func (d *Delta) add(other Delta) {
	d.Total += other.Total
	d.New += other.New
	d.Modified += other.Modified
}

// Counts aggregates deltas for all four entity kinds. These are the run's
// primary health signal; downstream operators compare them against the
// importer's own accounting.
type Counts struct {
	Channels   Delta `json:"channels"`
	Series     Delta `json:"series"`
	Episodes   Delta `json:"episodes"`
	Broadcasts Delta `json:"broadcasts"`
}

// Add folds another set of counts into c.
func (c *Counts) Add(other Counts) {
	c.Channels.add(other.Channels)
	c.Series.add(other.Series)
	c.Episodes.add(other.Episodes)
	c.Broadcasts.add(other.Broadcasts)
}

// Conflict records one broadcast overlap the engine had to resolve. The
// loser was trimmed to end at the winner's start, or dropped when the
// winner covered it entirely.
type Conflict struct {
	ChannelID   string    `json:"channelId"`
	WinnerStart time.Time `json:"winnerStart"`
	LoserStart  time.Time `json:"loserStart"`
	Dropped     bool      `json:"dropped"`
}

// Context carries run-level merge accounting. One Context is threaded
// through every merge call of a run, so lineups can merge in parallel
// without sharing module state.
type Context struct {
	mu        sync.Mutex
	counts    Counts
	conflicts []Conflict
}

// NewContext returns an empty run context.
func NewContext() *Context {
	return &Context{}
}

func (c *Context) addCounts(counts Counts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Add(counts)
}

func (c *Context) addConflicts(conflicts []Conflict) {
	if len(conflicts) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, conflicts...)
}

// Counts returns the accumulated delta counts.
func (c *Context) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}

// Conflicts returns the accumulated overlap conflicts.
func (c *Context) Conflicts() []Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Conflict, len(c.conflicts))
	copy(out, c.conflicts)
	return out
}
