// SPDX-License-Identifier: MIT

// Package match aligns provider channels with a downstream channel list.
// Two passes: exact matching on the leading digit group of the channel
// number, then fuzzy name matching for whatever is left. First match
// wins, no external channel is claimed twice, and identical inputs always
// produce the identical mapping.
package match

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/th0ma7/gracenote2epg/internal/guide"
)

// DefaultThreshold is the fuzzy acceptance score used when the options
// leave it unset.
const DefaultThreshold = 0.8

// ExternalChannel is one channel of the downstream system (a Tvheadend
// channel grid entry, typically).
type ExternalChannel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Options selects the matching passes and tunes the fuzzy pass.
type Options struct {
	NumericOnly   bool
	NameMatch     bool
	Threshold     float64
	StripSuffixes []string
}

// Method records which pass produced a mapping entry.
type Method string

const (
	MethodNumeric Method = "numeric"
	MethodName    Method = "name"
	MethodNone    Method = "unmapped"
)

// Entry is one provider channel's mapping outcome. Unmapped channels keep
// an entry so the emitter still outputs them.
type Entry struct {
	ProviderID     string  `json:"providerId"`
	ProviderName   string  `json:"providerName"`
	ProviderNumber string  `json:"providerNumber"`
	ExternalID     string  `json:"externalId,omitempty"`
	ExternalName   string  `json:"externalName,omitempty"`
	ExternalNumber string  `json:"externalNumber,omitempty"`
	Method         Method  `json:"method"`
	Score          float64 `json:"score,omitempty"`
}

// Warning reports a fuzzy score tie that needed the deterministic
// tie-break.
type Warning struct {
	ProviderID string   `json:"providerId"`
	Name       string   `json:"name"`
	Score      float64  `json:"score"`
	Candidates []string `json:"candidates"`
	Chosen     string   `json:"chosen"`
}

// Stats summarizes a mapping.
type Stats struct {
	Total    int `json:"total"`
	Numeric  int `json:"numeric"`
	Name     int `json:"name"`
	Unmapped int `json:"unmapped"`
}

// Mapping is the per-run lookup table from provider channel IDs to
// external channels. Rebuilt on every run; never stored inside the
// channel records themselves.
type Mapping struct {
	entries    []Entry
	byProvider map[string]Entry
	warnings   []Warning
	stats      Stats
}

// ExternalID returns the mapped downstream id for a provider channel.
func (m *Mapping) ExternalID(providerID string) (string, bool) {
	e, ok := m.byProvider[providerID]
	if !ok || e.ExternalID == "" {
		return "", false
	}
	return e.ExternalID, true
}

// Entry returns the full mapping entry for a provider channel.
func (m *Mapping) Entry(providerID string) (Entry, bool) {
	e, ok := m.byProvider[providerID]
	return e, ok
}

// Entries lists all entries in deterministic order: numeric channel value
// ascending, provider id as the tie-break.
func (m *Mapping) Entries() []Entry { return m.entries }

// Warnings lists the ambiguities resolved by tie-break.
func (m *Mapping) Warnings() []Warning { return m.warnings }

// Counts returns the mapping stats.
func (m *Mapping) Counts() Stats { return m.stats }

// Match builds the lineup mapping.
func Match(provider []guide.Channel, external []ExternalChannel, opts Options) *Mapping {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	prov := append([]guide.Channel(nil), provider...)
	sort.Slice(prov, func(i, j int) bool {
		vi, vj := numericValue(prov[i].Number), numericValue(prov[j].Number)
		if vi != vj {
			return vi < vj
		}
		return prov[i].ID < prov[j].ID
	})
	ext := append([]ExternalChannel(nil), external...)
	sort.Slice(ext, func(i, j int) bool {
		vi, vj := numericValue(ext[i].Number), numericValue(ext[j].Number)
		if vi != vj {
			return vi < vj
		}
		return ext[i].ID < ext[j].ID
	})

	claimed := make([]bool, len(ext))
	assigned := make(map[string]Entry, len(prov))

	if opts.NumericOnly {
		for _, p := range prov {
			key := digitKey(p.Number)
			if key == "" {
				continue
			}
			for i := range ext {
				if claimed[i] || digitKey(ext[i].Number) != key {
					continue
				}
				claimed[i] = true
				assigned[p.ID] = newEntry(p, &ext[i], MethodNumeric, 0)
				break
			}
		}
	}

	var warnings []Warning
	if opts.NameMatch {
		norm := newNormalizer(opts.StripSuffixes)
		extKeys := make([]string, len(ext))
		for i := range ext {
			extKeys[i] = norm.key(ext[i].Name)
		}

		for _, p := range prov {
			if _, done := assigned[p.ID]; done {
				continue
			}
			pk := norm.key(matchName(p))
			if pk == "" {
				continue
			}

			best := -1.0
			var cand []int
			for i := range ext {
				if claimed[i] || extKeys[i] == "" {
					continue
				}
				s := similarity(pk, extKeys[i])
				switch {
				case s > best:
					best = s
					cand = append(cand[:0], i)
				case s == best:
					cand = append(cand, i)
				}
			}
			if len(cand) == 0 || best < opts.Threshold {
				continue
			}

			winner := cand[0]
			if len(cand) > 1 {
				winner = breakTie(cand, ext, numericValue(p.Number))
				ids := make([]string, len(cand))
				for i, c := range cand {
					ids[i] = ext[c].ID
				}
				warnings = append(warnings, Warning{
					ProviderID: p.ID,
					Name:       matchName(p),
					Score:      best,
					Candidates: ids,
					Chosen:     ext[winner].ID,
				})
			}
			claimed[winner] = true
			assigned[p.ID] = newEntry(p, &ext[winner], MethodName, best)
		}
	}

	m := &Mapping{
		byProvider: make(map[string]Entry, len(prov)),
		warnings:   warnings,
	}
	for _, p := range prov {
		e, ok := assigned[p.ID]
		if !ok {
			e = newEntry(p, nil, MethodNone, 0)
		}
		m.entries = append(m.entries, e)
		m.byProvider[p.ID] = e
		switch e.Method {
		case MethodNumeric:
			m.stats.Numeric++
		case MethodName:
			m.stats.Name++
		default:
			m.stats.Unmapped++
		}
	}
	m.stats.Total = len(m.entries)
	return m
}

func newEntry(p guide.Channel, e *ExternalChannel, method Method, score float64) Entry {
	out := Entry{
		ProviderID:     p.ID,
		ProviderName:   matchName(p),
		ProviderNumber: p.Number,
		Method:         method,
		Score:          score,
	}
	if e != nil {
		out.ExternalID = e.ID
		out.ExternalName = e.Name
		out.ExternalNumber = e.Number
	}
	return out
}

func matchName(c guide.Channel) string {
	if c.CallSign != "" {
		return c.CallSign
	}
	return c.Name
}

// breakTie picks among equal-score candidates: closest numeric channel
// value first, then the lexicographically smaller external id.
func breakTie(cand []int, ext []ExternalChannel, providerValue float64) int {
	winner := cand[0]
	bestDist := math.Inf(1)
	for _, i := range cand {
		d := math.Abs(numericValue(ext[i].Number) - providerValue)
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		switch {
		case d < bestDist:
			bestDist = d
			winner = i
		case d == bestDist && ext[i].ID < ext[winner].ID:
			winner = i
		}
	}
	return winner
}

// digitKey returns the leading digit group of a channel number: "5.1"
// and "5" both key as "5". Empty when the number does not start with a
// digit.
func digitKey(number string) string {
	s := strings.TrimSpace(number)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// numericValue parses major.minor channel numbers for ordering and
// proximity. Non-numeric numbers map to +Inf so they sort last and lose
// proximity ties.
func numericValue(number string) float64 {
	s := strings.TrimSpace(number)
	if s == "" {
		return math.Inf(1)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, "-", "."), 64)
	if err != nil || v < 0 {
		return math.Inf(1)
	}
	return v
}
