// SPDX-License-Identifier: MIT

package guide

import (
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/th0ma7/gracenote2epg/internal/gracenote"
)

// Normalizer turns raw grid payloads into canonical day records. It is a
// pure function of its input plus the identifier registry shared across
// days of a run.
type Normalizer struct {
	reg *Registry
}

// NewNormalizer builds a normalizer with a fresh identifier registry.
func NewNormalizer() *Normalizer {
	return &Normalizer{reg: NewRegistry()}
}

// Registry exposes the normalizer's identifier registry.
func (n *Normalizer) Registry() *Registry {
	return n.reg
}

// NormalizeDay parses and normalizes one day's raw payload. A payload that
// does not match the expected schema shape fails with *ParseError; single
// malformed events inside a well-formed payload are skipped and counted
// instead.
func (n *Normalizer) NormalizeDay(lineup, date string, fetchedAt time.Time, payload []byte) (*DayRecords, error) {
	grid, err := gracenote.DecodeGrid(bytes.NewReader(payload))
	if err != nil {
		return nil, &ParseError{Lineup: lineup, Date: date, Reason: "payload is not grid JSON", Err: err}
	}
	if grid.Channels == nil {
		return nil, &ParseError{Lineup: lineup, Date: date, Reason: "payload has no channel list"}
	}

	rec := &DayRecords{
		Lineup:    lineup,
		Date:      date,
		FetchedAt: fetchedAt,
	}

	channels := make(map[string]Channel)
	series := make(map[string]Series)
	episodes := make(map[string]Episode)
	broadcasts := make(map[string]Broadcast)
	richness := make(map[string]int)

	for _, gc := range grid.Channels {
		if gc.ChannelID == "" {
			rec.Skipped++
			continue
		}
		if _, seen := channels[gc.ChannelID]; !seen {
			channels[gc.ChannelID] = normalizeChannel(gc)
		}

		for _, ev := range gc.Events {
			b, ep, s, rich, ok := n.normalizeEvent(gc.ChannelID, ev)
			if !ok {
				rec.Skipped++
				continue
			}

			key := b.Key()
			// In-day duplicates collapse to the richer variant; ties go to
			// the record seen last in the payload.
			if prevRich, dup := richness[key]; dup && rich < prevRich {
				continue
			}
			richness[key] = rich
			broadcasts[key] = b
			episodes[ep.ID] = ep
			if existing, seen := series[s.ID]; !seen || seriesRichness(s) >= seriesRichness(existing) {
				series[s.ID] = s
			}
		}
	}

	rec.Channels = sortedChannels(channels)
	rec.Series = sortedSeries(series)
	rec.Episodes = sortedEpisodes(episodes)
	rec.Broadcasts = sortedBroadcasts(broadcasts)
	return rec, nil
}

// normalizeEvent builds the broadcast, episode and series records for one
// raw event. ok is false when required fields are missing or unparseable.
func (n *Normalizer) normalizeEvent(channelID string, ev gracenote.GridEvent) (Broadcast, Episode, Series, int, bool) {
	start, err := ev.Start()
	if err != nil {
		return Broadcast{}, Episode{}, Series{}, 0, false
	}
	end, err := ev.End()
	if err != nil || !end.After(start) {
		return Broadcast{}, Episode{}, Series{}, 0, false
	}
	title := strings.TrimSpace(ev.Program.Title)
	if title == "" {
		return Broadcast{}, Episode{}, Series{}, 0, false
	}

	seriesID := n.reg.SeriesID(ev.Program.SeriesID, title)
	episodeID := n.reg.EpisodeID(ev.Program.TmsID, seriesID, start.Unix())

	desc := ev.Program.LongDesc
	if desc == "" {
		desc = ev.Program.ShortDesc
	}

	s := Series{
		ID:          seriesID,
		Title:       title,
		Description: desc,
	}

	ep := Episode{
		ID:          episodeID,
		SeriesID:    seriesID,
		Title:       strings.TrimSpace(ev.Program.EpisodeTitle),
		Description: desc,
		Season:      ev.Program.Season.Int(),
		Episode:     ev.Program.Episode.Int(),
		Year:        ev.Program.ReleaseYear.Int(),
		Generic:     bool(ev.Program.IsGeneric),
	}

	b := Broadcast{
		ChannelID: channelID,
		Start:     start.UTC(),
		End:       end.UTC(),
		EpisodeID: episodeID,
		SeriesID:  seriesID,
		Rating:    ev.Rating,
		Flags:     cloneNonEmpty(ev.Flag),
		Tags:      cloneNonEmpty(ev.Tags),
		IconURL:   stripQuery(ev.Thumbnail),
	}

	rich := len(ev.Program.LongDesc) + len(ev.Program.ShortDesc)
	return b, ep, s, rich, true
}

func normalizeChannel(gc gracenote.GridChannel) Channel {
	name := strings.TrimSpace(gc.AffiliateName)
	if name == "" {
		name = strings.TrimSpace(gc.CallSign)
	}
	return Channel{
		ID:       gc.ChannelID,
		CallSign: strings.TrimSpace(gc.CallSign),
		Name:     name,
		Number:   strings.TrimSpace(gc.ChannelNo),
		IconURL:  stripQuery(gc.Thumbnail),
	}
}

// ApplySeriesDetails merges extended metadata into a series record.
// Grid-level fields win only when the details are silent.
func ApplySeriesDetails(s *Series, d *gracenote.SeriesDetails) {
	if d == nil {
		return
	}
	if desc := strings.TrimSpace(d.SeriesDescription); desc != "" {
		s.Description = desc
	}
	if g := d.Genres(); len(g) > 0 {
		s.Genres = g
	}
	if len(d.Overview.Cast) > 0 {
		credits := make([]Credit, 0, len(d.Overview.Cast))
		for _, c := range d.Overview.Cast {
			if c.Name == "" {
				continue
			}
			credits = append(credits, Credit{Name: c.Name, Role: c.Role, Character: c.CharacterName})
		}
		s.Credits = credits
	}
	if d.SeriesImage != "" {
		s.ImageURL = stripQuery(d.SeriesImage)
	}
	if d.BackgroundImage != "" {
		s.FanartURL = stripQuery(d.BackgroundImage)
	}
}

// ApplyDetails merges extended series metadata into one day's records:
// the series entry itself, plus per-episode backfill. Generic airings
// inherit the series description; original air dates resolve through the
// details' upcoming-episode table.
func ApplyDetails(rec *DayRecords, seriesID string, d *gracenote.SeriesDetails) {
	if d == nil {
		return
	}
	for i := range rec.Series {
		if rec.Series[i].ID == seriesID {
			ApplySeriesDetails(&rec.Series[i], d)
			break
		}
	}
	isMovie := strings.HasPrefix(seriesID, "MV")
	for i := range rec.Episodes {
		ep := &rec.Episodes[i]
		if ep.SeriesID != seriesID {
			continue
		}
		if ep.Generic && ep.Description == "" {
			ep.Description = strings.TrimSpace(d.SeriesDescription)
		}
		// Movies carry a release year instead of an air date.
		if !isMovie && ep.OriginalAirDate.IsZero() {
			if t, ok := d.OriginalAirDate(ep.ID); ok {
				ep.OriginalAirDate = t
			}
		}
	}
}

func seriesRichness(s Series) int {
	return len(s.Description) + len(s.Credits)*16
}

// stripQuery drops the query string from provider image URLs, which carry
// volatile sizing parameters.
func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func cloneNonEmpty(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func sortedChannels(m map[string]Channel) []Channel {
	out := make([]Channel, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedSeries(m map[string]Series) []Series {
	out := make([]Series, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedEpisodes(m map[string]Episode) []Episode {
	out := make([]Episode, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedBroadcasts(m map[string]Broadcast) []Broadcast {
	out := make([]Broadcast, 0, len(m))
	for _, v := range m {
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
