// SPDX-License-Identifier: MIT

// Package guide defines the canonical EPG entity graph and the normalizer
// that builds it from raw provider payloads.
package guide

import (
	"fmt"
	"strconv"
	"time"
)

// Channel is one provider station. Immutable once created for a fetch
// session; replaced wholesale on the next full refresh.
type Channel struct {
	ID       string `json:"id"`
	CallSign string `json:"callSign"`
	Name     string `json:"name"`
	Number   string `json:"number"` // provider channel number, may be non-numeric
	IconURL  string `json:"iconUrl,omitempty"`
}

// Credit is one credited person on a series.
type Credit struct {
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Character string `json:"character,omitempty"`
}

// Series is a programme franchise referenced by many broadcasts. Mutated in
// place when provider metadata changes, which counts as "modified" in delta
// accounting.
type Series struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Credits     []Credit `json:"credits,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	FanartURL   string   `json:"fanartUrl,omitempty"`
}

// Episode is one episodic (or one-off) programme belonging to a series.
// Generic marks series-level placeholder airings that carry no
// episode-specific metadata of their own.
type Episode struct {
	ID              string    `json:"id"`
	SeriesID        string    `json:"seriesId"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	Season          int       `json:"season,omitempty"`
	Episode         int       `json:"episode,omitempty"`
	Year            int       `json:"year,omitempty"`
	Generic         bool      `json:"generic,omitempty"`
	OriginalAirDate time.Time `json:"originalAirDate,omitzero"`
}

// Broadcast is one scheduled airing: the schedulable unit. Key is
// (channel id, start time); at most one broadcast per key in a lineup.
type Broadcast struct {
	ChannelID string    `json:"channelId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	EpisodeID string    `json:"episodeId"`
	SeriesID  string    `json:"seriesId"`
	Rating    string    `json:"rating,omitempty"`
	Flags     []string  `json:"flags,omitempty"` // New, Live, Premiere, Finale
	Tags      []string  `json:"tags,omitempty"`
	IconURL   string    `json:"iconUrl,omitempty"`

	// FetchedAt records which fetch produced this record. Set by the merge
	// engine for overlap resolution, zero straight out of normalization.
	// Excluded from content equality.
	FetchedAt time.Time `json:"fetchedAt,omitzero"`
}

// Key returns the uniqueness key for a broadcast within a lineup.
func (b Broadcast) Key() string {
	return b.ChannelID + "/" + strconv.FormatInt(b.Start.Unix(), 10)
}

// Duration returns the broadcast length.
func (b Broadcast) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Overlaps reports whether two broadcasts share airtime.
func (b Broadcast) Overlaps(other Broadcast) bool {
	return b.Start.Before(other.End) && other.Start.Before(b.End)
}

// DayRecords is the normalized output for one day unit of one lineup.
type DayRecords struct {
	Lineup     string      `json:"lineup"`
	Date       string      `json:"date"`
	FetchedAt  time.Time   `json:"fetchedAt"`
	Channels   []Channel   `json:"channels"`
	Series     []Series    `json:"series"`
	Episodes   []Episode   `json:"episodes"`
	Broadcasts []Broadcast `json:"broadcasts"`
	Skipped    int         `json:"skipped,omitempty"` // raw events dropped for missing required fields
}

// ParseError reports a payload that does not match the expected schema
// shape. One day's parse failure never aborts other days.
type ParseError struct {
	Lineup string
	Date   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("guide: parse %s/%s: %s", e.Lineup, e.Date, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Equal reports deep content equality between two channels.
func (c Channel) Equal(other Channel) bool {
	return c == other
}

// Equal reports deep content equality between two series.
func (s Series) Equal(other Series) bool {
	if s.ID != other.ID || s.Title != other.Title || s.Description != other.Description ||
		s.ImageURL != other.ImageURL || s.FanartURL != other.FanartURL {
		return false
	}
	if !stringsEqual(s.Genres, other.Genres) {
		return false
	}
	if len(s.Credits) != len(other.Credits) {
		return false
	}
	for i := range s.Credits {
		if s.Credits[i] != other.Credits[i] {
			return false
		}
	}
	return true
}

// Equal reports deep content equality between two episodes.
func (e Episode) Equal(other Episode) bool {
	return e.ID == other.ID && e.SeriesID == other.SeriesID &&
		e.Title == other.Title && e.Description == other.Description &&
		e.Season == other.Season && e.Episode == other.Episode &&
		e.Year == other.Year && e.Generic == other.Generic &&
		e.OriginalAirDate.Equal(other.OriginalAirDate)
}

// Equal reports deep content equality between two broadcasts. FetchedAt is
// bookkeeping, not content, and is ignored.
func (b Broadcast) Equal(other Broadcast) bool {
	return b.ChannelID == other.ChannelID &&
		b.Start.Equal(other.Start) &&
		b.End.Equal(other.End) &&
		b.EpisodeID == other.EpisodeID &&
		b.SeriesID == other.SeriesID &&
		b.Rating == other.Rating &&
		b.IconURL == other.IconURL &&
		stringsEqual(b.Flags, other.Flags) &&
		stringsEqual(b.Tags, other.Tags)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
