// SPDX-License-Identifier: MIT

package gracenote

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// gridTimeLayout is the timestamp format used by the provider grid API.
const gridTimeLayout = "2006-01-02T15:04:05Z"

// Number is a tolerant scalar for grid fields the provider serializes
// inconsistently: bare JSON numbers, quoted numbers, empty strings or null
// all decode without failing the payload.
type Number string

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = ""
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(v))
		return nil
	}
	*n = Number(s)
	return nil
}

// Int returns the numeric value, or 0 when empty or unparseable.
func (n Number) Int() int {
	v, err := strconv.Atoi(string(n))
	if err != nil {
		return 0
	}
	return v
}

// Bool is a tolerant boolean; the provider quotes some boolean fields.
type Bool bool

func (v *Bool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	*v = Bool(strings.EqualFold(s, "true"))
	return nil
}

// Grid is the provider's schedule payload for one day of one lineup.
// The schema is owned by the provider; only the fields consumed downstream
// are declared, everything else is ignored on decode.
type Grid struct {
	Channels []GridChannel `json:"channels"`
}

// GridChannel is one station entry in the grid payload.
type GridChannel struct {
	ChannelID     string      `json:"channelId"`
	CallSign      string      `json:"callSign"`
	AffiliateName string      `json:"affiliateName"`
	ChannelNo     string      `json:"channelNo"`
	Thumbnail     string      `json:"thumbnail"`
	Events        []GridEvent `json:"events"`
}

// GridEvent is one scheduled airing in the grid payload.
type GridEvent struct {
	StartTime string      `json:"startTime"`
	EndTime   string      `json:"endTime"`
	Duration  Number      `json:"duration"`
	Thumbnail string      `json:"thumbnail"`
	Rating    string      `json:"rating"`
	Flag      []string    `json:"flag"`
	Tags      []string    `json:"tags"`
	Filter    []string    `json:"filter"`
	Program   GridProgram `json:"program"`
}

// GridProgram is the programme metadata nested in a grid event.
type GridProgram struct {
	TmsID        string `json:"tmsId"`
	Title        string `json:"title"`
	EpisodeTitle string `json:"episodeTitle"`
	ShortDesc    string `json:"shortDesc"`
	LongDesc     string `json:"longDesc"`
	ReleaseYear  Number `json:"releaseYear"`
	Season       Number `json:"season"`
	Episode      Number `json:"episode"`
	SeriesID     string `json:"seriesId"`
	IsGeneric    Bool   `json:"isGeneric"`
}

// Start parses the event start time (UTC).
func (e GridEvent) Start() (time.Time, error) {
	t, err := time.Parse(gridTimeLayout, e.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("event start time %q: %w", e.StartTime, err)
	}
	return t, nil
}

// End parses the event end time (UTC). Events without an end time fall back
// to Start plus Duration minutes.
func (e GridEvent) End() (time.Time, error) {
	if e.EndTime != "" {
		t, err := time.Parse(gridTimeLayout, e.EndTime)
		if err == nil {
			return t, nil
		}
	}
	start, err := e.Start()
	if err != nil {
		return time.Time{}, err
	}
	mins := e.Duration.Int()
	if mins <= 0 {
		return time.Time{}, fmt.Errorf("event at %s: no usable end time or duration", e.StartTime)
	}
	return start.Add(time.Duration(mins) * time.Minute), nil
}

// DecodeGrid parses a raw grid payload. The reader is limited to maxGridSize
// so a hostile or broken upstream cannot exhaust memory.
const maxGridSize = 64 * 1024 * 1024

func DecodeGrid(r io.Reader) (*Grid, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxGridSize))
	var g Grid
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode grid payload: %w", err)
	}
	return &g, nil
}
