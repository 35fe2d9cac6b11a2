// SPDX-License-Identifier: MIT

package gracenote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/th0ma7/gracenote2epg/internal/log"
)

// SeriesDetails carries the extended per-series metadata from the
// overviewDetails endpoint. Grid payloads only hold per-airing data; this
// adds series-level descriptions, artwork, genres and cast.
type SeriesDetails struct {
	SeriesDescription string         `json:"seriesDescription"`
	SeriesImage       string         `json:"seriesImage"`
	BackgroundImage   string         `json:"backgroundImage"`
	SeriesGenres      string         `json:"seriesGenres"` // pipe-separated
	Overview          OverviewTab    `json:"overviewTab"`
	UpcomingEpisodes  []UpcomingItem `json:"upcomingEpisodeTab"`
}

// OverviewTab nests the cast listing.
type OverviewTab struct {
	Cast []CastMember `json:"cast"`
}

// CastMember is one credited person.
type CastMember struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	CharacterName string `json:"characterName"`
}

// UpcomingItem is one future airing listed in the series overview, used to
// recover original air dates.
type UpcomingItem struct {
	TmsID           string `json:"tmsID"`
	EpisodeTitle    string `json:"episodeTitle"`
	OriginalAirDate string `json:"originalAirDate"`
}

// Genres splits the pipe-separated genre list.
func (d *SeriesDetails) Genres() []string {
	if d == nil || d.SeriesGenres == "" {
		return nil
	}
	parts := strings.Split(d.SeriesGenres, "|")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// OriginalAirDate returns the original air date recorded for the given
// episode id, if the overview lists it. The endpoint emits timestamps
// without a seconds component, but full grid-style timestamps show up too.
func (d *SeriesDetails) OriginalAirDate(tmsID string) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	for _, item := range d.UpcomingEpisodes {
		if !strings.EqualFold(item.TmsID, tmsID) || item.OriginalAirDate == "" {
			continue
		}
		for _, layout := range []string{"2006-01-02T15:04Z", gridTimeLayout} {
			if t, err := time.Parse(layout, item.OriginalAirDate); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// FetchSeriesDetails retrieves extended metadata for one series. Failures
// degrade to grid-level metadata upstream, so only a single attempt beyond
// the pacer is made here; a short dedicated timeout keeps a slow details
// endpoint from stalling the run.
func (c *Client) FetchSeriesDetails(ctx context.Context, seriesID string) (*SeriesDetails, error) {
	logger := log.WithComponentFromContext(ctx, "gracenote")

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, &APIError{Class: ErrTransient, Operation: "series_details", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	form := url.Values{"programSeriesID": {seriesID}}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.opts.DetailsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &APIError{Class: ErrPermanent, Operation: "series_details", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Class: ErrTransient, Operation: "series_details", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGridSize))
	if err != nil {
		return nil, &APIError{Class: ErrTransient, Operation: "series_details", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		class, blocked := classifyStatus(resp.StatusCode, snippet(body))
		if blocked {
			c.pacer.ReportBlocked()
		}
		return nil, &APIError{
			Class:     class,
			Operation: "series_details",
			Status:    resp.StatusCode,
			Blocked:   blocked,
			Body:      snippet(body),
		}
	}

	var details SeriesDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, &APIError{Class: ErrBadResponse, Operation: "series_details", Err: err}
	}

	c.pacer.ReportSuccess()
	logger.Debug().
		Str("event", "fetch.series_details.ok").
		Str(log.FieldSeriesID, seriesID).
		Msg("series details fetched")
	return &details, nil
}
