// SPDX-License-Identifier: MIT

// Package tvheadend reads the downstream PVR's channel list and import
// counters. Everything here is read-only: the channel grid feeds the
// matcher, the counters verify that an emitted guide was actually
// consumed.
package tvheadend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/th0ma7/gracenote2epg/internal/log"
)

// Channel is one entry of the PVR's channel grid.
type Channel struct {
	UUID   string
	Name   string
	Number string
}

// ServerInfo is the PVR's identity response, used as the connection test.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"sw_version"`
}

// Counters are the PVR-side import totals consumed read-only for run
// verification.
type Counters struct {
	Channels  int `json:"channels"`
	EPGEvents int `json:"epgEvents"`
}

// Options configures the PVR client.
type Options struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration

	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Client talks to a Tvheadend-style HTTP API. Anonymous access is tried
// first; a 401 switches to digest or basic auth depending on the server's
// challenge.
type Client struct {
	base   string
	auth   *authenticator
	http   *http.Client
	logger zerolog.Logger
}

// New builds a PVR client from options.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		auth:   newAuthenticator(opts.Username, opts.Password),
		http:   httpClient,
		logger: log.WithComponent("tvheadend"),
	}
}

// Ping verifies the PVR is reachable and credentials work.
func (c *Client) Ping(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.getJSON(ctx, "serverinfo", c.base+"/api/serverinfo", &info); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("event", "tvh.ping").
		Str("server", info.Name).
		Str("server_version", info.Version).
		Msg("pvr reachable")
	return &info, nil
}

// Channels returns the PVR's enabled channels. The grid is requested
// unpaged and name-sorted, matching what the importer itself sees.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	q := url.Values{}
	q.Set("all", "1")
	q.Set("limit", "999999999")
	q.Set("sort", "name")
	q.Set("filter", `[{"type":"boolean","value":true,"field":"enabled"}]`)

	var grid struct {
		Entries []struct {
			UUID   string          `json:"uuid"`
			Name   string          `json:"name"`
			Number json.RawMessage `json:"number"`
		} `json:"entries"`
		Total int `json:"total"`
	}
	if err := c.getJSON(ctx, "channel_grid", c.base+"/api/channel/grid?"+q.Encode(), &grid); err != nil {
		return nil, err
	}
	if grid.Entries == nil {
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: "channel_grid", Body: "missing entries field"}
	}

	channels := make([]Channel, 0, len(grid.Entries))
	for _, e := range grid.Entries {
		num := rawNumber(e.Number)
		if num == "" {
			// Channels without a number cannot be matched numerically and
			// confuse the importer; skip them like the original does.
			continue
		}
		channels = append(channels, Channel{UUID: e.UUID, Name: e.Name, Number: num})
	}
	c.logger.Info().
		Str("event", "tvh.channels").
		Int("count", len(channels)).
		Msg("pvr channel list loaded")
	return channels, nil
}

// Counters reads the PVR's channel and EPG event totals.
func (c *Client) Counters(ctx context.Context) (Counters, error) {
	var out Counters

	var chGrid struct {
		Total int `json:"total"`
	}
	if err := c.getJSON(ctx, "channel_count", c.base+"/api/channel/grid?limit=0", &chGrid); err != nil {
		return out, err
	}
	out.Channels = chGrid.Total

	var epgGrid struct {
		TotalCount int `json:"totalCount"`
	}
	if err := c.getJSON(ctx, "epg_count", c.base+"/api/epg/events/grid?limit=0", &epgGrid); err != nil {
		return out, err
	}
	out.EPGEvents = epgGrid.TotalCount
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	body, err := c.get(ctx, op, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Body: snippet(body), Err: err}
	}
	return nil
}

// get issues a GET, answering an auth challenge once when credentials are
// configured.
func (c *Client) get(ctx context.Context, op, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, rawURL, "")
	if err != nil {
		return nil, &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized && c.auth.configured() {
		challenge := resp.Header.Get("WWW-Authenticate")
		_ = resp.Body.Close()
		resp, err = c.do(ctx, rawURL, challenge)
		if err != nil {
			return nil, &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &APIError{Sentinel: ErrUnavailable, Operation: op, Status: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &APIError{Sentinel: ErrUnauthorized, Operation: op, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &APIError{Sentinel: ErrUnavailable, Operation: op, Status: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, rawURL, challenge string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if challenge != "" {
		if err := c.auth.apply(req, challenge); err != nil {
			return nil, err
		}
	}
	return c.http.Do(req)
}

// rawNumber renders Tvheadend's channel number, which arrives as a bare
// number or a quoted string depending on version.
func rawNumber(raw json.RawMessage) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" || s == "0" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

func snippet(body []byte) string {
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

// MatchNumber derives the dotted channel number the matcher compares
// against provider numbers: the PVR number as the major part, a trailing
// digit group of the channel name as the sub-channel, else ".1".
func MatchNumber(ch Channel) string {
	name := strings.TrimSpace(ch.Name)
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if sub := name[i:]; sub != "" && i > 0 && !strings.Contains(ch.Number, ".") {
		return ch.Number + "." + sub
	}
	if strings.Contains(ch.Number, ".") {
		return ch.Number
	}
	return ch.Number + ".1"
}
