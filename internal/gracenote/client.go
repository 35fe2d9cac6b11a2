// SPDX-License-Identifier: MIT

// Package gracenote fetches schedule grids from the tvlistings provider.
package gracenote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/th0ma7/gracenote2epg/internal/log"
)

// RetryPolicy bounds the per-day retry loop.
type RetryPolicy struct {
	Attempts      int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	BlockCooldown time.Duration
}

// Options configures the provider client.
type Options struct {
	BaseURL        string
	DetailsURL     string
	UserAgent      string
	Timeout        time.Duration
	PacingInterval time.Duration
	Retry          RetryPolicy

	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Lineup identifies the provider lineup a request is for.
type Lineup struct {
	ID         string
	Country    string
	PostalCode string
	Device     string
}

// Client issues paced, retried requests against the provider grid API.
// Requests through one Client are serialized by its pacer, honoring the
// provider's session semantics.
type Client struct {
	opts  Options
	http  *http.Client
	pacer *Pacer
}

// NewClient builds a provider client from options, applying defaults for
// anything unset.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://tvlistings.gracenote.com/api/grid"
	}
	if opts.DetailsURL == "" {
		opts.DetailsURL = "https://tvlistings.gracenote.com/api/program/overviewDetails"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = 3
	}
	if opts.Retry.BackoffBase <= 0 {
		opts.Retry.BackoffBase = 500 * time.Millisecond
	}
	if opts.Retry.BackoffCap <= 0 {
		opts.Retry.BackoffCap = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		opts:  opts,
		http:  httpClient,
		pacer: NewPacer(opts.PacingInterval, opts.Retry.BlockCooldown),
	}
}

// gridURL builds the grid request URL for one day unit.
func (c *Client) gridURL(lu Lineup, day Day) string {
	q := url.Values{}
	q.Set("aid", "orbebb")
	q.Set("lineupId", lu.ID)
	q.Set("timespan", strconv.Itoa(day.SpanHours))
	q.Set("headendId", lu.ID)
	q.Set("country", lu.Country)
	q.Set("device", lu.Device)
	q.Set("postalCode", lu.PostalCode)
	q.Set("time", strconv.FormatInt(day.Start.Unix(), 10))
	q.Set("isOverride", "true")
	q.Set("pref", "-")
	q.Set("userId", "-")
	return c.opts.BaseURL + "?" + q.Encode()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
}

// FetchDay retrieves the raw grid payload for one day unit. Transient
// failures are retried with quadratic backoff up to the configured attempt
// count; provider blocking additionally arms the pacer cooldown. The
// returned error wraps ErrTransient or ErrPermanent for classification.
func (c *Client) FetchDay(ctx context.Context, lu Lineup, day Day) ([]byte, error) {
	logger := log.WithComponentFromContext(ctx, "gracenote")

	var lastErr error
	for attempt := 1; attempt <= c.opts.Retry.Attempts; attempt++ {
		payload, err := c.fetchDayOnce(ctx, lu, day)
		if err == nil {
			c.pacer.ReportSuccess()
			logger.Debug().
				Str("event", "fetch.day.ok").
				Str(log.FieldDay, day.Date).
				Int(log.FieldAttempt, attempt).
				Int("bytes", len(payload)).
				Msg("day payload fetched")
			return payload, nil
		}
		lastErr = err

		var apiErr *APIError
		blocked := false
		if errors.As(err, &apiErr) {
			blocked = apiErr.Blocked
		}
		if errors.Is(err, ErrPermanent) {
			logger.Warn().
				Err(err).
				Str("event", "fetch.day.permanent").
				Str(log.FieldDay, day.Date).
				Msg("permanent failure, day will be skipped")
			return nil, err
		}
		if attempt == c.opts.Retry.Attempts {
			break
		}

		backoff := c.backoff(attempt)
		if blocked {
			cooldown := c.pacer.ReportBlocked()
			if cooldown > backoff {
				backoff = cooldown
			}
			logger.Warn().
				Str("event", "fetch.day.blocked").
				Str(log.FieldDay, day.Date).
				Int(log.FieldAttempt, attempt).
				Dur("cooldown", backoff).
				Msg("provider blocking detected, backing off")
		} else {
			logger.Warn().
				Err(err).
				Str("event", "fetch.day.retry").
				Str(log.FieldDay, day.Date).
				Int(log.FieldAttempt, attempt).
				Dur("backoff", backoff).
				Msg("transient failure, retrying")
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error().
		Err(lastErr).
		Str("event", "fetch.day.exhausted").
		Str(log.FieldDay, day.Date).
		Int("attempts", c.opts.Retry.Attempts).
		Msg("retries exhausted for day")
	return nil, lastErr
}

// backoff returns the quadratic retry delay for an attempt number.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * c.opts.Retry.BackoffBase
	if d > c.opts.Retry.BackoffCap {
		d = c.opts.Retry.BackoffCap
	}
	return d
}

func (c *Client) fetchDayOnce(ctx context.Context, lu Lineup, day Day) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, &APIError{Class: ErrTransient, Operation: "grid", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.gridURL(lu, day), nil)
	if err != nil {
		return nil, &APIError{Class: ErrPermanent, Operation: "grid", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Class: ErrTransient, Operation: "grid", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGridSize))
	if err != nil {
		return nil, &APIError{Class: ErrTransient, Operation: "grid", Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		class, blocked := classifyStatus(resp.StatusCode, snippet(body))
		return nil, &APIError{
			Class:     class,
			Operation: "grid",
			Status:    resp.StatusCode,
			Blocked:   blocked,
			Body:      snippet(body),
		}
	}

	// A 200 with a challenge page instead of JSON is still a block.
	if trimmed := strings.TrimSpace(string(snippetBytes(body))); trimmed != "" && trimmed[0] != '{' {
		if isBlockedBody(trimmed) {
			return nil, &APIError{Class: ErrTransient, Operation: "grid", Status: resp.StatusCode, Blocked: true, Body: snippet(body)}
		}
		return nil, &APIError{Class: ErrBadResponse, Operation: "grid", Status: resp.StatusCode, Body: snippet(body)}
	}

	return body, nil
}

// snippet truncates a body for error reporting.
func snippet(body []byte) string {
	return string(snippetBytes(body))
}

func snippetBytes(body []byte) []byte {
	const max = 2048
	if len(body) > max {
		return body[:max]
	}
	return body
}

// Pacer exposes the client's pacer for callers that need to inspect
// cooldown state (e.g. the run summary).
func (c *Client) Pacer() *Pacer {
	return c.pacer
}
