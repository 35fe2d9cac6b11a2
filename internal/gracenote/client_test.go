// SPDX-License-Identifier: MIT

package gracenote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{
		Attempts:      3,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
		BlockCooldown: time.Millisecond,
	}
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Options{
		BaseURL:        srv.URL,
		DetailsURL:     srv.URL,
		PacingInterval: time.Microsecond,
		Timeout:        2 * time.Second,
		Retry:          fastRetry(),
	})
	return c, srv
}

func testDay() Day {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return Day{Date: "20250601", Start: start, SpanHours: 24}
}

func testLineup() Lineup {
	return Lineup{ID: "USA-OTA30310-DEFAULT", Country: "USA", PostalCode: "30310", Device: "-"}
}

func TestFetchDayRequestShape(t *testing.T) {
	var gotQuery map[string][]string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"channels":[]}`))
	}))

	if _, err := c.FetchDay(context.Background(), testLineup(), testDay()); err != nil {
		t.Fatalf("FetchDay() error = %v", err)
	}

	want := map[string]string{
		"aid":        "orbebb",
		"lineupId":   "USA-OTA30310-DEFAULT",
		"headendId":  "USA-OTA30310-DEFAULT",
		"country":    "USA",
		"device":     "-",
		"postalCode": "30310",
		"timespan":   "24",
		"isOverride": "true",
		"pref":       "-",
		"userId":     "-",
		"time":       "1748736000",
	}
	for k, v := range want {
		if got := gotQuery[k]; len(got) != 1 || got[0] != v {
			t.Errorf("query %s = %v, want %q", k, got, v)
		}
	}
}

func TestFetchDayRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"channels":[]}`))
	}))

	payload, err := c.FetchDay(context.Background(), testLineup(), testDay())
	if err != nil {
		t.Fatalf("FetchDay() error = %v", err)
	}
	if string(payload) != `{"channels":[]}` {
		t.Errorf("payload = %q", payload)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchDayPermanentNoRetry(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))

	_, err := c.FetchDay(context.Background(), testLineup(), testDay())
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("error = %v, want ErrPermanent", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent failure)", got)
	}
}

func TestFetchDayExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.FetchDay(context.Background(), testLineup(), testDay())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("error should carry *APIError")
	}
	if !apiErr.Blocked {
		t.Error("503 should be classified as provider blocking")
	}
}

func TestFetchDayChallengePage(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`<html><body>Human Verification required</body></html>`))
			return
		}
		_, _ = w.Write([]byte(`{"channels":[]}`))
	}))

	if _, err := c.FetchDay(context.Background(), testLineup(), testDay()); err != nil {
		t.Fatalf("FetchDay() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2 (challenge page retried)", got)
	}
}

func TestFetchDayContextCancel(t *testing.T) {
	release := make(chan struct{})
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchDay(ctx, testLineup(), testDay())
	if err == nil {
		t.Fatal("FetchDay() should fail when context expires")
	}
}

func TestFetchSeriesDetails(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("programSeriesID"); got != "SH00000001" {
			t.Errorf("programSeriesID = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"seriesDescription": "A documentary series.",
			"seriesGenres": "Documentary|Nature",
			"overviewTab": {"cast": [{"name": "Jane Doe", "role": "Host"}]},
			"upcomingEpisodeTab": [
				{"tmsID": "EP000000010001", "originalAirDate": "2020-03-01T00:00:00Z"}
			]
		}`))
	}))

	details, err := c.FetchSeriesDetails(context.Background(), "SH00000001")
	if err != nil {
		t.Fatalf("FetchSeriesDetails() error = %v", err)
	}
	if details.SeriesDescription != "A documentary series." {
		t.Errorf("SeriesDescription = %q", details.SeriesDescription)
	}
	if got := details.Genres(); len(got) != 2 || got[0] != "Documentary" || got[1] != "Nature" {
		t.Errorf("Genres() = %v", got)
	}
	if len(details.Overview.Cast) != 1 || details.Overview.Cast[0].Name != "Jane Doe" {
		t.Errorf("Cast = %+v", details.Overview.Cast)
	}
	oad, ok := details.OriginalAirDate("ep000000010001")
	if !ok {
		t.Fatal("OriginalAirDate() should match case-insensitively")
	}
	if oad.Year() != 2020 {
		t.Errorf("OriginalAirDate year = %d", oad.Year())
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantClass   error
		wantBlocked bool
	}{
		{name: "forbidden", status: 403, wantClass: ErrTransient, wantBlocked: true},
		{name: "too many requests", status: 429, wantClass: ErrTransient, wantBlocked: true},
		{name: "service unavailable", status: 503, wantClass: ErrTransient, wantBlocked: true},
		{name: "bad gateway", status: 502, wantClass: ErrTransient, wantBlocked: false},
		{name: "internal error", status: 500, wantClass: ErrTransient, wantBlocked: false},
		{name: "not found", status: 404, wantClass: ErrPermanent, wantBlocked: false},
		{name: "unauthorized", status: 401, wantClass: ErrPermanent, wantBlocked: false},
		{name: "ok", status: 200, wantClass: nil, wantBlocked: false},
		{name: "ok with challenge body", status: 200, body: "DDoS protection by cloudflare", wantClass: ErrTransient, wantBlocked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, blocked := classifyStatus(tt.status, tt.body)
			if !errors.Is(class, tt.wantClass) {
				t.Errorf("class = %v, want %v", class, tt.wantClass)
			}
			if blocked != tt.wantBlocked {
				t.Errorf("blocked = %v, want %v", blocked, tt.wantBlocked)
			}
		})
	}
}

func TestPacerCooldown(t *testing.T) {
	p := NewPacer(time.Microsecond, 10*time.Millisecond)

	if p.CooldownActive() {
		t.Fatal("new pacer should not be cooling down")
	}
	first := p.ReportBlocked()
	if !p.CooldownActive() {
		t.Fatal("cooldown should be active after a block")
	}
	second := p.ReportBlocked()
	if second != first*2 {
		t.Errorf("second cooldown = %v, want doubled %v", second, first*2)
	}

	p.ReportSuccess()
	p.ReportSuccess()
	p.ReportSuccess()
	if third := p.ReportBlocked(); third != first {
		t.Errorf("cooldown after decay = %v, want base %v", third, first)
	}
}

func TestPacerWaitCancel(t *testing.T) {
	p := NewPacer(time.Microsecond, time.Minute)
	p.ReportBlocked()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("Wait() should honor context cancellation during cooldown")
	}
}
