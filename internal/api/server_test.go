// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/th0ma7/gracenote2epg/internal/config"
	"github.com/th0ma7/gracenote2epg/internal/pipeline"
	"github.com/th0ma7/gracenote2epg/internal/runlog"
)

func testServer(t *testing.T, outputPath string, runs *runlog.Store) *httptest.Server {
	t.Helper()
	s := New(config.ServerConfig{}, outputPath, "test", runs)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := testServer(t, "", nil)

	var body map[string]any
	code := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestReadyzTransitions(t *testing.T) {
	s := New(config.ServerConfig{}, "", "test", nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	code := getJSON(t, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	// A failed run does not make the server ready.
	s.SetSummary(&pipeline.Summary{Status: pipeline.StatusFailed})
	code = getJSON(t, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetSummary(&pipeline.Summary{Status: pipeline.StatusPartial})
	code = getJSON(t, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusReflectsLastRun(t *testing.T) {
	s := New(config.ServerConfig{}, "", "test", nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	var pending map[string]any
	code := getJSON(t, ts.URL+"/api/status", &pending)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", pending["status"])

	s.SetSummary(&pipeline.Summary{RunID: "abc12345", Status: pipeline.StatusOK, DaysPlanned: 7})

	var got pipeline.Summary
	code = getJSON(t, ts.URL+"/api/status", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "abc12345", got.RunID)
	assert.Equal(t, 7, got.DaysPlanned)
}

func TestRefreshQueueAndConflict(t *testing.T) {
	s := New(config.ServerConfig{}, "", "test", nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Second request while the first is still pending.
	resp, err = http.Post(ts.URL+"/api/refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	select {
	case <-s.TriggerC():
	default:
		t.Fatal("expected a queued trigger")
	}
}

func TestRunsEndpoint(t *testing.T) {
	store, err := runlog.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	started := time.Now().Add(-time.Minute)
	require.NoError(t, store.Record(context.Background(), "run-1", started, 3*time.Second, "ok",
		map[string]any{"daysFetched": 7}))

	ts := testServer(t, "", store)

	var body struct {
		Runs []runlog.Run `json:"runs"`
	}
	code := getJSON(t, ts.URL+"/api/runs", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-1", body.Runs[0].ID)
	assert.Equal(t, "ok", body.Runs[0].Status)

	code = getJSON(t, ts.URL+"/api/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRunsNotConfigured(t *testing.T) {
	ts := testServer(t, "", nil)
	code := getJSON(t, ts.URL+"/api/runs", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestXMLTVServesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xmltv.xml")

	ts := testServer(t, path, nil)

	code := getJSON(t, ts.URL+"/xmltv", nil)
	assert.Equal(t, http.StatusNotFound, code)

	doc := `<?xml version="1.0" encoding="UTF-8"?><tv></tv>`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	resp, err := http.Get(ts.URL + "/xmltv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/xml")
	assert.Equal(t, "public, max-age=300", resp.Header.Get("Cache-Control"))
}

func TestRateLimit(t *testing.T) {
	s := New(config.ServerConfig{RateLimit: 2, RateWindow: time.Minute}, "", "test", nil)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		code := getJSON(t, ts.URL+"/healthz", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code := getJSON(t, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRequestIDEchoed(t *testing.T) {
	ts := testServer(t, "", nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "corr-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "corr-42", resp.Header.Get("X-Request-Id"))
}
