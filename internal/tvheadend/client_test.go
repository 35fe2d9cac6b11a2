// SPDX-License-Identifier: MIT

package tvheadend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestChannelsParsesGrid(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/channel/grid", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("all"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[
			{"uuid":"aaa","name":"WSB 2","number":2},
			{"uuid":"bbb","name":"Discovery","number":"45"},
			{"uuid":"ccc","name":"Disabled","number":0}
		],"total":3}`))
	}))

	channels, err := c.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, Channel{UUID: "aaa", Name: "WSB 2", Number: "2"}, channels[0])
	assert.Equal(t, Channel{UUID: "bbb", Name: "Discovery", Number: "45"}, channels[1])
}

func TestChannelsMissingEntries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":0}`))
	}))

	_, err := c.Channels(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse), "want ErrBadResponse, got %v", err)
}

func TestCounters(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/channel/grid":
			_, _ = w.Write([]byte(`{"entries":[],"total":42}`))
		case "/api/epg/events/grid":
			_, _ = w.Write([]byte(`{"entries":[],"totalCount":61234}`))
		default:
			http.NotFound(w, r)
		}
	}))

	counters, err := c.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counters{Channels: 42, EPGEvents: 61234}, counters)
}

func TestDigestAuthChallenge(t *testing.T) {
	var sawAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate",
				`Digest realm="tvheadend", nonce="abc123", qop="auth"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawAuth = auth
		_, _ = w.Write([]byte(`{"name":"Tvheadend","sw_version":"4.3"}`))
	}))
	c.auth = newAuthenticator("hts", "secret")

	info, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tvheadend", info.Name)
	assert.Contains(t, sawAuth, `Digest username="hts"`)
	assert.Contains(t, sawAuth, `realm="tvheadend"`)
	assert.Contains(t, sawAuth, "qop=auth")
}

func TestBasicAuthChallenge(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="tvheadend"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "hts", user)
		require.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"name":"Tvheadend","sw_version":"4.3"}`))
	}))
	c.auth = newAuthenticator("hts", "secret")

	_, err := c.Ping(context.Background())
	require.NoError(t, err)
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Digest realm="tvheadend", nonce="n"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized), "want ErrUnauthorized, got %v", err)
}

func TestMatchNumber(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		want string
	}{
		{"trailing digits become subchannel", Channel{Name: "WSB 2", Number: "2"}, "2.2"},
		{"already dotted", Channel{Name: "WSB-DT", Number: "2.1"}, "2.1"},
		{"no digits defaults to .1", Channel{Name: "Discovery", Number: "45"}, "45.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchNumber(tt.ch))
		})
	}
}
