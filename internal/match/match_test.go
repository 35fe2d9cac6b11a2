// SPDX-License-Identifier: MIT

package match

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/th0ma7/gracenote2epg/internal/guide"
)

var allPasses = Options{
	NumericOnly:   true,
	NameMatch:     true,
	Threshold:     0.8,
	StripSuffixes: []string{"hd", "uhd", "sd", "tv"},
}

func TestMatchNumericPass(t *testing.T) {
	provider := []guide.Channel{
		{ID: "10021", CallSign: "WABC", Number: "7.1"},
		{ID: "10022", CallSign: "CBFT", Number: "2.1"},
	}
	external := []ExternalChannel{
		{ID: "uuid-7", Name: "ABC East", Number: "7.1"},
		{ID: "uuid-2", Name: "Radio-Canada", Number: "2.1"},
	}

	m := Match(provider, external, allPasses)

	id, ok := m.ExternalID("10021")
	require.True(t, ok)
	assert.Equal(t, "uuid-7", id)

	e, _ := m.Entry("10022")
	assert.Equal(t, MethodNumeric, e.Method)
	assert.Equal(t, "uuid-2", e.ExternalID)

	stats := m.Counts()
	assert.Equal(t, Stats{Total: 2, Numeric: 2}, stats)
}

func TestMatchDigitGroupIgnoresSubchannel(t *testing.T) {
	provider := []guide.Channel{{ID: "p1", CallSign: "WXYZ", Number: "11.2"}}
	external := []ExternalChannel{{ID: "x1", Name: "XYZ", Number: "11"}}

	m := Match(provider, external, Options{NumericOnly: true})
	id, ok := m.ExternalID("p1")
	require.True(t, ok)
	assert.Equal(t, "x1", id)
}

func TestMatchExternalClaimedOnce(t *testing.T) {
	provider := []guide.Channel{
		{ID: "p1", CallSign: "A", Number: "5.1"},
		{ID: "p2", CallSign: "B", Number: "5.2"},
	}
	external := []ExternalChannel{{ID: "x1", Name: "Five", Number: "5.1"}}

	m := Match(provider, external, Options{NumericOnly: true})

	_, ok1 := m.ExternalID("p1")
	_, ok2 := m.ExternalID("p2")
	assert.True(t, ok1 != ok2, "one external channel must map to exactly one provider channel")
	assert.Equal(t, 1, m.Counts().Unmapped)
}

func TestMatchFuzzyNamePass(t *testing.T) {
	provider := []guide.Channel{{ID: "p1", CallSign: "WABC", Number: ""}}
	external := []ExternalChannel{
		{ID: "x1", Name: "ABC HD", Number: "700"},
		{ID: "x2", Name: "Completely Different", Number: "701"},
	}

	m := Match(provider, external, allPasses)

	e, ok := m.Entry("p1")
	require.True(t, ok)
	assert.Equal(t, MethodName, e.Method)
	assert.Equal(t, "x1", e.ExternalID)
	assert.GreaterOrEqual(t, e.Score, 0.8)
}

func TestMatchBelowThresholdUnmapped(t *testing.T) {
	provider := []guide.Channel{{ID: "p1", Name: "History Channel", Number: ""}}
	external := []ExternalChannel{{ID: "x1", Name: "Cartoon Network", Number: "9"}}

	m := Match(provider, external, allPasses)

	e, _ := m.Entry("p1")
	assert.Equal(t, MethodNone, e.Method)
	assert.Empty(t, e.ExternalID)
	assert.Equal(t, 1, m.Counts().Unmapped)
}

func TestMatchTieBreakNumericProximityThenID(t *testing.T) {
	provider := []guide.Channel{{ID: "p1", CallSign: "News", Number: "5"}}
	// Identical names at equal numeric distance from channel 5: the
	// lexicographically smaller external id wins.
	external := []ExternalChannel{
		{ID: "x-b", Name: "News", Number: "6"},
		{ID: "x-a", Name: "News", Number: "4"},
	}

	m := Match(provider, external, Options{NameMatch: true, Threshold: 0.8})

	e, ok := m.Entry("p1")
	require.True(t, ok)
	assert.Equal(t, "x-a", e.ExternalID)

	warnings := m.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "p1", warnings[0].ProviderID)
	assert.Equal(t, "x-a", warnings[0].Chosen)
	assert.Len(t, warnings[0].Candidates, 2)
}

func TestMatchSuffixStripping(t *testing.T) {
	provider := []guide.Channel{{ID: "p1", Name: "Discovery", Number: ""}}
	external := []ExternalChannel{{ID: "x1", Name: "Discovery HD", Number: "30"}}

	m := Match(provider, external, allPasses)

	e, _ := m.Entry("p1")
	assert.Equal(t, MethodName, e.Method)
	assert.InDelta(t, 1.0, e.Score, 1e-9, "suffix-stripped names are identical")
}

func TestMatchOrderIndependence(t *testing.T) {
	provider := []guide.Channel{
		{ID: "p1", CallSign: "WABC", Number: "7.1"},
		{ID: "p2", CallSign: "News", Number: "5"},
		{ID: "p3", Name: "Discovery", Number: ""},
	}
	external := []ExternalChannel{
		{ID: "x1", Name: "ABC", Number: "7.1"},
		{ID: "x2", Name: "News", Number: "4"},
		{ID: "x3", Name: "Discovery HD", Number: "30"},
	}

	forward := Match(provider, external, allPasses)

	reversedProv := []guide.Channel{provider[2], provider[1], provider[0]}
	reversedExt := []ExternalChannel{external[2], external[1], external[0]}
	backward := Match(reversedProv, reversedExt, allPasses)

	if diff := cmp.Diff(forward.Entries(), backward.Entries()); diff != "" {
		t.Errorf("mapping depends on input order (-forward +backward):\n%s", diff)
	}
	assert.Equal(t, forward.Counts(), backward.Counts())
}

func TestMatchNoExternalChannels(t *testing.T) {
	provider := []guide.Channel{{ID: "p1", CallSign: "WABC", Number: "7.1"}}

	m := Match(provider, nil, allPasses)

	e, ok := m.Entry("p1")
	require.True(t, ok, "unmapped channels keep an entry for the emitter")
	assert.Equal(t, MethodNone, e.Method)
	assert.Equal(t, Stats{Total: 1, Unmapped: 1}, m.Counts())
}

func TestNormalizerKey(t *testing.T) {
	n := newNormalizer([]string{"hd", "sd"})

	tests := []struct {
		in, want string
	}{
		{"Discovery HD", "discovery"},
		{"News Channel HD SD", "news channel"},
		{"  Spaced   Out  ", "spaced out"},
		{"CBFT", "cbft"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.key(tt.in), "key(%q)", tt.in)
	}
}

func TestSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 0.0, similarity("", "abc"))
	s := similarity("wabc", "abc")
	assert.Greater(t, s, 0.8)
	assert.Less(t, s, 1.0)
}
