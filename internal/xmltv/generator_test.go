// SPDX-License-Identifier: MIT

package xmltv

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/th0ma7/gracenote2epg/internal/guide"
	"github.com/th0ma7/gracenote2epg/internal/match"
	"github.com/th0ma7/gracenote2epg/internal/merge"
)

func testSnapshot() *merge.Snapshot {
	start := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	return merge.FromRecords([]*guide.DayRecords{{
		Lineup:    "USA-OTA30310-DEFAULT",
		Date:      "20250601",
		FetchedAt: start,
		Channels: []guide.Channel{
			{ID: "10021", CallSign: "WSB", Name: "WSB-TV", Number: "2.1", IconURL: "http://img/wsb.png"},
		},
		Series: []guide.Series{{
			ID:          "EP009311820",
			Title:       "Evening News",
			Description: "Local and national news.",
			Genres:      []string{"News"},
			Credits: []guide.Credit{
				{Name: "Jane Doe", Role: "Anchor"},
				{Name: "John Smith", Role: "Director"},
			},
		}},
		Episodes: []guide.Episode{{
			ID:              "EP009311820001",
			SeriesID:        "EP009311820",
			Title:           "June 1",
			Description:     "Tonight's top stories.",
			Season:          12,
			Episode:         3,
			OriginalAirDate: time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		}},
		Broadcasts: []guide.Broadcast{{
			ChannelID: "10021",
			Start:     start,
			End:       start.Add(time.Hour),
			EpisodeID: "EP009311820001",
			SeriesID:  "EP009311820",
			Rating:    "TV-PG",
			Tags:      []string{"CC"},
		}},
	}})
}

func testMapping() *match.Mapping {
	return match.Match(
		[]guide.Channel{{ID: "10021", CallSign: "WSB", Name: "WSB-TV", Number: "2.1"}},
		[]match.ExternalChannel{{ID: "uuid-1", Name: "WSB Atlanta", Number: "2.1"}},
		match.Options{NumericOnly: true},
	)
}

func TestBuildDocument(t *testing.T) {
	tv := Build(testSnapshot(), testMapping(), Options{Generator: "gracenote2epg"})

	if len(tv.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(tv.Channels))
	}
	ch := tv.Channels[0]
	if ch.ID != "10021.gracenote2epg" {
		t.Errorf("channel id = %q", ch.ID)
	}
	wantNames := []string{"WSB Atlanta", "2.1 WSB", "2.1"}
	if diff := cmp.Diff(wantNames, ch.DisplayName); diff != "" {
		t.Errorf("display names mismatch (-want +got):\n%s", diff)
	}

	if len(tv.Programmes) != 1 {
		t.Fatalf("programmes = %d, want 1", len(tv.Programmes))
	}
	p := tv.Programmes[0]
	if p.Start != "20250601200000 +0000" || p.Stop != "20250601210000 +0000" {
		t.Errorf("times = %q..%q", p.Start, p.Stop)
	}
	if p.Title.Value != "Evening News" || p.SubTitle == nil || p.SubTitle.Value != "June 1" {
		t.Errorf("title/sub-title = %+v / %+v", p.Title, p.SubTitle)
	}
	if p.Desc == nil || p.Desc.Value != "Tonight's top stories." {
		t.Errorf("desc = %+v", p.Desc)
	}
	if p.Credits == nil || len(p.Credits.Presenters) != 1 || len(p.Credits.Directors) != 1 {
		t.Errorf("credits = %+v", p.Credits)
	}
	if p.Rating == nil || p.Rating.Value != "TV-PG" {
		t.Errorf("rating = %+v", p.Rating)
	}
	if p.Subtitles == nil {
		t.Error("CC tag did not produce subtitles element")
	}
	// No New/Live flag: counts as a rerun with its original air date.
	if p.PreviouslyShown == nil || !strings.HasPrefix(p.PreviouslyShown.Start, "20250531") {
		t.Errorf("previously-shown = %+v", p.PreviouslyShown)
	}

	wantNums := []EpisodeNum{
		{System: "dd_progid", Value: "EP00931182.0001"},
		{System: "onscreen", Value: "S12E03"},
		{System: "xmltv_ns", Value: "11.2."},
	}
	if diff := cmp.Diff(wantNums, p.EpisodeNums); diff != "" {
		t.Errorf("episode-num mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	tv := Build(testSnapshot(), testMapping(), Options{Generator: "gracenote2epg"})

	data, err := xml.MarshalIndent(tv, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back TV
	if err := xml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(tv.Programmes, back.Programmes); diff != "" {
		t.Errorf("programmes do not round-trip (-out +in):\n%s", diff)
	}
}

func TestWriteRotatesBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xmltv.xml")
	tv := Build(testSnapshot(), nil, Options{Generator: "gracenote2epg"})

	for i := 0; i < 3; i++ {
		stats, err := Write(path, tv, 2)
		if err != nil {
			t.Fatalf("Write() #%d error = %v", i, err)
		}
		if stats.Channels != 1 || stats.Programmes != 1 {
			t.Errorf("stats = %+v", stats)
		}
	}

	for _, name := range []string{"xmltv.xml", "xmltv.xml.1", "xmltv.xml.2"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s after rotation: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Error("backup beyond the retention limit exists")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "<!DOCTYPE tv SYSTEM") {
		t.Error("output missing DOCTYPE declaration")
	}
}
