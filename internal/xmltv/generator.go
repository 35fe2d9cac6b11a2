// SPDX-License-Identifier: MIT

package xmltv

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/th0ma7/gracenote2epg/internal/guide"
	"github.com/th0ma7/gracenote2epg/internal/log"
	"github.com/th0ma7/gracenote2epg/internal/match"
	"github.com/th0ma7/gracenote2epg/internal/merge"
)

// idSuffix namespaces channel ids so the importer can tell this grabber's
// channels from other sources.
const idSuffix = ".gracenote2epg"

const timeLayout = "20060102150405 -0700"

// Options tunes document generation.
type Options struct {
	Generator string // generator-info-name attribute
	Language  string // language attribute on text elements, default "en"
}

// Stats counts what a generated document contains.
type Stats struct {
	Channels   int `json:"channels"`
	Programmes int `json:"programmes"`
}

// Build renders the merged snapshot and channel mapping into an XMLTV
// document. Unmapped channels are included; the importer decides whether
// to take them.
func Build(snap *merge.Snapshot, mapping *match.Mapping, opts Options) *TV {
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}

	tv := &TV{
		SourceInfoURL:  "http://tvlistings.gracenote.com/",
		SourceInfoName: "gracenote.com",
		Generator:      opts.Generator,
	}

	for _, c := range snap.ChannelList() {
		ch := Channel{ID: c.ID + idSuffix}
		if mapping != nil {
			if e, ok := mapping.Entry(c.ID); ok && e.ExternalName != "" {
				ch.DisplayName = append(ch.DisplayName, e.ExternalName)
			}
		}
		if c.Number != "" && c.CallSign != "" {
			ch.DisplayName = append(ch.DisplayName, c.Number+" "+c.CallSign)
		}
		if c.Number != "" {
			ch.DisplayName = append(ch.DisplayName, c.Number)
		}
		if len(ch.DisplayName) == 0 {
			ch.DisplayName = append(ch.DisplayName, c.Name)
		}
		if c.IconURL != "" {
			ch.Icon = &Icon{Src: c.IconURL}
		}
		tv.Channels = append(tv.Channels, ch)
	}

	for _, b := range snap.BroadcastList() {
		series, okS := snap.Series[b.SeriesID]
		episode, okE := snap.Episodes[b.EpisodeID]
		if !okS || !okE {
			continue
		}
		tv.Programmes = append(tv.Programmes, buildProgramme(b, series, episode, lang))
	}
	return tv
}

func buildProgramme(b guide.Broadcast, s guide.Series, ep guide.Episode, lang string) Programme {
	p := Programme{
		Start:   b.Start.UTC().Format(timeLayout),
		Stop:    b.End.UTC().Format(timeLayout),
		Channel: b.ChannelID + idSuffix,
		Title:   LangText{Lang: lang, Value: s.Title},
	}

	if ep.Title != "" {
		p.SubTitle = &LangText{Lang: lang, Value: ep.Title}
	}
	desc := ep.Description
	if desc == "" {
		desc = s.Description
	}
	if desc != "" {
		p.Desc = &LangText{Lang: lang, Value: desc}
	}

	if credits := buildCredits(s.Credits); !credits.empty() {
		p.Credits = credits
	}
	if ep.Year > 0 {
		p.Date = fmt.Sprintf("%d", ep.Year)
	}
	for _, g := range s.Genres {
		p.Categories = append(p.Categories, LangText{Lang: lang, Value: g})
	}
	if b.IconURL != "" {
		p.Icon = &Icon{Src: b.IconURL}
	} else if s.ImageURL != "" {
		p.Icon = &Icon{Src: s.ImageURL}
	}

	p.EpisodeNums = episodeNums(ep)

	flags := flagSet(b.Flags)
	if !flags["New"] && !flags["Live"] && !flags["Premiere"] {
		ps := &PreviouslyShown{}
		if !ep.OriginalAirDate.IsZero() {
			ps.Start = ep.OriginalAirDate.UTC().Format(timeLayout)
		}
		p.PreviouslyShown = ps
	}
	if flags["Premiere"] {
		p.Premiere = &struct{}{}
	}
	if flags["Finale"] {
		p.LastChance = &struct{}{}
	}
	if flags["New"] {
		p.New = &struct{}{}
	}
	for _, tag := range b.Tags {
		if tag == "CC" {
			p.Subtitles = &Subtitles{Type: "teletext"}
			break
		}
	}
	if b.Rating != "" {
		p.Rating = &Rating{Value: b.Rating}
	}
	return p
}

func buildCredits(in []guide.Credit) *Credits {
	c := &Credits{}
	for _, cr := range in {
		role := strings.ToLower(cr.Role)
		switch {
		case strings.Contains(role, "director"):
			c.Directors = append(c.Directors, cr.Name)
		case strings.Contains(role, "writer"):
			c.Writers = append(c.Writers, cr.Name)
		case strings.Contains(role, "producer"):
			c.Producers = append(c.Producers, cr.Name)
		case strings.Contains(role, "host"), strings.Contains(role, "presenter"), strings.Contains(role, "anchor"):
			c.Presenters = append(c.Presenters, cr.Name)
		case strings.Contains(role, "guest"):
			c.Guests = append(c.Guests, cr.Name)
		default:
			c.Actors = append(c.Actors, Actor{Role: cr.Character, Value: cr.Name})
		}
	}
	return c
}

// episodeNums renders every numbering system the data supports: the
// provider programme id as dd_progid, and season/episode as onscreen plus
// zero-based xmltv_ns.
func episodeNums(ep guide.Episode) []EpisodeNum {
	var nums []EpisodeNum
	if id := ep.ID; len(id) > 4 && !strings.HasPrefix(id, "GNEP") {
		nums = append(nums, EpisodeNum{
			System: "dd_progid",
			Value:  id[:len(id)-4] + "." + id[len(id)-4:],
		})
	}
	if ep.Season > 0 && ep.Episode > 0 {
		nums = append(nums,
			EpisodeNum{System: "onscreen", Value: fmt.Sprintf("S%02dE%02d", ep.Season, ep.Episode)},
			EpisodeNum{System: "xmltv_ns", Value: fmt.Sprintf("%d.%d.", ep.Season-1, ep.Episode-1)},
		)
	}
	return nums
}

func flagSet(flags []string) map[string]bool {
	out := make(map[string]bool, len(flags))
	for _, f := range flags {
		out[f] = true
	}
	return out
}

// Write marshals the document and replaces path atomically, keeping up to
// backups rotated copies of the previous output.
func Write(path string, tv *TV, backups int) (Stats, error) {
	logger := log.WithComponent("xmltv")

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<!DOCTYPE tv SYSTEM \"xmltv.dtd\">\n")
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(tv); err != nil {
		return Stats{}, fmt.Errorf("xmltv: encode: %w", err)
	}
	buf.WriteByte('\n')

	rotateBackups(path, backups)

	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return Stats{}, fmt.Errorf("xmltv: write %s: %w", path, err)
	}

	stats := Stats{Channels: len(tv.Channels), Programmes: len(tv.Programmes)}
	logger.Info().
		Str("event", "xmltv.written").
		Str(log.FieldPath, path).
		Int("channels", stats.Channels).
		Int("programmes", stats.Programmes).
		Int("bytes", buf.Len()).
		Msg("guide document written")
	return stats, nil
}

// rotateBackups shifts path.1 .. path.n and moves the current output to
// path.1. Best effort: a failed rotation never blocks the new document.
func rotateBackups(path string, n int) {
	if n <= 0 {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	for i := n - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", path, i), fmt.Sprintf("%s.%d", path, i+1))
	}
	_ = os.Rename(path, path+".1")
}
