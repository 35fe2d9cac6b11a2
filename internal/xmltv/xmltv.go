// SPDX-License-Identifier: MIT

// Package xmltv serializes the merged guide snapshot to the XMLTV
// document the downstream importer consumes. The document model mirrors
// the DTD's element order; field content round-trips losslessly from the
// entity graph.
package xmltv

import "encoding/xml"

// TV is the document root.
type TV struct {
	XMLName        xml.Name    `xml:"tv"`
	SourceInfoURL  string      `xml:"source-info-url,attr,omitempty"`
	SourceInfoName string      `xml:"source-info-name,attr,omitempty"`
	Generator      string      `xml:"generator-info-name,attr,omitempty"`
	Channels       []Channel   `xml:"channel"`
	Programmes     []Programme `xml:"programme"`
}

// Channel is one station record.
type Channel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
	Icon        *Icon    `xml:"icon"`
}

// Icon references channel or programme artwork.
type Icon struct {
	Src string `xml:"src,attr"`
}

// LangText is character data with an optional language attribute.
type LangText struct {
	Lang  string `xml:"lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Credits lists credited people in the DTD's role order.
type Credits struct {
	Directors  []string `xml:"director"`
	Actors     []Actor  `xml:"actor"`
	Writers    []string `xml:"writer"`
	Producers  []string `xml:"producer"`
	Presenters []string `xml:"presenter"`
	Guests     []string `xml:"guest"`
}

func (c *Credits) empty() bool {
	return len(c.Directors) == 0 && len(c.Actors) == 0 && len(c.Writers) == 0 &&
		len(c.Producers) == 0 && len(c.Presenters) == 0 && len(c.Guests) == 0
}

// Actor carries the optional character name.
type Actor struct {
	Role  string `xml:"role,attr,omitempty"`
	Value string `xml:",chardata"`
}

// EpisodeNum is one episode numbering under a named system.
type EpisodeNum struct {
	System string `xml:"system,attr"`
	Value  string `xml:",chardata"`
}

// PreviouslyShown marks a rerun, optionally with its original air time.
type PreviouslyShown struct {
	Start string `xml:"start,attr,omitempty"`
}

// Subtitles marks closed-captioning.
type Subtitles struct {
	Type string `xml:"type,attr,omitempty"`
}

// Rating wraps a certification value.
type Rating struct {
	System string `xml:"system,attr,omitempty"`
	Value  string `xml:"value"`
}

// StarRating wraps a review score.
type StarRating struct {
	Value string `xml:"value"`
}

// Programme is one broadcast instance. Field order follows the DTD.
type Programme struct {
	Start           string           `xml:"start,attr"`
	Stop            string           `xml:"stop,attr"`
	Channel         string           `xml:"channel,attr"`
	Title           LangText         `xml:"title"`
	SubTitle        *LangText        `xml:"sub-title"`
	Desc            *LangText        `xml:"desc"`
	Credits         *Credits         `xml:"credits"`
	Date            string           `xml:"date,omitempty"`
	Categories      []LangText       `xml:"category"`
	Icon            *Icon            `xml:"icon"`
	EpisodeNums     []EpisodeNum     `xml:"episode-num"`
	PreviouslyShown *PreviouslyShown `xml:"previously-shown"`
	Premiere        *struct{}        `xml:"premiere"`
	LastChance      *struct{}        `xml:"last-chance"`
	New             *struct{}        `xml:"new"`
	Subtitles       *Subtitles       `xml:"subtitles"`
	Rating          *Rating          `xml:"rating"`
	StarRating      *StarRating      `xml:"star-rating"`
}
