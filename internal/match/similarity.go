// SPDX-License-Identifier: MIT

package match

import (
	"regexp"
	"strings"

	unorm "golang.org/x/text/unicode/norm"
)

var space = regexp.MustCompile(`\s+`)

// normalizer folds channel names into comparable keys: NFC, lowercase,
// configured quality/format suffixes stripped repeatedly, whitespace
// collapsed.
type normalizer struct {
	suffix *regexp.Regexp
}

func newNormalizer(suffixes []string) *normalizer {
	quoted := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			quoted = append(quoted, regexp.QuoteMeta(s))
		}
	}
	n := &normalizer{}
	if len(quoted) > 0 {
		n.suffix = regexp.MustCompile(`\s+(` + strings.Join(quoted, "|") + `)$`)
	}
	return n
}

func (n *normalizer) key(s string) string {
	s = unorm.NFC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	// Lowercasing can create new combining sequences.
	s = unorm.NFC.String(s)

	if n.suffix != nil {
		// Strip repeatedly: "News Channel HD SD" loses one tag per round.
		for {
			before := s
			s = n.suffix.ReplaceAllString(s, "")
			if s == before {
				break
			}
		}
	}

	s = space.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// similarity scores two normalized keys in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return jaroWinkler(a, b)
}

// jaroWinkler boosts the Jaro score for keys sharing a prefix, which is
// how abbreviated station names relate to their full form ("disc" against
// "discovery").
func jaroWinkler(a, b string) float64 {
	j := jaro(a, b)
	if j == 0 {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prefix := 0
	for prefix < len(ra) && prefix < len(rb) && prefix < 4 && ra[prefix] == rb[prefix] {
		prefix++
	}
	return j + float64(prefix)*0.1*(1-j)
}

func jaro(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}

	window := la
	if lb > window {
		window = lb
	}
	window = window/2 - 1
	if window < 0 {
		window = 0
	}

	matchA := make([]bool, la)
	matchB := make([]bool, lb)
	matches := 0
	for i := 0; i < la; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > lb {
			hi = lb
		}
		for j := lo; j < hi; j++ {
			if matchB[j] || ra[i] != rb[j] {
				continue
			}
			matchA[i] = true
			matchB[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !matchA[i] {
			continue
		}
		for !matchB[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-float64(transpositions)/2)/m) / 3
}
