// SPDX-License-Identifier: MIT

package guide

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
)

// Registry assigns stable synthetic identifiers when the provider omits
// them, so the same series or episode referenced on different days resolves
// to the same ID. Safe for concurrent use across lineup workers.
type Registry struct {
	mu     sync.Mutex
	series map[string]string
}

// NewRegistry returns an empty identifier registry.
func NewRegistry() *Registry {
	return &Registry{series: make(map[string]string)}
}

// SeriesID returns the provider series ID unchanged, or a synthetic stable
// ID derived from the title when the provider supplies none.
func (r *Registry) SeriesID(providerID, title string) string {
	if providerID != "" {
		return providerID
	}
	key := strings.ToLower(strings.TrimSpace(title))
	if key == "" {
		key = "untitled"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.series[key]; ok {
		return id
	}
	id := syntheticID("GN", key)
	r.series[key] = id
	return id
}

// EpisodeID returns the provider programme ID unchanged, or a synthetic
// stable ID derived from the series and start time when absent.
func (r *Registry) EpisodeID(providerID, seriesID string, startUnix int64) string {
	if providerID != "" {
		return providerID
	}
	return syntheticID("GNEP", seriesID+"/"+strconv.FormatInt(startUnix, 10))
}

// syntheticID derives a short stable identifier from arbitrary input.
// Content-addressed, so it is reproducible across runs, not just days.
func syntheticID(prefix, input string) string {
	sum := sha256.Sum256([]byte(input))
	return prefix + strings.ToUpper(hex.EncodeToString(sum[:6]))
}
