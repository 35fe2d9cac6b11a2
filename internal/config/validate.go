// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// Validate checks the configuration for structural errors. It reports the
// first problem found with a field path so operators can fix the file or
// environment directly.
func Validate(cfg *Config) error {
	if len(cfg.Provider.Lineups) == 0 {
		return fmt.Errorf("provider.lineups: at least one lineup is required (set a postal code)")
	}
	for i, l := range cfg.Provider.Lineups {
		if _, err := l.ResolveID(); err != nil {
			return fmt.Errorf("provider.lineups[%d]: %w", i, err)
		}
		if l.PostalCode == "" && l.ID == "" {
			return fmt.Errorf("provider.lineups[%d]: postal_code or id is required", i)
		}
	}
	if cfg.Provider.Days < 1 || cfg.Provider.Days > 14 {
		return fmt.Errorf("provider.days: must be between 1 and 14, got %d", cfg.Provider.Days)
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url: required")
	}
	if _, err := url.Parse(cfg.Provider.BaseURL); err != nil {
		return fmt.Errorf("provider.base_url: %w", err)
	}
	if cfg.Provider.PacingInterval <= 0 {
		return fmt.Errorf("provider.pacing_interval: must be positive")
	}
	if cfg.Provider.Retry.Attempts < 1 {
		return fmt.Errorf("provider.retry.attempts: must be at least 1")
	}

	if cfg.Cache.Dir == "" {
		return fmt.Errorf("cache.dir: required")
	}
	if cfg.Cache.NearMaxAge <= 0 || cfg.Cache.FarMaxAge <= 0 {
		return fmt.Errorf("cache: near_max_age and far_max_age must be positive")
	}
	if cfg.Cache.RetentionDays < 0 {
		return fmt.Errorf("cache.retention_days: must not be negative")
	}

	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers: must be at least 1")
	}
	if cfg.Pipeline.QueueDepth < 1 {
		return fmt.Errorf("pipeline.queue_depth: must be at least 1")
	}

	if cfg.Match.Threshold <= 0 || cfg.Match.Threshold > 1 {
		return fmt.Errorf("match.threshold: must be in (0, 1], got %g", cfg.Match.Threshold)
	}

	if cfg.Tvheadend.Enabled {
		if err := validateHostURL(cfg.Tvheadend.URL); err != nil {
			return fmt.Errorf("tvheadend.url: %w", err)
		}
	}

	if cfg.Output.Path == "" {
		return fmt.Errorf("output.path: required")
	}
	if cfg.Output.Backups < 0 {
		return fmt.Errorf("output.backups: must not be negative")
	}

	if cfg.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
			return fmt.Errorf("server.listen: %w", err)
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http", "none":
		default:
			return fmt.Errorf("telemetry.exporter_type: must be grpc, http or none, got %q", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate: must be in [0, 1]")
		}
	}

	return nil
}

// validateHostURL parses a URL and normalizes its host through IDNA so
// internationalized hostnames fail early rather than at dial time.
func validateHostURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return nil
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	return nil
}
