// SPDX-License-Identifier: MIT

// Package config loads and validates the gracenote2epg configuration.
// Precedence: environment > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Lineup identifies one provider channel lineup to fetch.
type Lineup struct {
	// ID is the provider lineup identifier (e.g. "USA-OTA30310-DEFAULT").
	// When empty it is derived from PostalCode and Country.
	ID         string `yaml:"id"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
	Device     string `yaml:"device"`
}

// RetryConfig bounds per-day fetch retries.
type RetryConfig struct {
	Attempts    int           `yaml:"attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
	WAFCooldown time.Duration `yaml:"waf_cooldown"`
}

// ProviderConfig configures the remote listings provider.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Lineups        []Lineup      `yaml:"lineups"`
	Days           int           `yaml:"days"`
	PacingInterval time.Duration `yaml:"pacing_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	SeriesDetails  bool          `yaml:"series_details"`
	Retry          RetryConfig   `yaml:"retry"`
}

// CacheConfig configures the day-unit cache store.
type CacheConfig struct {
	Dir           string        `yaml:"dir"`
	NearMaxAge    time.Duration `yaml:"near_max_age"`
	FarMaxAge     time.Duration `yaml:"far_max_age"`
	RetentionDays int           `yaml:"retention_days"`
}

// PipelineConfig bounds run concurrency: how many lineups run in
// parallel and how many fetched days may queue ahead of normalization.
type PipelineConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// MatchConfig configures channel matching against the downstream system.
type MatchConfig struct {
	NumericOnly   bool     `yaml:"numeric_only"`
	NameMatch     bool     `yaml:"name_match"`
	Threshold     float64  `yaml:"threshold"`
	StripSuffixes []string `yaml:"strip_suffixes"`
}

// TvheadendConfig configures the downstream PVR connection.
type TvheadendConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OutputConfig configures XMLTV emission.
type OutputConfig struct {
	Path    string `yaml:"path"`
	Backups int    `yaml:"backups"`
}

// ServerConfig configures the daemon HTTP surface.
type ServerConfig struct {
	Listen     string        `yaml:"listen"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// RedisConfig configures the optional Redis object cache. An empty Addr
// selects the in-memory backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig configures optional OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// DaemonConfig configures periodic daemon-mode runs.
type DaemonConfig struct {
	Interval time.Duration `yaml:"interval"`
	Jitter   time.Duration `yaml:"jitter"`
}

// RunlogConfig configures run-history persistence.
type RunlogConfig struct {
	Path string `yaml:"path"`
}

// Config is the complete process configuration.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Match     MatchConfig     `yaml:"match"`
	Tvheadend TvheadendConfig `yaml:"tvheadend"`
	Output    OutputConfig    `yaml:"output"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Runlog    RunlogConfig    `yaml:"runlog"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:        "http://tvlistings.gracenote.com/api/grid",
			Days:           7,
			PacingInterval: time.Second,
			Timeout:        30 * time.Second,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			SeriesDetails:  true,
			Retry: RetryConfig{
				Attempts:    3,
				BackoffBase: 500 * time.Millisecond,
				BackoffCap:  10 * time.Second,
				WAFCooldown: 30 * time.Second,
			},
		},
		Cache: CacheConfig{
			Dir:           "/var/lib/gracenote2epg/cache",
			NearMaxAge:    time.Hour,
			FarMaxAge:     24 * time.Hour,
			RetentionDays: 1,
		},
		Pipeline: PipelineConfig{
			Workers:    2,
			QueueDepth: 2,
		},
		Match: MatchConfig{
			NumericOnly:   true,
			NameMatch:     true,
			Threshold:     0.8,
			StripSuffixes: []string{"hd", "uhd", "fhd", "4k", "sd", "tv", "dt"},
		},
		Tvheadend: TvheadendConfig{
			URL:     "http://localhost:9981",
			Timeout: 15 * time.Second,
		},
		Output: OutputConfig{
			Path:    "/var/lib/gracenote2epg/xmltv.xml",
			Backups: 2,
		},
		Server: ServerConfig{
			Listen:     ":8089",
			RateLimit:  60,
			RateWindow: time.Minute,
		},
		Redis: RedisConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "none",
			SamplingRate: 1.0,
		},
		Log: LogConfig{
			Level: "info",
		},
		Daemon: DaemonConfig{
			Interval: 6 * time.Hour,
			Jitter:   10 * time.Minute,
		},
		Runlog: RunlogConfig{
			Path: "/var/lib/gracenote2epg/runs.db",
		},
	}
}

// Loader loads configuration from an optional YAML file plus environment.
type Loader struct {
	path string
}

// NewLoader returns a Loader for the given config file path. An empty path
// means defaults plus environment only.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds the effective configuration: defaults, overlaid by the YAML
// file (if any), overlaid by environment variables, then validated.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", l.path, err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config file %s: %w", l.path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays GN2EPG_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Provider.BaseURL = ParseString("GN2EPG_BASE_URL", cfg.Provider.BaseURL)
	cfg.Provider.Days = ParseInt("GN2EPG_DAYS", cfg.Provider.Days)
	cfg.Provider.PacingInterval = ParseDuration("GN2EPG_PACING_INTERVAL", cfg.Provider.PacingInterval)
	cfg.Provider.SeriesDetails = ParseBool("GN2EPG_SERIES_DETAILS", cfg.Provider.SeriesDetails)

	if postal := ParseString("GN2EPG_POSTAL_CODE", ""); postal != "" {
		if len(cfg.Provider.Lineups) == 0 {
			cfg.Provider.Lineups = []Lineup{{}}
		}
		cfg.Provider.Lineups[0].PostalCode = postal
	}
	if lineup := ParseString("GN2EPG_LINEUP_ID", ""); lineup != "" {
		if len(cfg.Provider.Lineups) == 0 {
			cfg.Provider.Lineups = []Lineup{{}}
		}
		cfg.Provider.Lineups[0].ID = lineup
	}

	cfg.Cache.Dir = ParseString("GN2EPG_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.NearMaxAge = ParseDuration("GN2EPG_CACHE_NEAR_MAX_AGE", cfg.Cache.NearMaxAge)
	cfg.Cache.FarMaxAge = ParseDuration("GN2EPG_CACHE_FAR_MAX_AGE", cfg.Cache.FarMaxAge)
	cfg.Cache.RetentionDays = ParseInt("GN2EPG_CACHE_RETENTION_DAYS", cfg.Cache.RetentionDays)

	cfg.Pipeline.Workers = ParseInt("GN2EPG_WORKERS", cfg.Pipeline.Workers)
	cfg.Pipeline.QueueDepth = ParseInt("GN2EPG_QUEUE_DEPTH", cfg.Pipeline.QueueDepth)

	cfg.Match.Threshold = ParseFloat("GN2EPG_MATCH_THRESHOLD", cfg.Match.Threshold)
	cfg.Match.NumericOnly = ParseBool("GN2EPG_MATCH_NUMERIC", cfg.Match.NumericOnly)
	cfg.Match.NameMatch = ParseBool("GN2EPG_MATCH_NAMES", cfg.Match.NameMatch)

	cfg.Tvheadend.Enabled = ParseBool("GN2EPG_TVH_ENABLED", cfg.Tvheadend.Enabled)
	cfg.Tvheadend.URL = ParseString("GN2EPG_TVH_URL", cfg.Tvheadend.URL)
	cfg.Tvheadend.Username = ParseString("GN2EPG_TVH_USERNAME", cfg.Tvheadend.Username)
	cfg.Tvheadend.Password = ParseString("GN2EPG_TVH_PASSWORD", cfg.Tvheadend.Password)

	cfg.Output.Path = ParseString("GN2EPG_OUTPUT_PATH", cfg.Output.Path)
	cfg.Server.Listen = ParseString("GN2EPG_LISTEN", cfg.Server.Listen)
	cfg.Redis.Addr = ParseString("GN2EPG_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("GN2EPG_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Log.Level = ParseString("GN2EPG_LOG_LEVEL", cfg.Log.Level)
	cfg.Runlog.Path = ParseString("GN2EPG_RUNLOG_PATH", cfg.Runlog.Path)
	cfg.Daemon.Interval = ParseDuration("GN2EPG_DAEMON_INTERVAL", cfg.Daemon.Interval)
}
