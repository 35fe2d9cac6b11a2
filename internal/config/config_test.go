// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLineupResolveID(t *testing.T) {
	tests := []struct {
		name    string
		lineup  Lineup
		want    string
		wantErr bool
	}{
		{
			name:   "auto from US zip",
			lineup: Lineup{PostalCode: "30310"},
			want:   "USA-OTA30310-DEFAULT",
		},
		{
			name:   "auto from Canadian postal with space",
			lineup: Lineup{PostalCode: "J3B 1M4"},
			want:   "CAN-OTAJ3B1M4-DEFAULT",
		},
		{
			name:   "explicit auto keyword",
			lineup: Lineup{ID: "auto", PostalCode: "90210", Country: "USA"},
			want:   "USA-OTA90210-DEFAULT",
		},
		{
			name:   "tvtv short form gains DEFAULT suffix",
			lineup: Lineup{ID: "CAN-OTAJ3B1M4"},
			want:   "CAN-OTAJ3B1M4-DEFAULT",
		},
		{
			name:   "complete OTA form unchanged",
			lineup: Lineup{ID: "USA-OTA30310-DEFAULT"},
			want:   "USA-OTA30310-DEFAULT",
		},
		{
			name:   "cable form unchanged",
			lineup: Lineup{ID: "CAN-0005993-X"},
			want:   "CAN-0005993-X",
		},
		{
			name:    "unresolvable country",
			lineup:  Lineup{PostalCode: "not-a-postal"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lineup.ResolveID()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineupResolveDevice(t *testing.T) {
	tests := []struct {
		name   string
		lineup Lineup
		want   string
	}{
		{name: "ota lineup", lineup: Lineup{PostalCode: "30310"}, want: "-"},
		{name: "cable lineup", lineup: Lineup{ID: "CAN-0005993-X"}, want: "X"},
		{name: "explicit device wins", lineup: Lineup{ID: "CAN-0005993-X", Device: "-"}, want: "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lineup.ResolveDevice(); got != tt.want {
				t.Errorf("ResolveDevice() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectCountry(t *testing.T) {
	tests := []struct {
		postal string
		want   string
	}{
		{"30310", "USA"},
		{"J3B1M4", "CAN"},
		{"j3b 1m4", "CAN"},
		{"1234", ""},
		{"ABCDEF", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DetectCountry(tt.postal); got != tt.want {
			t.Errorf("DetectCountry(%q) = %q, want %q", tt.postal, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Provider.Lineups = []Lineup{{PostalCode: "30310"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid baseline", mutate: func(*Config) {}, wantErr: false},
		{name: "no lineups", mutate: func(c *Config) { c.Provider.Lineups = nil }, wantErr: true},
		{name: "days too large", mutate: func(c *Config) { c.Provider.Days = 20 }, wantErr: true},
		{name: "days zero", mutate: func(c *Config) { c.Provider.Days = 0 }, wantErr: true},
		{name: "threshold above one", mutate: func(c *Config) { c.Match.Threshold = 1.5 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Pipeline.Workers = 0 }, wantErr: true},
		{name: "zero queue depth", mutate: func(c *Config) { c.Pipeline.QueueDepth = 0 }, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.Cache.RetentionDays = -1 }, wantErr: true},
		{name: "empty output path", mutate: func(c *Config) { c.Output.Path = "" }, wantErr: true},
		{name: "bad listen address", mutate: func(c *Config) { c.Server.Listen = "nonsense" }, wantErr: true},
		{
			name: "tvheadend bad scheme",
			mutate: func(c *Config) {
				c.Tvheadend.Enabled = true
				c.Tvheadend.URL = "ftp://tvh.local"
			},
			wantErr: true,
		},
		{
			name: "tvheadend valid url",
			mutate: func(c *Config) {
				c.Tvheadend.Enabled = true
				c.Tvheadend.URL = "http://tvh.local:9981"
			},
			wantErr: false,
		},
		{
			name: "telemetry bad exporter",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.ExporterType = "carrier-pigeon"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := Validate(&cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yml := `
provider:
  days: 3
  lineups:
    - postal_code: "30310"
cache:
  near_max_age: 2h
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GN2EPG_DAYS", "5")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// env beats file
	if cfg.Provider.Days != 5 {
		t.Errorf("Days = %d, want 5 (env override)", cfg.Provider.Days)
	}
	// file beats defaults
	if cfg.Cache.NearMaxAge != 2*time.Hour {
		t.Errorf("NearMaxAge = %v, want 2h (file override)", cfg.Cache.NearMaxAge)
	}
	// defaults survive
	if cfg.Cache.FarMaxAge != 24*time.Hour {
		t.Errorf("FarMaxAge = %v, want default 24h", cfg.Cache.FarMaxAge)
	}
	if cfg.Provider.Lineups[0].PostalCode != "30310" {
		t.Errorf("PostalCode = %q, want 30310", cfg.Provider.Lineups[0].PostalCode)
	}
}

func TestLoaderRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("no_such_section:\n  x: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load() accepted unknown top-level section")
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := NewLoader("/does/not/exist.yml").Load(); err == nil {
		t.Fatal("Load() should fail for a missing explicit config file")
	}
}
