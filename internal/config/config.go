// Package config handles snapdiff configuration from YAML files and the
// process environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the server tested when neither the config file nor the
// environment names one.
const DefaultBaseURL = "http://localhost:3000"

// Trace modes.
const (
	TraceOff          = "off"
	TraceOn           = "on"
	TraceOnFirstRetry = "on-first-retry"
)

// Config is the top-level snapdiff configuration.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Suites      []string      `yaml:"suites"`
	SnapshotDir string        `yaml:"snapshot_dir"`
	OutputDir   string        `yaml:"output_dir"`
	ReportDir   string        `yaml:"report_dir"`
	HistoryDB   string        `yaml:"history_db"`
	MetricsFile string        `yaml:"metrics_file"`
	Timeout     time.Duration `yaml:"timeout"`
	Workers     int           `yaml:"workers"`
	Retries     int           `yaml:"retries"`
	ForbidOnly  bool          `yaml:"forbid_only"`
	Trace       string        `yaml:"trace"`
	Expect      ExpectConfig  `yaml:"expect"`
	Browser     BrowserConfig `yaml:"browser"`
	Projects    []Project     `yaml:"projects"`
	Sinks       []SinkConfig  `yaml:"sinks"`

	// Seed captures comparison masters as baselines. Set from the
	// environment, never from the file.
	Seed bool `yaml:"-"`
	// UpdateSnapshots overwrites baselines with the captured screenshots.
	UpdateSnapshots bool `yaml:"-"`
	// CI is true when the environment selected a CI target.
	CI bool `yaml:"-"`
}

// ExpectConfig controls assertions.
type ExpectConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxDiffPixelRatio float64       `yaml:"max_diff_pixel_ratio"`
	Threshold         float64       `yaml:"threshold"`
	SeedSettle        time.Duration `yaml:"seed_settle"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote    string `yaml:"remote"`
	Bin       string `yaml:"bin"`
	Stealth   bool   `yaml:"stealth"`
	Headful   bool   `yaml:"headful"`
	NoSandbox bool   `yaml:"no_sandbox"`
	// XvfbDisplay starts a virtual display for headful runs, e.g. ":99".
	XvfbDisplay string `yaml:"xvfb_display"`
	// Block lists resource types never loaded: images, fonts, media, stylesheets.
	Block []string `yaml:"block"`
}

// SinkConfig defines an extra result output.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Trace {
	case TraceOff, TraceOn, TraceOnFirstRetry:
	default:
		return fmt.Errorf("config: unknown trace mode %q", c.Trace)
	}
	if c.Expect.MaxDiffPixelRatio < 0 || c.Expect.MaxDiffPixelRatio > 1 {
		return fmt.Errorf("config: max_diff_pixel_ratio %v out of [0,1]", c.Expect.MaxDiffPixelRatio)
	}
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate project %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink needs a url")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if len(c.Suites) == 0 {
		c.Suites = []string{"tests/*.yaml"}
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "__snapshots__"
	}
	if c.OutputDir == "" {
		c.OutputDir = "test-results"
	}
	if c.ReportDir == "" {
		c.ReportDir = "snapdiff-report"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Trace == "" {
		c.Trace = TraceOnFirstRetry
	}
	if c.Expect.Timeout <= 0 {
		c.Expect.Timeout = 10 * time.Second
	}
	if c.Expect.MaxDiffPixelRatio == 0 {
		c.Expect.MaxDiffPixelRatio = 0.07
	}
	if c.Expect.Threshold <= 0 {
		c.Expect.Threshold = 0.2
	}
	if c.Expect.SeedSettle <= 0 {
		c.Expect.SeedSettle = 4 * time.Second
	}
	if len(c.Projects) == 0 {
		c.Projects = DefaultProjects()
	}
}
