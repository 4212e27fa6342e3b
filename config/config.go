// Package config handles futawatch configuration from YAML files and
// flags. Validation happens once at startup; an invalid configuration
// is fatal, never a per-cycle concern.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the top-level futawatch configuration.
type Config struct {
	// URL is a full thread URL; when set it overrides the triple below.
	URL    string `yaml:"url"`
	Domain string `yaml:"domain"`
	Board  string `yaml:"board"`
	Thread string `yaml:"thread"`

	IntervalSeconds int     `yaml:"interval_seconds"`
	Threshold       float64 `yaml:"threshold"`
	ClassifyAll     bool    `yaml:"classify_all"`
	NoClassify      bool    `yaml:"no_classify"`
	ClassifierURL   string  `yaml:"classifier_url"`
	TempDir         string  `yaml:"temp_dir"`
	Verbose         bool    `yaml:"verbose"`
	StatusAddr      string  `yaml:"status_addr"`

	Sinks []SinkConfig `yaml:"sinks"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | archive
	URL  string `yaml:"url"`  // for webhook
	Path string `yaml:"path"` // for archive
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the defaults of the original
// tool: board /b/ on may.2chan.net, 10 second polls, 0.5 threshold.
func (c *Config) ApplyDefaults() {
	if c.Domain == "" {
		c.Domain = "may.2chan.net"
	}
	if c.Board == "" {
		c.Board = "b"
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 10
	}
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
}

// Interval returns the polling cadence.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ThreadURL returns the canonical browser URL of the configured thread.
func (c *Config) ThreadURL() string {
	return fmt.Sprintf("https://%s/%s/res/%s.htm", c.Domain, c.Board, c.Thread)
}

// Resolve derives the (domain, board, thread) triple from URL when one
// was given. Accepted forms:
//
//	https://may.2chan.net/b/res/123456.htm
//	https://may.2chan.net/b/futaba.php?mode=json&res=123456
func (c *Config) Resolve() error {
	if c.URL == "" {
		return nil
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalid, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalid)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[1] == "res" && strings.HasSuffix(parts[2], ".htm"):
		c.Domain = u.Host
		c.Board = parts[0]
		c.Thread = strings.TrimSuffix(parts[2], ".htm")
	case len(parts) == 2 && parts[1] == "futaba.php" && u.Query().Get("res") != "":
		c.Domain = u.Host
		c.Board = parts[0]
		c.Thread = u.Query().Get("res")
	default:
		return fmt.Errorf("%w: unrecognized thread url %q", ErrInvalid, c.URL)
	}
	return nil
}

// Validate checks the configuration. Call after Resolve and
// ApplyDefaults.
func (c *Config) Validate() error {
	if c.Thread == "" {
		return fmt.Errorf("%w: thread is required", ErrInvalid)
	}
	for _, r := range c.Thread {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: thread must be numeric, got %q", ErrInvalid, c.Thread)
		}
	}
	if c.Domain == "" || c.Board == "" {
		return fmt.Errorf("%w: domain and board are required", ErrInvalid)
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalid)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0,1], got %v", ErrInvalid, c.Threshold)
	}
	if !c.NoClassify && c.ClassifierURL == "" {
		return fmt.Errorf("%w: classifier_url is required unless no_classify is set", ErrInvalid)
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("%w: webhook sink needs a url", ErrInvalid)
			}
		case "archive":
			if s.Path == "" {
				return fmt.Errorf("%w: archive sink needs a path", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown sink type %q", ErrInvalid, s.Type)
		}
	}
	return nil
}
