package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Loaded from YAML, then overridden
// by environment variables for deployment secrets.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		RestURL         string   `yaml:"rest_url"`
		WSURL           string   `yaml:"ws_url"`
		APIKey          string   `yaml:"api_key"`
		Symbols         []string `yaml:"symbols"`
		RequestTimeoutS int      `yaml:"request_timeout_sec"`
	} `yaml:"feed"`

	Engine struct {
		AuctionPollSec int `yaml:"auction_poll_sec"`
		PendingPollSec int `yaml:"pending_poll_sec"`
	} `yaml:"engine"`

	Portfolio struct {
		// Initial cash in feed units (thousands of VND).
		InitialCash int64 `yaml:"initial_cash"`
	} `yaml:"portfolio"`

	Challenge struct {
		InitialCapital int64 `yaml:"initial_capital"`
	} `yaml:"challenge"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies env overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Feed.RestURL == "" || (!strings.HasPrefix(c.Feed.RestURL, "http://") && !strings.HasPrefix(c.Feed.RestURL, "https://")) {
		return fmt.Errorf("invalid feed REST URL: %s", c.Feed.RestURL)
	}
	if c.Feed.WSURL != "" && !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("at least one feed symbol is required")
	}
	if c.Engine.AuctionPollSec <= 0 {
		return fmt.Errorf("auction poll interval must be positive")
	}
	if c.Engine.PendingPollSec <= 0 {
		return fmt.Errorf("pending poll interval must be positive")
	}
	if c.Portfolio.InitialCash <= 0 {
		return fmt.Errorf("initial cash must be positive")
	}
	return nil
}

// overrideWithEnv lets environment variables take precedence over file
// values. Secrets belong in the environment, not the YAML.
func overrideWithEnv(cfg *Config) {
	if cfg.Feed.APIKey != "" {
		fmt.Println("WARNING: feed API key found in config file; prefer STOCKLAB_FEED_KEY")
	}
	if key := os.Getenv("STOCKLAB_FEED_KEY"); key != "" {
		cfg.Feed.APIKey = key
	}
	if url := os.Getenv("STOCKLAB_FEED_REST_URL"); url != "" {
		cfg.Feed.RestURL = url
	}
	if url := os.Getenv("STOCKLAB_FEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if addr := os.Getenv("STOCKLAB_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}
