package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models bidline.yml.
type Config struct {
	Bidding struct {
		// LockTimeout bounds the wait for an auction slot before a bid is
		// refused as a conflict.
		LockTimeout      Duration `yaml:"lock_timeout" json:"lock_timeout"`
		DefaultIncrement string   `yaml:"default_increment" json:"default_increment"`
	} `yaml:"bidding" json:"bidding"`
	Extension struct {
		Enabled       bool     `yaml:"enabled" json:"enabled"`
		Window        Duration `yaml:"window" json:"window"`
		Length        Duration `yaml:"length" json:"length"`
		MaxExtensions int      `yaml:"max_extensions" json:"max_extensions"`
	} `yaml:"extension" json:"extension"`
	Scheduler struct {
		SweepInterval Duration `yaml:"sweep_interval" json:"sweep_interval"`
		BatchSize     int      `yaml:"batch_size" json:"batch_size"`
	} `yaml:"scheduler" json:"scheduler"`
	Journal struct {
		Retries      int      `yaml:"retries" json:"retries"`
		Backoff      Duration `yaml:"backoff" json:"backoff"`
		WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`
		FlushTimeout Duration `yaml:"flush_timeout" json:"flush_timeout"`
	} `yaml:"journal" json:"journal"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Duration accepts Go duration strings ("2s", "5m") in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Increment returns the default minimum increment for new auctions.
func (c *Config) Increment() decimal.Decimal {
	inc, err := decimal.NewFromString(c.Bidding.DefaultIncrement)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return inc
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Bidding.LockTimeout <= 0 {
		return fmt.Errorf("config.bidding.lock_timeout must be positive")
	}
	if c.Bidding.DefaultIncrement != "" {
		inc, err := decimal.NewFromString(c.Bidding.DefaultIncrement)
		if err != nil {
			return fmt.Errorf("config.bidding.default_increment: %w", err)
		}
		if !inc.IsPositive() {
			return fmt.Errorf("config.bidding.default_increment must be positive")
		}
	}
	if c.Extension.Enabled {
		if c.Extension.Window <= 0 || c.Extension.Length <= 0 {
			return fmt.Errorf("config.extension window and length must be positive when enabled")
		}
	}
	if c.Extension.MaxExtensions < 0 {
		return fmt.Errorf("config.extension.max_extensions must not be negative")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("config.scheduler.sweep_interval must be positive")
	}
	if c.Journal.Retries < 0 {
		return fmt.Errorf("config.journal.retries must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bidline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `bidding:
  lock_timeout: 2s
  default_increment: "1"

extension:
  enabled: true
  window: 5m
  length: 5m
  max_extensions: 10

scheduler:
  sweep_interval: 1s
  batch_size: 100

journal:
  retries: 3
  backoff: 50ms
  write_timeout: 5s
  flush_timeout: 10s

# webhooks:
#   - url: https://example.invalid/hooks/bidline
#     events: [auction.ended, bid.outbid]
#     timeout_seconds: 5
`
