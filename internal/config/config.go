package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "statusboard.yml"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config models statusboard.yml.
type Config struct {
	Server struct {
		Addr        string        `yaml:"addr"`
		BasePath    string        `yaml:"base_path"`
		CORSOrigins []string      `yaml:"cors_origins"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`
	State struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"state"`
	Notifier struct {
		Interval  time.Duration   `yaml:"interval"`
		KeepAlive time.Duration   `yaml:"keepalive"`
		Webhooks  []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifier"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	// Roster is only read by `sb seed`; a running server takes its roster
	// from the state document.
	Roster []RosterEntry `yaml:"roster"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Enabled *bool         `yaml:"enabled"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

type RosterEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:3000"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.State.Backend == "" {
		c.State.Backend = BackendFile
	}
	if c.State.Path == "" {
		if c.State.Backend == BackendSQLite {
			c.State.Path = "state.db"
		} else {
			c.State.Path = "state.json"
		}
	}
	if c.Notifier.Interval == 0 {
		c.Notifier.Interval = time.Second
	}
	if c.Notifier.KeepAlive == 0 {
		c.Notifier.KeepAlive = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.State.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("config.state.backend must be %q or %q", BackendFile, BackendSQLite)
	}
	if c.State.Path == "" {
		return fmt.Errorf("config.state.path is required")
	}
	if c.Notifier.Interval < 0 {
		return fmt.Errorf("config.notifier.interval must be positive")
	}
	if c.Notifier.KeepAlive < 0 {
		return fmt.Errorf("config.notifier.keepalive must not be negative")
	}
	for i, hook := range c.Notifier.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifier.webhooks[%d].url is required", i)
		}
	}
	seen := make(map[string]struct{}, len(c.Roster))
	for i, r := range c.Roster {
		if r.ID == "" {
			return fmt.Errorf("config.roster[%d].id is required", i)
		}
		if r.Name == "" {
			return fmt.Errorf("roster entry %s has empty name", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("roster entry %s is duplicated", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found; write one with sb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.ApplyDefaults()
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses, defaults and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:3000
  base_path: /api
  cors_origins: ["*"]

state:
  backend: file
  path: state.json

notifier:
  interval: 1s
  keepalive: 15s
  webhooks: []

log:
  level: info
  format: text

roster:
  - id: pm
    name: Product Manager
  - id: architect
    name: Architect
  - id: developer
    name: Developer
  - id: tester
    name: Tester
`
