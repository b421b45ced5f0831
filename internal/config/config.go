// Package config loads and validates the Tina TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Store  Store  `toml:"store"`
	Daemon Daemon `toml:"daemon"`
	Codex  Codex  `toml:"codex"`
}

// Store configures the remote document store connection.
type Store struct {
	DeploymentURL string `toml:"deployment_url"`
	NodeName      string `toml:"node_name"`
	AuthToken     string `toml:"auth_token"`
}

// Daemon configures the projection daemon and its HTTP surface.
type Daemon struct {
	HTTPPort       int      `toml:"http_port"`
	TickInterval   Duration `toml:"tick_interval"`
	DebounceWindow Duration `toml:"debounce_window"`
	TeamsDir       string   `toml:"teams_dir"`
	TasksDir       string   `toml:"tasks_dir"`
	PidFile        string   `toml:"pid_file"`
	JournalDB      string   `toml:"journal_db"`
	LogLevel       string   `toml:"log_level"`
}

// Codex configures the external code-generation runner.
type Codex struct {
	Timeout Duration `toml:"timeout"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file is fine as long as the store URL comes from
			// the environment.
			cfg.applyEnv()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Store: Store{
			NodeName: hostname(),
		},
		Daemon: Daemon{
			HTTPPort:       7433,
			TickInterval:   Duration{30 * time.Second},
			DebounceWindow: Duration{500 * time.Millisecond},
			TeamsDir:       filepath.Join(home, ".claude", "teams"),
			TasksDir:       filepath.Join(home, ".claude", "tasks"),
			PidFile:        filepath.Join(home, ".claude", "tina", "daemon.pid"),
			JournalDB:      filepath.Join(home, ".claude", "tina", "telemetry.db"),
			LogLevel:       "info",
		},
		Codex: Codex{
			Timeout: Duration{1800 * time.Second},
		},
	}
}

func (c *Config) applyEnv() {
	if url := strings.TrimSpace(os.Getenv("TINA_CONVEX_URL")); url != "" && c.Store.DeploymentURL == "" {
		c.Store.DeploymentURL = url
	}
	if token := strings.TrimSpace(os.Getenv("TINA_AUTH_TOKEN")); token != "" && c.Store.AuthToken == "" {
		c.Store.AuthToken = token
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Store.DeploymentURL) == "" {
		return fmt.Errorf("store.deployment_url is required (or set TINA_CONVEX_URL)")
	}
	if c.Daemon.HTTPPort <= 0 || c.Daemon.HTTPPort > 65535 {
		return fmt.Errorf("daemon.http_port out of range: %d", c.Daemon.HTTPPort)
	}
	if c.Daemon.TickInterval.Duration <= 0 {
		return fmt.Errorf("daemon.tick_interval must be positive")
	}
	if c.Daemon.DebounceWindow.Duration <= 0 {
		return fmt.Errorf("daemon.debounce_window must be positive")
	}
	return nil
}

// DefaultPath returns the canonical config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude", "tina", "tina.toml")
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-node"
	}
	return name
}
