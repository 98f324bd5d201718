// Package config loads the daemon configuration. Files may be JSON or YAML;
// YAML is coerced to JSON so both formats go through the same strict decoder
// (unknown fields are rejected).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Vault   VaultConfig   `json:"vault"`
	Keeper  KeeperConfig  `json:"keeper,omitempty"`
	Debug   DebugConfig   `json:"debug,omitempty"`
}

// DebugConfig controls the optional pprof HTTP listener.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type VaultConfig struct {
	// Admin is the only identity allowed to rewire the authorized engine.
	Admin string `json:"admin"`
}

// KeeperConfig controls the due-rule scan loop.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from
// an explicit false.
type KeeperConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Schedule is a Go duration ("30s") or a cron expression.
	Schedule   string `json:"schedule,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Identity   string `json:"identity,omitempty"`
}

// KeeperEnabled resolves the tri-state flag.
func (c *Config) KeeperEnabled() bool {
	if c.Keeper.Enabled == nil {
		return true
	}
	return *c.Keeper.Enabled
}

// Validate applies defaults and rejects configs the daemon cannot start
// with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "memory"
	}
	if strings.TrimSpace(c.Vault.Admin) == "" {
		return fmt.Errorf("vault.admin is required")
	}
	if strings.TrimSpace(c.Keeper.Schedule) == "" {
		c.Keeper.Schedule = "30s"
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

// StorageBusyTimeout returns the parsed sqlite busy timeout (0 = default).
// Validate has already rejected malformed values.
func (c *Config) StorageBusyTimeout() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

// ParseFile reads and strictly decodes a config file.
func ParseFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse strictly decodes config bytes; path chooses the format by extension.
func Parse(path string, b []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseDurationField parses an optional Go duration string, rejecting
// negatives.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
