package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseYAML(t *testing.T) {
	t.Parallel()
	raw := `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /var/lib/flowvault/flowvault.db
  busy_timeout: 5s
vault:
  admin: admin-account
keeper:
  enabled: true
  schedule: 1m
  rate_per_sec: 5
  identity: keeper-1
`
	cfg, err := Parse("config.yaml", []byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if got := cfg.StorageBusyTimeout(); got != 5*time.Second {
		t.Fatalf("busy timeout = %v, want 5s", got)
	}
	if cfg.Vault.Admin != "admin-account" {
		t.Fatalf("admin = %q", cfg.Vault.Admin)
	}
	if !cfg.KeeperEnabled() || cfg.Keeper.Schedule != "1m" || cfg.Keeper.RatePerSec != 5 {
		t.Fatalf("keeper = %+v", cfg.Keeper)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	raw := `{"vault": {"admin": "a"}, "storage": {"driver": "memory"}, "logging": {"console": true}}`
	cfg, err := Parse("config.json", []byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Vault.Admin != "a" {
		t.Fatalf("admin = %q", cfg.Vault.Admin)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Parse("config.yaml", []byte("vault:\n  admin: a\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("default level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("default driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Keeper.Schedule != "30s" {
		t.Fatalf("default schedule = %q, want 30s", cfg.Keeper.Schedule)
	}
	// Keeper omitted entirely: enabled by default.
	if !cfg.KeeperEnabled() {
		t.Fatal("keeper should default to enabled")
	}
}

func TestKeeperExplicitlyDisabled(t *testing.T) {
	t.Parallel()
	cfg, err := Parse("config.yaml", []byte("vault:\n  admin: a\nkeeper:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.KeeperEnabled() {
		t.Fatal("keeper should be disabled")
	}
}

func TestParseRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		raw  string
		want string
	}{
		{
			name: "unknown field",
			path: "config.yaml",
			raw:  "vault:\n  admin: a\nsurprise: 1\n",
			want: "unknown field",
		},
		{
			name: "missing admin",
			path: "config.yaml",
			raw:  "logging:\n  console: true\n",
			want: "vault.admin is required",
		},
		{
			name: "bad busy timeout",
			path: "config.yaml",
			raw:  "vault:\n  admin: a\nstorage:\n  busy_timeout: soon\n",
			want: "storage.busy_timeout",
		},
		{
			name: "trailing json",
			path: "config.json",
			raw:  `{"vault":{"admin":"a"}}{"extra":1}`,
			want: "trailing data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.path, []byte(tt.raw))
			if err == nil {
				t.Fatal("Parse should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"250ms", 250 * time.Millisecond, false},
		{"2h45m", 2*time.Hour + 45*time.Minute, false},
		{"-1s", 0, true},
		{"fast", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDurationField(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("vault:\n  admin: a\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}
	if cfg.Vault.Admin != "a" {
		t.Fatalf("admin = %q", cfg.Vault.Admin)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("ParseFile on missing file should fail")
	}
}
