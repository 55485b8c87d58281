package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/netid/internal/logging"
)

// Backend names accepted in the backend key.
const (
	BackendMemory   = "memory"
	BackendWhatsApp = "whatsapp"
)

// Config represents the global ~/.netid/config.toml.
type Config struct {
	DefaultProfile     string `toml:"default_profile"`
	Backend            string `toml:"backend"`
	AppID              string `toml:"app_id"`
	MaxLocalUsers      int    `toml:"max_local_users"`
	QueryTimeoutMS     int    `toml:"query_timeout_ms"`
	ProfileCacheTTLSec int    `toml:"profile_cache_ttl_sec"`
	LogLevel           string `toml:"log_level"`

	Memory  MemoryConfig  `toml:"memory"`
	Tracing TracingConfig `toml:"tracing"`
}

// TracingConfig enables OTLP/HTTP span export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `toml:"otlp_endpoint"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// MemoryConfig seeds the in-process backend.
type MemoryConfig struct {
	LatencyMS   int                `toml:"latency_ms"`
	Accounts    []MemoryAccount    `toml:"accounts"`
	Friendships []MemoryFriendship `toml:"friendships"`
}

// MemoryAccount is one seeded account, reachable by Name on login.
type MemoryAccount struct {
	Name        string `toml:"name"`
	Primary     string `toml:"primary"`
	Secondary   string `toml:"secondary"`
	Secret      string `toml:"secret"`
	DisplayName string `toml:"display_name"`
	RealName    string `toml:"real_name"`
	Alias       string `toml:"alias"`
}

// MemoryFriendship links two seeded accounts by name.
type MemoryFriendship struct {
	A string `toml:"a"`
	B string `toml:"b"`
}

// Latency is the simulated completion delay of the memory backend.
func (m MemoryConfig) Latency() time.Duration {
	return time.Duration(m.LatencyMS) * time.Millisecond
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:            BackendMemory,
		AppID:              "netid",
		MaxLocalUsers:      4,
		QueryTimeoutMS:     30000,
		ProfileCacheTTLSec: 600,
		LogLevel:           "info",
	}
}

// QueryTimeout is the per-query fan-out deadline.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// ProfileCacheTTL is how long resolved profiles stay cached.
func (c *Config) ProfileCacheTTL() time.Duration {
	return time.Duration(c.ProfileCacheTTLSec) * time.Second
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendWhatsApp:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MaxLocalUsers < 1 {
		return fmt.Errorf("max_local_users must be at least 1, got %d", c.MaxLocalUsers)
	}
	if c.QueryTimeoutMS < 0 {
		return fmt.Errorf("query_timeout_ms must not be negative, got %d", c.QueryTimeoutMS)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %g", r)
	}
	return c.Memory.validate()
}

func (m MemoryConfig) validate() error {
	names := make(map[string]bool, len(m.Accounts))
	for i, a := range m.Accounts {
		if a.Name == "" {
			return fmt.Errorf("memory.accounts[%d]: name is required", i)
		}
		if a.Primary == "" && a.Secondary == "" {
			return fmt.Errorf("memory account %q: primary or secondary is required", a.Name)
		}
		if names[a.Name] {
			return fmt.Errorf("memory account %q declared twice", a.Name)
		}
		names[a.Name] = true
	}
	for _, f := range m.Friendships {
		if !names[f.A] || !names[f.B] {
			return fmt.Errorf("memory friendship %q-%q names an unknown account", f.A, f.B)
		}
	}
	return nil
}

// Load reads config from the given path. Keys missing from the file keep
// their defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
