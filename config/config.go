package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so durations decode from strings such as "30s"
// in both TOML and YAML files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration.String()), nil }

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

type Config struct {
	ListenAddress   string          `toml:"ListenAddress" yaml:"listen"`
	NetworkName     string          `toml:"NetworkName" yaml:"network"`
	ShutdownTimeout Duration        `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
	// MaxConnections caps concurrent client connections. Zero leaves them
	// unbounded.
	MaxConnections  int             `toml:"MaxConnections" yaml:"max_connections"`
	Storage         StorageConfig   `toml:"Storage" yaml:"storage"`
	Market          MarketConfig    `toml:"Market" yaml:"market"`
	Auth            AuthConfig      `toml:"Auth" yaml:"auth"`
	RateLimit       RateLimitConfig `toml:"RateLimit" yaml:"rate_limit"`
	Indexer         IndexerConfig   `toml:"Indexer" yaml:"indexer"`
	Logging         LoggingConfig   `toml:"Logging" yaml:"logging"`
	Telemetry       TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
	Devnet          DevnetConfig    `toml:"Devnet" yaml:"devnet"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	// Backend is one of memory, leveldb or bolt.
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
}

// MarketConfig holds the marketplace package identity and anti-snipe tuning.
type MarketConfig struct {
	PackageIdentity           string `toml:"PackageIdentity" yaml:"package_identity"`
	AntiSnipeWindowMinutes    uint64 `toml:"AntiSnipeWindowMinutes" yaml:"anti_snipe_window_minutes"`
	AntiSnipeExtensionMinutes uint64 `toml:"AntiSnipeExtensionMinutes" yaml:"anti_snipe_extension_minutes"`
}

// AuthConfig configures bearer token verification for the RPC surface.
type AuthConfig struct {
	JWTSecret    string   `toml:"JWTSecret" yaml:"jwt_secret"`
	JWTSecretEnv string   `toml:"JWTSecretEnv" yaml:"jwt_secret_env"`
	Issuer       string   `toml:"Issuer" yaml:"issuer"`
	TokenTTL     Duration `toml:"TokenTTL" yaml:"token_ttl"`
	// AllowDevCaller accepts an X-Mystra-Caller header instead of a token.
	// Only honoured when the devnet is enabled.
	AllowDevCaller bool `toml:"AllowDevCaller" yaml:"allow_dev_caller"`
}

// RateLimitConfig bounds per-caller request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64  `toml:"RequestsPerSecond" yaml:"rps"`
	Burst             int      `toml:"Burst" yaml:"burst"`
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies    []string `toml:"TrustedProxies" yaml:"trusted_proxies"`
}

// IndexerConfig configures the event indexer database. An empty driver
// disables indexing.
type IndexerConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// DevnetConfig enables the minting and funding helpers.
type DevnetConfig struct {
	Enabled bool `toml:"Enabled" yaml:"enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		ListenAddress:   ":8547",
		NetworkName:     "mystra-local",
		ShutdownTimeout: Duration{10 * time.Second},
		Storage:         StorageConfig{Backend: BackendLevelDB, Path: "./mystra-data/market"},
		Market: MarketConfig{
			AntiSnipeWindowMinutes:    10,
			AntiSnipeExtensionMinutes: 10,
		},
		Auth: AuthConfig{
			JWTSecretEnv: "MYSTRA_JWT_SECRET",
			Issuer:       "mystra",
			TokenTTL:     Duration{time.Hour},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Indexer:   IndexerConfig{Driver: DriverSQLite, DSN: "./mystra-data/events.db"},
		Logging:   LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5},
	}
	return cfg
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML, everything else as TOML. A missing TOML file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if isYAML(path) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = defaults.NetworkName
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaults.ListenAddress
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Market.AntiSnipeWindowMinutes == 0 {
		cfg.Market.AntiSnipeWindowMinutes = defaults.Market.AntiSnipeWindowMinutes
	}
	if cfg.Market.AntiSnipeExtensionMinutes == 0 {
		cfg.Market.AntiSnipeExtensionMinutes = defaults.Market.AntiSnipeExtensionMinutes
	}
	if cfg.Auth.TokenTTL.Duration <= 0 {
		cfg.Auth.TokenTTL = defaults.Auth.TokenTTL
	}
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ResolveJWTSecret returns the configured signing secret, preferring the
// environment variable named by JWTSecretEnv.
func (a AuthConfig) ResolveJWTSecret() (string, error) {
	if env := strings.TrimSpace(a.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value, nil
		}
	}
	if secret := strings.TrimSpace(a.JWTSecret); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("auth: no JWT secret configured (set JWTSecret or %s)", a.JWTSecretEnv)
}
