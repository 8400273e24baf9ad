package config

import (
	"fmt"
	"net/netip"
	"strings"

	"mystra/crypto"
)

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Indexer drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Validate rejects configurations the daemon cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch cfg.Indexer.Driver {
	case "":
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(cfg.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: dsn required for %s driver", cfg.Indexer.Driver)
		}
	default:
		return fmt.Errorf("indexer: unknown driver %q", cfg.Indexer.Driver)
	}
	if id := strings.TrimSpace(cfg.Market.PackageIdentity); id != "" {
		if _, err := crypto.ParseIdentity(id); err != nil {
			return fmt.Errorf("market: package identity: %w", err)
		}
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("config: max_connections must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: burst must be positive when rps is set")
	}
	for _, entry := range cfg.RateLimit.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("rate_limit: trusted proxy %q is not an address or prefix", entry)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if cfg.Auth.AllowDevCaller && !cfg.Devnet.Enabled {
		return fmt.Errorf("auth: AllowDevCaller requires the devnet to be enabled")
	}
	return nil
}
