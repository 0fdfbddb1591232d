// Package config defines the top-level configuration for the marketd
// settlement daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETD_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Admin    AdminConfig    `toml:"admin"`
	Fees     FeeConfig      `toml:"fees"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig pins the EIP-712 signing domain every order is verified
// against.
type ChainConfig struct {
	ChainID           int64  `toml:"chain_id"`
	VerifyingContract string `toml:"verifying_contract"`
}

// WalletConfig holds an optional signing key for tooling (sealing keys,
// signing test orders). The daemon itself only verifies signatures and runs
// without a wallet.
type WalletConfig struct {
	PrivateKey    string `toml:"private_key"`
	SealedKeyPath string `toml:"sealed_key_path"`
	KeyPassword   string `toml:"key_password"`
}

// AdminConfig lists the addresses allowed to mutate fees, payment tokens,
// and ledger registrants.
type AdminConfig struct {
	Addresses []string `toml:"addresses"`
}

// FeeConfig seeds the fee schedule at boot. Admin endpoints can change it
// at runtime.
type FeeConfig struct {
	PlatformBps    uint32 `toml:"platform_bps"`
	MakerBps       uint32 `toml:"maker_bps"`
	PlatformWallet string `toml:"platform_wallet"`
	MakerWallet    string `toml:"maker_wallet"`
}

// StorageConfig selects the ledger and fill store backend.
type StorageConfig struct {
	// Mode is "memory" (single process, volatile) or "postgres" (durable).
	Mode string `toml:"mode"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the daemon
// runs without distributed settlement locks, per-IP rate limiting, or the
// pub/sub fill feed.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds S3-compatible object storage parameters and the fill
// archive schedule.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Retention      duration `toml:"retention"`
	Interval       duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "720h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps requests per client IP per second. Zero disables the
	// middleware; a positive value requires Redis.
	RateLimit int `toml:"rate_limit"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 1,
		},
		Fees: FeeConfig{
			PlatformBps: 250,
			MakerBps:    250,
		},
		Storage: StorageConfig{
			Mode: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-fills",
			UseSSL:         false,
			ForcePathStyle: true,
			Retention:      duration{90 * 24 * time.Hour},
			Interval:       duration{1 * time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"archiver": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStorageModes enumerates the accepted values for Storage.Mode.
var validStorageModes = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archiver, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.VerifyingContract == "" {
		errs = append(errs, "chain: verifying_contract must not be empty")
	} else if !common.IsHexAddress(c.Chain.VerifyingContract) {
		errs = append(errs, fmt.Sprintf("chain: verifying_contract %q is not a hex address", c.Chain.VerifyingContract))
	}

	// Wallet is optional; a sealed key needs its password.
	if c.Wallet.SealedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when sealed_key_path is set")
	}

	// Admin
	if len(c.Admin.Addresses) == 0 {
		errs = append(errs, "admin: at least one admin address must be set")
	}
	for _, a := range c.Admin.Addresses {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("admin: %q is not a hex address", a))
		}
	}

	// Fees
	if c.Fees.PlatformBps+c.Fees.MakerBps > 10_000 {
		errs = append(errs, fmt.Sprintf("fees: platform_bps %d + maker_bps %d exceeds 10000", c.Fees.PlatformBps, c.Fees.MakerBps))
	}
	if c.Fees.PlatformWallet != "" && !common.IsHexAddress(c.Fees.PlatformWallet) {
		errs = append(errs, fmt.Sprintf("fees: platform_wallet %q is not a hex address", c.Fees.PlatformWallet))
	}
	if c.Fees.MakerWallet != "" && !common.IsHexAddress(c.Fees.MakerWallet) {
		errs = append(errs, fmt.Sprintf("fees: maker_wallet %q is not a hex address", c.Fees.MakerWallet))
	}

	// Storage
	if !validStorageModes[strings.ToLower(c.Storage.Mode)] {
		errs = append(errs, fmt.Sprintf("storage: unknown mode %q (valid: memory, postgres)", c.Storage.Mode))
	}

	// Postgres, only when selected.
	if strings.EqualFold(c.Storage.Mode, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis, only when enabled.
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Server.RateLimit > 0 && !c.Redis.Enabled {
		errs = append(errs, "server: rate_limit requires redis to be enabled")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}
	if mode == "archiver" && !c.Archive.Enabled {
		errs = append(errs, "archive: must be enabled in archiver mode")
	}

	// Server
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
