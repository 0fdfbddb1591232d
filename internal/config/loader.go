package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "MARKETD_CHAIN_ID")
	setStr(&cfg.Chain.VerifyingContract, "MARKETD_CHAIN_VERIFYING_CONTRACT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MARKETD_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SealedKeyPath, "MARKETD_WALLET_SEALED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MARKETD_WALLET_KEY_PASSWORD")

	// ── Admin ──
	setStringSlice(&cfg.Admin.Addresses, "MARKETD_ADMIN_ADDRESSES")

	// ── Fees ──
	setUint32(&cfg.Fees.PlatformBps, "MARKETD_FEES_PLATFORM_BPS")
	setUint32(&cfg.Fees.MakerBps, "MARKETD_FEES_MAKER_BPS")
	setStr(&cfg.Fees.PlatformWallet, "MARKETD_FEES_PLATFORM_WALLET")
	setStr(&cfg.Fees.MakerWallet, "MARKETD_FEES_MAKER_WALLET")

	// ── Storage ──
	setStr(&cfg.Storage.Mode, "MARKETD_STORAGE_MODE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARKETD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETD_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MARKETD_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "MARKETD_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "MARKETD_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "MARKETD_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "MARKETD_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "MARKETD_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "MARKETD_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "MARKETD_ARCHIVE_FORCE_PATH_STYLE")
	setDuration(&cfg.Archive.Retention, "MARKETD_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "MARKETD_ARCHIVE_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARKETD_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETD_MODE")
	setStr(&cfg.LogLevel, "MARKETD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
