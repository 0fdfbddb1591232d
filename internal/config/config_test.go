package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.VerifyingContract = "0x000000000000000000000000000000000000e001"
	cfg.Admin.Addresses = []string{"0x0000000000000000000000000000000000000ad1"}
	return cfg
}

func TestValidate_AcceptsDefaultsWithRequiredFields(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsMissingRequiredFields(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "verifying_contract")
	require.Contains(t, err.Error(), "admin")
}

func TestValidate_RejectsExcessiveFees(t *testing.T) {
	cfg := validConfig()
	cfg.Fees.PlatformBps = 6000
	cfg.Fees.MakerBps = 6000
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds 10000")
}

func TestValidate_RateLimitRequiresRedis(t *testing.T) {
	cfg := validConfig()
	cfg.Server.RateLimit = 10
	cfg.Redis.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate_limit requires redis")
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
mode = "server"

[chain]
chain_id = 137
verifying_contract = "0x000000000000000000000000000000000000e001"

[admin]
addresses = ["0x0000000000000000000000000000000000000ad1"]

[archive]
enabled = true
retention = "48h"
interval = "30m"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	t.Setenv("MARKETD_SERVER_PORT", "9001")
	t.Setenv("MARKETD_STORAGE_MODE", "postgres")
	t.Setenv("MARKETD_ARCHIVE_RETENTION", "72h")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, int64(137), cfg.Chain.ChainID)
	require.Equal(t, 9001, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Storage.Mode)
	require.Equal(t, 72*time.Hour, cfg.Archive.Retention.Duration)
	require.Equal(t, 30*time.Minute, cfg.Archive.Interval.Duration)
}

func TestRedactedConfig_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Archive.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"

	red := RedactedConfig(&cfg)
	require.Equal(t, "***", red.Wallet.PrivateKey)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Archive.SecretKey)
	require.Equal(t, "***", red.Server.APIKey)

	// The original is untouched.
	require.Equal(t, "hunter2", cfg.Postgres.Password)
}
