package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"
log_level = "debug"

[scanner]
max_markets = 10
scan_interval = "30s"
include_keywords = ["btc"]

[spike]
min_move = 75.5
window_min = "2s"
window_max = "8s"

[orchestrator.allocation]
maker = 0.5
probability = 0.25
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 10, cfg.Scanner.MaxMarkets)
	assert.Equal(t, 30*time.Second, cfg.Scanner.ScanInterval.Duration)
	assert.Equal(t, []string{"btc"}, cfg.Scanner.IncludeKeywords)
	assert.Equal(t, 75.5, cfg.Spike.MinMove)
	assert.Equal(t, 8*time.Second, cfg.Spike.WindowMax.Duration)
	assert.Equal(t, 0.5, cfg.Orchestrator.Allocation["maker"])

	// Untouched sections keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.Scanner.MinTimeRemaining.Duration)
	assert.Equal(t, 5, cfg.Health.ErrorThreshold)
	assert.Equal(t, 137, cfg.Polymarket.ChainID)

	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Mode)
	assert.True(t, cfg.Simulate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYBOT_MODE", "trade")
	t.Setenv("POLYBOT_WALLET_PRIVATE_KEY", "0xabc")
	t.Setenv("POLYBOT_SCANNER_MAX_MARKETS", "7")
	t.Setenv("POLYBOT_HEALTH_CIRCUIT_TIMEOUT", "90s")
	t.Setenv("POLYBOT_SCANNER_EXCLUDE_KEYWORDS", " test , , sample ")
	t.Setenv("POLYBOT_NOTIFY_TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.False(t, cfg.Simulate())
	assert.Equal(t, 7, cfg.Scanner.MaxMarkets)
	assert.Equal(t, 90*time.Second, cfg.Health.CircuitTimeout.Duration)
	assert.Equal(t, []string{"test", "sample"}, cfg.Scanner.ExcludeKeywords)
	assert.Equal(t, int64(-100123), cfg.Notify.TelegramChatID)
	require.NoError(t, cfg.Validate())
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Scanner.MaxMarkets = 0
	cfg.Spike.WindowMin = duration{20 * time.Second}
	cfg.Orchestrator.Allocation["maker"] = 0.9

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "wallet")
	assert.Contains(t, msg, "scanner: max_markets")
	assert.Contains(t, msg, "spike: window_min")
	assert.Contains(t, msg, "allocation of enabled strategies")
}

func TestAllocationOnlyCountsEnabledStrategies(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.Allocation["maker"] = 0.9
	cfg.Strategies.Maker.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestPartialAPICredentialsRejected(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.ApiKey = "key"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must all be set together")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Polymarket.ApiSecret = "secret"
	cfg.Redis.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Polymarket.ApiSecret)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	out.Orchestrator.Allocation["maker"] = 0
	out.Scanner.IncludeKeywords[0] = "changed"
	assert.Equal(t, 0.40, cfg.Orchestrator.Allocation["maker"])
	assert.NotEqual(t, "changed", cfg.Scanner.IncludeKeywords[0])
}
