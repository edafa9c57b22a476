package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and starts from the
// defaults. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "POLYBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYBOT_POLYMARKET_API_PASSPHRASE")

	// ── Binance ──
	setStr(&cfg.Binance.WsHost, "POLYBOT_BINANCE_WS_HOST")
	setStr(&cfg.Binance.RestHost, "POLYBOT_BINANCE_REST_HOST")
	setStr(&cfg.Binance.Symbol, "POLYBOT_BINANCE_SYMBOL")

	// ── Stream ──
	setDuration(&cfg.Stream.ReconnectDelay, "POLYBOT_STREAM_RECONNECT_DELAY")
	setInt(&cfg.Stream.MaxReconnectAttempts, "POLYBOT_STREAM_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Stream.PingInterval, "POLYBOT_STREAM_PING_INTERVAL")
	setDuration(&cfg.Stream.PollInterval, "POLYBOT_STREAM_POLL_INTERVAL")

	// ── Scanner ──
	setInt(&cfg.Scanner.MaxMarkets, "POLYBOT_SCANNER_MAX_MARKETS")
	setDuration(&cfg.Scanner.MinTimeRemaining, "POLYBOT_SCANNER_MIN_TIME_REMAINING")
	setDuration(&cfg.Scanner.ScanInterval, "POLYBOT_SCANNER_SCAN_INTERVAL")
	setStringSlice(&cfg.Scanner.IncludeKeywords, "POLYBOT_SCANNER_INCLUDE_KEYWORDS")
	setStringSlice(&cfg.Scanner.ExcludeKeywords, "POLYBOT_SCANNER_EXCLUDE_KEYWORDS")

	// ── Health ──
	setDuration(&cfg.Health.LatencyThreshold, "POLYBOT_HEALTH_LATENCY_THRESHOLD")
	setInt(&cfg.Health.ErrorThreshold, "POLYBOT_HEALTH_ERROR_THRESHOLD")
	setDuration(&cfg.Health.CircuitTimeout, "POLYBOT_HEALTH_CIRCUIT_TIMEOUT")

	// ── Spike ──
	setFloat64(&cfg.Spike.MinMove, "POLYBOT_SPIKE_MIN_MOVE")
	setDuration(&cfg.Spike.WindowMin, "POLYBOT_SPIKE_WINDOW_MIN")
	setDuration(&cfg.Spike.WindowMax, "POLYBOT_SPIKE_WINDOW_MAX")
	setDuration(&cfg.Spike.Cooldown, "POLYBOT_SPIKE_COOLDOWN")

	// ── Orchestrator ──
	setFloat64(&cfg.Orchestrator.TotalCapital, "POLYBOT_ORCHESTRATOR_TOTAL_CAPITAL")
	setDuration(&cfg.Orchestrator.CycleInterval, "POLYBOT_ORCHESTRATOR_CYCLE_INTERVAL")
	setInt(&cfg.Orchestrator.Workers, "POLYBOT_ORCHESTRATOR_WORKERS")
	setStringSlice(&cfg.Orchestrator.Priority, "POLYBOT_ORCHESTRATOR_PRIORITY")

	// ── Strategies ──
	setBool(&cfg.Strategies.Maker.Enabled, "POLYBOT_STRATEGIES_MAKER_ENABLED")
	setFloat64(&cfg.Strategies.Maker.OrderSize, "POLYBOT_STRATEGIES_MAKER_ORDER_SIZE")
	setBool(&cfg.Strategies.Probability.Enabled, "POLYBOT_STRATEGIES_PROBABILITY_ENABLED")
	setFloat64(&cfg.Strategies.Probability.OrderSize, "POLYBOT_STRATEGIES_PROBABILITY_ORDER_SIZE")
	setBool(&cfg.Strategies.LatencyArb.Enabled, "POLYBOT_STRATEGIES_LATENCY_ARB_ENABLED")
	setFloat64(&cfg.Strategies.LatencyArb.OrderSize, "POLYBOT_STRATEGIES_LATENCY_ARB_ORDER_SIZE")
	setInt(&cfg.Strategies.LatencyArb.DailyTradeLimit, "POLYBOT_STRATEGIES_LATENCY_ARB_DAILY_TRADE_LIMIT")
	setFloat64(&cfg.Strategies.LatencyArb.DailyLossLimit, "POLYBOT_STRATEGIES_LATENCY_ARB_DAILY_LOSS_LIMIT")

	// ── Paper ──
	setFloat64(&cfg.Paper.StartingCapital, "POLYBOT_PAPER_STARTING_CAPITAL")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "POLYBOT_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "POLYBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "POLYBOT_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "POLYBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "POLYBOT_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "POLYBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYBOT_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "POLYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYBOT_MODE")
	setStr(&cfg.LogLevel, "POLYBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
