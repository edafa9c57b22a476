// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYBOT_* environment variables.
type Config struct {
	Wallet       WalletConfig       `toml:"wallet"`
	Polymarket   PolymarketConfig   `toml:"polymarket"`
	Binance      BinanceConfig      `toml:"binance"`
	Stream       StreamConfig       `toml:"stream"`
	Scanner      ScannerConfig      `toml:"scanner"`
	Health       HealthConfig       `toml:"health"`
	Spike        SpikeConfig        `toml:"spike"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Strategies   StrategiesConfig   `toml:"strategies"`
	Paper        PaperConfig        `toml:"paper"`
	Supabase     SupabaseConfig     `toml:"supabase"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters and the
// optional pre-derived CLOB API credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// BinanceConfig holds the secondary price feed used by latency arbitrage.
type BinanceConfig struct {
	WsHost   string `toml:"ws_host"`
	RestHost string `toml:"rest_host"`
	Symbol   string `toml:"symbol"`
}

// StreamConfig tunes every StreamConnection.
type StreamConfig struct {
	ReconnectDelay       duration `toml:"reconnect_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	PingInterval         duration `toml:"ping_interval"`
	PollInterval         duration `toml:"poll_interval"`
	PollTimeout          duration `toml:"poll_timeout"`
	StaleAfter           duration `toml:"stale_after"`
}

// ScannerConfig holds market discovery parameters.
type ScannerConfig struct {
	MaxMarkets       int      `toml:"max_markets"`
	MinTimeRemaining duration `toml:"min_time_remaining"`
	ScanInterval     duration `toml:"scan_interval"`
	FetchLimit       int      `toml:"fetch_limit"`
	FetchTimeout     duration `toml:"fetch_timeout"`
	IncludeKeywords  []string `toml:"include_keywords"`
	ExcludeKeywords  []string `toml:"exclude_keywords"`
}

// HealthConfig holds circuit breaker thresholds.
type HealthConfig struct {
	LatencyThreshold duration `toml:"latency_threshold"`
	ErrorThreshold   int      `toml:"error_threshold"`
	CircuitTimeout   duration `toml:"circuit_timeout"`
}

// SpikeConfig holds spike detector parameters.
type SpikeConfig struct {
	MinMove     float64  `toml:"min_move"`
	WindowMin   duration `toml:"window_min"`
	WindowMax   duration `toml:"window_max"`
	Cooldown    duration `toml:"cooldown"`
	HistorySize int      `toml:"history_size"`
}

// OrchestratorConfig holds capital allocation and cycle parameters.
type OrchestratorConfig struct {
	TotalCapital  float64            `toml:"total_capital"`
	CycleInterval duration           `toml:"cycle_interval"`
	Workers       int                `toml:"workers"`
	Priority      []string           `toml:"priority"`
	Allocation    map[string]float64 `toml:"allocation"`
}

// StrategiesConfig groups per-strategy settings.
type StrategiesConfig struct {
	Maker       MakerConfig       `toml:"maker"`
	Probability ProbabilityConfig `toml:"probability"`
	LatencyArb  LatencyArbConfig  `toml:"latency_arb"`
}

// MakerConfig holds config for the spread-capture maker strategy.
type MakerConfig struct {
	Enabled          bool     `toml:"enabled"`
	MinSpread        float64  `toml:"min_spread"`
	PriceOffset      float64  `toml:"price_offset"`
	OrderSize        float64  `toml:"order_size"`
	MaxOpenPositions int      `toml:"max_open_positions"`
	PositionTimeout  duration `toml:"position_timeout"`
	SimFillRate      float64  `toml:"sim_fill_rate"`
}

// ProbabilityConfig holds config for the probability scalping strategy.
type ProbabilityConfig struct {
	Enabled           bool    `toml:"enabled"`
	PriceSumThreshold float64 `toml:"price_sum_threshold"`
	MinProfit         float64 `toml:"min_profit"`
	OrderSize         float64 `toml:"order_size"`
	MaxPositionSize   float64 `toml:"max_position_size"`
	MaxMarketsToScan  int     `toml:"max_markets_to_scan"`
}

// LatencyArbConfig holds config for the spot-feed latency arbitrage strategy.
type LatencyArbConfig struct {
	Enabled             bool     `toml:"enabled"`
	MarketKeywords      []string `toml:"market_keywords"`
	OrderSize           float64  `toml:"order_size"`
	MaxPositionSize     float64  `toml:"max_position_size"`
	MaxOpenPositions    int      `toml:"max_open_positions"`
	EntryThresholdUp    float64  `toml:"entry_threshold_up"`
	EntryThresholdDown  float64  `toml:"entry_threshold_down"`
	ProfitTargetUp      float64  `toml:"profit_target_up"`
	ProfitTargetDown    float64  `toml:"profit_target_down"`
	DailyTradeLimit     int      `toml:"daily_trade_limit"`
	DailyLossLimit      float64  `toml:"daily_loss_limit"`
	MaxHold             duration `toml:"max_hold"`
	SimulatedExitAfter  duration `toml:"simulated_exit_after"`
	EntrySlippageFactor float64  `toml:"entry_slippage_factor"`
}

// PaperConfig holds the simulated ledger used in paper mode.
type PaperConfig struct {
	StartingCapital float64 `toml:"starting_capital"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters for the
// trade journal.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters for the state bus and the
// single-instance trading lock.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StateChannel string   `toml:"state_channel"`
	StateStream  string   `toml:"state_stream"`
	StreamMaxLen int      `toml:"stream_max_len"`
	LockKey      string   `toml:"lock_key"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the performance
// archive.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client per RateWindow. Zero disables it;
	// it also needs redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Binance: BinanceConfig{
			WsHost:   "wss://stream.binance.com:9443",
			RestHost: "https://api.binance.com",
			Symbol:   "btcusdt",
		},
		Stream: StreamConfig{
			ReconnectDelay:       duration{5 * time.Second},
			MaxReconnectAttempts: 10,
			PingInterval:         duration{30 * time.Second},
			PollInterval:         duration{time.Second},
			PollTimeout:          duration{5 * time.Second},
			StaleAfter:           duration{60 * time.Second},
		},
		Scanner: ScannerConfig{
			MaxMarkets:       25,
			MinTimeRemaining: duration{120 * time.Second},
			ScanInterval:     duration{10 * time.Second},
			FetchLimit:       500,
			FetchTimeout:     duration{10 * time.Second},
			IncludeKeywords: []string{
				"5 min", "5min", "5m", "5 m",
				"hourly", "1h", "1 hour",
				"btc", "bitcoin",
				"eth", "ethereum",
				"sol", "solana",
			},
			ExcludeKeywords: []string{"test", "demo"},
		},
		Health: HealthConfig{
			LatencyThreshold: duration{200 * time.Millisecond},
			ErrorThreshold:   5,
			CircuitTimeout:   duration{60 * time.Second},
		},
		Spike: SpikeConfig{
			MinMove:     150,
			WindowMin:   duration{3 * time.Second},
			WindowMax:   duration{10 * time.Second},
			Cooldown:    duration{30 * time.Second},
			HistorySize: 100,
		},
		Orchestrator: OrchestratorConfig{
			TotalCapital:  1000,
			CycleInterval: duration{time.Second},
			Workers:       4,
			Priority:      []string{"latency", "probability", "maker", "ml_pattern"},
			Allocation: map[string]float64{
				"maker":       0.40,
				"probability": 0.30,
				"latency":     0.20,
				"ml_pattern":  0.10,
			},
		},
		Strategies: StrategiesConfig{
			Maker: MakerConfig{
				Enabled:          true,
				MinSpread:        0.05,
				PriceOffset:      0.01,
				OrderSize:        2.0,
				MaxOpenPositions: 3,
				PositionTimeout:  duration{180 * time.Second},
				SimFillRate:      0.3,
			},
			Probability: ProbabilityConfig{
				Enabled:           true,
				PriceSumThreshold: 0.992,
				MinProfit:         0.005,
				OrderSize:         2.0,
				MaxPositionSize:   100,
				MaxMarketsToScan:  50,
			},
			LatencyArb: LatencyArbConfig{
				Enabled:             false,
				MarketKeywords:      []string{"btc", "bitcoin"},
				OrderSize:           2.0,
				MaxPositionSize:     50,
				MaxOpenPositions:    3,
				EntryThresholdUp:    0.60,
				EntryThresholdDown:  0.40,
				ProfitTargetUp:      0.80,
				ProfitTargetDown:    0.70,
				DailyTradeLimit:     20,
				DailyLossLimit:      100,
				MaxHold:             duration{30 * time.Second},
				SimulatedExitAfter:  duration{15 * time.Second},
				EntrySlippageFactor: 1.01,
			},
		},
		Paper: PaperConfig{
			StartingCapital: 1000,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StateChannel: "ch:state",
			StateStream:  "stream:state",
			StreamMaxLen: 10000,
			LockKey:      "trading",
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "polybot-data",
			ForcePathStyle:  true,
			Prefix:          "performance",
			ArchiveInterval: duration{15 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"circuit", "trade_closed", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategyKeys enumerates the accepted allocation and priority keys.
var validStrategyKeys = map[string]bool{
	"latency":     true,
	"probability": true,
	"maker":       true,
	"ml_pattern":  true,
}

// Simulate reports whether orders are simulated rather than sent to the venue.
func (c *Config) Simulate() bool {
	return !strings.EqualFold(c.Mode, "trade")
}

// EnabledStrategies returns the allocation keys of every enabled strategy.
func (c *Config) EnabledStrategies() []string {
	var keys []string
	if c.Strategies.LatencyArb.Enabled {
		keys = append(keys, "latency")
	}
	if c.Strategies.Probability.Enabled {
		keys = append(keys, "probability")
	}
	if c.Strategies.Maker.Enabled {
		keys = append(keys, "maker")
	}
	return keys
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders reach the venue.
	if strings.EqualFold(c.Mode, "trade") {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	if c.Strategies.LatencyArb.Enabled && c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host must not be empty when latency_arb is enabled")
	}

	// Stream
	if c.Stream.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "stream: reconnect_delay must be > 0")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		errs = append(errs, "stream: max_reconnect_attempts must be >= 0")
	}
	if c.Stream.PollInterval.Duration <= 0 {
		errs = append(errs, "stream: poll_interval must be > 0")
	}

	// Scanner
	if c.Scanner.MaxMarkets < 1 {
		errs = append(errs, "scanner: max_markets must be >= 1")
	}
	if c.Scanner.ScanInterval.Duration <= 0 {
		errs = append(errs, "scanner: scan_interval must be > 0")
	}
	if c.Scanner.MinTimeRemaining.Duration < 0 {
		errs = append(errs, "scanner: min_time_remaining must be >= 0")
	}

	// Health
	if c.Health.ErrorThreshold < 1 {
		errs = append(errs, "health: error_threshold must be >= 1")
	}
	if c.Health.LatencyThreshold.Duration <= 0 {
		errs = append(errs, "health: latency_threshold must be > 0")
	}
	if c.Health.CircuitTimeout.Duration <= 0 {
		errs = append(errs, "health: circuit_timeout must be > 0")
	}

	// Spike
	if c.Spike.MinMove <= 0 {
		errs = append(errs, "spike: min_move must be > 0")
	}
	if c.Spike.WindowMin.Duration < 0 || c.Spike.WindowMin.Duration > c.Spike.WindowMax.Duration {
		errs = append(errs, "spike: window_min must be >= 0 and <= window_max")
	}
	if c.Spike.HistorySize < 2 {
		errs = append(errs, "spike: history_size must be >= 2")
	}

	// Orchestrator
	if c.Orchestrator.TotalCapital < 0 {
		errs = append(errs, "orchestrator: total_capital must be >= 0")
	}
	if c.Orchestrator.CycleInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: cycle_interval must be > 0")
	}
	if c.Orchestrator.Workers < 1 {
		errs = append(errs, "orchestrator: workers must be >= 1")
	}
	for _, k := range c.Orchestrator.Priority {
		if !validStrategyKeys[k] {
			errs = append(errs, fmt.Sprintf("orchestrator: unknown priority key %q", k))
		}
	}
	for k, v := range c.Orchestrator.Allocation {
		if !validStrategyKeys[k] {
			errs = append(errs, fmt.Sprintf("orchestrator: unknown allocation key %q", k))
		}
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("orchestrator: allocation %q must be within [0, 1], got %g", k, v))
		}
	}
	var sum float64
	for _, k := range c.EnabledStrategies() {
		sum += c.Orchestrator.Allocation[k]
	}
	if sum > 1+1e-9 {
		errs = append(errs, fmt.Sprintf("orchestrator: allocation of enabled strategies sums to %.4f (must be <= 1.0)", math.Round(sum*1e4)/1e4))
	}

	// Strategies
	if m := c.Strategies.Maker; m.Enabled {
		if m.OrderSize <= 0 {
			errs = append(errs, "strategies.maker: order_size must be > 0")
		}
		if m.MaxOpenPositions < 1 {
			errs = append(errs, "strategies.maker: max_open_positions must be >= 1")
		}
		if m.SimFillRate < 0 || m.SimFillRate > 1 {
			errs = append(errs, "strategies.maker: sim_fill_rate must be within [0, 1]")
		}
	}
	if p := c.Strategies.Probability; p.Enabled {
		if p.OrderSize <= 0 {
			errs = append(errs, "strategies.probability: order_size must be > 0")
		}
		if p.PriceSumThreshold <= 0 || p.PriceSumThreshold > 1 {
			errs = append(errs, "strategies.probability: price_sum_threshold must be within (0, 1]")
		}
	}
	if l := c.Strategies.LatencyArb; l.Enabled {
		if l.OrderSize <= 0 {
			errs = append(errs, "strategies.latency_arb: order_size must be > 0")
		}
		if l.DailyTradeLimit < 1 {
			errs = append(errs, "strategies.latency_arb: daily_trade_limit must be >= 1")
		}
		if l.MaxHold.Duration <= 0 {
			errs = append(errs, "strategies.latency_arb: max_hold must be > 0")
		}
	}

	if c.Paper.StartingCapital < 0 {
		errs = append(errs, "paper: starting_capital must be >= 0")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
