package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/Kingsleysam1/polymarket-trading-bot/internal/blob/s3"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/cache/redis"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/config"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/crypto"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/health"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/metrics"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/notify"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/paper"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/platform/polymarket"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/scanner"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/scheduler"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/server"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/server/handler"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/server/ws"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/spike"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/state"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/store/postgres"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/strategy"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/stream"
)

const notifyQueueSize = 64

// Dependencies bundles everything App.Run drives. Optional infrastructure is
// nil when disabled in the configuration.
type Dependencies struct {
	// Core
	Scheduler    *scheduler.Scheduler
	Pool         *scheduler.Pool
	Health       *health.Monitor
	Scanner      *scanner.Scanner
	MarketStream *stream.Connection
	SpotStream   *stream.Connection
	Orchestrator *strategy.Orchestrator
	State        *state.Store

	// Venue
	Venue  domain.Venue
	Clob   *polymarket.ClobClient
	Ledger *paper.Ledger

	// Optional infrastructure
	Redis    *redis.Client
	StateBus *redis.StateBus
	Locks    *redis.LockManager
	Journal  *postgres.JournalStore
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
	Metrics  *metrics.Recorder
	Hub      *ws.Hub
	Server   *server.Server
}

// Wire constructs every component from cfg and returns them together with a
// cleanup function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Scheduler: scheduler.New(logger),
		Pool:      scheduler.NewPool(cfg.Orchestrator.Workers, cfg.Orchestrator.Workers*4),
		Metrics:   metrics.New(),
	}
	closers = append(closers, deps.Pool.Close)

	deps.Health = health.NewMonitor(health.Config{
		LatencyThreshold: cfg.Health.LatencyThreshold.Duration,
		ErrorThreshold:   cfg.Health.ErrorThreshold,
		CircuitTimeout:   cfg.Health.CircuitTimeout.Duration,
	}, logger)

	// --- Venue ---
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, logger)
	if cfg.Simulate() {
		deps.Ledger = paper.NewLedger(cfg.Paper.StartingCapital, logger)
		deps.Venue = paper.NewVenue(deps.Clob, deps.Ledger, logger)
	} else {
		clob, err := liveClob(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		deps.Clob = clob
		deps.Venue = clob
	}

	// --- Redis ---
	var sinks []domain.StateSink
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		deps.StateBus = redis.NewStateBus(rc, redis.BusConfig{
			Channel:      cfg.Redis.StateChannel,
			Stream:       cfg.Redis.StateStream,
			StreamMaxLen: int64(cfg.Redis.StreamMaxLen),
		})
		deps.Locks = redis.NewLockManager(rc)
		sinks = append(sinks, deps.StateBus)
	}

	// --- PostgreSQL journal ---
	var journal domain.JournalStore
	if cfg.Supabase.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Supabase.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Journal = postgres.NewJournalStore(pg)
		journal = deps.Journal
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), cfg.S3.Prefix, logger)
		sinks = append(sinks, deps.Archiver)
	}

	// --- Notifications ---
	senders, err := buildSenders(cfg.Notify)
	if err != nil {
		return fail(err)
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, notifyQueueSize, logger)
		sinks = append(sinks, deps.Notifier)
	}
	sinks = append(sinks, deps.Metrics)

	// --- State ---
	var orch *strategy.Orchestrator
	opts := []state.Option{
		state.WithJournal(journal),
		state.WithPerformance(func() []domain.Performance {
			if orch == nil {
				return nil
			}
			return orch.GetPerformanceSummary().Strategies
		}),
	}
	if deps.Ledger != nil {
		opts = append(opts, state.WithSettler(deps.Ledger))
	}
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(func() any { return deps.State.Snapshot() }, logger)
		sinks = append(sinks, deps.Hub)
	}
	for _, s := range sinks {
		opts = append(opts, state.WithSink(s))
	}
	deps.State = state.New(strings.ToLower(cfg.Mode), logger, opts...)
	deps.Health.OnStateChange(func(from, to domain.CircuitState) {
		deps.State.RecordCircuit(context.Background(), from, to)
	})

	// --- Discovery and streams ---
	deps.Scanner = scanner.New(polymarket.NewGammaClient(cfg.Polymarket.GammaHost), scanner.Config{
		MaxMarkets:       cfg.Scanner.MaxMarkets,
		MinTimeRemaining: cfg.Scanner.MinTimeRemaining.Duration,
		ScanInterval:     cfg.Scanner.ScanInterval.Duration,
		FetchLimit:       cfg.Scanner.FetchLimit,
		FetchTimeout:     cfg.Scanner.FetchTimeout.Duration,
		IncludeKeywords:  cfg.Scanner.IncludeKeywords,
		ExcludeKeywords:  cfg.Scanner.ExcludeKeywords,
	}, logger)

	marketOpts := streamOptions(cfg.Stream, stream.PolymarketMarketFeed(
		strings.TrimRight(cfg.Polymarket.WsHost, "/")+"/ws/market",
		cfg.Polymarket.ClobHost,
	))
	sched := deps.Scheduler
	deps.MarketStream = stream.New(marketOpts, func(ctx context.Context, msg domain.StreamMessage) {
		sched.Emit(ctx, EventMarketMessage, msg)
	}, logger, stream.WithReporter(deps.Health))
	deps.Health.Register(marketOpts.Name)

	// --- Strategies ---
	sdeps := strategy.Deps{
		Venue:      deps.Venue,
		Markets:    deps.Scanner,
		Logger:     logger,
		OnPosition: deps.State.ObservePosition,
	}
	var strategies []strategy.Strategy
	sc := cfg.Strategies
	if sc.LatencyArb.Enabled {
		detector := spike.New(spike.Config{
			MinMove:     cfg.Spike.MinMove,
			WindowMin:   cfg.Spike.WindowMin.Duration,
			WindowMax:   cfg.Spike.WindowMax.Duration,
			Cooldown:    cfg.Spike.Cooldown.Duration,
			HistorySize: cfg.Spike.HistorySize,
		}, nil)
		la := strategy.NewLatencyArb(strategy.LatencyParams{
			MarketKeywords:      sc.LatencyArb.MarketKeywords,
			OrderSize:           sc.LatencyArb.OrderSize,
			MaxPositionSize:     sc.LatencyArb.MaxPositionSize,
			MaxOpenPositions:    sc.LatencyArb.MaxOpenPositions,
			EntryThresholdUp:    sc.LatencyArb.EntryThresholdUp,
			EntryThresholdDown:  sc.LatencyArb.EntryThresholdDown,
			ProfitTargetUp:      sc.LatencyArb.ProfitTargetUp,
			ProfitTargetDown:    sc.LatencyArb.ProfitTargetDown,
			DailyTradeLimit:     sc.LatencyArb.DailyTradeLimit,
			DailyLossLimit:      sc.LatencyArb.DailyLossLimit,
			MaxHold:             sc.LatencyArb.MaxHold.Duration,
			SimulatedExitAfter:  sc.LatencyArb.SimulatedExitAfter.Duration,
			EntrySlippageFactor: sc.LatencyArb.EntrySlippageFactor,
		}, sdeps, detector)
		spotOpts := streamOptions(cfg.Stream, stream.BinanceTradeFeed(cfg.Binance.WsHost, cfg.Binance.RestHost))
		deps.SpotStream = stream.New(spotOpts, la.HandleTrade, logger, stream.WithReporter(deps.Health))
		deps.Health.Register(spotOpts.Name)
		la.UseFeed(deps.SpotStream, strings.ToLower(cfg.Binance.Symbol))
		strategies = append(strategies, la)
	}
	if sc.Probability.Enabled {
		strategies = append(strategies, strategy.NewProbability(strategy.ProbabilityParams{
			PriceSumThreshold: sc.Probability.PriceSumThreshold,
			MinProfit:         sc.Probability.MinProfit,
			OrderSize:         sc.Probability.OrderSize,
			MaxPositionSize:   sc.Probability.MaxPositionSize,
			MaxMarketsToScan:  sc.Probability.MaxMarketsToScan,
		}, sdeps))
	}
	if sc.Maker.Enabled {
		strategies = append(strategies, strategy.NewMaker(strategy.MakerParams{
			MinSpread:        sc.Maker.MinSpread,
			PriceOffset:      sc.Maker.PriceOffset,
			OrderSize:        sc.Maker.OrderSize,
			MaxOpenPositions: sc.Maker.MaxOpenPositions,
			PositionTimeout:  sc.Maker.PositionTimeout.Duration,
			SimFillRate:      sc.Maker.SimFillRate,
		}, sdeps))
	}

	orch = strategy.NewOrchestrator(strategy.Config{
		TotalCapital: cfg.Orchestrator.TotalCapital,
		Allocation:   strategyKeys(cfg.Orchestrator.Allocation),
		Priority:     priorityKeys(cfg.Orchestrator.Priority),
	}, strategies, deps.Scanner, deps.Health, deps.Pool, deps.State, logger)
	deps.Orchestrator = orch

	// --- HTTP server ---
	if cfg.Server.Enabled {
		deps.Server = buildServer(cfg, deps, journal, logger)
	}

	return deps, cleanup, nil
}

// liveClob builds an authenticated CLOB client. API credentials come from the
// configuration when set, otherwise they are derived with the wallet key.
func liveClob(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*polymarket.ClobClient, error) {
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("wire: signer: %w", err)
	}

	opts := []polymarket.ClobOption{
		polymarket.WithSigner(signer, cfg.Polymarket.SignatureType, cfg.Wallet.SafeAddress),
	}
	creds := crypto.Credentials{
		Key:        cfg.Polymarket.ApiKey,
		Secret:     cfg.Polymarket.ApiSecret,
		Passphrase: cfg.Polymarket.ApiPassphrase,
	}
	if creds.Complete() {
		opts = append(opts, polymarket.WithCredentials(creds))
	}
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, logger, opts...)
	if !creds.Complete() {
		if _, err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("wire: derive api key: %w", err)
		}
		logger.InfoContext(ctx, "derived clob api credentials", slog.String("address", signer.Address().Hex()))
	}
	return clob, nil
}

func buildSenders(cfg config.NotifyConfig) ([]notify.Sender, error) {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("wire: telegram: %w", err)
		}
		senders = append(senders, tg)
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders, nil
}

func buildServer(cfg *config.Config, deps *Dependencies, journal domain.JournalStore, logger *slog.Logger) *server.Server {
	streams := []handler.StreamSource{deps.MarketStream}
	if deps.SpotStream != nil {
		streams = append(streams, deps.SpotStream)
	}
	var ledger handler.LedgerSource
	if deps.Ledger != nil {
		ledger = deps.Ledger
	}
	extras := server.Extras{
		Hub:      deps.Hub,
		Metrics:  deps.Metrics.Handler(),
		Observer: deps.Metrics,
	}
	if deps.Redis != nil {
		extras.Limiter = redis.NewRateLimiter(deps.Redis)
	}
	return server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, streams...),
		Status:      handler.NewStatusHandler(deps.State, ledger),
		Markets:     handler.NewMarketHandler(deps.Scanner),
		Performance: handler.NewPerformanceHandler(deps.Orchestrator),
		Positions:   handler.NewPositionHandler(deps.State, journal, logger),
	}, extras, logger)
}

func streamOptions(sc config.StreamConfig, o stream.Options) stream.Options {
	o.ReconnectDelay = sc.ReconnectDelay.Duration
	o.MaxReconnectAttempts = sc.MaxReconnectAttempts
	o.PingInterval = sc.PingInterval.Duration
	o.PollInterval = sc.PollInterval.Duration
	o.PollTimeout = sc.PollTimeout.Duration
	o.StaleAfter = sc.StaleAfter.Duration
	return o
}

func strategyKeys(in map[string]float64) map[domain.StrategyKey]float64 {
	out := make(map[domain.StrategyKey]float64, len(in))
	for k, v := range in {
		out[domain.StrategyKey(k)] = v
	}
	return out
}

func priorityKeys(in []string) []domain.StrategyKey {
	out := make([]domain.StrategyKey, 0, len(in))
	for _, k := range in {
		out = append(out, domain.StrategyKey(k))
	}
	return out
}
