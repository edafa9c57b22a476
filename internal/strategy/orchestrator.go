package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/scheduler"
)

// ExecutionConnection is the health-monitor connection execution outcomes
// are recorded on.
const ExecutionConnection = "strategy_execution"

// HealthGate is the circuit breaker the orchestrator consults and reports
// into. *health.Monitor satisfies it.
type HealthGate interface {
	Register(name string)
	CanExecute() bool
	RecordSuccess(name string)
	RecordError(name string, err error)
}

// Submitter runs blocking strategy calls off the cycle goroutine.
// *scheduler.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, fn scheduler.JobFunc) (<-chan scheduler.Result, error)
}

// Recorder receives cycle outcomes. *state.Store satisfies it.
type Recorder interface {
	RecordSignal(ctx context.Context, sig domain.Signal)
	RecordCycle(ctx context.Context, stats domain.CycleStats)
	RecordError(ctx context.Context, source string, err error)
}

// Config holds capital and ordering for the orchestrator.
type Config struct {
	TotalCapital float64
	Allocation   map[domain.StrategyKey]float64
	// Priority orders execution; keys absent from it run last.
	Priority []domain.StrategyKey
}

type slot struct {
	strategy Strategy
	capital  float64
	rank     int
	failed   bool
}

// Orchestrator runs scan, execute and monitor phases over a fixed set of
// strategies.
type Orchestrator struct {
	cfg      Config
	markets  MarketView
	health   HealthGate
	pool     Submitter
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	slots  []*slot
	cycles uint64
	last   *domain.CycleStats
}

// NewOrchestrator assigns each strategy its capital share: total capital
// times its allocation fraction. recorder may be nil.
func NewOrchestrator(cfg Config, strategies []Strategy, markets MarketView, health HealthGate, pool Submitter, recorder Recorder, logger *slog.Logger) *Orchestrator {
	if len(cfg.Priority) == 0 {
		cfg.Priority = domain.DefaultPriority
	}
	rank := make(map[domain.StrategyKey]int, len(cfg.Priority))
	for i, k := range cfg.Priority {
		rank[k] = i
	}

	o := &Orchestrator{
		cfg:      cfg,
		markets:  markets,
		health:   health,
		pool:     pool,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
	health.Register(ExecutionConnection)

	o.logger.Info("initializing", slog.Float64("total_capital", cfg.TotalCapital))
	for _, s := range strategies {
		r, ok := rank[s.Key()]
		if !ok {
			r = len(cfg.Priority)
		}
		sl := &slot{
			strategy: s,
			capital:  cfg.TotalCapital * cfg.Allocation[s.Key()],
			rank:     r,
		}
		o.slots = append(o.slots, sl)
		o.logger.Info("strategy enabled",
			slog.String("strategy", s.Name()),
			slog.String("key", string(s.Key())),
			slog.Float64("capital", sl.capital),
			slog.Float64("fraction", cfg.Allocation[s.Key()]),
		)
	}
	return o
}

// Capital returns the allocated capital of a strategy key.
func (o *Orchestrator) Capital(key domain.StrategyKey) float64 {
	for _, sl := range o.active() {
		if sl.strategy.Key() == key {
			return sl.capital
		}
	}
	return 0
}

// Strategy returns the running strategy with the given key.
func (o *Orchestrator) Strategy(key domain.StrategyKey) (Strategy, bool) {
	for _, sl := range o.active() {
		if sl.strategy.Key() == key {
			return sl.strategy, true
		}
	}
	return nil, false
}

func (o *Orchestrator) active() []*slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*slot, 0, len(o.slots))
	for _, sl := range o.slots {
		if !sl.failed {
			out = append(out, sl)
		}
	}
	return out
}

// StartAll starts every strategy with background connections. A strategy
// that fails to start is left out of later cycles.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	var errs []error
	for _, sl := range o.active() {
		lc, ok := sl.strategy.(Lifecycle)
		if !ok {
			continue
		}
		if err := lc.Start(ctx); err != nil {
			o.logger.ErrorContext(ctx, "strategy failed to start, disabled",
				slog.String("strategy", sl.strategy.Name()),
				slog.String("error", err.Error()),
			)
			o.mu.Lock()
			sl.failed = true
			o.mu.Unlock()
			errs = append(errs, fmt.Errorf("strategy/%s: start: %w", sl.strategy.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops background connections and cancels every strategy's orders.
// Failures are logged and joined; every strategy is attempted.
func (o *Orchestrator) StopAll(ctx context.Context, simulate bool) error {
	o.logger.InfoContext(ctx, "stopping all strategies")
	o.mu.Lock()
	slots := append([]*slot(nil), o.slots...)
	o.mu.Unlock()

	var errs []error
	for _, sl := range slots {
		s := sl.strategy
		if lc, ok := s.(Lifecycle); ok {
			if err := lc.Stop(ctx); err != nil {
				o.logger.ErrorContext(ctx, "strategy stop failed",
					slog.String("strategy", s.Name()),
					slog.String("error", err.Error()),
				)
				errs = append(errs, fmt.Errorf("strategy/%s: stop: %w", s.Key(), err))
			}
		}
		if err := o.guard(s, "cancel_all", func() error { return s.CancelAll(ctx, simulate) }); err != nil {
			o.logger.ErrorContext(ctx, "cancel all failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	o.logger.InfoContext(ctx, "all strategies stopped")
	return errors.Join(errs...)
}

type found struct {
	slot  *slot
	order int
	sig   domain.Signal
}

// RunCycle runs scan, execute and monitor strictly in that order. Failures
// inside a strategy are counted and recorded but never end the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context, simulate bool) domain.CycleStats {
	slots := o.active()
	o.mu.Lock()
	o.cycles++
	stats := domain.CycleStats{
		Seq:              o.cycles,
		StartedAt:        time.Now(),
		StrategiesActive: len(slots),
	}
	o.mu.Unlock()
	if o.markets != nil {
		stats.ActiveMarkets = len(o.markets.Active())
	}

	signals := o.scanPhase(ctx, slots, &stats)
	o.executePhase(ctx, signals, simulate, &stats)
	o.monitorPhase(ctx, slots, simulate, &stats)

	stats.Duration = time.Since(stats.StartedAt)
	o.mu.Lock()
	last := stats
	o.last = &last
	o.mu.Unlock()
	if o.recorder != nil {
		o.recorder.RecordCycle(ctx, stats)
	}
	if stats.OpportunitiesFound > 0 || stats.TradesExecuted > 0 || stats.PositionsClosed > 0 || stats.Errors > 0 {
		o.logger.InfoContext(ctx, "cycle complete",
			slog.Uint64("cycle", stats.Seq),
			slog.Int("opportunities", stats.OpportunitiesFound),
			slog.Int("executed", stats.TradesExecuted),
			slog.Int("closed", stats.PositionsClosed),
			slog.Int("errors", stats.Errors),
			slog.Duration("duration", stats.Duration),
		)
	}
	return stats
}

// scanPhase asks every strategy for a signal concurrently and returns the
// signals sorted by priority, stable in discovery order.
func (o *Orchestrator) scanPhase(ctx context.Context, slots []*slot, stats *domain.CycleStats) []found {
	type pending struct {
		slot *slot
		ch   <-chan scheduler.Result
	}
	var waits []pending
	for _, sl := range slots {
		s := sl.strategy
		ch, err := o.pool.Submit(ctx, func(ctx context.Context) (any, error) {
			return s.ScanForSignal(ctx)
		})
		if err != nil {
			o.fail(ctx, stats, s, "scan", err)
			continue
		}
		waits = append(waits, pending{slot: sl, ch: ch})
	}

	var out []found
	for _, w := range waits {
		r := <-w.ch
		if r.Err != nil {
			o.fail(ctx, stats, w.slot.strategy, "scan", r.Err)
			continue
		}
		sig, _ := r.Value.(*domain.Signal)
		if sig == nil {
			continue
		}
		if sig.Strategy == "" {
			sig.Strategy = w.slot.strategy.Key()
		}
		stats.OpportunitiesFound++
		out = append(out, found{slot: w.slot, order: len(out), sig: *sig})
		if o.recorder != nil {
			o.recorder.RecordSignal(ctx, *sig)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].slot.rank < out[j].slot.rank })
	return out
}

// executePhase dispatches signals one at a time in priority order.
func (o *Orchestrator) executePhase(ctx context.Context, signals []found, simulate bool, stats *domain.CycleStats) {
	for _, f := range signals {
		s := f.slot.strategy
		if !o.health.CanExecute() {
			stats.SkippedCircuit++
			o.logger.WarnContext(ctx, "circuit open, execution skipped",
				slog.String("strategy", s.Name()),
				slog.String("market_id", f.sig.MarketID),
			)
			continue
		}
		if f.slot.capital <= 0 {
			stats.SkippedNoCapital++
			o.logger.DebugContext(ctx, "no capital allocated, execution skipped",
				slog.String("strategy", s.Name()),
			)
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}

		sig := f.sig
		v, err := o.call(ctx, func(ctx context.Context) (any, error) {
			return s.Execute(ctx, sig, simulate)
		})
		if err != nil {
			err = o.classify(s, "execute", err)
			o.health.RecordError(ExecutionConnection, err)
			stats.Errors++
			o.logger.ErrorContext(ctx, "execution failed",
				slog.String("strategy", s.Name()),
				slog.String("kind", domain.Classify(err).String()),
				slog.String("error", err.Error()),
			)
			if o.recorder != nil {
				o.recorder.RecordError(ctx, string(s.Key()), err)
			}
			continue
		}
		o.health.RecordSuccess(ExecutionConnection)
		if id, _ := v.(string); id != "" {
			stats.TradesExecuted++
			o.logger.InfoContext(ctx, "executed",
				slog.String("strategy", s.Name()),
				slog.String("position_id", id),
				slog.Bool("simulated", simulate),
			)
		}
	}
}

// monitorPhase checks every strategy's open positions concurrently. It runs
// even while the circuit is open.
func (o *Orchestrator) monitorPhase(ctx context.Context, slots []*slot, simulate bool, stats *domain.CycleStats) {
	type pending struct {
		s  Strategy
		ch <-chan scheduler.Result
	}
	var waits []pending
	for _, sl := range slots {
		s := sl.strategy
		ch, err := o.pool.Submit(ctx, func(ctx context.Context) (any, error) {
			return s.MonitorOpenPositions(ctx, simulate)
		})
		if err != nil {
			o.fail(ctx, stats, s, "monitor", err)
			continue
		}
		waits = append(waits, pending{s: s, ch: ch})
	}
	for _, w := range waits {
		r := <-w.ch
		closed, _ := r.Value.([]string)
		stats.PositionsClosed += len(closed)
		if r.Err != nil {
			o.fail(ctx, stats, w.s, "monitor", r.Err)
		}
	}
}

// call runs fn on the pool and waits for its result.
func (o *Orchestrator) call(ctx context.Context, fn scheduler.JobFunc) (any, error) {
	ch, err := o.pool.Submit(ctx, fn)
	if err != nil {
		return nil, err
	}
	r := <-ch
	return r.Value, r.Err
}

// guard runs fn with panic recovery outside the pool.
func (o *Orchestrator) guard(s Strategy, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.StrategyFailure(fmt.Errorf("strategy/%s: %s: panic: %v", s.Key(), op, r))
		}
	}()
	if err := fn(); err != nil {
		return o.classify(s, op, err)
	}
	return nil
}

// classify keeps an existing error kind and tags the rest as strategy
// failures.
func (o *Orchestrator) classify(s Strategy, op string, err error) error {
	wrapped := fmt.Errorf("strategy/%s: %s: %w", s.Key(), op, err)
	if domain.Classify(err) != domain.KindUnknown {
		return wrapped
	}
	return domain.StrategyFailure(wrapped)
}

func (o *Orchestrator) fail(ctx context.Context, stats *domain.CycleStats, s Strategy, op string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	err = o.classify(s, op, err)
	stats.Errors++
	o.health.RecordError(string(s.Key()), err)
	o.logger.ErrorContext(ctx, "strategy "+op+" failed",
		slog.String("strategy", s.Name()),
		slog.String("kind", domain.Classify(err).String()),
		slog.String("error", err.Error()),
	)
	if o.recorder != nil {
		o.recorder.RecordError(ctx, string(s.Key()), err)
	}
}

// Run calls RunCycle every interval until ctx ends.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration, simulate bool) error {
	o.logger.InfoContext(ctx, "orchestrator started",
		slog.Duration("interval", interval),
		slog.Bool("simulate", simulate),
	)
	defer o.logger.Info("orchestrator stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		o.RunCycle(ctx, simulate)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CombinedPerformance sums the per-strategy records.
type CombinedPerformance struct {
	TotalTrades    int     `json:"total_trades"`
	TotalProfit    float64 `json:"total_profit"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	OverallWinRate float64 `json:"overall_win_rate"`
	OpenPositions  int     `json:"open_positions"`
}

// PerformanceSummary merges every strategy's performance.
type PerformanceSummary struct {
	TotalStrategies   int                            `json:"total_strategies"`
	EnabledStrategies int                            `json:"enabled_strategies"`
	TotalCapital      float64                        `json:"total_capital"`
	Capital           map[domain.StrategyKey]float64 `json:"capital_allocated"`
	Strategies        []domain.Performance           `json:"strategies"`
	Combined          CombinedPerformance            `json:"combined"`
	Cycles            uint64                         `json:"cycles"`
	LastCycle         *domain.CycleStats             `json:"last_cycle,omitempty"`
	Details           map[domain.StrategyKey]any     `json:"details,omitempty"`
}

// GetPerformanceSummary returns per-strategy and combined performance.
func (o *Orchestrator) GetPerformanceSummary() PerformanceSummary {
	o.mu.Lock()
	slots := make([]slot, len(o.slots))
	for i, sl := range o.slots {
		slots[i] = *sl
	}
	sum := PerformanceSummary{
		TotalStrategies: len(o.slots),
		TotalCapital:    o.cfg.TotalCapital,
		Capital:         make(map[domain.StrategyKey]float64, len(o.slots)),
		Cycles:          o.cycles,
	}
	if o.last != nil {
		last := *o.last
		sum.LastCycle = &last
	}
	o.mu.Unlock()

	for _, sl := range slots {
		p := sl.strategy.Performance()
		p.Enabled = p.Enabled && !sl.failed
		if p.Enabled {
			sum.EnabledStrategies++
		}
		sum.Capital[sl.strategy.Key()] = sl.capital
		if in, ok := sl.strategy.(Inspector); ok {
			if sum.Details == nil {
				sum.Details = make(map[domain.StrategyKey]any)
			}
			sum.Details[sl.strategy.Key()] = in.Inspect()
		}
		sum.Strategies = append(sum.Strategies, p)
		sum.Combined.TotalTrades += p.TotalTrades
		sum.Combined.TotalProfit += p.TotalProfit
		sum.Combined.WinningTrades += p.Wins
		sum.Combined.LosingTrades += p.Losses
		sum.Combined.OpenPositions += p.OpenPositions
	}
	if sum.Combined.TotalTrades > 0 {
		sum.Combined.OverallWinRate = float64(sum.Combined.WinningTrades) / float64(sum.Combined.TotalTrades) * 100
	}
	return sum
}
