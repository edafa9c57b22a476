// Package state owns the bot's runtime view: lifecycle status, the market in
// focus, open positions, recent trades and errors. Every change is forwarded
// to the configured sinks as a StateUpdate.
package state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

const (
	maxRecentTrades = 50
	maxRecentErrors = 20
)

// Status is the bot lifecycle status.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusStopped      Status = "stopped"
)

// ErrorRecord is one entry of the recent-error list.
type ErrorRecord struct {
	Source  string    `json:"source"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"timestamp"`
}

// Opportunity is the last signal any strategy produced.
type Opportunity struct {
	Strategy   domain.StrategyKey `json:"strategy"`
	Source     string             `json:"source"`
	MarketID   string             `json:"market_id"`
	Expected   float64            `json:"expected_profit"`
	Reason     string             `json:"reason"`
	DetectedAt time.Time          `json:"detected_at"`
}

// Totals aggregates closed trades across strategies.
type Totals struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	NetProfit     float64 `json:"net_profit"`
	WinRate       float64 `json:"win_rate"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// Snapshot is a copy of the state safe to hand to other goroutines.
type Snapshot struct {
	Status          Status               `json:"status"`
	Mode            string               `json:"mode"`
	Circuit         domain.CircuitState  `json:"circuit"`
	StartedAt       time.Time            `json:"started_at"`
	LastUpdate      time.Time            `json:"last_update"`
	CurrentMarket   *domain.Market       `json:"current_market"`
	OpenPositions   []domain.Position    `json:"open_positions"`
	RecentTrades    []domain.TradeRecord `json:"recent_trades"`
	Errors          []ErrorRecord        `json:"errors"`
	Totals          Totals               `json:"performance"`
	Strategies      []domain.Performance `json:"strategies,omitempty"`
	LastCycle       *domain.CycleStats   `json:"last_cycle,omitempty"`
	LastOpportunity *Opportunity         `json:"last_opportunity,omitempty"`
}

// Settler books the outcome of a closed simulated position. The paper ledger
// implements it.
type Settler interface {
	Settle(ctx context.Context, p domain.Position)
}

// Option configures a Store.
type Option func(*Store)

// WithSink adds a destination for state updates.
func WithSink(s domain.StateSink) Option {
	return func(st *Store) {
		if s != nil {
			st.sinks = append(st.sinks, s)
		}
	}
}

// WithJournal appends position events to an audit journal.
func WithJournal(j domain.JournalStore) Option {
	return func(st *Store) { st.journal = j }
}

// WithSettler routes closed simulated positions to a paper ledger.
func WithSettler(s Settler) Option {
	return func(st *Store) { st.settler = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// WithPerformance sets the source of per-strategy performance, refreshed on
// every recorded cycle.
func WithPerformance(fn func() []domain.Performance) Option {
	return func(st *Store) { st.perf = fn }
}

// Store is the single owner of bot state. Safe for concurrent use.
type Store struct {
	sinks   []domain.StateSink
	journal domain.JournalStore
	settler Settler
	perf    func() []domain.Performance
	now     func() time.Time
	logger  *slog.Logger

	mu         sync.RWMutex
	mode       string
	status     Status
	circuit    domain.CircuitState
	startedAt  time.Time
	lastUpdate time.Time
	market     *domain.Market
	open       map[string]domain.Position
	trades     []domain.TradeRecord
	errors     []ErrorRecord
	totals     Totals
	strategies []domain.Performance
	cycle      *domain.CycleStats
	opp        *Opportunity
}

// New creates a Store in the initializing status.
func New(mode string, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		now:    time.Now,
		logger: logger.With(slog.String("component", "state")),
		mode:   mode,
		status: StatusInitializing,
		open:   make(map[string]domain.Position),
	}
	for _, o := range opts {
		o(s)
	}
	s.startedAt = s.now()
	s.lastUpdate = s.startedAt
	return s
}

// SetStatus changes the lifecycle status.
func (s *Store) SetStatus(ctx context.Context, st Status) {
	s.mu.Lock()
	s.status = st
	s.touch()
	s.mu.Unlock()
	s.publish(ctx, "status", map[string]any{"status": string(st), "mode": s.mode})
}

// SetMarket records the market currently in focus.
func (s *Store) SetMarket(ctx context.Context, m domain.Market) {
	s.mu.Lock()
	s.market = &m
	s.touch()
	s.mu.Unlock()
	s.publish(ctx, "market", map[string]any{
		"market_id": m.ID,
		"question":  m.Question,
		"end_time":  m.EndTime,
	})
}

// ObservePosition tracks a position opening or closing. It has the signature
// of a strategy position observer.
func (s *Store) ObservePosition(ctx context.Context, p domain.Position) {
	if p.Status != domain.PositionStatusClosed {
		s.mu.Lock()
		s.open[p.ID] = p
		s.touch()
		s.mu.Unlock()
		s.append(ctx, "position_opened", p)
		s.publish(ctx, "position_opened", map[string]any{
			"position_id": p.ID,
			"strategy":    string(p.Strategy),
			"market_id":   p.MarketID,
			"cost":        p.Cost,
			"expected":    p.Expected,
		})
		return
	}

	simulated, _ := p.State["simulated"].(bool)
	closedAt := s.now()
	if p.ClosedAt != nil {
		closedAt = *p.ClosedAt
	}
	rec := domain.TradeRecord{
		PositionID: p.ID,
		Strategy:   p.Strategy,
		MarketID:   p.MarketID,
		Reason:     p.Reason,
		PnL:        p.PnL,
		Simulated:  simulated,
		ClosedAt:   closedAt,
	}

	s.mu.Lock()
	delete(s.open, p.ID)
	s.trades = append([]domain.TradeRecord{rec}, s.trades...)
	if len(s.trades) > maxRecentTrades {
		s.trades = s.trades[:maxRecentTrades]
	}
	s.totals.TotalTrades++
	if p.PnL > 0 {
		s.totals.WinningTrades++
	} else {
		s.totals.LosingTrades++
	}
	s.totals.NetProfit += p.PnL
	s.totals.WinRate = float64(s.totals.WinningTrades) / float64(s.totals.TotalTrades)
	s.touch()
	s.mu.Unlock()

	if simulated && s.settler != nil {
		s.settler.Settle(ctx, p)
	}
	s.append(ctx, "position_closed", p)
	s.publish(ctx, "trade_closed", map[string]any{
		"position_id": p.ID,
		"strategy":    string(p.Strategy),
		"market_id":   p.MarketID,
		"reason":      string(p.Reason),
		"pnl":         p.PnL,
		"simulated":   simulated,
	})
}

// RecordSignal remembers the last opportunity.
func (s *Store) RecordSignal(ctx context.Context, sig domain.Signal) {
	opp := Opportunity{
		Strategy:   sig.Strategy,
		Source:     sig.Source,
		MarketID:   sig.MarketID,
		Expected:   sig.Expected,
		Reason:     sig.Reason,
		DetectedAt: sig.CreatedAt,
	}
	if opp.DetectedAt.IsZero() {
		opp.DetectedAt = s.now()
	}
	s.mu.Lock()
	s.opp = &opp
	s.touch()
	s.mu.Unlock()
	s.publish(ctx, "opportunity", map[string]any{
		"strategy":  string(opp.Strategy),
		"market_id": opp.MarketID,
		"expected":  opp.Expected,
		"reason":    opp.Reason,
	})
}

// RecordCycle stores the stats of a finished orchestration cycle and
// refreshes strategy performance.
func (s *Store) RecordCycle(ctx context.Context, stats domain.CycleStats) {
	var perf []domain.Performance
	if s.perf != nil {
		perf = s.perf()
	}
	s.mu.Lock()
	s.cycle = &stats
	if perf != nil {
		s.strategies = perf
	}
	s.touch()
	s.mu.Unlock()
	s.publish(ctx, "cycle", map[string]any{
		"seq":           stats.Seq,
		"duration_ms":   stats.Duration.Milliseconds(),
		"opportunities": stats.OpportunitiesFound,
		"trades":        stats.TradesExecuted,
		"closed":        stats.PositionsClosed,
		"errors":        stats.Errors,
	})
}

// RecordError adds to the recent-error list.
func (s *Store) RecordError(ctx context.Context, source string, err error) {
	if err == nil {
		return
	}
	rec := ErrorRecord{
		Source:  source,
		Kind:    domain.Classify(err).String(),
		Message: err.Error(),
		At:      s.now(),
	}
	s.mu.Lock()
	s.errors = append([]ErrorRecord{rec}, s.errors...)
	if len(s.errors) > maxRecentErrors {
		s.errors = s.errors[:maxRecentErrors]
	}
	s.touch()
	s.mu.Unlock()
	s.publish(ctx, "error", map[string]any{
		"source":  rec.Source,
		"kind":    rec.Kind,
		"message": rec.Message,
	})
}

// RecordCircuit notes a circuit breaker transition.
func (s *Store) RecordCircuit(ctx context.Context, from, to domain.CircuitState) {
	s.mu.Lock()
	s.circuit = to
	s.touch()
	s.mu.Unlock()
	s.publish(ctx, "circuit", map[string]any{"from": from.String(), "to": to.String()})
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Status:        s.status,
		Mode:          s.mode,
		Circuit:       s.circuit,
		StartedAt:     s.startedAt,
		LastUpdate:    s.lastUpdate,
		OpenPositions: make([]domain.Position, 0, len(s.open)),
		RecentTrades:  append([]domain.TradeRecord(nil), s.trades...),
		Errors:        append([]ErrorRecord(nil), s.errors...),
		Totals:        s.totals,
		Strategies:    append([]domain.Performance(nil), s.strategies...),
	}
	snap.Totals.UptimeSeconds = int64(s.now().Sub(s.startedAt).Seconds())
	if s.market != nil {
		m := *s.market
		snap.CurrentMarket = &m
	}
	for _, p := range s.open {
		snap.OpenPositions = append(snap.OpenPositions, p)
	}
	sort.Slice(snap.OpenPositions, func(i, j int) bool {
		return snap.OpenPositions[i].OpenedAt.Before(snap.OpenPositions[j].OpenedAt)
	})
	if s.cycle != nil {
		c := *s.cycle
		snap.LastCycle = &c
	}
	if s.opp != nil {
		o := *s.opp
		snap.LastOpportunity = &o
	}
	return snap
}

// Uptime returns the time since the store was created.
func (s *Store) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}

// touch must be called with mu held.
func (s *Store) touch() { s.lastUpdate = s.now() }

func (s *Store) publish(ctx context.Context, typ string, data map[string]any) {
	if len(s.sinks) == 0 {
		return
	}
	u := domain.StateUpdate{Type: typ, Data: data, Timestamp: s.now()}
	for _, sink := range s.sinks {
		if err := sink.PublishState(ctx, u); err != nil {
			s.logger.WarnContext(ctx, "state publish failed",
				slog.String("type", typ),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Store) append(ctx context.Context, event string, p domain.Position) {
	if s.journal == nil {
		return
	}
	simulated, _ := p.State["simulated"].(bool)
	entry := domain.JournalEntry{
		Event:      event,
		Strategy:   p.Strategy,
		PositionID: p.ID,
		MarketID:   p.MarketID,
		Simulated:  simulated,
		PnL:        p.PnL,
		Detail: map[string]any{
			"cost":     p.Cost,
			"expected": p.Expected,
			"reason":   string(p.Reason),
			"orders":   len(p.Orders),
		},
		CreatedAt: s.now(),
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "journal append failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}
