// Package scanner discovers tradeable markets from the catalog and owns the
// registry of markets currently being tracked.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Config holds discovery parameters.
type Config struct {
	MaxMarkets       int
	MinTimeRemaining time.Duration
	ScanInterval     time.Duration
	FetchLimit       int
	FetchTimeout     time.Duration
	IncludeKeywords  []string
	ExcludeKeywords  []string
}

// Observer is notified when a market enters or leaves the registry.
type Observer func(m domain.Market)

// Scanner periodically fetches the catalog, filters it and keeps at most
// MaxMarkets markets registered. It is the only writer of the registry; every
// other component reads through its accessors.
type Scanner struct {
	catalog domain.Catalog
	cfg     Config
	include []string
	exclude []string
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.RWMutex
	markets   map[string]domain.Market
	order     []string
	lastScan  time.Time
	scans     int
	discarded int
	running   bool
	onAdded   []Observer
	onRemoved []Observer
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New creates a Scanner over catalog.
func New(catalog domain.Catalog, cfg Config, logger *slog.Logger, opts ...Option) *Scanner {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 500
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	s := &Scanner{
		catalog: catalog,
		cfg:     cfg,
		include: lowerAll(cfg.IncludeKeywords),
		exclude: lowerAll(cfg.ExcludeKeywords),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "scanner")),
		markets: make(map[string]domain.Market),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnAdded registers fn to be called for every newly registered market.
func (s *Scanner) OnAdded(fn Observer) {
	s.mu.Lock()
	s.onAdded = append(s.onAdded, fn)
	s.mu.Unlock()
}

// OnRemoved registers fn to be called for every evicted market.
func (s *Scanner) OnRemoved(fn Observer) {
	s.mu.Lock()
	s.onRemoved = append(s.onRemoved, fn)
	s.mu.Unlock()
}

// Scan fetches the catalog once and registers matching markets in catalog
// order until the registry is full. It returns the number of markets added.
// Records that fail filtering or side resolution are skipped; only a failed
// fetch is returned as an error.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	s.mu.RLock()
	free := s.cfg.MaxMarkets - len(s.markets)
	s.mu.RUnlock()
	if free <= 0 {
		s.logger.DebugContext(ctx, "registry full, scan skipped")
		return 0, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	entries, err := s.catalog.ListActiveMarkets(fetchCtx, s.cfg.FetchLimit)
	cancel()
	if err != nil {
		return 0, domain.Transient(fmt.Errorf("scanner: fetch catalog: %w", err))
	}

	now := s.now()
	var added []domain.Market
	discarded := 0

	s.mu.Lock()
	for _, e := range entries {
		if len(s.markets) >= s.cfg.MaxMarkets {
			s.logger.InfoContext(ctx, "reached max markets, stopping scan",
				slog.Int("max_markets", s.cfg.MaxMarkets),
			)
			break
		}
		if e.ID == "" {
			discarded++
			continue
		}
		if _, ok := s.markets[e.ID]; ok {
			continue
		}
		if !s.matches(e) {
			continue
		}
		m, err := s.build(e, now)
		if err != nil {
			discarded++
			if domain.Classify(err) == domain.KindMalformed {
				s.logger.WarnContext(ctx, "market discarded",
					slog.String("market_id", e.ID),
					slog.String("question", truncate(e.Question, 80)),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		s.markets[m.ID] = m
		s.order = append(s.order, m.ID)
		added = append(added, m)
	}
	s.lastScan = now
	s.scans++
	s.discarded += discarded
	total := len(s.markets)
	observers := append([]Observer(nil), s.onAdded...)
	s.mu.Unlock()

	for _, m := range added {
		s.logger.InfoContext(ctx, "new market",
			slog.String("market_id", m.ID),
			slog.String("question", truncate(m.Question, 80)),
			slog.Duration("remaining", m.Remaining(now).Round(time.Second)),
		)
		for _, fn := range observers {
			fn(m)
		}
	}
	if len(added) > 0 {
		s.logger.InfoContext(ctx, "scan complete",
			slog.Int("new", len(added)),
			slog.Int("total", total),
		)
	}
	return len(added), nil
}

// errTooShort marks a record whose remaining lifetime is below the minimum.
var errTooShort = errors.New("insufficient time remaining")

func (s *Scanner) build(e domain.CatalogEntry, now time.Time) (domain.Market, error) {
	if strings.TrimSpace(e.EndDate) == "" {
		return domain.Market{}, errTooShort
	}
	end, err := ParseEndDate(e.EndDate)
	if err != nil {
		return domain.Market{}, domain.Malformed(err)
	}
	if end.Sub(now) <= s.cfg.MinTimeRemaining {
		return domain.Market{}, errTooShort
	}
	sides, ok := ResolveSides(e)
	if !ok {
		return domain.Market{}, domain.Malformed(fmt.Errorf("scanner: market %s: %w", e.ID, domain.ErrNoSides))
	}
	return domain.Market{
		ID:           e.ID,
		Question:     e.Question,
		Description:  e.Description,
		Slug:         e.Slug,
		EndTime:      end,
		Sides:        sides,
		DiscoveredAt: now,
	}, nil
}

// matches applies the include/exclude keyword filter over question,
// description and slug. An empty include list accepts everything.
func (s *Scanner) matches(e domain.CatalogEntry) bool {
	text := strings.ToLower(e.Question + " " + e.Description + " " + e.Slug)
	for _, kw := range s.exclude {
		if strings.Contains(text, kw) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, kw := range s.include {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Cleanup evicts every market whose end time has passed and returns how many
// were removed. Calling it repeatedly is safe.
func (s *Scanner) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	var removed []domain.Market
	kept := s.order[:0]
	for _, id := range s.order {
		m := s.markets[id]
		if m.Expired(now) {
			delete(s.markets, id)
			removed = append(removed, m)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	observers := append([]Observer(nil), s.onRemoved...)
	s.mu.Unlock()

	for _, m := range removed {
		s.logger.Info("market closed",
			slog.String("market_id", m.ID),
			slog.String("question", truncate(m.Question, 60)),
		)
		for _, fn := range observers {
			fn(m)
		}
	}
	return len(removed)
}

// Run scans immediately and then every ScanInterval, evicting expired markets
// before each scan. Fetch failures are logged and retried on the next tick.
// It returns when ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.InfoContext(ctx, "market scanner started",
		slog.Duration("interval", s.cfg.ScanInterval),
		slog.Int("max_markets", s.cfg.MaxMarkets),
	)
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	s.Cleanup()
	s.mu.RLock()
	full := len(s.markets) >= s.cfg.MaxMarkets
	s.mu.RUnlock()
	if full {
		return
	}
	if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "market scan failed",
			slog.String("kind", domain.Classify(err).String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scanner) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Active returns the registered markets in discovery order.
func (s *Scanner) Active() []domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Market, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.markets[id])
	}
	return out
}

// Get returns a registered market by id.
func (s *Scanner) Get(id string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	return m, ok
}

// Sides returns the side token ids of a registered market.
func (s *Scanner) Sides(id string) (domain.Sides, bool) {
	m, ok := s.Get(id)
	return m.Sides, ok
}

// Stats summarises the registry.
type Stats struct {
	ActiveMarkets  int      `json:"active_markets"`
	MaxMarkets     int      `json:"max_markets"`
	LastScanAgeSec *float64 `json:"last_scan_age_seconds"`
	TotalScans     int      `json:"total_scans"`
	Discarded      int      `json:"discarded"`
	Running        bool     `json:"running"`
}

// Stats returns registry counters.
func (s *Scanner) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		ActiveMarkets: len(s.markets),
		MaxMarkets:    s.cfg.MaxMarkets,
		TotalScans:    s.scans,
		Discarded:     s.discarded,
		Running:       s.running,
	}
	if !s.lastScan.IsZero() {
		age := s.now().Sub(s.lastScan).Seconds()
		st.LastScanAgeSec = &age
	}
	return st
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
