package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	mu      sync.Mutex
	entries []domain.CatalogEntry
	err     error
	calls   int
	limit   int
}

func (f *fakeCatalog) ListActiveMarkets(ctx context.Context, limit int) ([]domain.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.CatalogEntry(nil), f.entries...), nil
}

func entry(id, question string, end time.Duration) domain.CatalogEntry {
	return domain.CatalogEntry{
		ID:       id,
		Question: question,
		Slug:     "slug-" + id,
		EndDate:  now.Add(end).Format(time.RFC3339),
		Tokens: []domain.OutcomeToken{
			{TokenID: id + "-yes", Outcome: "Yes"},
			{TokenID: id + "-no", Outcome: "No"},
		},
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newScanner(cat domain.Catalog, max int) (*Scanner, *clock) {
	clk := &clock{t: now}
	cfg := Config{
		MaxMarkets:       max,
		MinTimeRemaining: 120 * time.Second,
		ScanInterval:     10 * time.Millisecond,
		IncludeKeywords:  []string{"BTC", "Bitcoin", "5 min"},
		ExcludeKeywords:  []string{"test", "demo"},
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(cat, cfg, logger, WithClock(clk.Now)), clk
}

func TestScanFiltersAndRegisters(t *testing.T) {
	cat := &fakeCatalog{entries: []domain.CatalogEntry{
		entry("1", "Will BTC go up in the next 5 min?", time.Hour),
		entry("2", "Will it rain in Paris?", time.Hour),
		entry("3", "Bitcoin test market", time.Hour),
		entry("4", "BTC above 100k?", time.Minute), // too little time left
		entry("5", "ETH 5 min up or down", time.Hour),
	}}
	s, _ := newScanner(cat, 10)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 500, cat.limit)

	ids := []string{}
	for _, m := range s.Active() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "5"}, ids)

	sides, ok := s.Sides("1")
	require.True(t, ok)
	assert.Equal(t, domain.Sides{Up: "1-yes", Down: "1-no"}, sides)

	m, ok := s.Get("5")
	require.True(t, ok)
	assert.Equal(t, now, m.DiscoveredAt)
	assert.Equal(t, now.Add(time.Hour), m.EndTime)
}

func TestScanSkipsAlreadyRegistered(t *testing.T) {
	cat := &fakeCatalog{entries: []domain.CatalogEntry{entry("1", "BTC 5 min", time.Hour)}}
	s, _ := newScanner(cat, 10)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, s.Active(), 1)
}

func TestScanAtCapacityRegistersNothing(t *testing.T) {
	cat := &fakeCatalog{entries: []domain.CatalogEntry{
		entry("A", "BTC a", time.Hour),
		entry("B", "BTC b", time.Hour),
	}}
	s, _ := newScanner(cat, 2)
	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	cat.entries = append(cat.entries, entry("C", "BTC c", time.Hour))
	n, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, ok := s.Get("C")
	assert.False(t, ok)
}

func TestScanTakesCatalogOrderUpToCapacity(t *testing.T) {
	var entries []domain.CatalogEntry
	for i := 0; i < 10; i++ {
		entries = append(entries, entry(strconv.Itoa(i), "BTC market", time.Hour))
	}
	s, _ := newScanner(&fakeCatalog{entries: entries}, 3)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, len(s.Active()))
	for i, m := range s.Active() {
		assert.Equal(t, strconv.Itoa(i), m.ID)
	}
}

func TestScanDiscardsUnresolvableSides(t *testing.T) {
	bad := entry("1", "BTC one-sided", time.Hour)
	bad.Tokens = bad.Tokens[:1]
	noDate := entry("2", "BTC no date", time.Hour)
	noDate.EndDate = ""
	garbled := entry("3", "BTC garbled date", time.Hour)
	garbled.EndDate = "next tuesday"

	s, _ := newScanner(&fakeCatalog{entries: []domain.CatalogEntry{bad, noDate, garbled}}, 10)
	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, s.Active())
	assert.Equal(t, 3, s.Stats().Discarded)
}

func TestScanFetchErrorIsTransient(t *testing.T) {
	s, _ := newScanner(&fakeCatalog{err: errors.New("connection reset")}, 10)
	_, err := s.Scan(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, domain.KindTransient, domain.Classify(err))
}

func TestCleanupEvictsExpiredIdempotently(t *testing.T) {
	cat := &fakeCatalog{entries: []domain.CatalogEntry{
		entry("1", "BTC short", 5*time.Minute),
		entry("2", "BTC long", time.Hour),
	}}
	s, clk := newScanner(cat, 10)

	var removed []string
	s.OnRemoved(func(m domain.Market) { removed = append(removed, m.ID) })

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, s.Cleanup())

	clk.Set(now.Add(5 * time.Minute)) // end_time - now == 0
	assert.Equal(t, 1, s.Cleanup())
	assert.Equal(t, 0, s.Cleanup())
	assert.Equal(t, []string{"1"}, removed)

	_, ok := s.Get("1")
	assert.False(t, ok)
	assert.Len(t, s.Active(), 1)
}

func TestOnAddedObserver(t *testing.T) {
	s, _ := newScanner(&fakeCatalog{entries: []domain.CatalogEntry{entry("1", "BTC", time.Hour)}}, 10)
	var added []domain.Market
	s.OnAdded(func(m domain.Market) { added = append(added, m) })
	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "1", added[0].ID)
}

func TestEmptyIncludeMatchesEverything(t *testing.T) {
	cat := &fakeCatalog{entries: []domain.CatalogEntry{entry("1", "Anything at all", time.Hour)}}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := New(cat, Config{MaxMarkets: 5}, logger, WithClock(func() time.Time { return now }))
	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	cat := &fakeCatalog{err: errors.New("timeout")}
	s, _ := newScanner(cat, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		cat.mu.Lock()
		defer cat.mu.Unlock()
		return cat.calls >= 3
	}, time.Second, 5*time.Millisecond)

	cat.mu.Lock()
	cat.err = nil
	cat.entries = []domain.CatalogEntry{entry("1", "BTC", time.Hour)}
	cat.mu.Unlock()

	assert.Eventually(t, func() bool { return len(s.Active()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Stats().Running)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, s.Stats().Running)
}
