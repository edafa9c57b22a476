// Package spike flags sharp moves in a scalar price series.
package spike

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Config holds detector thresholds.
type Config struct {
	MinMove     float64
	WindowMin   time.Duration
	WindowMax   time.Duration
	Cooldown    time.Duration
	HistorySize int
}

// DefaultConfig returns the thresholds used for BTC/USDT trades.
func DefaultConfig() Config {
	return Config{
		MinMove:     150,
		WindowMin:   3 * time.Second,
		WindowMax:   10 * time.Second,
		Cooldown:    30 * time.Second,
		HistorySize: 100,
	}
}

// Sample is one observation of the series.
type Sample struct {
	Value float64
	At    time.Time
}

// Detector keeps a bounded history of samples and reports spikes between the
// newest sample and an older one inside the configured window. Safe for
// concurrent use.
type Detector struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	ring      []Sample
	head      int // index of the oldest sample once the ring is full
	count     uint64
	lastSpike time.Time
	spiked    bool
}

// New creates a Detector. A nil clock means time.Now.
func New(cfg Config, clock func() time.Time) *Detector {
	if cfg.HistorySize < 2 {
		cfg.HistorySize = 2
	}
	if clock == nil {
		clock = time.Now
	}
	return &Detector{
		cfg:  cfg,
		now:  clock,
		ring: make([]Sample, 0, cfg.HistorySize),
	}
}

// AddSample appends a value. A zero at means now. Once the history is full
// the oldest sample is evicted.
func (d *Detector) AddSample(value float64, at time.Time) {
	if at.IsZero() {
		at = d.now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Sample{Value: value, At: at}
	if len(d.ring) < cap(d.ring) {
		d.ring = append(d.ring, s)
		return
	}
	d.ring[d.head] = s
	d.head = (d.head + 1) % len(d.ring)
}

// at returns the i-th sample in time order, 0 being the oldest.
func (d *Detector) at(i int) Sample {
	return d.ring[(d.head+i)%len(d.ring)]
}

// Detect compares the newest sample against every older sample whose age
// relative to it lies within [WindowMin, WindowMax] and reports the largest
// move when it reaches MinMove. It returns nil while in cooldown, with fewer
// than two samples, or when no sample falls inside the window. Cooldown is
// measured on sample time so replayed series behave the same as live ones.
func (d *Detector) Detect() *domain.SpikeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.ring)
	if n < 2 {
		return nil
	}
	newest := d.at(n - 1)
	if d.spiked && newest.At.Sub(d.lastSpike) < d.cfg.Cooldown {
		return nil
	}

	var (
		anchor Sample
		found  bool
		best   float64
	)
	for i := n - 2; i >= 0; i-- {
		s := d.at(i)
		age := newest.At.Sub(s.At)
		if age < d.cfg.WindowMin {
			continue
		}
		if age > d.cfg.WindowMax {
			break
		}
		delta := newest.Value - s.Value
		if !found || math.Abs(delta) > math.Abs(best) {
			anchor, best, found = s, delta, true
		}
	}
	if !found || math.Abs(best) < d.cfg.MinMove {
		return nil
	}

	d.count++
	d.lastSpike = newest.At
	d.spiked = true

	dir := domain.SpikeUp
	if best < 0 {
		dir = domain.SpikeDown
	}
	var pct float64
	if anchor.Value != 0 {
		pct = best / anchor.Value * 100
	}
	return &domain.SpikeEvent{
		ID:         uuid.NewString(),
		Seq:        d.count,
		Direction:  dir,
		Delta:      best,
		PctChange:  pct,
		OldPrice:   anchor.Value,
		NewPrice:   newest.Value,
		OldAt:      anchor.At,
		NewAt:      newest.At,
		Window:     newest.At.Sub(anchor.At),
		DetectedAt: newest.At,
	}
}

// ResetCooldown forgets the last emitted spike.
func (d *Detector) ResetCooldown() {
	d.mu.Lock()
	d.spiked = false
	d.lastSpike = time.Time{}
	d.mu.Unlock()
}

// Stats is a snapshot of detector counters.
type Stats struct {
	TotalSpikes     uint64    `json:"total_spikes"`
	LastSpikeAt     time.Time `json:"last_spike_time"`
	SinceLastSpike  float64   `json:"seconds_since_last_spike"`
	InCooldown      bool      `json:"in_cooldown"`
	HistorySize     int       `json:"price_history_size"`
	LastPrice       float64   `json:"last_price"`
	MinMove         float64   `json:"min_move"`
	CooldownSeconds float64   `json:"cooldown_seconds"`
}

// Stats returns the current counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{
		TotalSpikes:     d.count,
		HistorySize:     len(d.ring),
		MinMove:         d.cfg.MinMove,
		CooldownSeconds: d.cfg.Cooldown.Seconds(),
	}
	if n := len(d.ring); n > 0 {
		st.LastPrice = d.at(n - 1).Value
	}
	if d.spiked {
		st.LastSpikeAt = d.lastSpike
		st.SinceLastSpike = d.now().Sub(d.lastSpike).Seconds()
		st.InCooldown = d.now().Sub(d.lastSpike) < d.cfg.Cooldown
	}
	return st
}
