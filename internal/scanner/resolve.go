package scanner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

var (
	upOutcomes   = []string{"yes", "up", "higher"}
	downOutcomes = []string{"no", "down", "lower"}
)

// ResolveSides picks the up and down token ids of a catalog record. Outcome
// labels are tried first, then the first two tokens in order, then the first
// two CLOB token ids.
func ResolveSides(e domain.CatalogEntry) (domain.Sides, bool) {
	if len(e.Tokens) >= 2 {
		var s domain.Sides
		for _, t := range e.Tokens {
			outcome := strings.ToLower(t.Outcome)
			switch {
			case containsAny(outcome, upOutcomes):
				s.Up = t.TokenID
			case containsAny(outcome, downOutcomes):
				s.Down = t.TokenID
			}
		}
		if !s.Resolved() {
			s = domain.Sides{Up: e.Tokens[0].TokenID, Down: e.Tokens[1].TokenID}
		}
		return s, s.Resolved()
	}
	if len(e.ClobTokenIDs) >= 2 {
		s := domain.Sides{Up: e.ClobTokenIDs[0], Down: e.ClobTokenIDs[1]}
		return s, s.Resolved()
	}
	return domain.Sides{}, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var endDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseEndDate accepts an ISO-8601 timestamp or unix epoch seconds (or
// milliseconds). Times without a zone are taken as UTC.
func ParseEndDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		sec := int64(n)
		return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC(), nil
	}
	for _, layout := range endDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("scanner: unparseable end date %q", v)
}
