package domain

import "time"

// Sides holds the token ids of the two complementary outcomes of a market.
// Up is the "yes/up/higher" outcome, Down the "no/down/lower" one.
type Sides struct {
	Up   string `json:"up"`
	Down string `json:"down"`
}

// Resolved reports whether both side identifiers are known.
func (s Sides) Resolved() bool {
	return s.Up != "" && s.Down != ""
}

// Market is a tradeable prediction market tracked by the scanner registry.
type Market struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Description  string    `json:"description,omitempty"`
	Slug         string    `json:"slug"`
	EndTime      time.Time `json:"end_time"`
	Sides        Sides     `json:"sides"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Remaining returns the market lifetime left at now.
func (m Market) Remaining(now time.Time) time.Duration {
	return m.EndTime.Sub(now)
}

// Expired reports whether the market has reached its end of life.
func (m Market) Expired(now time.Time) bool {
	return m.Remaining(now) <= 0
}

// OutcomeToken is one outcome entry of a catalog record.
type OutcomeToken struct {
	TokenID string
	Outcome string
}

// CatalogEntry is a raw market record as returned by the catalog endpoint,
// before filtering and side resolution.
type CatalogEntry struct {
	ID           string
	Question     string
	Description  string
	Slug         string
	EndDate      string // ISO-8601 or unix epoch seconds
	Tokens       []OutcomeToken
	ClobTokenIDs []string
}
