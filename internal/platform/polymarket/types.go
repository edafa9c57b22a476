package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// flexStrings decodes either a JSON array of strings or a string holding a
// JSON-encoded array, which is how the catalog sends clobTokenIds.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return fmt.Errorf("polymarket: encoded string list: %w", err)
	}
	*f = arr
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// APIMarket is a market record from the Gamma catalog.
type APIMarket struct {
	ID           flexString  `json:"id"`
	Question     string      `json:"question"`
	Description  string      `json:"description"`
	Slug         string      `json:"slug"`
	EndDateISO   string      `json:"end_date_iso"`
	EndDate      string      `json:"endDate"`
	Tokens       []APIToken  `json:"tokens"`
	ClobTokenIDs flexStrings `json:"clobTokenIds"`
}

// APIToken is one outcome of a catalog market.
type APIToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// ToCatalogEntry converts the record for the scanner.
func (m APIMarket) ToCatalogEntry() domain.CatalogEntry {
	e := domain.CatalogEntry{
		ID:           string(m.ID),
		Question:     m.Question,
		Description:  m.Description,
		Slug:         m.Slug,
		EndDate:      m.EndDateISO,
		ClobTokenIDs: []string(m.ClobTokenIDs),
	}
	if e.EndDate == "" {
		e.EndDate = m.EndDate
	}
	for _, t := range m.Tokens {
		e.Tokens = append(e.Tokens, domain.OutcomeToken{TokenID: t.TokenID, Outcome: t.Outcome})
	}
	return e
}

// APILevel is a book level with string-encoded numbers.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the GET /book response.
type APIBook struct {
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp flexString `json:"timestamp"`
}

// ToDomain parses the levels. Unparseable levels are dropped.
func (b APIBook) ToDomain(tokenID string, now time.Time) domain.OrderBook {
	ob := domain.OrderBook{TokenID: tokenID, Timestamp: now}
	if b.AssetID != "" {
		ob.TokenID = b.AssetID
	}
	ob.Bids = levels(b.Bids)
	ob.Asks = levels(b.Asks)
	if ms, err := strconv.ParseInt(string(b.Timestamp), 10, 64); err == nil && ms > 0 {
		ob.Timestamp = time.UnixMilli(ms)
	}
	return ob
}

func levels(in []APILevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, err1 := strconv.ParseFloat(l.Price, 64)
		s, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// APIOrderResult is the POST /order response.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// APIOrder is the GET /data/order/{id} response.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// DomainStatus maps the venue status. A live order whose matched size has
// reached its original size counts as matched.
func (o APIOrder) DomainStatus() domain.OrderStatus {
	switch strings.ToLower(o.Status) {
	case "matched", "filled":
		return domain.OrderStatusMatched
	case "cancelled", "canceled", "unmatched":
		return domain.OrderStatusCancelled
	case "live", "open", "delayed":
		orig, err1 := strconv.ParseFloat(o.OriginalSize, 64)
		matched, err2 := strconv.ParseFloat(o.SizeMatched, 64)
		if err1 == nil && err2 == nil && orig > 0 && matched >= orig {
			return domain.OrderStatusMatched
		}
		return domain.OrderStatusOpen
	default:
		return domain.OrderStatusUnknown
	}
}
