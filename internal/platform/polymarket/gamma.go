package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// GammaClient reads the Gamma market catalog. It implements domain.Catalog.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a catalog client for baseURL, e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ListActiveMarkets returns up to limit open, unclosed markets.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, limit int) ([]domain.CatalogEntry, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))

	body, err := get(ctx, g.httpClient, g.baseURL+"/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, domain.Malformed(fmt.Errorf("polymarket/gamma: decode markets: %w", err))
	}
	out := make([]domain.CatalogEntry, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.ToCatalogEntry())
	}
	return out, nil
}
