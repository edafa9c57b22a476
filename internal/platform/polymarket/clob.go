package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/crypto"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

const (
	bookTimeout = 5 * time.Second
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// ClobClient is the REST client for the central limit order book. It
// implements domain.Venue. Book reads need no credentials; order calls need a
// signer and L2 credentials, either configured or obtained via DeriveAPIKey.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	sigType    int
	funder     string
	now        func() time.Time
	logger     *slog.Logger

	mu    sync.RWMutex
	creds crypto.Credentials
}

// ClobOption configures a ClobClient.
type ClobOption func(*ClobClient)

// WithSigner enables order signing. funder is the address holding the
// collateral when it differs from the signing key (proxy or safe wallets).
func WithSigner(s *crypto.Signer, sigType int, funder string) ClobOption {
	return func(c *ClobClient) {
		c.signer = s
		c.sigType = sigType
		c.funder = funder
	}
}

// WithCredentials sets pre-derived L2 credentials.
func WithCredentials(creds crypto.Credentials) ClobOption {
	return func(c *ClobClient) { c.creds = creds }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClobOption {
	return func(c *ClobClient) { c.httpClient = h }
}

// NewClobClient creates a client for baseURL, e.g.
// "https://clob.polymarket.com".
func NewClobClient(baseURL string, logger *slog.Logger, opts ...ClobOption) *ClobClient {
	c := &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		logger:     logger.With(slog.String("component", "clob")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetOrderBook fetches the book of one side token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	ctx, cancel := context.WithTimeout(ctx, bookTimeout)
	defer cancel()

	body, err := get(ctx, c.httpClient, c.baseURL+"/book?token_id="+url.QueryEscape(tokenID), nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: book %s: %w", tokenID, err)
	}
	var b APIBook
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.OrderBook{}, domain.Malformed(fmt.Errorf("polymarket/clob: decode book: %w", err))
	}
	return b.ToDomain(tokenID, c.now()), nil
}

// PlaceOrder signs and submits a GTC limit order.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	if req.Price <= 0 || req.Price >= 1 || req.Size <= 0 || req.TokenID == "" {
		return domain.OrderRef{}, fmt.Errorf("polymarket/clob: place: %w", domain.ErrInvalidOrder)
	}
	creds, err := c.ready()
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("polymarket/clob: place: %w", err)
	}

	payload := c.payload(req)
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("polymarket/clob: place: %w: %v", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     creds.Key,
		"orderType": "GTC",
	}
	resp, err := c.authed(ctx, creds, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("polymarket/clob: place: %w", err)
	}
	var res APIOrderResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return domain.OrderRef{}, domain.Malformed(fmt.Errorf("polymarket/clob: decode order result: %w", err))
	}
	if !res.Success || res.OrderID == "" {
		return domain.OrderRef{}, fmt.Errorf("polymarket/clob: order rejected: %s: %w", res.ErrorMsg, domain.ErrInvalidOrder)
	}

	ref := domain.OrderRef{
		ID:       res.OrderID,
		TokenID:  req.TokenID,
		Price:    req.Price,
		Size:     req.Size,
		Side:     req.Side,
		PlacedAt: c.now(),
	}
	c.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", ref.ID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.Float64("price", req.Price),
		slog.Float64("size", req.Size),
		slog.String("status", res.Status),
	)
	return ref, nil
}

// payload builds the signed order fields. Amounts are in 1e6 base units:
// a buy gives price*size collateral for size shares, a sell the reverse.
func (c *ClobClient) payload(req domain.OrderRequest) crypto.OrderPayload {
	signer := c.signer.Address().Hex()
	maker := signer
	if c.funder != "" {
		maker = c.funder
	}
	shares := units(req.Size)
	notional := units(req.Notional())
	p := crypto.OrderPayload{
		Salt:          strconv.FormatInt(c.now().UnixNano(), 10),
		Maker:         maker,
		Signer:        signer,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   notional,
		TakerAmount:   shares,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.sigType,
	}
	if req.Side == domain.OrderSideSell {
		p.Side = 1
		p.MakerAmount, p.TakerAmount = shares, notional
	}
	return p
}

func units(v float64) string {
	return strconv.FormatInt(int64(math.Round(v*1e6)), 10)
}

// CancelOrder cancels one order.
func (c *ClobClient) CancelOrder(ctx context.Context, ref domain.OrderRef) error {
	creds, err := c.ready()
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel %s: %w", ref.ID, err)
	}
	resp, err := c.authed(ctx, creds, http.MethodDelete, "/order", map[string]string{"orderID": ref.ID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel %s: %w", ref.ID, err)
	}
	var res struct {
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(resp, &res); err != nil {
		return domain.Malformed(fmt.Errorf("polymarket/clob: decode cancel: %w", err))
	}
	if reason, ok := res.NotCanceled[ref.ID]; ok {
		return fmt.Errorf("polymarket/clob: cancel %s refused: %s", ref.ID, reason)
	}
	return nil
}

// CancelAll cancels every open order of the account.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	creds, err := c.ready()
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}
	if _, err := c.authed(ctx, creds, http.MethodDelete, "/cancel-all", nil); err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}
	return nil
}

// GetOrderStatus reads an order's status.
func (c *ClobClient) GetOrderStatus(ctx context.Context, ref domain.OrderRef) (domain.OrderStatus, error) {
	creds, err := c.ready()
	if err != nil {
		return domain.OrderStatusUnknown, fmt.Errorf("polymarket/clob: status %s: %w", ref.ID, err)
	}
	resp, err := c.authed(ctx, creds, http.MethodGet, "/data/order/"+url.PathEscape(ref.ID), nil)
	if err != nil {
		return domain.OrderStatusUnknown, fmt.Errorf("polymarket/clob: status %s: %w", ref.ID, err)
	}
	var o APIOrder
	if err := json.Unmarshal(resp, &o); err != nil {
		return domain.OrderStatusUnknown, domain.Malformed(fmt.Errorf("polymarket/clob: decode order: %w", err))
	}
	return o.DomainStatus(), nil
}

// DeriveAPIKey obtains L2 credentials with an L1 (wallet-signed) request and
// keeps them for later calls.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.Credentials, error) {
	if c.signer == nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrUnauthorized)
	}
	ts := c.now().Unix()
	sig, err := c.signer.SignAuthMessage(ts, 0)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w: %v", domain.ErrSigningFailed, err)
	}
	headers := map[string]string{
		"POLY_ADDRESS":   c.signer.Address().Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(ts, 10),
		"POLY_NONCE":     "0",
	}
	body, err := get(ctx, c.httpClient, c.baseURL+"/auth/derive-api-key", headers)
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}
	var resp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return crypto.Credentials{}, domain.Malformed(fmt.Errorf("polymarket/clob: decode api key: %w", err))
	}
	creds := crypto.Credentials{Key: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "api credentials derived", slog.String("credentials", creds.String()))
	return creds, nil
}

func (c *ClobClient) ready() (crypto.Credentials, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if c.signer == nil || !creds.Complete() {
		return crypto.Credentials{}, domain.ErrUnauthorized
	}
	return creds, nil
}

// authed sends an L2-authenticated request and returns the body.
func (c *ClobClient) authed(ctx context.Context, creds crypto.Credentials, method, path string, body any) ([]byte, error) {
	var (
		reader  io.Reader
		payload string
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = string(b)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range creds.L2Headers(c.signer.Address().Hex(), method, path, payload) {
		req.Header.Set(k, v)
	}
	return do(c.httpClient, req)
}

func get(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read response: %w", err))
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := string(body)
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case status >= 500:
		return domain.Transient(fmt.Errorf("HTTP %d: %s", status, msg))
	default:
		return fmt.Errorf("HTTP %d: %s", status, msg)
	}
}
