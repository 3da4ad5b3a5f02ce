// Package predict implements the maker venue: REST order management,
// market metadata, and the two WS feeds (books, user events). Orders
// on this venue are identified by their on-chain hash.
package predict

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/venue/keypool"
	"github.com/mselser95/crossarb/pkg/types"
)

const listPageSize = 200

const (
	headerAPIKey    = "X-PD-API-KEY"
	headerTimestamp = "X-PD-TIMESTAMP"
	headerSignature = "X-PD-SIGNATURE"
)

// Config holds maker venue client configuration.
type Config struct {
	BaseURL   string
	APISecret string
	ScanPool  *keypool.Pool
	TradePool *keypool.Pool
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client is the maker venue REST client. Reads draw keys from the scan
// pool, order operations from the trade pool, so scanner throttling
// never blocks trading.
type Client struct {
	http      *resty.Client
	secret    string
	scanPool  *keypool.Pool
	tradePool *keypool.Pool
	logger    *zap.Logger

	mu          sync.RWMutex
	tokenMarket map[string]string // tokenID -> marketID
}

// NewClient creates the maker venue client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:        httpClient,
		secret:      cfg.APISecret,
		scanPool:    cfg.ScanPool,
		tradePool:   cfg.TradePool,
		logger:      cfg.Logger.Named("predict"),
		tokenMarket: make(map[string]string),
	}
}

// Venue identifies this client.
func (c *Client) Venue() types.Venue {
	return types.VenuePredict
}

// ListMarkets pages through every open market and refreshes the
// token-to-market index used for book lookups.
func (c *Client) ListMarkets(ctx context.Context) ([]types.MakerMarket, error) {
	var all []types.MakerMarket
	offset := 0

	for {
		key, err := c.scanPool.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}

		var result marketsResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader(headerAPIKey, key.Secret).
			SetQueryParam("status", "open").
			SetQueryParam("limit", strconv.Itoa(listPageSize)).
			SetQueryParam("offset", strconv.Itoa(offset)).
			SetResult(&result).
			Get("/v1/markets")
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		if err := c.classify(resp, c.scanPool, key, "list markets"); err != nil {
			return nil, err
		}

		for _, m := range result.Markets {
			all = append(all, m.toMarket())
		}

		if len(result.Markets) < listPageSize {
			break
		}
		offset += listPageSize
	}

	c.indexMarkets(all)
	requestsTotal.WithLabelValues("list_markets").Inc()

	return all, nil
}

// GetMarket fetches a single market and indexes its tokens.
func (c *Client) GetMarket(ctx context.Context, marketID string) (*types.MakerMarket, error) {
	key, err := c.scanPool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}

	var result marketPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(headerAPIKey, key.Secret).
		SetResult(&result).
		Get("/v1/markets/" + marketID)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", marketID, err)
	}
	if err := c.classify(resp, c.scanPool, key, "get market"); err != nil {
		return nil, err
	}

	market := result.toMarket()
	c.indexMarkets([]types.MakerMarket{market})

	return &market, nil
}

// GetStats fetches a market's activity summary.
func (c *Client) GetStats(ctx context.Context, marketID string) (*types.MarketStats, error) {
	key, err := c.scanPool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}

	var result statsPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(headerAPIKey, key.Secret).
		SetResult(&result).
		Get("/v1/markets/" + marketID + "/stats")
	if err != nil {
		return nil, fmt.Errorf("get stats %s: %w", marketID, err)
	}
	if err := c.classify(resp, c.scanPool, key, "get stats"); err != nil {
		return nil, err
	}

	stats := result.toStats()
	return &stats, nil
}

// GetMarketBooks fetches both outcome books of a market in one call.
func (c *Client) GetMarketBooks(ctx context.Context, marketID string) ([]*types.OrderBook, error) {
	key, err := c.scanPool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(headerAPIKey, key.Secret).
		SetResult(&result).
		Get("/v1/markets/" + marketID + "/orderbook")
	if err != nil {
		return nil, fmt.Errorf("get books %s: %w", marketID, err)
	}
	if err := c.classify(resp, c.scanPool, key, "get books"); err != nil {
		return nil, err
	}

	now := time.Now()
	books := make([]*types.OrderBook, 0, len(result.Books))
	for _, tb := range result.Books {
		books = append(books, tb.toOrderBook(now))
	}

	requestsTotal.WithLabelValues("get_books").Inc()

	return books, nil
}

// GetBook fetches a single token's book. The venue serves books per
// market, so the token is resolved through the market index first.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	marketID, ok := c.ResolveMarket(tokenID)
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, types.ErrBookMissing)
	}

	books, err := c.GetMarketBooks(ctx, marketID)
	if err != nil {
		return nil, err
	}

	for _, b := range books {
		if b.TokenID == tokenID {
			return b, nil
		}
	}

	return nil, fmt.Errorf("token %s absent from market %s book: %w", tokenID, marketID, types.ErrBookMissing)
}

// PlaceLimit submits a limit order and returns its hash.
func (c *Client) PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, qty float64, opts types.PlaceOpts) (string, error) {
	marketID, ok := c.ResolveMarket(tokenID)
	if !ok {
		return "", fmt.Errorf("place: unknown token %s", tokenID)
	}

	orderType := opts.OrderType
	if orderType == "" {
		orderType = types.OrderTypeGTC
	}

	body := orderRequest{
		MarketID:   marketID,
		TokenID:    tokenID,
		Side:       string(side),
		Price:      formatPrice(price, opts.TickSize),
		Quantity:   formatQty(qty),
		Type:       string(orderType),
		Expiration: opts.Expiration,
	}

	key, err := c.tradePool.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("trade key: %w", err)
	}

	var result orderResponse
	resp, err := c.doSigned(ctx, key, http.MethodPost, "/v1/orders", nil, body, &result)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if err := c.classify(resp, c.tradePool, key, "place order"); err != nil {
		return "", err
	}

	if result.OrderHash == "" {
		return "", &types.OrderError{
			Venue:   types.VenuePredict,
			Code:    orDefault(result.Error.Code, types.ErrCodeUnknownStatus),
			Message: orDefault(result.Error.Message, "order hash missing from response"),
		}
	}

	ordersPlaced.WithLabelValues(string(side)).Inc()
	c.logger.Info("order-placed",
		zap.String("market", marketID),
		zap.String("token", tokenID),
		zap.String("side", string(side)),
		zap.String("price", body.Price),
		zap.String("qty", body.Quantity),
		zap.String("hash", result.OrderHash))

	return result.OrderHash, nil
}

// Cancel requests cancellation of an order by hash. ok=false with nil
// error means the venue already considers the order terminal.
func (c *Client) Cancel(ctx context.Context, orderHash string) (bool, error) {
	key, err := c.tradePool.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("trade key: %w", err)
	}

	var result cancelResponse
	resp, err := c.doSigned(ctx, key, http.MethodDelete, "/v1/orders/"+orderHash, nil, nil, &result)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, types.ErrOrderNotFound
	}
	if err := c.classify(resp, c.tradePool, key, "cancel order"); err != nil {
		return false, err
	}

	ordersCancelled.Inc()
	c.logger.Info("order-cancel-result",
		zap.String("hash", orderHash),
		zap.Bool("cancelled", result.Cancelled),
		zap.String("reason", result.Reason))

	return result.Cancelled, nil
}

// GetOrder fetches one order by hash.
func (c *Client) GetOrder(ctx context.Context, orderHash string) (*types.OrderStatus, error) {
	key, err := c.tradePool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade key: %w", err)
	}

	var result orderPayload
	resp, err := c.doSigned(ctx, key, http.MethodGet, "/v1/orders/"+orderHash, nil, nil, &result)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, types.ErrOrderNotFound
	}
	if err := c.classify(resp, c.tradePool, key, "get order"); err != nil {
		return nil, err
	}

	status := result.toStatus()
	return &status, nil
}

// ListOpenOrders returns every open order for the account.
func (c *Client) ListOpenOrders(ctx context.Context) ([]types.OrderStatus, error) {
	key, err := c.tradePool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade key: %w", err)
	}

	var result ordersResponse
	query := map[string]string{"status": "OPEN"}
	resp, err := c.doSigned(ctx, key, http.MethodGet, "/v1/orders", query, nil, &result)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if err := c.classify(resp, c.tradePool, key, "list orders"); err != nil {
		return nil, err
	}

	orders := make([]types.OrderStatus, 0, len(result.Orders))
	for _, o := range result.Orders {
		orders = append(orders, o.toStatus())
	}

	return orders, nil
}

// ResolveMarket maps a token id to its market id using the index
// maintained by market fetches.
func (c *Client) ResolveMarket(tokenID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	marketID, ok := c.tokenMarket[tokenID]
	return marketID, ok
}

func (c *Client) indexMarkets(markets []types.MakerMarket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range markets {
		if m.YesTokenID != "" {
			c.tokenMarket[m.YesTokenID] = m.ID
		}
		if m.NoTokenID != "" {
			c.tokenMarket[m.NoTokenID] = m.ID
		}
	}
}

// doSigned executes a request with the venue's HMAC auth headers. The
// body is serialized here so the signed bytes match the sent bytes.
// The signature covers timestamp + method + path + body, query
// excluded.
func (c *Client) doSigned(ctx context.Context, key keypool.Key, method, path string, query map[string]string, body, result any) (*resty.Response, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader(headerAPIKey, key.Secret)

	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if raw != nil {
		req.SetBody(raw)
	}
	if result != nil {
		req.SetResult(result)
	}

	if c.secret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		sig, err := signRequest(c.secret, timestamp, method, path, string(raw))
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.SetHeader(headerTimestamp, timestamp)
		req.SetHeader(headerSignature, sig)
	}

	return req.Execute(method, path)
}

// classify turns a non-2xx response into a typed error and applies
// pool penalties.
func (c *Client) classify(resp *resty.Response, pool *keypool.Pool, key keypool.Key, op string) error {
	code := resp.StatusCode()

	switch {
	case code >= 200 && code < 300:
		return nil

	case code == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header().Get("Retry-After"))
		pool.MarkRateLimited(retryAfter)
		rateLimitsTotal.Inc()
		return &types.RateLimitError{Venue: types.VenuePredict, RetryAfter: retryAfter}

	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		pool.MarkKeyCooldown(key.ID, time.Minute)
		return fmt.Errorf("%s: auth rejected (status %d)", op, code)

	case code >= 400 && code < 500:
		var ae apiError
		if err := json.Unmarshal(resp.Body(), &ae); err != nil || ae.Code == "" {
			return fmt.Errorf("%s: status %d: %s", op, code, resp.String())
		}
		return &types.OrderError{
			Venue:   types.VenuePredict,
			Code:    ae.Code,
			Message: ae.Message,
		}

	default:
		return fmt.Errorf("%s: status %d: %s", op, code, resp.String())
	}
}

// formatPrice snaps a price to the market tick and renders it the way
// the venue expects.
func formatPrice(price, tick float64) string {
	d := decimal.NewFromFloat(price)
	if tick <= 0 {
		return d.Round(4).String()
	}
	t := decimal.NewFromFloat(tick)
	return d.Div(t).Round(0).Mul(t).String()
}

// formatQty renders a share quantity at two decimals.
func formatQty(qty float64) string {
	return decimal.NewFromFloat(qty).Round(2).String()
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
