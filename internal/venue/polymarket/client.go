// Package polymarket implements the hedge venue: CLOB order
// management with EIP-712 signed orders, market metadata from the
// Gamma API, and the market-channel WS book feed. The engine only
// ever crosses this venue with IOC orders, but the client speaks the
// full order surface for the CLI tools.
package polymarket

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/types"
)

const gammaPageSize = 100

// Config holds hedge venue client configuration.
type Config struct {
	BaseURL    string // CLOB REST
	GammaURL   string // metadata REST
	APIKey     string
	Passphrase string
	Secret     string
	Signer     Signer
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client is the hedge venue CLOB client.
type Client struct {
	http       *resty.Client
	gamma      *resty.Client
	apiKey     string
	passphrase string
	secret     string
	signer     Signer
	logger     *zap.Logger
}

// NewClient creates the hedge venue client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	newHTTP := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
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
	}

	return &Client{
		http:       newHTTP(cfg.BaseURL),
		gamma:      newHTTP(cfg.GammaURL),
		apiKey:     cfg.APIKey,
		passphrase: cfg.Passphrase,
		secret:     cfg.Secret,
		signer:     cfg.Signer,
		logger:     cfg.Logger.Named("polymarket"),
	}
}

// Venue identifies this client.
func (c *Client) Venue() types.Venue {
	return types.VenuePolymarket
}

// ListMarkets pages through active hedge venue markets.
func (c *Client) ListMarkets(ctx context.Context) ([]types.HedgeMarket, error) {
	var all []types.HedgeMarket
	offset := 0

	for {
		var page []types.HedgeMarket
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"closed": "false",
				"active": "true",
				"limit":  strconv.Itoa(gammaPageSize),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("list hedge markets: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, c.classify(resp, "list hedge markets")
		}

		all = append(all, page...)
		requestsTotal.WithLabelValues("list_markets").Inc()

		if len(page) < gammaPageSize {
			break
		}
		offset += gammaPageSize
	}

	return all, nil
}

// GetMarket fetches one market by condition id from the CLOB API,
// which carries the authoritative neg-risk flag and token list.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (*types.HedgeMarket, error) {
	var result struct {
		ConditionID string `json:"condition_id"`
		Question    string `json:"question"`
		Slug        string `json:"market_slug"`
		Active      bool   `json:"active"`
		Closed      bool   `json:"closed"`
		NegRisk     bool   `json:"neg_risk"`
		EndDateISO  string `json:"end_date_iso"`
		Tokens      []struct {
			TokenID string `json:"token_id"`
			Outcome string `json:"outcome"`
		} `json:"tokens"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/markets/" + conditionID)
	if err != nil {
		return nil, fmt.Errorf("get hedge market %s: %w", conditionID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.classify(resp, "get hedge market")
	}

	endDate, _ := time.Parse(time.RFC3339, result.EndDateISO)
	market := &types.HedgeMarket{
		ConditionID: result.ConditionID,
		Question:    result.Question,
		Slug:        result.Slug,
		Active:      result.Active,
		Closed:      result.Closed,
		NegRisk:     result.NegRisk,
		EndDate:     endDate,
	}
	for _, t := range result.Tokens {
		market.Tokens = append(market.Tokens, types.Token{TokenID: t.TokenID, Outcome: t.Outcome})
	}

	return market, nil
}

// GetBook fetches a token's full book.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	var doc bookDocument
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&doc).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", tokenID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("token %s: %w", tokenID, types.ErrBookMissing)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.classify(resp, "get book")
	}

	requestsTotal.WithLabelValues("get_book").Inc()

	return doc.toOrderBook(time.Now()), nil
}

// PlaceLimit signs and submits a limit order. IOC maps to the venue's
// FAK time-in-force; residue cancels venue-side and fills are read
// back through GetOrder.
func (c *Client) PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, qty float64, opts types.PlaceOpts) (string, error) {
	if c.signer == nil {
		return "", fmt.Errorf("place: no signer configured")
	}

	quantized := quantize(price, opts.TickSize)
	signed, err := c.signer.SignOrder(tokenID, side, quantized, qty, opts.NegRisk, opts.FeeRateBps, opts.Expiration)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}

	body := orderSubmission{
		Order:     signed,
		Owner:     c.apiKey,
		OrderType: clobOrderType(opts.OrderType),
	}

	var result submissionResponse
	resp, err := c.doAuthed(ctx, http.MethodPost, "/order", body, &result)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", c.classify(resp, "place order")
	}

	if !result.Success || result.OrderID == "" {
		return "", &types.OrderError{
			Venue:   types.VenuePolymarket,
			Code:    rejectCode(result.ErrorMsg),
			Message: result.ErrorMsg,
			OrderID: result.OrderID,
		}
	}

	ordersPlaced.WithLabelValues(string(side), body.OrderType).Inc()
	c.logger.Info("hedge-order-placed",
		zap.String("token", tokenID),
		zap.String("side", string(side)),
		zap.Float64("price", quantized),
		zap.Float64("qty", qty),
		zap.String("type", body.OrderType),
		zap.String("order-id", result.OrderID),
		zap.String("status", result.Status))

	return result.OrderID, nil
}

// Cancel requests cancellation by order id. An order the venue already
// considers terminal comes back as (false, nil).
func (c *Client) Cancel(ctx context.Context, orderID string) (bool, error) {
	var result cancelResponse
	resp, err := c.doAuthed(ctx, http.MethodDelete, "/order", cancelRequest{OrderID: orderID}, &result)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, types.ErrOrderNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return false, c.classify(resp, "cancel order")
	}

	for _, id := range result.Canceled {
		if id == orderID {
			ordersCancelled.Inc()
			return true, nil
		}
	}

	reason := result.NotCanceled[orderID]
	c.logger.Debug("hedge-cancel-noop",
		zap.String("order-id", orderID),
		zap.String("reason", reason))

	return false, nil
}

// GetOrder fetches one order's status.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	var result orderQuery
	resp, err := c.doAuthed(ctx, http.MethodGet, "/data/order/"+orderID, nil, &result)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, types.ErrOrderNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.classify(resp, "get order")
	}

	status := result.toStatus()
	return &status, nil
}

// ListOpenOrders returns the account's open orders.
func (c *Client) ListOpenOrders(ctx context.Context) ([]types.OrderStatus, error) {
	var result []orderQuery
	resp, err := c.doAuthed(ctx, http.MethodGet, "/data/orders", nil, &result)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.classify(resp, "list orders")
	}

	orders := make([]types.OrderStatus, 0, len(result))
	for _, o := range result {
		orders = append(orders, o.toStatus())
	}

	return orders, nil
}

// doAuthed executes a request with L2 auth headers. The body is
// serialized here so the signed bytes match the sent bytes.
func (c *Client) doAuthed(ctx context.Context, method, path string, body, result any) (*resty.Response, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := l2Signature(c.secret, timestamp, method, path, string(raw))
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("POLY_ADDRESS", c.signerAddress()).
		SetHeader("POLY_API_KEY", c.apiKey).
		SetHeader("POLY_PASSPHRASE", c.passphrase).
		SetHeader("POLY_TIMESTAMP", timestamp).
		SetHeader("POLY_SIGNATURE", sig)

	if raw != nil {
		req.SetBody(raw)
	}
	if result != nil {
		req.SetResult(result)
	}

	return req.Execute(method, path)
}

func (c *Client) signerAddress() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address()
}

// classify turns a non-2xx response into a typed error.
func (c *Client) classify(resp *resty.Response, op string) error {
	code := resp.StatusCode()

	switch {
	case code == http.StatusTooManyRequests:
		rateLimitsTotal.Inc()
		return &types.RateLimitError{Venue: types.VenuePolymarket}

	case code >= 400 && code < 500:
		var ae apiError
		if err := json.Unmarshal(resp.Body(), &ae); err != nil || ae.Error == "" {
			return fmt.Errorf("%s: status %d: %s", op, code, resp.String())
		}
		return &types.OrderError{
			Venue:   types.VenuePolymarket,
			Code:    rejectCode(ae.Error),
			Message: ae.Error,
		}

	default:
		return fmt.Errorf("%s: status %d: %s", op, code, resp.String())
	}
}

// clobOrderType maps normalized time-in-force onto the venue's terms.
// The venue calls immediate-or-cancel FAK.
func clobOrderType(t types.OrderType) string {
	switch t {
	case types.OrderTypeIOC:
		return "FAK"
	case types.OrderTypeFOK:
		return "FOK"
	default:
		return "GTC"
	}
}

// rejectCode extracts a stable error code from the venue's free-form
// rejection strings, which lead with the code in upper snake case.
func rejectCode(msg string) string {
	if msg == "" {
		return types.ErrCodeUnknownStatus
	}
	for i, r := range msg {
		if r == ':' || r == ' ' {
			return msg[:i]
		}
	}
	return msg
}

// quantize snaps a price to the venue tick.
func quantize(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	q, _ := p.Div(t).Round(0).Mul(t).Float64()
	return q
}
