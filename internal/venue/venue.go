// Package venue defines the capability surface the engine needs from an
// exchange. Both venues expose the same five operations behind Client;
// streaming books and user fills arrive through separate feed
// interfaces so REST and WS lifecycles stay independent.
package venue

import (
	"context"
	"time"

	"github.com/mselser95/crossarb/pkg/types"
)

// Client is the REST capability set of a venue. Implementations must
// normalize venue payloads into pkg/types and classify rejections as
// *types.OrderError and throttles as *types.RateLimitError.
type Client interface {
	// Venue identifies the implementation.
	Venue() types.Venue

	// PlaceLimit submits a limit order and returns the venue order id
	// (the on-chain hash on the maker venue).
	PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, qty float64, opts types.PlaceOpts) (string, error)

	// Cancel requests cancellation. ok=false with nil error means the
	// venue acknowledged the request but reported the order already
	// terminal.
	Cancel(ctx context.Context, orderID string) (bool, error)

	// GetOrder fetches one order's normalized status. Returns
	// types.ErrOrderNotFound when the venue has no record.
	GetOrder(ctx context.Context, orderID string) (*types.OrderStatus, error)

	// ListOpenOrders returns every open order for the account.
	ListOpenOrders(ctx context.Context) ([]types.OrderStatus, error)

	// GetBook fetches a full-depth book snapshot, Source=rest.
	GetBook(ctx context.Context, tokenID string) (*types.OrderBook, error)
}

// BookFeed streams order-book snapshots over a venue WS connection.
type BookFeed interface {
	// Start dials and begins the read loop.
	Start(ctx context.Context) error

	// Subscribe adds tokens to the live subscription set. Safe to call
	// before and after Start; already-subscribed tokens are no-ops.
	Subscribe(ctx context.Context, tokenIDs []string) error

	// Updates delivers normalized books, Source=ws. The channel is
	// closed by Close.
	Updates() <-chan *types.OrderBook

	// Connected reports socket health. Staleness of individual books
	// is judged by readers, not here.
	Connected() bool

	Close() error
}

// UserFeed streams account events (fills, cancels) from the maker
// venue WS.
type UserFeed interface {
	Start(ctx context.Context) error
	Fills() <-chan *types.Fill
	Orders() <-chan *types.OrderStatus
	Connected() bool
	Close() error
}

// BookGetter is the read-only REST subset the book cache needs for
// warm fetches and hybrid polling.
type BookGetter interface {
	GetBook(ctx context.Context, tokenID string) (*types.OrderBook, error)
}

// ConnStatus is a point-in-time transport health summary, surfaced on
// the dashboard stats channel.
type ConnStatus struct {
	Venue       types.Venue `json:"venue"`
	WSConnected bool        `json:"wsConnected"`
	LastMessage time.Time   `json:"lastMessage"`
}
