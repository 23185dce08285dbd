// Package transport defines the narrow capability interfaces the strategy
// core depends on for order entry and market data, plus concrete
// implementations of those interfaces against the competition gateway's
// binary TCP protocol and HTTP snapshot endpoint.
//
// The core never talks to a socket directly — it depends only on
// OrderTransport and MarketDataClient, so tests substitute fakes and the
// live gateway.Client only needs to satisfy the same two interfaces.
package transport

import (
	"context"

	"etfmm/pkg/types"
)

// FillHandler is called once per fill the gateway reports. It must not
// block or suspend — strategy code runs it synchronously to fold the fill
// into position state before the next tick.
type FillHandler func(symbol string, side types.Side, size int64, price float64)

// OrderTransport is the capability the ladder manager uses to place,
// replace, and cancel resting orders, and to receive fill notifications.
// Implementations may be a live gateway client or, in tests, an in-memory
// fake.
type OrderTransport interface {
	// Place sends a new resting order and returns the broker-assigned
	// order id.
	Place(ctx context.Context, level types.OrderLevel) (orderID string, err error)

	// Cancel cancels a previously placed order by id.
	Cancel(ctx context.Context, orderID string, symbol string) error

	// SubscribeFills registers a handler invoked for every fill on an
	// order this client placed. Multiple handlers may be registered;
	// each is isolated from the others' panics/errors.
	SubscribeFills(handler FillHandler)
}

// MarketDataClient fetches order-book snapshots.
type MarketDataClient interface {
	GetOrderBook(ctx context.Context, symbol string, depth int) (types.MarketSnapshot, error)
}
