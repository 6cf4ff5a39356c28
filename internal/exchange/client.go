// Package exchange abstracts the trading venue behind a small client
// interface and classifies failures into transient and terminal so callers
// can decide whether to retry.
package exchange

import (
	"context"

	"github.com/ahmedhalloub17/tradingbot/internal/market"
)

// Client abstracts a trading venue.
type Client interface {
	// FetchCandles returns up to limit most recent candles for the pair,
	// oldest first. The last candle may still be forming.
	FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error)
	// FetchBalance returns the venue account balance.
	FetchBalance(ctx context.Context) (Balance, error)
	// PlaceOrder submits an order. Errors wrap ErrTransient or ErrRejected.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, pair, orderID string) error
}
