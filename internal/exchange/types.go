package exchange

import "errors"

var (
	// ErrTransient marks failures worth retrying: timeouts, connectivity,
	// venue overload, rate limiting.
	ErrTransient = errors.New("transient exchange error")
	// ErrRejected marks terminal refusals: invalid order, insufficient
	// funds, unknown symbol. Retrying will not help.
	ErrRejected = errors.New("order rejected")
)

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejected reports whether the venue refused the request terminally.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes supported order types. The bot only submits market
// orders; protective levels are monitored in-process.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus normalizes venue status into a small set.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// OrderRequest captures an order intent.
type OrderRequest struct {
	Pair string    `json:"pair"`
	Side Side      `json:"side"`
	Type OrderType `json:"type"`
	Qty  float64   `json:"qty"`
	// Price is the reference price the caller decided on; market fills may
	// slip from it.
	Price float64 `json:"price"`
	// ReduceOnly marks a closing order.
	ReduceOnly bool `json:"reduce_only"`
	// ClientID makes resubmission after a crash idempotent.
	ClientID string `json:"client_id"`
}

// OrderResult is the venue ack for a filled order.
type OrderResult struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"`
	Fee       float64     `json:"fee"`
}

// Balance is the venue-side account snapshot.
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}
