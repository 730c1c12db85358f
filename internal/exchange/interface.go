package exchange

import (
	"context"
	"time"
)

// OrderSide represents buy or sell side (string-based for API compatibility)
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents different order types
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus is the closed set of states an order moves through locally.
// PresumedFilled is assigned by the reconciler when an order has vanished
// from every exchange query and is inferred to have filled.
type OrderStatus string

const (
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
	StatusPresumedFilled  OrderStatus = "PresumedFilled"
	StatusUnknown         OrderStatus = "Unknown"
)

// IsTerminal reports whether the status ends an order's life in the
// active set.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusPresumedFilled:
		return true
	}
	return false
}

// Order is the canonical order value type used everywhere inside the bot.
// All translation to and from exchange JSON happens in the exchange
// implementation packages, never in business logic.
type Order struct {
	OrderID     string      `json:"order_id"`
	OrderLinkID string      `json:"order_link_id"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	OrderType   OrderType   `json:"order_type"`
	Price       float64     `json:"price"`
	Quantity    float64     `json:"quantity"`
	CumExecQty  float64     `json:"cum_exec_qty"`
	AvgPrice    float64     `json:"avg_price"`
	Status      OrderStatus `json:"status"`
	LayerIndex  int         `json:"layer_index"`
	CreatedTime time.Time   `json:"created_time"`
	UpdatedTime time.Time   `json:"updated_time"`
}

// OrderParams holds parameters for submitting an order.
type OrderParams struct {
	Symbol      string
	Side        OrderSide
	OrderType   OrderType
	Quantity    float64
	Price       float64 // required for limit orders
	OrderLinkID string
	ReduceOnly  bool
}

// Fill is one execution record from the exchange's fill history.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	ExecTime time.Time `json:"exec_time"`
}

// Ticker is the latest market snapshot for a symbol.
type Ticker struct {
	Symbol    string
	LastPrice float64
}

// Instrument carries the precision and size constraints for a symbol.
type Instrument struct {
	Symbol      string
	TickSize    float64
	QtyStep     float64
	MinOrderQty float64
	MinNotional float64
}

// Position is the exchange-side view of a held position.
type Position struct {
	Symbol        string
	Side          string
	Size          float64
	AvgPrice      float64
	UnrealisedPnl float64
}

// Client is the REST surface the bot needs from an exchange.
type Client interface {
	SubmitOrder(ctx context.Context, params OrderParams) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	// GetOrder returns ErrOrderNotFound when the exchange's realtime
	// endpoint no longer knows the id.
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	GetOrderHistory(ctx context.Context, symbol, orderID string) ([]Order, error)
	GetFillHistory(ctx context.Context, symbol string) ([]Fill, error)

	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
}

// OrderUpdate is one message from the private order stream.
type OrderUpdate struct {
	Order Order
}

// OrderStream is the push channel for order updates. Implementations own
// their reconnect loop and must re-subscribe after every reconnect.
type OrderStream interface {
	Connect(ctx context.Context) error
	OnOrderUpdate(callback func(OrderUpdate))
	IsConnected() bool
	Close() error
}
