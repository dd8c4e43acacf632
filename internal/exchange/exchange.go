// Package exchange defines the ExchangeAdapter port: the black-box market
// data and order placement boundary a Worker's Trading Loop talks to.
package exchange

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Config configures a single adapter instance. Symbol format normalization
// is the adapter's own responsibility.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Ticker is a best bid/ask/last snapshot for a symbol.
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// OrderBookLevel is a single price/quantity level.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is a symbol's current depth snapshot.
type OrderBook struct {
	Symbol string
	Bids   []OrderBookLevel
	Asks   []OrderBookLevel
}

// Balance is a single asset's free/locked balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// OrderRequest is a placeOrder input.
type OrderRequest struct {
	Symbol   string
	Action   types.SignalAction
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Leverage decimal.Decimal
}

// OrderStatus is the adapter-reported lifecycle of a placed order.
type OrderStatus string

const (
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderResult is the adapter's response to placeOrder.
type OrderResult struct {
	OrderID    string
	Symbol     string
	Status     OrderStatus
	FilledQty  decimal.Decimal
	FilledPrice decimal.Decimal
	Timestamp  time.Time
}

// Adapter is the ExchangeAdapter port. Implementations must be internally
// thread-safe; the Supervisor caches one instance per exchange and shares
// it across every Worker trading on that exchange.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Configure(cfg Config) error

	GetCandles(ctx context.Context, symbol string, interval types.CandlestickInterval, limit int) ([]types.OHLCV, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error)
	GetBalance(ctx context.Context) ([]Balance, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string, symbol string) error
	GetOrder(ctx context.Context, orderID string, symbol string) (OrderResult, error)

	SubscribeCandles(ctx context.Context, symbol string, interval types.CandlestickInterval) (<-chan types.OHLCV, error)
	SubscribeTicker(ctx context.Context, symbol string) (<-chan Ticker, error)
}
