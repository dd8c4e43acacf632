package exchange

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedAdapter generates deterministic candles and fills buy orders at
// the simulated ask and sell/close orders at the simulated bid (each 0.05%
// away from the last simulated close), for tests and demo runs without a
// live venue.
type SimulatedAdapter struct {
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	config    Config

	lastPrice map[string]decimal.Decimal
}

// NewSimulatedAdapter constructs a disconnected simulated adapter.
func NewSimulatedAdapter(logger *zap.Logger) *SimulatedAdapter {
	return &SimulatedAdapter{
		logger:    logger.Named("simulated-adapter"),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

func (a *SimulatedAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *SimulatedAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *SimulatedAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *SimulatedAdapter) Configure(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
	return nil
}

// basePrice derives a stable starting price from the symbol name so repeated
// runs against the same symbol produce the same series.
func basePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return decimal.NewFromInt(int64(100 + h.Sum32()%900))
}

// priceAt is a deterministic pseudo-random walk keyed by symbol and candle
// index, so GetCandles returns the same series for the same (symbol, limit).
func priceAt(symbol string, index int) decimal.Decimal {
	base, _ := basePrice(symbol).Float64()
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%d", symbol, index)
	noise := float64(h.Sum32()%2000)/100.0 - 10.0
	wave := math.Sin(float64(index)/7.0) * base * 0.03
	return decimal.NewFromFloat(base + wave + noise)
}

func (a *SimulatedAdapter) GetCandles(ctx context.Context, symbol string, interval types.CandlestickInterval, limit int) ([]types.OHLCV, error) {
	if !a.IsConnected() {
		return nil, corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	if limit <= 0 {
		limit = 100
	}

	step := interval.Duration()
	now := time.Now()
	candles := make([]types.OHLCV, 0, limit)

	for i := limit; i > 0; i-- {
		closeTime := now.Add(-time.Duration(i-1) * step)
		openTime := closeTime.Add(-step)
		close := priceAt(symbol, limit-i)
		open := priceAt(symbol, limit-i-1)
		high := utils.MaxDecimal(open, close).Mul(decimal.NewFromFloat(1.002))
		low := utils.MinDecimal(open, close).Mul(decimal.NewFromFloat(0.998))
		volume := decimal.NewFromFloat(100 + float64((limit-i)%50)*3)

		candles = append(candles, types.OHLCV{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
		})
	}

	a.mu.Lock()
	if len(candles) > 0 {
		a.lastPrice[symbol] = candles[len(candles)-1].Close
	}
	a.mu.Unlock()

	return candles, nil
}

func (a *SimulatedAdapter) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	if !a.IsConnected() {
		return Ticker{}, corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	a.mu.RLock()
	price, ok := a.lastPrice[symbol]
	a.mu.RUnlock()
	if !ok {
		price = basePrice(symbol)
	}

	spread := price.Mul(decimal.NewFromFloat(0.0005))
	return Ticker{
		Symbol:    symbol,
		Bid:       price.Sub(spread),
		Ask:       price.Add(spread),
		Last:      price,
		Timestamp: time.Now(),
	}, nil
}

func (a *SimulatedAdapter) GetOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	ticker, err := a.GetTicker(ctx, symbol)
	if err != nil {
		return OrderBook{}, err
	}
	if limit <= 0 {
		limit = 5
	}

	book := OrderBook{Symbol: symbol}
	tick := ticker.Last.Mul(decimal.NewFromFloat(0.0005))
	for i := 1; i <= limit; i++ {
		offset := tick.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, OrderBookLevel{Price: ticker.Bid.Sub(offset), Quantity: decimal.NewFromInt(int64(i))})
		book.Asks = append(book.Asks, OrderBookLevel{Price: ticker.Ask.Add(offset), Quantity: decimal.NewFromInt(int64(i))})
	}
	return book, nil
}

func (a *SimulatedAdapter) GetBalance(ctx context.Context) ([]Balance, error) {
	if !a.IsConnected() {
		return nil, corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	return []Balance{{Asset: "USDT", Free: decimal.NewFromInt(100000)}}, nil
}

func (a *SimulatedAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if !a.IsConnected() {
		return OrderResult{}, corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	ticker, err := a.GetTicker(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, err
	}
	fillPrice := ticker.Ask
	if req.Action == types.SignalSell || req.Action == types.SignalClose {
		fillPrice = ticker.Bid
	}
	return OrderResult{
		OrderID:     utils.GenerateID("order"),
		Symbol:      req.Symbol,
		Status:      OrderStatusFilled,
		FilledQty:   req.Quantity,
		FilledPrice: fillPrice,
		Timestamp:   time.Now(),
	}, nil
}

func (a *SimulatedAdapter) CancelOrder(ctx context.Context, orderID string, symbol string) error {
	if !a.IsConnected() {
		return corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	return nil
}

func (a *SimulatedAdapter) GetOrder(ctx context.Context, orderID string, symbol string) (OrderResult, error) {
	return OrderResult{OrderID: orderID, Symbol: symbol, Status: OrderStatusFilled}, nil
}

func (a *SimulatedAdapter) SubscribeCandles(ctx context.Context, symbol string, interval types.CandlestickInterval) (<-chan types.OHLCV, error) {
	if !a.IsConnected() {
		return nil, corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	out := make(chan types.OHLCV, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval.Duration())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				candles, err := a.GetCandles(ctx, symbol, interval, 1)
				if err != nil || len(candles) == 0 {
					continue
				}
				select {
				case out <- candles[0]:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (a *SimulatedAdapter) SubscribeTicker(ctx context.Context, symbol string) (<-chan Ticker, error) {
	if !a.IsConnected() {
		return nil, corerr.New(corerr.KindUnavailable, "adapter not connected")
	}
	out := make(chan Ticker, 8)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t, err := a.GetTicker(ctx, symbol)
				if err != nil {
					continue
				}
				select {
				case out <- t:
				default:
				}
			}
		}
	}()
	return out, nil
}
