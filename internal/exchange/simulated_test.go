package exchange

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestSimulatedAdapterRequiresConnect(t *testing.T) {
	a := NewSimulatedAdapter(zap.NewNop())
	_, err := a.GetCandles(context.Background(), "BTC/USDT", types.IntervalOneHour, 10)
	if err == nil {
		t.Fatal("expected error before Connect")
	}
}

func TestSimulatedAdapterDeterministicCandles(t *testing.T) {
	a := NewSimulatedAdapter(zap.NewNop())
	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first, err := a.GetCandles(ctx, "BTC/USDT", types.IntervalOneHour, 20)
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	second, err := a.GetCandles(ctx, "BTC/USDT", types.IntervalOneHour, 20)
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if len(first) != 20 || len(second) != 20 {
		t.Fatalf("expected 20 candles, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Close.Equal(second[i].Close) {
			t.Fatalf("candle %d close differs across calls: %s vs %s", i, first[i].Close, second[i].Close)
		}
	}
}

func TestSimulatedAdapterPlaceOrder(t *testing.T) {
	a := NewSimulatedAdapter(zap.NewNop())
	ctx := context.Background()
	a.Connect(ctx)
	a.GetCandles(ctx, "BTC/USDT", types.IntervalOneHour, 5)

	result, err := a.PlaceOrder(ctx, OrderRequest{Symbol: "BTC/USDT", Action: types.SignalBuy, Quantity: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.Status != OrderStatusFilled {
		t.Fatalf("expected filled order, got %v", result.Status)
	}
}
