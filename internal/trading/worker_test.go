package trading

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/indicators"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testRiskEngine(budget decimal.Decimal) *risk.Engine {
	return risk.New(zap.NewNop(), types.RiskConfig{
		MaxTotalBudget:            budget,
		MaxLeveragePerTrader:      decimal.NewFromInt(10),
		MaxTotalLeverage:          decimal.NewFromInt(50),
		MaxExposurePerTrader:      budget,
		MaxTotalExposure:          budget,
		MaxDailyLoss:              decimal.NewFromInt(1000),
		StopLossPercentage:        decimal.NewFromFloat(0.1),
		MonitoringIntervalSeconds: 30,
	})
}

type fakeStrategy struct {
	signal types.Signal
}

func (f *fakeStrategy) RequiredIndicators() []string                 { return []string{} }
func (f *fakeStrategy) ValidateConfig(cfg types.TraderConfig) error   { return nil }
func (f *fakeStrategy) Generate(candles []types.OHLCV, cache *indicators.Cache) (types.Signal, error) {
	return f.signal, nil
}

type fakePositions struct {
	opened []types.Signal
	closed int
}

func (f *fakePositions) Open(ctx context.Context, cfg types.TraderConfig, signal types.Signal) (types.ManagedPosition, error) {
	f.opened = append(f.opened, signal)
	return types.ManagedPosition{
		PositionID: "pos-1",
		TraderID:   cfg.ID,
		Symbol:     cfg.Symbol,
		Action:     types.PositionLong,
		Quantity:   decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100),
	}, nil
}

func (f *fakePositions) Close(ctx context.Context, cfg types.TraderConfig, position types.ManagedPosition, reason string) (decimal.Decimal, error) {
	f.closed++
	return decimal.NewFromInt(10), nil
}

func testConfig() types.TraderConfig {
	return types.TraderConfig{
		ID:                  "trader-1",
		Name:                "test",
		Exchange:            types.ExchangeSimulated,
		Symbol:              "BTC/USDT",
		MaxStakeAmount:      decimal.NewFromInt(100),
		MaxRiskLevel:        5,
		MaxTradingDuration:  time.Hour,
		Strategy:            types.StrategyTrendFollowing,
		CandlestickInterval: types.IntervalOneMinute,
		Leverage:            decimal.NewFromInt(1),
	}
}

func sampleCandles(n int) []types.OHLCV {
	out := make([]types.OHLCV, n)
	now := time.Now()
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		out[i] = types.OHLCV{
			OpenTime:  now.Add(time.Duration(i) * time.Minute),
			CloseTime: now.Add(time.Duration(i+1) * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return out
}

func TestExecuteOpensPositionWhenAdmitted(t *testing.T) {
	engine := testRiskEngine(decimal.NewFromInt(10000))
	cfg := testConfig()
	engine.Register(cfg)

	positions := &fakePositions{}
	strat := &fakeStrategy{signal: types.Signal{Action: types.SignalBuy, Confidence: decimal.NewFromFloat(0.9)}}
	w := NewWorker(zap.NewNop(), cfg, strat, nil, engine, nil, positions, nil, types.DefaultTradingLoopConfig())

	if err := w.execute(context.Background(), cfg, strat.signal); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(positions.opened) != 1 {
		t.Fatalf("expected one position opened, got %d", len(positions.opened))
	}
	if _, ok := w.Position(); !ok {
		t.Fatal("expected worker to track the opened position")
	}
}

func TestExecuteDeniesWhenRiskRejects(t *testing.T) {
	engine := testRiskEngine(decimal.NewFromInt(1))
	cfg := testConfig()
	engine.Register(cfg)

	positions := &fakePositions{}
	strat := &fakeStrategy{signal: types.Signal{Action: types.SignalBuy, Confidence: decimal.NewFromFloat(0.9)}}
	w := NewWorker(zap.NewNop(), cfg, strat, nil, engine, nil, positions, nil, types.DefaultTradingLoopConfig())

	if err := w.execute(context.Background(), cfg, strat.signal); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(positions.opened) != 0 {
		t.Fatalf("expected no position opened under risk denial, got %d", len(positions.opened))
	}
}

func TestExecuteSkipsBelowConfidenceThreshold(t *testing.T) {
	engine := testRiskEngine(decimal.NewFromInt(10000))
	cfg := testConfig()
	engine.Register(cfg)

	positions := &fakePositions{}
	strat := &fakeStrategy{signal: types.Signal{Action: types.SignalBuy, Confidence: decimal.NewFromFloat(0.1)}}
	w := NewWorker(zap.NewNop(), cfg, strat, nil, engine, nil, positions, nil, types.DefaultTradingLoopConfig())

	if err := w.execute(context.Background(), cfg, strat.signal); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(positions.opened) != 0 {
		t.Fatalf("expected no position opened below threshold, got %d", len(positions.opened))
	}
}

func TestExecuteClosesOnCloseSignal(t *testing.T) {
	engine := testRiskEngine(decimal.NewFromInt(10000))
	cfg := testConfig()
	engine.Register(cfg)

	positions := &fakePositions{}
	w := NewWorker(zap.NewNop(), cfg, &fakeStrategy{}, nil, engine, nil, positions, nil, types.DefaultTradingLoopConfig())
	w.mu.Lock()
	w.position = &types.ManagedPosition{PositionID: "pos-1", TraderID: cfg.ID}
	w.mu.Unlock()

	closeSignal := types.Signal{Action: types.SignalClose, Confidence: decimal.NewFromFloat(0.9)}
	if err := w.execute(context.Background(), cfg, closeSignal); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if positions.closed != 1 {
		t.Fatalf("expected one close call, got %d", positions.closed)
	}
	if _, ok := w.Position(); ok {
		t.Fatal("expected position cleared after close")
	}
}

func TestValidateCandlesRejectsOutOfOrder(t *testing.T) {
	candles := sampleCandles(3)
	candles[2].OpenTime = candles[0].OpenTime.Add(-time.Hour)

	_, rejected := validateCandles(candles)
	if !rejected {
		t.Fatal("expected out-of-order candle window to be rejected")
	}
}

func TestValidateCandlesWarnsOnPriceJumpWithoutRejecting(t *testing.T) {
	candles := sampleCandles(3)
	candles[2].Close = candles[1].Close.Mul(decimal.NewFromInt(3))

	warnings, rejected := validateCandles(candles)
	if rejected {
		t.Fatal("price jump alone must not reject the window")
	}
	if len(warnings) == 0 {
		t.Fatal("expected price jump to be flagged as a warning")
	}
}

func TestWorkerHealthReportsErrorCount(t *testing.T) {
	engine := testRiskEngine(decimal.NewFromInt(10000))
	cfg := testConfig()
	adapter := exchange.NewSimulatedAdapter(zap.NewNop())
	adapter.Connect(context.Background())
	w := NewWorker(zap.NewNop(), cfg, &fakeStrategy{}, adapter, engine, nil, &fakePositions{}, nil, types.DefaultTradingLoopConfig())
	health := w.Health()
	if health.TraderID != cfg.ID {
		t.Fatalf("unexpected trader id in health: %s", health.TraderID)
	}
	if !health.AdapterConnected {
		t.Fatal("expected adapter to report connected")
	}
	if health.ErrorCount != 0 {
		t.Fatalf("expected zero error count on a fresh worker, got %d", health.ErrorCount)
	}
}
