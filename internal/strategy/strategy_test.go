package strategy

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/indicators"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

func candle(t time.Time, close float64, volume float64) types.OHLCV {
	c := decimal.NewFromFloat(close)
	return types.OHLCV{
		OpenTime:  t,
		CloseTime: t,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromFloat(volume),
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	if _, err := New(types.StrategyType("bogus")); err == nil {
		t.Fatal("expected error for unknown strategy type")
	}
}

func TestTrendFollowingBullishCross(t *testing.T) {
	s := &TrendFollowing{FastPeriod: 3, SlowPeriod: 6}
	cache := indicators.NewCache()

	base := time.Now().Add(-time.Hour)
	var candles []types.OHLCV
	price := 100.0
	for i := 0; i < 10; i++ {
		candles = append(candles, candle(base.Add(time.Duration(i)*time.Minute), price, 10))
		price -= 0.1
	}
	for i := 0; i < 2; i++ {
		price += 2
		candles = append(candles, candle(base.Add(time.Duration(10+i)*time.Minute), price, 10))
	}

	sig, err := s.Generate(candles, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Action != types.SignalBuy {
		t.Fatalf("expected buy on bullish cross, got %v (%s)", sig.Action, sig.Reason)
	}
}

func TestMeanReversionInsufficientHistory(t *testing.T) {
	s := &MeanReversion{Period: 20, StdDevMult: 2.0, RSIPeriod: 14}
	cache := indicators.NewCache()

	sig, err := s.Generate([]types.OHLCV{candle(time.Now(), 100, 1)}, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Action != types.SignalHold {
		t.Fatalf("expected hold on insufficient history, got %v", sig.Action)
	}
}

func TestMeanReversionSqueezeHoldsRegardlessOfBand(t *testing.T) {
	s := &MeanReversion{Period: 20, StdDevMult: 2.0, RSIPeriod: 14, SqueezeThreshold: decimal.NewFromFloat(0.5)}
	cache := indicators.NewCache()

	base := time.Now().Add(-time.Hour)
	var candles []types.OHLCV
	for i := 0; i < 25; i++ {
		candles = append(candles, candle(base.Add(time.Duration(i)*time.Minute), 100, 10))
	}

	sig, err := s.Generate(candles, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Action != types.SignalHold {
		t.Fatalf("expected hold during squeeze, got %v", sig.Action)
	}
	if sig.Reason != "bollinger band squeeze" {
		t.Fatalf("expected squeeze reason, got %q", sig.Reason)
	}
	if sig.Confidence.GreaterThan(decimal.NewFromFloat(0.2)) {
		t.Fatalf("expected low confidence during squeeze, got %s", sig.Confidence)
	}
}

func TestBreakoutConfirmsOnVolume(t *testing.T) {
	s := &Breakout{Lookback: 5, MinVolumeMult: decimal.NewFromFloat(1.5)}
	cache := indicators.NewCache()

	base := time.Now().Add(-time.Hour)
	var candles []types.OHLCV
	for i := 0; i < 6; i++ {
		candles = append(candles, candle(base.Add(time.Duration(i)*time.Minute), 100, 10))
	}
	candles = append(candles, candle(base.Add(6*time.Minute), 110, 50))

	sig, err := s.Generate(candles, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Action != types.SignalBuy {
		t.Fatalf("expected buy breakout signal, got %v (%s)", sig.Action, sig.Reason)
	}
}
