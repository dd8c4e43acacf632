// Package strategy implements the signal-generation strategies a Trading
// Loop worker can run against a candle window and its indicator cache.
package strategy

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-core/internal/indicators"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Strategy generates a trading signal from a candle window, using the
// worker's indicator cache to avoid recomputation across iterations.
type Strategy interface {
	// RequiredIndicators names the indicators this strategy works from. The
	// Trading Loop does not read it, and the names need not be cache keys.
	RequiredIndicators() []string
	// ValidateConfig checks the trader config against this strategy's own
	// preconditions (e.g. minimum candle history), beyond TraderConfig.Validate.
	ValidateConfig(cfg types.TraderConfig) error
	// Generate produces a signal from the given candle window. candles is
	// ordered oldest-first; the last element is the most recent close.
	Generate(candles []types.OHLCV, cache *indicators.Cache) (types.Signal, error)
}

// New constructs the concrete strategy for a trader's configured type.
func New(t types.StrategyType) (Strategy, error) {
	switch t {
	case types.StrategyTrendFollowing:
		return &TrendFollowing{FastPeriod: 12, SlowPeriod: 26}, nil
	case types.StrategyMeanReversion:
		return &MeanReversion{Period: 20, StdDevMult: 2.0, RSIPeriod: 14, SqueezeThreshold: decimal.NewFromFloat(0.05)}, nil
	case types.StrategyBreakout:
		return &Breakout{Lookback: 20, MinVolumeMult: decimal.NewFromFloat(1.5)}, nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", t)
	}
}

func lastCloseUnix(candles []types.OHLCV) int64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].CloseTime.Unix()
}

func noSignal(reason string) types.Signal {
	return types.Signal{
		Action:     types.SignalHold,
		Confidence: decimal.Zero,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
}

// TrendFollowing trades a SMA/EMA crossover: a bullish cross of the fast SMA
// over the slow EMA signals BUY, a bearish cross signals SELL. Confidence
// scales with the normalized separation between the two averages.
type TrendFollowing struct {
	FastPeriod int
	SlowPeriod int
}

func (s *TrendFollowing) RequiredIndicators() []string {
	return []string{"sma_fast", "ema_slow"}
}

func (s *TrendFollowing) ValidateConfig(cfg types.TraderConfig) error {
	if s.SlowPeriod <= s.FastPeriod {
		return fmt.Errorf("trend following: slow period must exceed fast period")
	}
	return nil
}

func (s *TrendFollowing) Generate(candles []types.OHLCV, cache *indicators.Cache) (types.Signal, error) {
	if len(candles) < s.SlowPeriod+2 {
		return noSignal("insufficient candle history"), nil
	}

	unix := lastCloseUnix(candles)
	fastSMA := cache.Get("sma_fast", unix, func() decimal.Decimal {
		return indicators.SMA(candles, s.FastPeriod)
	})
	slowEMA := cache.Get("ema_slow", unix, func() decimal.Decimal {
		return indicators.EMA(candles, s.SlowPeriod)
	})
	prevFastSMA := indicators.SMA(candles[:len(candles)-1], s.FastPeriod)
	prevSlowEMA := indicators.EMA(candles[:len(candles)-1], s.SlowPeriod)

	wasBullish := prevFastSMA.GreaterThan(prevSlowEMA)
	isBullish := fastSMA.GreaterThan(slowEMA)

	separation := decimal.Zero
	if !slowEMA.IsZero() {
		separation = fastSMA.Sub(slowEMA).Abs().Div(slowEMA)
	}
	confidence := utilsClamp(separation.Mul(decimal.NewFromInt(20)))

	values := map[string]float64{
		"sma_fast": toFloat(fastSMA),
		"ema_slow": toFloat(slowEMA),
	}

	switch {
	case !wasBullish && isBullish:
		return types.Signal{
			Action: types.SignalBuy, Confidence: confidence,
			Reason: "bullish SMA/EMA crossover", Timestamp: time.Now(), IndicatorValues: values,
		}, nil
	case wasBullish && !isBullish:
		return types.Signal{
			Action: types.SignalSell, Confidence: confidence,
			Reason: "bearish SMA/EMA crossover", Timestamp: time.Now(), IndicatorValues: values,
		}, nil
	default:
		s := noSignal("no crossover")
		s.IndicatorValues = values
		return s, nil
	}
}

// MeanReversion trades Bollinger Band extremes confirmed by RSI: price
// below the lower band with an oversold RSI signals BUY, the mirror signals
// SELL. Confidence scales with how far %B has moved past the band.
type MeanReversion struct {
	Period     int
	StdDevMult float64
	RSIPeriod  int
	// SqueezeThreshold is the Bollinger bandwidth below which the market is
	// considered too tight to trade; zero falls back to defaultSqueezeThreshold.
	SqueezeThreshold decimal.Decimal
}

// defaultSqueezeThreshold is used when a MeanReversion is constructed
// without an explicit SqueezeThreshold (e.g. directly in tests).
var defaultSqueezeThreshold = decimal.NewFromFloat(0.05)

func (s *MeanReversion) RequiredIndicators() []string {
	return []string{"bollinger", "rsi"}
}

func (s *MeanReversion) ValidateConfig(cfg types.TraderConfig) error {
	if s.Period < 2 {
		return fmt.Errorf("mean reversion: period must be at least 2")
	}
	return nil
}

func (s *MeanReversion) Generate(candles []types.OHLCV, cache *indicators.Cache) (types.Signal, error) {
	if len(candles) < s.Period+1 {
		return noSignal("insufficient candle history"), nil
	}

	unix := lastCloseUnix(candles)
	bands := indicators.Bollinger(candles, s.Period, s.StdDevMult)
	rsi := cache.Get("rsi", unix, func() decimal.Decimal {
		return indicators.RSI(candles, s.RSIPeriod)
	})

	values := map[string]float64{
		"percent_b": toFloat(bands.PercentB),
		"rsi":       toFloat(rsi),
		"bandwidth": toFloat(bands.Bandwidth),
	}

	threshold := s.SqueezeThreshold
	if threshold.IsZero() {
		threshold = defaultSqueezeThreshold
	}
	if bands.Bandwidth.LessThan(threshold) {
		sig := types.Signal{
			Action: types.SignalHold, Confidence: decimal.NewFromFloat(0.1),
			Reason: "bollinger band squeeze", Timestamp: time.Now(), IndicatorValues: values,
		}
		return sig, nil
	}

	oversold := decimal.NewFromInt(30)
	overbought := decimal.NewFromInt(70)

	switch {
	case bands.PercentB.LessThan(decimal.Zero) && rsi.LessThan(oversold):
		confidence := utilsClamp(decimal.Zero.Sub(bands.PercentB).Mul(decimal.NewFromInt(2)))
		return types.Signal{
			Action: types.SignalBuy, Confidence: confidence,
			Reason: "price below lower Bollinger Band with oversold RSI", Timestamp: time.Now(), IndicatorValues: values,
		}, nil
	case bands.PercentB.GreaterThan(decimal.NewFromInt(1)) && rsi.GreaterThan(overbought):
		confidence := utilsClamp(bands.PercentB.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(2)))
		return types.Signal{
			Action: types.SignalSell, Confidence: confidence,
			Reason: "price above upper Bollinger Band with overbought RSI", Timestamp: time.Now(), IndicatorValues: values,
		}, nil
	default:
		sig := noSignal("within band")
		sig.IndicatorValues = values
		return sig, nil
	}
}

// Breakout trades a close beyond the trailing high/low window, confirmed by
// volume exceeding a multiple of the window's average.
type Breakout struct {
	Lookback      int
	MinVolumeMult decimal.Decimal
}

func (s *Breakout) RequiredIndicators() []string {
	return []string{"window_high", "window_low"}
}

func (s *Breakout) ValidateConfig(cfg types.TraderConfig) error {
	if s.Lookback < 2 {
		return fmt.Errorf("breakout: lookback must be at least 2")
	}
	return nil
}

func (s *Breakout) Generate(candles []types.OHLCV, cache *indicators.Cache) (types.Signal, error) {
	if len(candles) < s.Lookback+1 {
		return noSignal("insufficient candle history"), nil
	}

	window := candles[len(candles)-s.Lookback-1 : len(candles)-1]
	high, low := indicators.HighLowWindow(window, s.Lookback)

	avgVolume := decimal.Zero
	for _, c := range window {
		avgVolume = avgVolume.Add(c.Volume)
	}
	avgVolume = avgVolume.Div(decimal.NewFromInt(int64(len(window))))

	current := candles[len(candles)-1]
	hasVolumeConfirm := avgVolume.IsPositive() && current.Volume.GreaterThan(avgVolume.Mul(s.MinVolumeMult))

	values := map[string]float64{
		"window_high": toFloat(high),
		"window_low":  toFloat(low),
	}

	rangeSize := high.Sub(low)
	confidence := decimal.NewFromFloat(0.8)

	switch {
	case current.Close.GreaterThan(high) && hasVolumeConfirm:
		return types.Signal{
			Action: types.SignalBuy, Confidence: confidence,
			Reason: "bullish breakout with volume confirmation", Timestamp: time.Now(), IndicatorValues: values,
		}, nil
	case current.Close.LessThan(low) && hasVolumeConfirm:
		_ = rangeSize
		return types.Signal{
			Action: types.SignalSell, Confidence: confidence,
			Reason: "bearish breakout with volume confirmation", Timestamp: time.Now(), IndicatorValues: values,
		}, nil
	default:
		sig := noSignal("no confirmed breakout")
		sig.IndicatorValues = values
		return sig, nil
	}
}

func utilsClamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
