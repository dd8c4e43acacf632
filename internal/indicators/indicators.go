// Package indicators provides pure technical-indicator kernels over ordered
// candle sequences, plus the Cache the Trading Loop uses to skip recomputing
// an indicator while the newest candle is unchanged.
package indicators

import (
	"math"

	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// Closes extracts the close price series from a candle sequence.
func Closes(candles []types.OHLCV) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SMA computes the simple moving average over the last `period` closes using
// a fresh incremental calculator. Returns zero if there are fewer than
// `period` candles.
func SMA(candles []types.OHLCV, period int) decimal.Decimal {
	if len(candles) < period || period <= 0 {
		return decimal.Zero
	}
	calc := utils.NewSMA(period)
	var last decimal.Decimal
	for _, c := range candles {
		last = calc.Add(c.Close)
	}
	return last
}

// EMA computes the exponential moving average over the whole candle series
// using a fresh calculator, seeded by the first close.
func EMA(candles []types.OHLCV, period int) decimal.Decimal {
	if len(candles) == 0 || period <= 0 {
		return decimal.Zero
	}
	calc := utils.NewEMA(period)
	var last decimal.Decimal
	for _, c := range candles {
		last = calc.Add(c.Close)
	}
	return last
}

// RSI computes the relative strength index from simple averages of the gains
// and losses over the last `period` close-to-close changes (no Wilder
// smoothing). Returns 50 when there are fewer than period+1 candles.
func RSI(candles []types.OHLCV, period int) decimal.Decimal {
	if len(candles) < period+1 || period <= 0 {
		return decimal.NewFromInt(50)
	}

	gains := decimal.Zero
	losses := decimal.Zero
	start := len(candles) - period - 1

	for i := start + 1; i < len(candles); i++ {
		delta := candles[i].Close.Sub(candles[i-1].Close)
		if delta.IsPositive() {
			gains = gains.Add(delta)
		} else {
			losses = losses.Add(delta.Abs())
		}
	}

	avgGain := gains.Div(decimal.NewFromInt(int64(period)))
	avgLoss := losses.Div(decimal.NewFromInt(int64(period)))

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}

	rs := avgGain.Div(avgLoss)
	rsFloat, _ := rs.Float64()
	rsi := 100 - (100 / (1 + rsFloat))
	return decimal.NewFromFloat(rsi)
}

// MACDResult holds the MACD line, signal line, and histogram.
type MACDResult struct {
	MACD      decimal.Decimal
	Signal    decimal.Decimal
	Histogram decimal.Decimal
}

// MACD computes the moving-average-convergence-divergence indicator with
// the conventional 12/26/9 periods (configurable).
func MACD(candles []types.OHLCV, fast, slow, signalPeriod int) MACDResult {
	if len(candles) < slow {
		return MACDResult{}
	}

	fastCalc := utils.NewEMA(fast)
	slowCalc := utils.NewEMA(slow)
	var macdLine decimal.Decimal
	macdSeries := make([]decimal.Decimal, 0, len(candles))

	for _, c := range candles {
		f := fastCalc.Add(c.Close)
		s := slowCalc.Add(c.Close)
		macdLine = f.Sub(s)
		macdSeries = append(macdSeries, macdLine)
	}

	signalCalc := utils.NewEMA(signalPeriod)
	var signal decimal.Decimal
	for _, v := range macdSeries {
		signal = signalCalc.Add(v)
	}

	return MACDResult{
		MACD:      macdLine,
		Signal:    signal,
		Histogram: macdLine.Sub(signal),
	}
}

// BollingerBands holds the upper, middle, and lower band values plus the
// derived %B and bandwidth used by mean-reversion strategies.
type BollingerBands struct {
	Upper      decimal.Decimal
	Middle     decimal.Decimal
	Lower      decimal.Decimal
	PercentB   decimal.Decimal
	Bandwidth  decimal.Decimal
}

// Bollinger computes Bollinger Bands over `period` candles at `stdDevMult`
// standard deviations.
func Bollinger(candles []types.OHLCV, period int, stdDevMult float64) BollingerBands {
	if len(candles) < period || period <= 0 {
		return BollingerBands{}
	}

	window := candles[len(candles)-period:]
	closes := Closes(window)
	mean := utils.CalculateMean(closes)

	sumSquares := 0.0
	meanFloat, _ := mean.Float64()
	for _, c := range closes {
		cf, _ := c.Float64()
		diff := cf - meanFloat
		sumSquares += diff * diff
	}
	stdDev := math.Sqrt(sumSquares / float64(len(closes)))

	band := decimal.NewFromFloat(stdDev * stdDevMult)
	upper := mean.Add(band)
	lower := mean.Sub(band)

	lastClose := candles[len(candles)-1].Close
	var percentB decimal.Decimal
	if !upper.Equal(lower) {
		percentB = lastClose.Sub(lower).Div(upper.Sub(lower))
	}

	var bandwidth decimal.Decimal
	if !mean.IsZero() {
		bandwidth = upper.Sub(lower).Div(mean)
	}

	return BollingerBands{
		Upper:     upper,
		Middle:    mean,
		Lower:     lower,
		PercentB:  percentB,
		Bandwidth: bandwidth,
	}
}

// HighLowWindow returns the highest high and lowest low over the trailing
// `period` candles, used by the breakout strategy's resistance/support.
func HighLowWindow(candles []types.OHLCV, period int) (high, low decimal.Decimal) {
	if len(candles) == 0 {
		return decimal.Zero, decimal.Zero
	}
	if period > len(candles) {
		period = len(candles)
	}
	window := candles[len(candles)-period:]
	high, low = window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
	}
	return high, low
}

// Cache memoizes indicator values by (indicator, period, lastCloseTime) so
// the Trading Loop can skip recomputation when the newest candle hasn't
// changed, per spec section 4.2 step 2.
type Cache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	lastCloseUnix int64
	value         decimal.Decimal
}

// NewCache constructs an empty indicator cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns a cached value for the given key if it was computed against
// the same latest-candle timestamp; otherwise it calls compute, caches the
// fresh value, and returns it.
func (c *Cache) Get(key string, lastCloseUnix int64, compute func() decimal.Decimal) decimal.Decimal {
	if entry, ok := c.entries[key]; ok && entry.lastCloseUnix == lastCloseUnix {
		return entry.value
	}
	value := compute()
	c.entries[key] = cacheEntry{lastCloseUnix: lastCloseUnix, value: value}
	return value
}
