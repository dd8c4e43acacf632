// Package types provides the shared domain types for the trading core.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the venue a trader operates against.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeKraken  Exchange = "KRAKEN"
	ExchangeCoinbase Exchange = "COINBASE"
	ExchangeSimulated Exchange = "SIMULATED"
)

// StrategyType selects the signal-generation strategy a worker runs.
type StrategyType string

const (
	StrategyTrendFollowing StrategyType = "TREND_FOLLOWING"
	StrategyMeanReversion  StrategyType = "MEAN_REVERSION"
	StrategyBreakout       StrategyType = "BREAKOUT"
)

// CandlestickInterval is one of the supported candle granularities.
type CandlestickInterval string

const (
	IntervalOneMinute     CandlestickInterval = "ONE_MINUTE"
	IntervalFiveMinutes   CandlestickInterval = "FIVE_MINUTES"
	IntervalFifteenMinutes CandlestickInterval = "FIFTEEN_MINUTES"
	IntervalOneHour       CandlestickInterval = "ONE_HOUR"
	IntervalOneDay        CandlestickInterval = "ONE_DAY"
)

// Duration returns the wall-clock sleep duration between trading-loop
// iterations for this interval.
func (c CandlestickInterval) Duration() time.Duration {
	switch c {
	case IntervalOneMinute:
		return time.Minute
	case IntervalFiveMinutes:
		return 5 * time.Minute
	case IntervalFifteenMinutes:
		return 15 * time.Minute
	case IntervalOneHour:
		return time.Hour
	case IntervalOneDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// TraderConfig is the immutable (once validated) configuration of a trader.
type TraderConfig struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Exchange            Exchange            `json:"exchange"`
	Symbol              string              `json:"symbol"`
	MaxStakeAmount      decimal.Decimal     `json:"maxStakeAmount"`
	MaxRiskLevel        int                 `json:"maxRiskLevel"`
	MaxTradingDuration  time.Duration       `json:"maxTradingDuration"`
	MinReturnPercent    decimal.Decimal     `json:"minReturnPercent"`
	Strategy            StrategyType        `json:"strategy"`
	CandlestickInterval CandlestickInterval `json:"candlestickInterval"`
	Leverage            decimal.Decimal     `json:"leverage"`
}

// Validate enforces the construction-time invariants named in the spec.
// Rejection produces InvalidArgument-flavoured errors via the caller
// (Supervisor.Create); this function returns a plain error so it composes
// with any caller's own error wrapping.
func (c TraderConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name cannot be blank")
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("symbol cannot be blank")
	}
	if !c.MaxStakeAmount.IsPositive() {
		return fmt.Errorf("max stake amount must be positive")
	}
	if c.MaxRiskLevel < 1 || c.MaxRiskLevel > 10 {
		return fmt.Errorf("max risk level must be between 1 and 10")
	}
	if c.MaxTradingDuration <= 0 {
		return fmt.Errorf("max trading duration must be positive")
	}
	if c.MinReturnPercent.IsNegative() {
		return fmt.Errorf("min return percent must be non-negative")
	}
	switch c.Strategy {
	case StrategyTrendFollowing, StrategyMeanReversion, StrategyBreakout:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	return nil
}

// TraderState is the worker lifecycle state machine.
type TraderState string

const (
	StateIdle     TraderState = "IDLE"
	StateStarting TraderState = "STARTING"
	StateRunning  TraderState = "RUNNING"
	StatePaused   TraderState = "PAUSED"
	StateStopping TraderState = "STOPPING"
	StateStopped  TraderState = "STOPPED"
	StateError    TraderState = "ERROR"
)

// allowedTransitions encodes the lifecycle graph from spec section 3.
var allowedTransitions = map[TraderState]map[TraderState]bool{
	StateIdle:     {StateStarting: true, StateError: true},
	StateStarting: {StateRunning: true, StateError: true, StateStopping: true},
	StateRunning:  {StatePaused: true, StateStopping: true, StateError: true},
	StatePaused:   {StateRunning: true, StateStopping: true, StateError: true},
	StateStopping: {StateStopped: true, StateError: true},
	StateStopped:  {StateStarting: true, StateError: true},
	StateError:    {StateStopped: true},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to TraderState) bool {
	if from == to {
		return true
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// SignalAction is the action a generated trading signal recommends.
type SignalAction string

const (
	SignalBuy   SignalAction = "BUY"
	SignalSell  SignalAction = "SELL"
	SignalHold  SignalAction = "HOLD"
	SignalClose SignalAction = "CLOSE"
)

// Actionable reports whether the action requires opening a position.
func (a SignalAction) Actionable() bool {
	return a == SignalBuy || a == SignalSell
}

// Signal is the output of a strategy's Generate step, optionally blended
// with a matched pattern's confidence.
type Signal struct {
	Action           SignalAction       `json:"action"`
	Confidence       decimal.Decimal    `json:"confidence"`
	Reason           string             `json:"reason"`
	Timestamp        time.Time          `json:"timestamp"`
	IndicatorValues  map[string]float64 `json:"indicatorValues"`
	MatchedPatternID string             `json:"matchedPatternId,omitempty"`
}

// Admitted reports whether the signal clears the configured confidence
// threshold.
func (s Signal) Admitted(threshold decimal.Decimal) bool {
	return s.Confidence.GreaterThanOrEqual(threshold)
}

// TraderMetrics accumulates a worker's trading performance.
type TraderMetrics struct {
	TotalTrades          int             `json:"totalTrades"`
	WinningTrades        int             `json:"winningTrades"`
	LosingTrades         int             `json:"losingTrades"`
	TotalProfit          decimal.Decimal `json:"totalProfit"`
	TotalLoss            decimal.Decimal `json:"totalLoss"`
	SignalsExecuted      int             `json:"signalsExecuted"`
	CloseSignalsExecuted int             `json:"closeSignalsExecuted"`
	LastSignalAction     SignalAction    `json:"lastSignalAction,omitempty"`
	LastSignalConfidence decimal.Decimal `json:"lastSignalConfidence"`
	LastSignalTime       time.Time       `json:"lastSignalTime"`
	StartTime            time.Time       `json:"startTime"`
}

// NetProfit is totalProfit minus totalLoss.
func (m TraderMetrics) NetProfit() decimal.Decimal {
	return m.TotalProfit.Sub(m.TotalLoss)
}

// WinRate is winningTrades / totalTrades, 0 when no trades have closed.
func (m TraderMetrics) WinRate() decimal.Decimal {
	if m.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades)))
}

// ProfitFactor is totalProfit / totalLoss; undefined (returns zero) when
// totalLoss is zero.
func (m TraderMetrics) ProfitFactor() decimal.Decimal {
	if m.TotalLoss.IsZero() {
		return decimal.Zero
	}
	return m.TotalProfit.Div(m.TotalLoss)
}

// AverageProfit is totalProfit / winningTrades.
func (m TraderMetrics) AverageProfit() decimal.Decimal {
	if m.WinningTrades == 0 {
		return decimal.Zero
	}
	return m.TotalProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
}

// AverageLoss is totalLoss / losingTrades.
func (m TraderMetrics) AverageLoss() decimal.Decimal {
	if m.LosingTrades == 0 {
		return decimal.Zero
	}
	return m.TotalLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
}

// Uptime is derived on read from StartTime.
func (m TraderMetrics) Uptime() time.Duration {
	if m.StartTime.IsZero() {
		return 0
	}
	return time.Since(m.StartTime)
}

// PositionAction mirrors the directional side of a managed position.
type PositionAction string

const (
	PositionLong  PositionAction = "LONG"
	PositionShort PositionAction = "SHORT"
)

// ManagedPosition is a position opened and tracked by the Trading Loop,
// mutated only by the Risk Engine or the owning worker's closing logic.
type ManagedPosition struct {
	PositionID            string          `json:"positionId"`
	TraderID              string          `json:"traderId"`
	Symbol                string          `json:"symbol"`
	Action                PositionAction  `json:"action"`
	Quantity              decimal.Decimal `json:"quantity"`
	EntryPrice            decimal.Decimal `json:"entryPrice"`
	CurrentPrice          decimal.Decimal `json:"currentPrice"`
	Leverage              decimal.Decimal `json:"leverage"`
	StopLossPrice         decimal.Decimal `json:"stopLossPrice"`
	TakeProfitPrice       decimal.Decimal `json:"takeProfitPrice"`
	TrailingStopActivated bool            `json:"trailingStopActivated"`
	OpenedAt              time.Time       `json:"openedAt"`
}

// effectiveLeverage is max(1, leverage).
func (p ManagedPosition) effectiveLeverage() decimal.Decimal {
	if p.Leverage.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return p.Leverage
}

// NotionalValue is |quantity * currentPrice| * max(1, leverage).
func (p ManagedPosition) NotionalValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice).Abs().Mul(p.effectiveLeverage())
}

// UnrealizedPnL is the mark-to-market profit/loss of the position.
func (p ManagedPosition) UnrealizedPnL() decimal.Decimal {
	delta := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Action == PositionShort {
		delta = delta.Neg()
	}
	return delta.Mul(p.Quantity)
}

// RiskRecommendation is the categorical output of a risk score evaluation.
type RiskRecommendation string

const (
	RecommendationAllow          RiskRecommendation = "ALLOW"
	RecommendationWarn           RiskRecommendation = "WARN"
	RecommendationBlock          RiskRecommendation = "BLOCK"
	RecommendationEmergencyStop  RiskRecommendation = "EMERGENCY_STOP"
)

// RiskScore is the composite risk evaluation for a trader or the fleet.
type RiskScore struct {
	BudgetScore    decimal.Decimal    `json:"budgetScore"`
	LeverageScore  decimal.Decimal    `json:"leverageScore"`
	ExposureScore  decimal.Decimal    `json:"exposureScore"`
	PnLScore       decimal.Decimal    `json:"pnlScore"`
	Overall        decimal.Decimal    `json:"overall"`
	Recommendation RiskRecommendation `json:"recommendation"`
}

// RiskConfig bounds the fleet-wide and per-trader risk envelope.
type RiskConfig struct {
	MaxTotalBudget           decimal.Decimal `json:"maxTotalBudget"`
	MaxLeveragePerTrader     decimal.Decimal `json:"maxLeveragePerTrader"`
	MaxTotalLeverage         decimal.Decimal `json:"maxTotalLeverage"`
	MaxExposurePerTrader     decimal.Decimal `json:"maxExposurePerTrader"`
	MaxTotalExposure         decimal.Decimal `json:"maxTotalExposure"`
	MaxDailyLoss             decimal.Decimal `json:"maxDailyLoss"`
	StopLossPercentage       decimal.Decimal `json:"stopLossPercentage"`
	MonitoringIntervalSeconds int            `json:"monitoringIntervalSeconds"`
}

// OHLCV is a single candlestick.
type OHLCV struct {
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// WorkerHealth is the health snapshot returned by Supervisor.Health.
type WorkerHealth struct {
	TraderID         string      `json:"traderId"`
	State            TraderState `json:"state"`
	LastSignalTime   time.Time   `json:"lastSignalTime"`
	AdapterConnected bool        `json:"adapterConnected"`
	ErrorCount       int         `json:"errorCount"`
	Issues           []string    `json:"issues,omitempty"`
}

// Unhealthy reports whether this snapshot indicates a worker needing
// operator attention, per spec section 4.1.
func (h WorkerHealth) Unhealthy(intervalDuration time.Duration) bool {
	if h.State == StateError || !h.AdapterConnected {
		return true
	}
	if h.State == StateRunning && !h.LastSignalTime.IsZero() {
		if time.Since(h.LastSignalTime) > 3*intervalDuration {
			return true
		}
	}
	return len(h.Issues) > 0
}
