// Package types: process-level configuration types.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServerConfig configures the out-of-core HTTP/WebSocket wrapper.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MetricsEnabled bool          `json:"metricsEnabled"`
	MetricsPort    int           `json:"metricsPort"`
	APIKey         string        `json:"apiKey,omitempty"`
}

// TelemetryConfig configures the in-process Telemetry Bus.
type TelemetryConfig struct {
	SubscriberBufferSize int           `json:"subscriberBufferSize"`
	RiskAlertRingSize    int           `json:"riskAlertRingSize"`
	HeartbeatInterval    time.Duration `json:"heartbeatInterval"`
	IdleTimeout          time.Duration `json:"idleTimeout"`
}

// DefaultTelemetryConfig mirrors the fixed constants from spec section 4.5.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		SubscriberBufferSize: 256,
		RiskAlertRingSize:    50,
		HeartbeatInterval:    15 * time.Second,
		IdleTimeout:          15 * time.Second,
	}
}

// SupervisorConfig configures the Trader Supervisor's fleet bounds.
type SupervisorConfig struct {
	MaxWorkers           int           `json:"maxWorkers"`
	AdapterCallTimeout   time.Duration `json:"adapterCallTimeout"`
	WaitForServerTimeout time.Duration `json:"waitForServerTimeout"`
}

// DefaultSupervisorConfig returns the spec's defaults (N=3, 10s adapter
// timeout, 5s server-wait deadline).
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxWorkers:           3,
		AdapterCallTimeout:   10 * time.Second,
		WaitForServerTimeout: 5 * time.Second,
	}
}

// PatternServiceConfig configures pattern matching and extraction defaults.
type PatternServiceConfig struct {
	MatchMaxResults        int     `json:"matchMaxResults"`
	MatchMinRelevance      float64 `json:"matchMinRelevance"`
	PatternWeight          float64 `json:"patternWeight"`
	ExtractionMinProfitPct float64 `json:"extractionMinProfitPct"`
}

// DefaultPatternServiceConfig mirrors the spec's named defaults (K patterns,
// relevance >= 0.6, pattern weight 0.3, 1% minimum profit to extract).
func DefaultPatternServiceConfig() PatternServiceConfig {
	return PatternServiceConfig{
		MatchMaxResults:        5,
		MatchMinRelevance:      0.6,
		PatternWeight:          0.3,
		ExtractionMinProfitPct: 1.0,
	}
}

// DefaultRiskConfig returns conservative fleet-wide risk bounds: a $100k
// total budget, 10x per-trader / 50x fleet-wide leverage ceiling, a $25k
// per-trader exposure cap and a fleet-wide exposure cap matching the budget,
// a $1k daily-loss stop, and a 10% per-position stop-loss.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxTotalBudget:            decimal.NewFromInt(100000),
		MaxLeveragePerTrader:      decimal.NewFromInt(10),
		MaxTotalLeverage:          decimal.NewFromInt(50),
		MaxExposurePerTrader:      decimal.NewFromInt(25000),
		MaxTotalExposure:          decimal.NewFromInt(100000),
		MaxDailyLoss:              decimal.NewFromInt(1000),
		StopLossPercentage:        decimal.NewFromFloat(0.1),
		MonitoringIntervalSeconds: 30,
	}
}

// TradingLoopConfig configures a Worker's per-iteration polling size,
// admission threshold, and error backoffs.
type TradingLoopConfig struct {
	CandleLimit         int             `json:"candleLimit"`
	ConfidenceThreshold decimal.Decimal `json:"confidenceThreshold"`
	FetchRetryDelay     time.Duration   `json:"fetchRetryDelay"`
	ErrorBackoff        time.Duration   `json:"errorBackoff"`
}

// DefaultTradingLoopConfig mirrors spec section 4.2's fixed constants: a
// 100-candle fetch window, 5s fetch-failure retry, 10s error-exit backoff.
func DefaultTradingLoopConfig() TradingLoopConfig {
	return TradingLoopConfig{
		CandleLimit:         100,
		ConfidenceThreshold: decimal.NewFromFloat(0.6),
		FetchRetryDelay:     5 * time.Second,
		ErrorBackoff:        10 * time.Second,
	}
}
