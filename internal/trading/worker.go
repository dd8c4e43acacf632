// Package trading implements the per-worker Trading Loop: the cooperative
// scheduler that fetches candles, matches patterns, generates signals, and
// drives position transitions for a single trader.
package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/indicators"
	"github.com/atlas-desktop/trading-core/internal/patterns"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Worker owns a single trader's state machine, strategy instance, indicator
// cache, and current position. Other components read it only through the
// getters below.
type Worker struct {
	id     string
	logger *zap.Logger

	mu            sync.RWMutex
	config        types.TraderConfig
	state         types.TraderState
	strat         strategy.Strategy
	cache         *indicators.Cache
	position      *types.ManagedPosition
	metrics       types.TraderMetrics
	lastSignalAt  time.Time
	errorCount    int
	issues        []string

	adapter    exchange.Adapter
	riskEngine *risk.Engine
	patternSvc *patterns.Service
	positions  PositionManager
	bus        *telemetry.Bus
	loopConfig types.TradingLoopConfig

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker constructs a worker in IDLE state. patternSvc may be nil, in
// which case step 3 of the loop is skipped entirely.
func NewWorker(
	logger *zap.Logger,
	config types.TraderConfig,
	strat strategy.Strategy,
	adapter exchange.Adapter,
	riskEngine *risk.Engine,
	patternSvc *patterns.Service,
	positions PositionManager,
	bus *telemetry.Bus,
	loopConfig types.TradingLoopConfig,
) *Worker {
	return &Worker{
		id:         config.ID,
		logger:     logger.Named(fmt.Sprintf("worker-%s", config.ID)),
		config:     config,
		state:      types.StateIdle,
		strat:      strat,
		cache:      indicators.NewCache(),
		adapter:    adapter,
		riskEngine: riskEngine,
		patternSvc: patternSvc,
		positions:  positions,
		bus:        bus,
		loopConfig: loopConfig,
		metrics:    types.TraderMetrics{StartTime: time.Now()},
	}
}

// ID returns the trader ID this worker manages.
func (w *Worker) ID() string { return w.id }

// State returns the worker's current lifecycle state.
func (w *Worker) State() types.TraderState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s types.TraderState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Config returns a copy of the worker's current trader config.
func (w *Worker) Config() types.TraderConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Metrics returns a copy of the worker's accumulated performance metrics.
func (w *Worker) Metrics() types.TraderMetrics {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.metrics
}

// Position returns the worker's current open position, if any.
func (w *Worker) Position() (types.ManagedPosition, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.position == nil {
		return types.ManagedPosition{}, false
	}
	return *w.position, true
}

// Health reports the snapshot the Supervisor polls for healthAll.
func (w *Worker) Health() types.WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return types.WorkerHealth{
		TraderID:         w.id,
		State:            w.state,
		LastSignalTime:   w.lastSignalAt,
		AdapterConnected: w.adapter.IsConnected(),
		ErrorCount:       w.errorCount,
		Issues:           append([]string(nil), w.issues...),
	}
}

// UpdateConfig swaps the worker's config and strategy instance atomically.
// The caller (Supervisor) is responsible for stopping the worker first if
// it is running, per the update contract in section 4.1.
func (w *Worker) UpdateConfig(config types.TraderConfig, strat strategy.Strategy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = config
	w.strat = strat
	w.cache = indicators.NewCache()
}

// Start transitions IDLE|STOPPED -> STARTING -> RUNNING and launches the
// Trading Loop goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if !types.CanTransition(w.state, types.StateStarting) {
		current := w.state
		w.mu.Unlock()
		return corerr.Newf(corerr.KindBadState, "worker %s cannot start from state %s", w.id, current)
	}
	w.state = types.StateStarting
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	w.setState(types.StateRunning)
	if w.bus != nil {
		w.publishStatus(types.ReasonStarted)
	}

	go w.run(ctx, stopCh, doneCh)
	return nil
}

// Stop transitions RUNNING|PAUSED -> STOPPING -> STOPPED (or ERROR ->
// STOPPED), cancels the loop cooperatively, and closes any open position.
// Idempotent when already stopped.
func (w *Worker) Stop(ctx context.Context, reason string) error {
	w.mu.Lock()
	if w.state == types.StateStopped || w.state == types.StateIdle {
		w.mu.Unlock()
		return nil
	}
	fromError := w.state == types.StateError
	if !fromError && !types.CanTransition(w.state, types.StateStopping) {
		current := w.state
		w.mu.Unlock()
		return corerr.Newf(corerr.KindBadState, "worker %s cannot stop from state %s", w.id, current)
	}
	if !fromError {
		w.state = types.StateStopping
	}
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}

	if pos, ok := w.Position(); ok {
		if _, err := w.positions.Close(ctx, w.Config(), pos, reason); err != nil {
			w.logger.Error("failed to close position on stop", zap.Error(err))
		}
		w.mu.Lock()
		w.position = nil
		w.mu.Unlock()
	}

	w.setState(types.StateStopped)
	if w.bus != nil {
		w.publishStatus(types.ReasonStopped)
	}
	return nil
}

func (w *Worker) publishStatus(reason types.TraderStatusReason) {
	w.bus.Publish(types.TelemetryEvent{
		Channel:  types.ChannelTraderStatus,
		Type:     types.EventTraderStatus,
		EntityID: w.id,
		Payload: types.TraderStatusPayload{
			TraderID: w.id,
			State:    w.State(),
			Reason:   reason,
		},
	})
}

// run is the cooperative Trading Loop. It repeats fetch/process/match/
// generate/execute/sleep until stopCh fires or the state leaves RUNNING.
func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		if w.State() != types.StateRunning {
			return
		}

		if err := w.iterate(ctx); err != nil {
			w.logger.Error("trading loop iteration failed, entering ERROR", zap.Error(err))
			w.mu.Lock()
			w.errorCount++
			w.issues = append(w.issues, err.Error())
			w.mu.Unlock()
			w.setState(types.StateError)
			if w.bus != nil {
				w.publishStatus(types.ReasonError)
			}
			select {
			case <-ctx.Done():
			case <-time.After(w.loopConfig.ErrorBackoff):
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(w.Config().CandlestickInterval.Duration()):
		}
	}
}

// iterate runs a single pass of fetch/process/match/generate/execute.
func (w *Worker) iterate(ctx context.Context) error {
	cfg := w.Config()

	candles, err := w.fetchCandles(ctx, cfg)
	if err != nil {
		return nil // transient fetch failures are logged, not escalated
	}
	if len(candles) == 0 {
		return nil
	}

	warnings, rejected := validateCandles(candles)
	for _, p := range warnings {
		w.logger.Warn("candle validation issue", zap.String("issue", p))
	}
	if rejected {
		w.logger.Warn("rejecting candle window: chronological order violated")
		return nil
	}

	w.mu.RLock()
	strat := w.strat
	cache := w.cache
	w.mu.RUnlock()

	signal, err := strat.Generate(candles, cache)
	if err != nil {
		return fmt.Errorf("strategy generate: %w", err)
	}

	signal = w.matchAndBlend(cfg, candles, signal)

	w.mu.Lock()
	w.lastSignalAt = time.Now()
	w.metrics.LastSignalAction = signal.Action
	w.metrics.LastSignalConfidence = signal.Confidence
	w.metrics.LastSignalTime = w.lastSignalAt
	w.mu.Unlock()

	return w.execute(ctx, cfg, signal)
}

func (w *Worker) fetchCandles(ctx context.Context, cfg types.TraderConfig) ([]types.OHLCV, error) {
	limit := w.loopConfig.CandleLimit
	if limit <= 0 {
		limit = 100
	}

	retryConfig := utils.DefaultRetryConfig()
	retryConfig.InitialDelay = w.loopConfig.FetchRetryDelay
	retryConfig.MaxDelay = w.loopConfig.FetchRetryDelay

	candles, err := utils.Retry(retryConfig, func() ([]types.OHLCV, error) {
		return w.adapter.GetCandles(ctx, cfg.Symbol, cfg.CandlestickInterval, limit)
	})
	if err != nil {
		w.logger.Warn("fetch candles failed after retries, deferring to next interval", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(w.loopConfig.FetchRetryDelay):
		}
		return nil, nil
	}
	return candles, nil
}

// validateCandles enforces candle sanity per spec section 4.2 step 2. A
// candle whose openTime precedes the previous candle's closeTime rejects the
// whole window (chronological order is load-bearing for every indicator); a
// >50% price jump between consecutive closes is only a warning.
func validateCandles(candles []types.OHLCV) (warnings []string, rejected bool) {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime.Before(candles[i-1].CloseTime) {
			rejected = true
		}
		if candles[i-1].Close.IsPositive() {
			change := candles[i].Close.Sub(candles[i-1].Close).Abs().Div(candles[i-1].Close)
			if change.GreaterThan(decimal.NewFromFloat(0.5)) {
				warnings = append(warnings, fmt.Sprintf("candle %d price jump exceeds 50%%", i))
			}
		}
	}
	return warnings, rejected
}

// matchAndBlend asks the Pattern Service for the top relevant pattern and
// blends its confidence into the strategy's own signal per section 4.2
// step 4. Returns signal unchanged when no Pattern Service is attached or
// no match clears minRelevance.
func (w *Worker) matchAndBlend(cfg types.TraderConfig, candles []types.OHLCV, signal types.Signal) types.Signal {
	if w.patternSvc == nil || !signal.Action.Actionable() {
		return signal
	}

	indicatorValues := make(map[string]decimal.Decimal, len(signal.IndicatorValues))
	for name, v := range signal.IndicatorValues {
		indicatorValues[name] = decimal.NewFromFloat(v)
	}

	conditions := types.MarketConditions{
		Exchange:   cfg.Exchange,
		Symbol:     cfg.Symbol,
		Timeframe:  cfg.CandlestickInterval,
		Indicators: indicatorValues,
		Price:      candles[len(candles)-1].Close,
	}

	matches := w.patternSvc.Match(conditions, decimal.NewFromFloat(0.6), 1)
	if len(matches) == 0 {
		return signal
	}
	match := matches[0]
	if match.Pattern.Action != signal.Action {
		return signal
	}

	weight := decimal.NewFromFloat(0.3)
	effective := decimal.NewFromInt(1).Sub(weight).Mul(signal.Confidence).
		Add(weight.Mul(match.Confidence).Mul(match.Relevance))

	signal.Confidence = effective
	signal.MatchedPatternID = match.Pattern.ID
	return signal
}

// execute carries out section 4.2 step 5: admit the signal, gate it through
// the Risk Engine, and delegate open/close to the PositionManager port.
func (w *Worker) execute(ctx context.Context, cfg types.TraderConfig, signal types.Signal) error {
	if signal.Action == types.SignalClose {
		pos, ok := w.Position()
		if !ok {
			return nil
		}
		pnl, err := w.positions.Close(ctx, cfg, pos, "CLOSE_SIGNAL")
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		w.mu.Lock()
		w.position = nil
		w.metrics.CloseSignalsExecuted++
		w.recordTradeLocked(pnl)
		w.mu.Unlock()
		return nil
	}

	if !signal.Action.Actionable() {
		return nil
	}
	if !signal.Admitted(w.loopConfig.ConfidenceThreshold) {
		return nil
	}
	if _, ok := w.Position(); ok {
		return nil // one position per worker at a time
	}

	leverage := cfg.Leverage
	if leverage.LessThan(decimal.NewFromInt(1)) {
		leverage = decimal.NewFromInt(1)
	}
	notional := cfg.MaxStakeAmount.Mul(leverage)

	if err := w.riskEngine.CanOpenPosition(cfg.ID, notional, leverage); err != nil {
		w.logger.Info("signal denied by risk engine", zap.Error(err))
		return nil
	}

	position, err := w.positions.Open(ctx, cfg, signal)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}

	w.mu.Lock()
	w.position = &position
	w.metrics.SignalsExecuted++
	w.mu.Unlock()
	return nil
}

func (w *Worker) recordTradeLocked(pnl decimal.Decimal) {
	w.metrics.TotalTrades++
	if pnl.IsPositive() {
		w.metrics.WinningTrades++
		w.metrics.TotalProfit = w.metrics.TotalProfit.Add(pnl)
	} else if pnl.IsNegative() {
		w.metrics.LosingTrades++
		w.metrics.TotalLoss = w.metrics.TotalLoss.Add(pnl.Abs())
	}
}
