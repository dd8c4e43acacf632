// Package risk implements the Risk Engine: the mandatory pre-trade gate,
// independent monitor, and emergency-stop actor for the trader fleet.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StopHandler is invoked by the monitor loop to force-stop a trader, or (for
// traderID "") every registered trader, on emergency stop.
type StopHandler func(ctx context.Context, traderID string, reason string) error

// PositionCloser closes a single managed position with a reason, invoked by
// the monitor's stop-loss check.
type PositionCloser func(ctx context.Context, position types.ManagedPosition, reason string) error

type traderState struct {
	config        types.TraderConfig
	exposure      decimal.Decimal
	leverage      decimal.Decimal
	dailyPnL      decimal.Decimal
	positions     []types.ManagedPosition
	emergency     bool
}

// Engine is the Risk Engine. All state is guarded by a single mutex; every
// operation is short and in-memory.
type Engine struct {
	logger *zap.Logger
	config types.RiskConfig

	mu              sync.Mutex
	traders         map[string]*traderState
	totalExposure   decimal.Decimal
	maxTraderLev    decimal.Decimal
	maxGlobalLev    decimal.Decimal
	globalEmergency bool

	stopHandler     StopHandler
	positionCloser  PositionCloser
	bus             *telemetry.Bus
}

// New constructs a Risk Engine bound to a fleet-wide config.
func New(logger *zap.Logger, config types.RiskConfig) *Engine {
	return &Engine{
		logger:  logger.Named("risk-engine"),
		config:  config,
		traders: make(map[string]*traderState),
	}
}

// SetStopHandler wires the Supervisor's stop-trader callback. Must be called
// before the monitor loop starts.
func (e *Engine) SetStopHandler(h StopHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopHandler = h
}

// SetPositionCloser wires the Trading Loop's close-position callback.
func (e *Engine) SetPositionCloser(h PositionCloser) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positionCloser = h
}

// SetBus wires the Telemetry Bus the engine publishes risk-alerts to. Must be
// called before CanOpenPosition/EmergencyStop/GlobalEmergencyStop run; a nil
// bus (the default) makes publishing a no-op, matching the stop handler and
// position closer's optional-wiring convention.
func (e *Engine) SetBus(bus *telemetry.Bus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bus = bus
}

// publishAlert emits a risk-alert telemetry event carrying the trader's
// current composite score and the message that explains the denial or stop.
func (e *Engine) publishAlert(traderID, message string) {
	e.mu.Lock()
	bus := e.bus
	e.mu.Unlock()
	if bus == nil {
		return
	}
	bus.Publish(types.TelemetryEvent{
		Channel:  types.ChannelRiskAlerts,
		Type:     types.EventRiskAlert,
		EntityID: traderID,
		Payload: types.RiskAlertPayload{
			TraderID: traderID,
			Score:    e.Score(traderID),
			Message:  message,
		},
	})
}

// Register adds a trader to the engine's bookkeeping, called by the
// Supervisor on create and recover.
func (e *Engine) Register(config types.TraderConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traders[config.ID] = &traderState{config: config}
}

// Deregister removes a trader from bookkeeping, called by the Supervisor on
// delete.
func (e *Engine) Deregister(traderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.traders, traderID)
}

// ValidateCreation rejects a trader config that would blow the fleet budget
// before a single position is ever opened.
func (e *Engine) ValidateCreation(config types.TraderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.MaxTotalBudget.IsZero() {
		return corerr.RiskRejected(corerr.RiskViolation{
			Type:    "NO_BUDGET",
			Message: "fleet risk budget is zero",
		})
	}

	leverage := config.Leverage
	if leverage.LessThan(decimal.NewFromInt(1)) {
		leverage = decimal.NewFromInt(1)
	}
	projected := config.MaxStakeAmount.Mul(leverage)

	if projected.GreaterThan(e.config.MaxExposurePerTrader) {
		return corerr.RiskRejected(corerr.RiskViolation{
			Type:    "PER_TRADER_EXPOSURE",
			Message: "projected per-trader exposure exceeds cap",
			Details: map[string]any{"projected": projected.String(), "cap": e.config.MaxExposurePerTrader.String()},
		})
	}
	if e.totalExposure.Add(projected).GreaterThan(e.config.MaxTotalBudget) {
		return corerr.RiskRejected(corerr.RiskViolation{
			Type:    "TOTAL_BUDGET",
			Message: "projected total exposure exceeds fleet budget",
			Details: map[string]any{"projected": projected.String(), "cap": e.config.MaxTotalBudget.String()},
		})
	}
	return nil
}

// ValidateBudget denies a trade amount that would breach the per-trader or
// fleet-wide budget.
func (e *Engine) ValidateBudget(amount decimal.Decimal, traderID string, leverage decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lev := leverage
	if lev.LessThan(decimal.NewFromInt(1)) {
		lev = decimal.NewFromInt(1)
	}
	effective := amount.Abs().Mul(lev)

	if e.totalExposure.Add(effective).GreaterThan(e.config.MaxTotalBudget) {
		return corerr.RiskRejected(corerr.RiskViolation{
			Type:    "TOTAL_BUDGET",
			Message: "trade would exceed fleet budget",
		})
	}
	if t, ok := e.traders[traderID]; ok {
		if t.exposure.Add(effective).GreaterThan(e.config.MaxExposurePerTrader) {
			return corerr.RiskRejected(corerr.RiskViolation{
				Type:    "PER_TRADER_EXPOSURE",
				Message: "trade would exceed per-trader exposure cap",
			})
		}
	}
	return nil
}

// ValidateLeverage denies a leverage request exceeding the per-trader or
// global cap.
func (e *Engine) ValidateLeverage(leverage decimal.Decimal, traderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if leverage.GreaterThan(e.config.MaxLeveragePerTrader) {
		return corerr.RiskRejected(corerr.RiskViolation{
			Type:    "PER_TRADER_LEVERAGE",
			Message: "requested leverage exceeds per-trader cap",
		})
	}
	if e.maxGlobalLev.GreaterThan(e.config.MaxTotalLeverage) {
		return corerr.RiskRejected(corerr.RiskViolation{
			Type:    "GLOBAL_LEVERAGE",
			Message: "fleet leverage already at cap",
		})
	}
	return nil
}

// CanOpenPosition runs the full pre-trade gate: exposure, leverage,
// emergency-stop flag, and composite risk score.
func (e *Engine) CanOpenPosition(traderID string, notional decimal.Decimal, leverage decimal.Decimal) error {
	e.mu.Lock()
	if e.globalEmergency {
		e.mu.Unlock()
		err := corerr.RiskRejected(corerr.RiskViolation{Type: "EMERGENCY", Message: "fleet-wide emergency stop active"})
		e.publishAlert(traderID, err.Error())
		return err
	}
	if t, ok := e.traders[traderID]; ok && t.emergency {
		e.mu.Unlock()
		err := corerr.RiskRejected(corerr.RiskViolation{Type: "EMERGENCY", Message: "trader under emergency stop"})
		e.publishAlert(traderID, err.Error())
		return err
	}
	e.mu.Unlock()

	if err := e.ValidateBudget(notional, traderID, leverage); err != nil {
		e.publishAlert(traderID, err.Error())
		return err
	}
	if err := e.ValidateLeverage(leverage, traderID); err != nil {
		e.publishAlert(traderID, err.Error())
		return err
	}

	score := e.Score(traderID)
	if score.Recommendation == types.RecommendationBlock || score.Recommendation == types.RecommendationEmergencyStop {
		err := corerr.RiskRejected(corerr.RiskViolation{
			Type:    "RISK_SCORE",
			Message: "composite risk score recommends denial",
			Details: map[string]any{"overall": score.Overall.String(), "recommendation": string(score.Recommendation)},
		})
		e.publishAlert(traderID, err.Error())
		return err
	}
	return nil
}

// Score computes the composite RiskScore for a trader (or the fleet, when
// traderID is empty), per the formula in section 4.3.
func (e *Engine) Score(traderID string) types.RiskScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(traderID)
}

func (e *Engine) scoreLocked(traderID string) types.RiskScore {
	t, ok := e.traders[traderID]

	budgetScore := ratio(e.totalExposure, e.config.MaxTotalBudget)
	if ok {
		budgetScore = maxDec(budgetScore, ratio(t.exposure, e.config.MaxExposurePerTrader))
	}

	leverageScore := ratio(e.maxGlobalLev, e.config.MaxTotalLeverage)
	if ok {
		leverageScore = maxDec(leverageScore, ratio(t.leverage, e.config.MaxLeveragePerTrader))
	}

	exposureScore := maxDec(budgetScore, ratio(e.totalExposure, e.config.MaxTotalExposure))

	pnlScore := decimal.Zero
	if !e.config.MaxDailyLoss.IsZero() && ok {
		loss := t.dailyPnL.Neg()
		if loss.IsPositive() {
			pnlScore = loss.Div(e.config.MaxDailyLoss)
		}
	}

	overall := decimal.NewFromFloat(0.35).Mul(budgetScore).
		Add(decimal.NewFromFloat(0.30).Mul(leverageScore)).
		Add(decimal.NewFromFloat(0.20).Mul(exposureScore)).
		Add(decimal.NewFromFloat(0.15).Mul(pnlScore))
	if overall.GreaterThan(decimal.NewFromInt(1)) {
		overall = decimal.NewFromInt(1)
	}

	recommendation := types.RecommendationAllow
	switch {
	case overall.GreaterThanOrEqual(decimal.NewFromFloat(0.9)) || pnlScore.GreaterThanOrEqual(decimal.NewFromInt(1)):
		recommendation = types.RecommendationEmergencyStop
	case overall.GreaterThanOrEqual(decimal.NewFromFloat(0.75)):
		recommendation = types.RecommendationBlock
	case overall.GreaterThanOrEqual(decimal.NewFromFloat(0.5)):
		recommendation = types.RecommendationWarn
	}

	return types.RiskScore{
		BudgetScore:    budgetScore,
		LeverageScore:  leverageScore,
		ExposureScore:  exposureScore,
		PnLScore:       pnlScore,
		Overall:        overall,
		Recommendation: recommendation,
	}
}

func ratio(value, cap decimal.Decimal) decimal.Decimal {
	if cap.IsZero() {
		return decimal.Zero
	}
	return value.Div(cap)
}

func maxDec(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// RecordOpen updates exposure/leverage bookkeeping when a position opens.
func (e *Engine) RecordOpen(traderID string, position types.ManagedPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.traders[traderID]
	if !ok {
		return
	}
	notional := position.NotionalValue()
	t.exposure = t.exposure.Add(notional)
	t.leverage = maxDec(t.leverage, position.Leverage)
	t.positions = append(t.positions, position)

	e.totalExposure = e.totalExposure.Add(notional)
	e.maxGlobalLev = maxDec(e.maxGlobalLev, t.leverage)
}

// RecordClose updates exposure and rolling P&L bookkeeping when a position
// closes.
func (e *Engine) RecordClose(traderID string, position types.ManagedPosition, realizedPnL decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.traders[traderID]
	if !ok {
		return
	}
	notional := position.NotionalValue()
	t.exposure = t.exposure.Sub(notional)
	if t.exposure.IsNegative() {
		t.exposure = decimal.Zero
	}
	e.totalExposure = e.totalExposure.Sub(notional)
	if e.totalExposure.IsNegative() {
		e.totalExposure = decimal.Zero
	}
	t.dailyPnL = t.dailyPnL.Add(realizedPnL)

	for i, p := range t.positions {
		if p.PositionID == position.PositionID {
			t.positions = append(t.positions[:i], t.positions[i+1:]...)
			break
		}
	}
}

// ResetDaily clears the rolling daily P&L for every trader. Intended to be
// called once per day by an external scheduler.
func (e *Engine) ResetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.traders {
		t.dailyPnL = decimal.Zero
	}
}

// Run drives the monitor loop until ctx is cancelled, checking every
// registered trader once per monitoringIntervalSeconds.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.config.MonitoringIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	e.mu.Lock()
	traderIDs := make([]string, 0, len(e.traders))
	for id := range e.traders {
		traderIDs = append(traderIDs, id)
	}
	e.mu.Unlock()

	for _, id := range traderIDs {
		e.checkTrader(ctx, id)
	}
}

func (e *Engine) checkTrader(ctx context.Context, traderID string) {
	e.mu.Lock()
	t, ok := e.traders[traderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	dailyPnL := t.dailyPnL
	maxDailyLoss := e.config.MaxDailyLoss
	positions := append([]types.ManagedPosition(nil), t.positions...)
	stopLossPct := e.config.StopLossPercentage
	e.mu.Unlock()

	if !maxDailyLoss.IsZero() && dailyPnL.Neg().GreaterThanOrEqual(maxDailyLoss) {
		e.EmergencyStop(ctx, traderID, "daily loss cap breached")
		return
	}

	for _, p := range positions {
		if e.positionCloser == nil || stopLossPct.IsZero() {
			continue
		}
		if stopLossBreached(p, stopLossPct) {
			if err := e.positionCloser(ctx, p, "STOP_LOSS"); err != nil {
				e.logger.Error("stop-loss close failed", zap.String("positionId", p.PositionID), zap.Error(err))
			}
		}
	}

	score := e.Score(traderID)
	if score.Recommendation == types.RecommendationEmergencyStop {
		e.EmergencyStop(ctx, traderID, "composite risk score recommends emergency stop")
	}
}

func stopLossBreached(p types.ManagedPosition, pct decimal.Decimal) bool {
	loss := p.UnrealizedPnL()
	if !loss.IsNegative() {
		return false
	}
	threshold := p.EntryPrice.Mul(p.Quantity).Abs().Mul(pct)
	return loss.Abs().GreaterThanOrEqual(threshold)
}

// EmergencyStop marks a single trader as emergency-stopped and invokes the
// registered stop handler.
func (e *Engine) EmergencyStop(ctx context.Context, traderID string, reason string) {
	e.mu.Lock()
	t, ok := e.traders[traderID]
	if ok {
		t.emergency = true
	}
	handler := e.stopHandler
	e.mu.Unlock()

	e.logger.Warn("emergency stop triggered", zap.String("traderId", traderID), zap.String("reason", reason))
	e.publishAlert(traderID, "EMERGENCY_STOP: "+reason)
	if handler != nil {
		if err := handler(ctx, traderID, reason); err != nil {
			e.logger.Error("emergency stop handler failed", zap.String("traderId", traderID), zap.Error(err))
		}
	}
}

// GlobalEmergencyStop closes every open position across the fleet and stops
// every registered trader.
func (e *Engine) GlobalEmergencyStop(ctx context.Context, reason string) {
	e.mu.Lock()
	e.globalEmergency = true
	closer := e.positionCloser
	var allPositions []types.ManagedPosition
	for _, t := range e.traders {
		t.emergency = true
		allPositions = append(allPositions, t.positions...)
	}
	handler := e.stopHandler
	e.mu.Unlock()

	e.logger.Error("global emergency stop triggered", zap.String("reason", reason))
	e.publishAlert("", "GLOBAL_EMERGENCY_STOP: "+reason)

	if closer != nil {
		for _, p := range allPositions {
			if err := closer(ctx, p, "EMERGENCY_STOP"); err != nil {
				e.logger.Error("emergency close failed", zap.String("positionId", p.PositionID), zap.Error(err))
			}
		}
	}
	if handler != nil {
		if err := handler(ctx, "", reason); err != nil {
			e.logger.Error("global stop handler failed", zap.Error(err))
		}
	}
}

// ClearEmergency lifts a trader's emergency-stop flag, used by an operator
// after manual review.
func (e *Engine) ClearEmergency(traderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.traders[traderID]; ok {
		t.emergency = false
	}
}
