package trading

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
)

// PositionManager opens and closes managed positions on behalf of a Worker,
// keeping the exchange adapter, the Risk Engine's bookkeeping, and the
// Telemetry Bus in step. Workers never place orders, record exposure, or
// publish position events themselves.
type PositionManager interface {
	Open(ctx context.Context, cfg types.TraderConfig, signal types.Signal) (types.ManagedPosition, error)
	Close(ctx context.Context, cfg types.TraderConfig, position types.ManagedPosition, reason string) (decimal.Decimal, error)
}

// AdapterPositionManager is the reference PositionManager: it places the
// order through an ExchangeAdapter, records exposure with the Risk Engine,
// and publishes the resulting telemetry event.
type AdapterPositionManager struct {
	adapter exchange.Adapter
	risk    *risk.Engine
	bus     *telemetry.Bus
}

// NewPositionManager wires an adapter position manager for a single worker.
func NewPositionManager(adapter exchange.Adapter, riskEngine *risk.Engine, bus *telemetry.Bus) *AdapterPositionManager {
	return &AdapterPositionManager{adapter: adapter, risk: riskEngine, bus: bus}
}

// Open places an order for the given signal and registers the resulting
// position with the Risk Engine.
func (m *AdapterPositionManager) Open(ctx context.Context, cfg types.TraderConfig, signal types.Signal) (types.ManagedPosition, error) {
	quantity := cfg.MaxStakeAmount
	result, err := m.adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   cfg.Symbol,
		Action:   signal.Action,
		Quantity: quantity,
		Leverage: cfg.Leverage,
	})
	if err != nil {
		return types.ManagedPosition{}, err
	}

	action := types.PositionLong
	if signal.Action == types.SignalSell {
		action = types.PositionShort
	}

	stopLossPrice, takeProfitPrice := stopAndTarget(result.FilledPrice, action, cfg)

	position := types.ManagedPosition{
		PositionID:      utils.GeneratePositionID(),
		TraderID:        cfg.ID,
		Symbol:          cfg.Symbol,
		Action:          action,
		Quantity:        result.FilledQty,
		EntryPrice:      result.FilledPrice,
		CurrentPrice:    result.FilledPrice,
		Leverage:        cfg.Leverage,
		StopLossPrice:   stopLossPrice,
		TakeProfitPrice: takeProfitPrice,
		OpenedAt:        time.Now(),
	}

	m.risk.RecordOpen(cfg.ID, position)
	if m.bus != nil {
		m.bus.Publish(types.TelemetryEvent{
			Channel:  types.ChannelPositions,
			Type:     types.EventPositionOpen,
			EntityID: position.PositionID,
			Payload:  position,
		})
	}
	return position, nil
}

// Close closes a position via the adapter, releases its risk bookkeeping,
// and publishes the close event. Returns the realized P&L.
func (m *AdapterPositionManager) Close(ctx context.Context, cfg types.TraderConfig, position types.ManagedPosition, reason string) (decimal.Decimal, error) {
	closeAction := types.SignalSell
	if position.Action == types.PositionShort {
		closeAction = types.SignalBuy
	}

	result, err := m.adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   position.Symbol,
		Action:   closeAction,
		Quantity: position.Quantity,
		Leverage: position.Leverage,
	})
	if err != nil {
		return decimal.Zero, err
	}

	position.CurrentPrice = result.FilledPrice
	realizedPnL := position.UnrealizedPnL()

	m.risk.RecordClose(cfg.ID, position, realizedPnL)
	if m.bus != nil {
		m.bus.Publish(types.TelemetryEvent{
			Channel:  types.ChannelPositions,
			Type:     types.EventPositionClose,
			EntityID: position.PositionID,
			Payload:  map[string]any{"position": position, "reason": reason, "realizedPnL": realizedPnL},
			Closed:   true,
		})
	}
	return realizedPnL, nil
}

func stopAndTarget(entry decimal.Decimal, action types.PositionAction, cfg types.TraderConfig) (stopLoss, takeProfit decimal.Decimal) {
	stopPct := decimal.NewFromFloat(0.05)
	targetPct := cfg.MinReturnPercent.Div(decimal.NewFromInt(100))
	if targetPct.IsZero() {
		targetPct = decimal.NewFromFloat(0.02)
	}

	if action == types.PositionLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(stopPct)), entry.Mul(decimal.NewFromInt(1).Add(targetPct))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(stopPct)), entry.Mul(decimal.NewFromInt(1).Sub(targetPct))
}
