package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testConfig() types.RiskConfig {
	return types.RiskConfig{
		MaxTotalBudget:            decimal.NewFromInt(100000),
		MaxLeveragePerTrader:      decimal.NewFromInt(5),
		MaxTotalLeverage:          decimal.NewFromInt(10),
		MaxExposurePerTrader:      decimal.NewFromInt(10000),
		MaxTotalExposure:          decimal.NewFromInt(50000),
		MaxDailyLoss:              decimal.NewFromInt(1000),
		StopLossPercentage:        decimal.NewFromFloat(0.05),
		MonitoringIntervalSeconds: 30,
	}
}

func TestValidateCreationRejectsZeroBudget(t *testing.T) {
	e := New(zap.NewNop(), types.RiskConfig{})
	err := e.ValidateCreation(types.TraderConfig{MaxStakeAmount: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(1)})
	var ce *corerr.CoreError
	if !errors.As(err, &ce) || ce.Kind != corerr.KindRiskRejected {
		t.Fatalf("expected RiskRejected, got %v", err)
	}
}

func TestValidateCreationRejectsOverExposure(t *testing.T) {
	e := New(zap.NewNop(), testConfig())
	err := e.ValidateCreation(types.TraderConfig{MaxStakeAmount: decimal.NewFromInt(20000), Leverage: decimal.NewFromInt(1)})
	if err == nil {
		t.Fatal("expected rejection for exposure exceeding per-trader cap")
	}
}

func TestCanOpenPositionDeniedUnderEmergency(t *testing.T) {
	e := New(zap.NewNop(), testConfig())
	e.Register(types.TraderConfig{ID: "t1", MaxStakeAmount: decimal.NewFromInt(1000), Leverage: decimal.NewFromInt(1)})
	e.EmergencyStop(context.Background(), "t1", "test")

	err := e.CanOpenPosition("t1", decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err == nil {
		t.Fatal("expected denial under trader emergency stop")
	}
}

func TestScoreRecommendsEmergencyStopOnDailyLoss(t *testing.T) {
	e := New(zap.NewNop(), testConfig())
	e.Register(types.TraderConfig{ID: "t1"})
	e.RecordClose("t1", types.ManagedPosition{PositionID: "p1"}, decimal.NewFromInt(-1000))

	score := e.Score("t1")
	if score.Recommendation != types.RecommendationEmergencyStop {
		t.Fatalf("expected EMERGENCY_STOP, got %v (pnlScore=%s)", score.Recommendation, score.PnLScore)
	}
}

func TestCanOpenPositionDeniesOverBudget(t *testing.T) {
	e := New(zap.NewNop(), testConfig())
	e.Register(types.TraderConfig{ID: "t1"})

	err := e.CanOpenPosition("t1", decimal.NewFromInt(20000), decimal.NewFromInt(1))
	if err == nil {
		t.Fatal("expected denial for notional exceeding per-trader exposure cap")
	}
}

func TestCanOpenPositionDenialPublishesRiskAlert(t *testing.T) {
	bus := telemetry.New(zap.NewNop(), types.DefaultTelemetryConfig())
	e := New(zap.NewNop(), testConfig())
	e.SetBus(bus)
	e.Register(types.TraderConfig{ID: "t1"})

	sub := bus.Subscribe([]types.TelemetryChannel{types.ChannelRiskAlerts}, false)

	if err := e.CanOpenPosition("t1", decimal.NewFromInt(20000), decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected denial for notional exceeding per-trader exposure cap")
	}

	select {
	case evt := <-sub.Events:
		if evt.Channel != types.ChannelRiskAlerts || evt.Type != types.EventRiskAlert {
			t.Fatalf("expected risk-alert event, got %+v", evt)
		}
		payload, ok := evt.Payload.(types.RiskAlertPayload)
		if !ok {
			t.Fatalf("expected RiskAlertPayload, got %T", evt.Payload)
		}
		if payload.TraderID != "t1" {
			t.Fatalf("expected traderId t1, got %q", payload.TraderID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for risk-alert event")
	}
}

func TestEmergencyStopPublishesRiskAlert(t *testing.T) {
	bus := telemetry.New(zap.NewNop(), types.DefaultTelemetryConfig())
	e := New(zap.NewNop(), testConfig())
	e.SetBus(bus)
	e.Register(types.TraderConfig{ID: "t1"})

	sub := bus.Subscribe([]types.TelemetryChannel{types.ChannelRiskAlerts}, false)

	e.EmergencyStop(context.Background(), "t1", "manual test stop")

	select {
	case evt := <-sub.Events:
		payload, ok := evt.Payload.(types.RiskAlertPayload)
		if !ok {
			t.Fatalf("expected RiskAlertPayload, got %T", evt.Payload)
		}
		if payload.TraderID != "t1" {
			t.Fatalf("expected traderId t1, got %q", payload.TraderID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for risk-alert event")
	}
}
