package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/storage/memory"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testSupervisor(t *testing.T, maxWorkers int) *Supervisor {
	t.Helper()
	riskEngine := risk.New(zap.NewNop(), types.RiskConfig{
		MaxTotalBudget:            decimal.NewFromInt(100000),
		MaxLeveragePerTrader:      decimal.NewFromInt(10),
		MaxTotalLeverage:          decimal.NewFromInt(50),
		MaxExposurePerTrader:      decimal.NewFromInt(100000),
		MaxTotalExposure:          decimal.NewFromInt(100000),
		MaxDailyLoss:              decimal.NewFromInt(1000),
		StopLossPercentage:        decimal.NewFromFloat(0.1),
		MonitoringIntervalSeconds: 30,
	})

	factory := func(ex types.Exchange) (exchange.Adapter, error) {
		return exchange.NewSimulatedAdapter(zap.NewNop()), nil
	}

	return New(
		zap.NewNop(),
		types.SupervisorConfig{MaxWorkers: maxWorkers, AdapterCallTimeout: time.Second, WaitForServerTimeout: time.Second},
		memory.New(),
		riskEngine,
		nil,
		nil,
		factory,
		types.DefaultTradingLoopConfig(),
	)
}

func testTraderConfig() types.TraderConfig {
	return types.TraderConfig{
		Name:                "demo",
		Exchange:            types.ExchangeSimulated,
		Symbol:              "BTC/USDT",
		MaxStakeAmount:      decimal.NewFromInt(100),
		MaxRiskLevel:        5,
		MaxTradingDuration:  time.Hour,
		Strategy:            types.StrategyTrendFollowing,
		CandlestickInterval: types.IntervalOneHour,
		Leverage:            decimal.NewFromInt(1),
	}
}

func TestCreateStartStopLifecycle(t *testing.T) {
	s := testSupervisor(t, 3)
	ctx := context.Background()

	id, err := s.Create(ctx, testTraderConfig())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty trader id")
	}

	if err := s.Start(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	health, err := s.Health(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.State != types.StateRunning {
		t.Fatalf("expected running, got %s", health.State)
	}

	if err := s.Stop(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	health, err = s.Health(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.State != types.StateStopped {
		t.Fatalf("expected stopped, got %s", health.State)
	}
}

func TestCreateRejectsAtFleetCap(t *testing.T) {
	s := testSupervisor(t, 1)
	ctx := context.Background()

	if _, err := s.Create(ctx, testTraderConfig()); err != nil {
		t.Fatalf("first create: %v", err)
	}

	second := testTraderConfig()
	second.Symbol = "ETH/USDT"
	if _, err := s.Create(ctx, second); err == nil {
		t.Fatal("expected second create to fail at fleet cap")
	}
}

func TestDeleteRemovesWorkerAndReleasesAdapter(t *testing.T) {
	s := testSupervisor(t, 3)
	ctx := context.Background()

	id, err := s.Create(ctx, testTraderConfig())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Health(id); err == nil {
		t.Fatal("expected health lookup to fail after delete")
	}
	if s.Count() != 0 {
		t.Fatalf("expected zero workers after delete, got %d", s.Count())
	}
	if len(s.adapters) != 0 {
		t.Fatalf("expected adapter released after delete, got %d cached", len(s.adapters))
	}
}

func TestRecoverReinstantiatesIdleWorkers(t *testing.T) {
	s := testSupervisor(t, 3)
	ctx := context.Background()

	id, err := s.Create(ctx, testTraderConfig())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Start(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}

	fresh := testSupervisor(t, 3)
	fresh.repo = s.repo
	if err := fresh.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	health, err := fresh.Health(id)
	if err != nil {
		t.Fatalf("health after recover: %v", err)
	}
	if health.State != types.StateIdle {
		t.Fatalf("expected recovered worker to be idle, got %s", health.State)
	}
}

func TestUpdateRejectsMismatchedID(t *testing.T) {
	s := testSupervisor(t, 3)
	ctx := context.Background()

	id, err := s.Create(ctx, testTraderConfig())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mismatch := testTraderConfig()
	mismatch.ID = "some-other-id"
	if err := s.Update(ctx, id, mismatch); err == nil {
		t.Fatal("expected update with mismatched id to fail")
	}
}
