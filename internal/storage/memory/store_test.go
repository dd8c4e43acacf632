package memory

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-core/internal/storage"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

func TestTraderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.Traders().Create(ctx, storage.TraderRow{Config: types.TraderConfig{Name: "t1"}, Status: storage.TraderStatusActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	row, ok, err := s.Traders().FindByID(ctx, id)
	if err != nil || !ok {
		t.Fatalf("expected row to exist: ok=%v err=%v", ok, err)
	}
	if row.Config.Name != "t1" {
		t.Fatalf("unexpected row: %+v", row)
	}

	if err := s.Traders().UpdateBalance(ctx, id, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("update balance: %v", err)
	}
	row, _, _ = s.Traders().FindByID(ctx, id)
	if !row.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected balance 100, got %s", row.Balance)
	}

	can, err := s.Traders().CanCreateMore(ctx, 1)
	if err != nil {
		t.Fatalf("can create more: %v", err)
	}
	if can {
		t.Fatal("expected CanCreateMore to be false at cap 1 with 1 existing row")
	}

	if err := s.Traders().Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Traders().FindByID(ctx, id); ok {
		t.Fatal("expected row to be gone after delete")
	}
}

func TestTraderNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Traders().UpdateStatus(ctx, "missing", storage.TraderStatusStopped); err == nil {
		t.Fatal("expected NotFound error")
	}
}

func TestPatternRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.Patterns().Create(ctx, types.TradingPattern{Symbol: "BTC/USDT"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := s.Patterns().FindAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected 1 pattern, got %d (err=%v)", len(all), err)
	}

	if err := s.Patterns().Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
