package patterns

import (
	"testing"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

func sampleConfig() types.PatternServiceConfig {
	return types.DefaultPatternServiceConfig()
}

func TestStoreAndQuery(t *testing.T) {
	s := New(sampleConfig())
	id := s.Store(types.TradingPattern{
		Exchange:     types.ExchangeBinance,
		Symbol:       "BTC/USDT",
		Action:       types.SignalBuy,
		Confidence:   decimal.NewFromFloat(0.7),
		UsageCount:   10,
		SuccessCount: 8,
	})
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	results := s.Query(types.PatternQuery{Exchange: types.ExchangeBinance, Symbol: "BTC/USDT"})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestMatchFiltersByRelevance(t *testing.T) {
	s := New(sampleConfig())
	s.Store(types.TradingPattern{
		Exchange: types.ExchangeBinance,
		Symbol:   "BTC/USDT",
		Conditions: map[string]types.IndicatorPredicate{
			"rsi": {Kind: types.PredicateBelow, Value: decimal.NewFromInt(35)},
		},
		Confidence: decimal.NewFromFloat(0.7),
	})

	conditions := types.MarketConditions{
		Exchange:   types.ExchangeBinance,
		Symbol:     "BTC/USDT",
		Indicators: map[string]decimal.Decimal{"rsi": decimal.NewFromInt(20)},
	}

	matches := s.Match(conditions, decimal.NewFromFloat(0.5), 5)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestUpdatePerformanceNotFound(t *testing.T) {
	s := New(sampleConfig())
	if err := s.UpdatePerformance("missing", types.PatternOutcome{Success: true}); err == nil {
		t.Fatal("expected NotFound error")
	}
}

func TestExtractFromTradeBelowThreshold(t *testing.T) {
	_, ok := ExtractFromTrade(types.ExchangeBinance, "BTC/USDT", types.IntervalOneHour, types.SignalBuy,
		decimal.NewFromFloat(0.5), EntryIndicators{RSI: decimal.NewFromInt(30)}, decimal.NewFromFloat(1.0))
	if ok {
		t.Fatal("expected extraction to reject below-threshold profit")
	}
}

func TestExtractFromTradeClassifiesOversold(t *testing.T) {
	p, ok := ExtractFromTrade(types.ExchangeBinance, "BTC/USDT", types.IntervalOneHour, types.SignalBuy,
		decimal.NewFromFloat(2.0), EntryIndicators{RSI: decimal.NewFromInt(25), EntryPrice: decimal.NewFromInt(100)}, decimal.NewFromFloat(1.0))
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if p.Type != types.PatternOversoldReversal {
		t.Fatalf("expected OVERSOLD_REVERSAL, got %v", p.Type)
	}
}

func TestPruneDeactivatesLowSuccessRate(t *testing.T) {
	s := New(sampleConfig())
	id := s.Store(types.TradingPattern{UsageCount: 10, SuccessCount: 1})

	s.Prune(types.PatternPruneCriteria{MinSuccessRate: decimal.NewFromFloat(0.5)})

	results := s.Query(types.PatternQuery{})
	for _, r := range results {
		if r.ID == id {
			t.Fatal("expected low-success-rate pattern to be deactivated")
		}
	}
}
