package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PredicateKind tags the variant held by an IndicatorPredicate.
type PredicateKind string

const (
	PredicateRange PredicateKind = "range"
	PredicatePoint PredicateKind = "point"
	PredicateAbove PredicateKind = "above"
	PredicateBelow PredicateKind = "below"
)

// IndicatorPredicate is a typed replacement for the heterogeneous
// "conditions" map the design notes flag: a tagged variant instead of an
// untyped Pair<Any,Any> range.
type IndicatorPredicate struct {
	Kind  PredicateKind   `json:"kind"`
	Min   decimal.Decimal `json:"min,omitempty"`
	Max   decimal.Decimal `json:"max,omitempty"`
	Value decimal.Decimal `json:"value,omitempty"`
}

// Matches reports whether the observed indicator value satisfies the
// predicate.
func (p IndicatorPredicate) Matches(observed decimal.Decimal) bool {
	switch p.Kind {
	case PredicateRange:
		return observed.GreaterThanOrEqual(p.Min) && observed.LessThanOrEqual(p.Max)
	case PredicatePoint:
		return observed.Equal(p.Value)
	case PredicateAbove:
		return observed.GreaterThan(p.Value)
	case PredicateBelow:
		return observed.LessThan(p.Value)
	default:
		return false
	}
}

// Overlaps reports whether two predicates of the same indicator are
// "merge-compatible": range overlap for ranges; two points, two above, or two
// below predicates are always compatible; predicates of different kinds never
// are.
func (p IndicatorPredicate) Overlaps(other IndicatorPredicate) bool {
	if p.Kind != other.Kind {
		return false
	}
	switch p.Kind {
	case PredicateRange:
		return p.Min.LessThanOrEqual(other.Max) && other.Min.LessThanOrEqual(p.Max)
	case PredicatePoint:
		return true
	case PredicateAbove, PredicateBelow:
		return true
	default:
		return false
	}
}

// Union returns the widening union of two merge-compatible predicates.
func (p IndicatorPredicate) Union(other IndicatorPredicate) IndicatorPredicate {
	switch p.Kind {
	case PredicateRange:
		min := p.Min
		if other.Min.LessThan(min) {
			min = other.Min
		}
		max := p.Max
		if other.Max.GreaterThan(max) {
			max = other.Max
		}
		return IndicatorPredicate{Kind: PredicateRange, Min: min, Max: max}
	case PredicatePoint:
		mean := p.Value.Add(other.Value).Div(decimal.NewFromInt(2))
		return IndicatorPredicate{Kind: PredicatePoint, Value: mean}
	case PredicateAbove:
		v := p.Value
		if other.Value.LessThan(v) {
			v = other.Value
		}
		return IndicatorPredicate{Kind: PredicateAbove, Value: v}
	case PredicateBelow:
		v := p.Value
		if other.Value.GreaterThan(v) {
			v = other.Value
		}
		return IndicatorPredicate{Kind: PredicateBelow, Value: v}
	default:
		return p
	}
}

// PatternType classifies a learned pattern by the market behaviour it
// captures, assigned by a fixed priority during extraction (spec 4.4).
type PatternType string

const (
	PatternOversoldReversal     PatternType = "OVERSOLD_REVERSAL"
	PatternOverboughtReversal   PatternType = "OVERBOUGHT_REVERSAL"
	PatternTrendFollowing       PatternType = "TREND_FOLLOWING"
	PatternMomentumContinuation PatternType = "MOMENTUM_CONTINUATION"
	PatternCustom               PatternType = "CUSTOM"
)

// TradingPattern is a stored, reusable market pattern with a learned track
// record.
type TradingPattern struct {
	ID            string                         `json:"id"`
	Type          PatternType                    `json:"type"`
	Exchange      Exchange                       `json:"exchange"`
	Symbol        string                         `json:"symbol"`
	Timeframe     CandlestickInterval            `json:"timeframe"`
	Action        SignalAction                   `json:"action"`
	Conditions    map[string]IndicatorPredicate  `json:"conditions"`
	Confidence    decimal.Decimal                `json:"confidence"`
	UsageCount    int                            `json:"usageCount"`
	SuccessCount  int                            `json:"successCount"`
	AverageReturn decimal.Decimal                `json:"averageReturn"`
	CreatedAt     time.Time                      `json:"createdAt"`
	LastUsedAt    time.Time                      `json:"lastUsedAt"`
	Tags          []string                       `json:"tags"`
	Active        bool                           `json:"active"`
}

// SuccessRate is successCount / usageCount, zero when unused.
func (p TradingPattern) SuccessRate() decimal.Decimal {
	if p.UsageCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.SuccessCount)).Div(decimal.NewFromInt(int64(p.UsageCount)))
}

// EffectiveConfidence adjusts the base confidence by the observed success
// rate and a usage factor that grows logistically and saturates at 1.
func (p TradingPattern) EffectiveConfidence() decimal.Decimal {
	usage := float64(p.UsageCount)
	// logistic usage factor: 1 - 1/(1+usage/10), capped below 1.
	usageFactor := usage / (usage + 10)
	successRate, _ := p.SuccessRate().Float64()
	base, _ := p.Confidence.Float64()

	blended := base*0.4 + successRate*0.4 + usageFactor*0.2
	if blended > 1 {
		blended = 1
	}
	if blended < 0 {
		blended = 0
	}
	return decimal.NewFromFloat(blended)
}

// PatternOutcome records the result of acting on a matched pattern.
type PatternOutcome struct {
	Success      bool            `json:"success"`
	ReturnAmount decimal.Decimal `json:"returnAmount"`
}

// PatternQuery filters the pattern store's Query operation.
type PatternQuery struct {
	Exchange       Exchange
	Symbol         string
	Action         SignalAction
	Timeframe      CandlestickInterval
	MinSuccessRate decimal.Decimal
	MinUsageCount  int
	MinConfidence  decimal.Decimal
	MaxAge         time.Duration
	Tags           []string
}

// PatternPruneCriteria configures Pattern Service pruning.
type PatternPruneCriteria struct {
	MaxAge         time.Duration
	MinSuccessRate decimal.Decimal
	MinUsageCount  int
	MaxPatterns    int
}

// MarketConditions is the current-state view a pattern is matched against.
type MarketConditions struct {
	Exchange   Exchange
	Symbol     string
	Timeframe  CandlestickInterval
	Indicators map[string]decimal.Decimal
	Price      decimal.Decimal
}

// PatternMatch is a pattern ranked against current conditions.
type PatternMatch struct {
	Pattern          TradingPattern             `json:"pattern"`
	Relevance        decimal.Decimal            `json:"relevance"`
	Confidence       decimal.Decimal            `json:"confidence"`
	MatchedIndicators map[string]decimal.Decimal `json:"matchedIndicators"`
}
