// Package patterns implements the Pattern Service: a thread-safe, in-memory
// store of learned trading patterns, matched against current market
// conditions and refined from closed-trade outcomes.
package patterns

import (
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
)

// RelevanceCalculator scores how well a pattern's stored conditions match
// observed market conditions, in [0,1]. The default implementation checks
// the fraction of conditions whose observed indicator value satisfies the
// stored predicate.
type RelevanceCalculator interface {
	Score(pattern types.TradingPattern, conditions types.MarketConditions) decimal.Decimal
}

// DefaultRelevance is the fraction-of-conditions-satisfied scorer.
type DefaultRelevance struct{}

// Score implements RelevanceCalculator.
func (DefaultRelevance) Score(pattern types.TradingPattern, conditions types.MarketConditions) decimal.Decimal {
	if pattern.Exchange != conditions.Exchange || pattern.Symbol != conditions.Symbol {
		return decimal.Zero
	}
	if len(pattern.Conditions) == 0 {
		return decimal.Zero
	}
	matched := 0
	for name, predicate := range pattern.Conditions {
		observed, ok := conditions.Indicators[name]
		if !ok {
			continue
		}
		if predicate.Matches(observed) {
			matched++
		}
	}
	return decimal.NewFromInt(int64(matched)).Div(decimal.NewFromInt(int64(len(pattern.Conditions))))
}

// Service is the Pattern Service: a single mutex guards an in-memory map of
// patterns keyed by ID.
type Service struct {
	mu       sync.Mutex
	patterns map[string]types.TradingPattern
	relevance RelevanceCalculator
	config   types.PatternServiceConfig
}

// New constructs an empty Pattern Service.
func New(config types.PatternServiceConfig) *Service {
	return &Service{
		patterns:  make(map[string]types.TradingPattern),
		relevance: DefaultRelevance{},
		config:    config,
	}
}

// WithRelevanceCalculator overrides the default fraction-matched scorer.
func (s *Service) WithRelevanceCalculator(r RelevanceCalculator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relevance = r
}

// Store persists a pattern, assigning it a stable ID if it has none.
func (s *Service) Store(pattern types.TradingPattern) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pattern.ID == "" {
		pattern.ID = utils.GeneratePatternID()
	}
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = time.Now()
	}
	pattern.Active = true
	s.patterns[pattern.ID] = pattern
	return pattern.ID
}

// Query filters stored patterns by any of the named criteria, sorted by
// effectiveConfidence * successRate descending.
func (s *Service) Query(q types.PatternQuery) []types.TradingPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.TradingPattern
	for _, p := range s.patterns {
		if !p.Active {
			continue
		}
		if q.Exchange != "" && p.Exchange != q.Exchange {
			continue
		}
		if q.Symbol != "" && p.Symbol != q.Symbol {
			continue
		}
		if q.Action != "" && p.Action != q.Action {
			continue
		}
		if q.Timeframe != "" && p.Timeframe != q.Timeframe {
			continue
		}
		if q.MinSuccessRate.IsPositive() && p.SuccessRate().LessThan(q.MinSuccessRate) {
			continue
		}
		if q.MinUsageCount > 0 && p.UsageCount < q.MinUsageCount {
			continue
		}
		if q.MinConfidence.IsPositive() && p.Confidence.LessThan(q.MinConfidence) {
			continue
		}
		if q.MaxAge > 0 && time.Since(p.CreatedAt) > q.MaxAge {
			continue
		}
		if len(q.Tags) > 0 && !hasAllTags(p.Tags, q.Tags) {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		scoreI := out[i].EffectiveConfidence().Mul(out[i].SuccessRate())
		scoreJ := out[j].EffectiveConfidence().Mul(out[j].SuccessRate())
		return scoreI.GreaterThan(scoreJ)
	})
	return out
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// Match ranks candidate patterns against current conditions, keeping only
// those at or above minRelevance and returning at most maxResults.
func (s *Service) Match(conditions types.MarketConditions, minRelevance decimal.Decimal, maxResults int) []types.PatternMatch {
	s.mu.Lock()
	candidates := make([]types.TradingPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if p.Active && p.Exchange == conditions.Exchange && p.Symbol == conditions.Symbol {
			candidates = append(candidates, p)
		}
	}
	relevance := s.relevance
	s.mu.Unlock()

	var matches []types.PatternMatch
	for _, p := range candidates {
		rel := relevance.Score(p, conditions)
		if rel.LessThan(minRelevance) {
			continue
		}
		matchedIndicators := make(map[string]decimal.Decimal, len(p.Conditions))
		for name := range p.Conditions {
			if v, ok := conditions.Indicators[name]; ok {
				matchedIndicators[name] = v
			}
		}
		matches = append(matches, types.PatternMatch{
			Pattern:           p,
			Relevance:         rel,
			Confidence:        p.EffectiveConfidence().Mul(rel),
			MatchedIndicators: matchedIndicators,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Confidence.GreaterThan(matches[j].Confidence)
	})
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// UpdatePerformance records the outcome of acting on a matched pattern.
func (s *Service) UpdatePerformance(patternID string, outcome types.PatternOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return corerr.New(corerr.KindNotFound, "pattern not found: "+patternID)
	}

	p.UsageCount++
	if outcome.Success {
		p.SuccessCount++
	}
	totalReturn := p.AverageReturn.Mul(decimal.NewFromInt(int64(p.UsageCount - 1))).Add(outcome.ReturnAmount)
	p.AverageReturn = totalReturn.Div(decimal.NewFromInt(int64(p.UsageCount)))
	p.LastUsedAt = time.Now()

	s.patterns[patternID] = p
	return nil
}

// Prune deactivates patterns meeting any deactivation condition, then
// optionally retains only the top-N by (successRate desc, usageCount desc).
func (s *Service) Prune(criteria types.PatternPruneCriteria) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if criteria == (types.PatternPruneCriteria{}) {
		return
	}

	for id, p := range s.patterns {
		if !p.Active {
			continue
		}
		deactivate := false
		if criteria.MaxAge > 0 && time.Since(p.CreatedAt) > criteria.MaxAge {
			deactivate = true
		}
		if criteria.MinSuccessRate.IsPositive() && p.UsageCount > 0 && p.SuccessRate().LessThan(criteria.MinSuccessRate) {
			deactivate = true
		}
		if criteria.MinUsageCount > 0 && p.UsageCount < criteria.MinUsageCount {
			deactivate = true
		}
		if deactivate {
			p.Active = false
			s.patterns[id] = p
		}
	}

	if criteria.MaxPatterns <= 0 {
		return
	}

	var active []types.TradingPattern
	for _, p := range s.patterns {
		if p.Active {
			active = append(active, p)
		}
	}
	if len(active) <= criteria.MaxPatterns {
		return
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].SuccessRate().Equal(active[j].SuccessRate()) {
			return active[i].SuccessRate().GreaterThan(active[j].SuccessRate())
		}
		return active[i].UsageCount > active[j].UsageCount
	})

	for _, p := range active[criteria.MaxPatterns:] {
		p.Active = false
		s.patterns[p.ID] = p
	}
}

// EntryIndicators is the snapshot of indicator readings at trade entry,
// used to build a new pattern from a closed winning trade.
type EntryIndicators struct {
	RSI       decimal.Decimal
	MACD      decimal.Decimal
	ShortSMA  decimal.Decimal
	LongSMA   decimal.Decimal
	HasSMAs   bool
	EntryPrice decimal.Decimal
}

// ExtractFromTrade builds a candidate pattern from a closed winning trade,
// per the fixed-priority type assignment in spec section 4.4. Returns false
// if the trade doesn't meet the minimum-profit threshold.
func ExtractFromTrade(exchange types.Exchange, symbol string, timeframe types.CandlestickInterval, action types.SignalAction, profitPercent decimal.Decimal, entry EntryIndicators, minProfitPct decimal.Decimal) (types.TradingPattern, bool) {
	if profitPercent.LessThan(minProfitPct) {
		return types.TradingPattern{}, false
	}

	conditions := map[string]types.IndicatorPredicate{
		"rsi": {
			Kind: types.PredicateRange,
			Min:  clamp(entry.RSI.Sub(decimal.NewFromInt(5)), decimal.Zero, decimal.NewFromInt(100)),
			Max:  clamp(entry.RSI.Add(decimal.NewFromInt(5)), decimal.Zero, decimal.NewFromInt(100)),
		},
		"macd": {
			Kind: types.PredicateRange,
			Min:  entry.MACD.Sub(decimal.NewFromFloat(0.001)),
			Max:  entry.MACD.Add(decimal.NewFromFloat(0.001)),
		},
		"price": {
			Kind: types.PredicateRange,
			Min:  entry.EntryPrice.Mul(decimal.NewFromFloat(0.98)),
			Max:  entry.EntryPrice.Mul(decimal.NewFromFloat(1.02)),
		},
	}

	patternType := classify(entry)

	return types.TradingPattern{
		Type:       patternType,
		Exchange:   exchange,
		Symbol:     symbol,
		Timeframe:  timeframe,
		Action:     action,
		Conditions: conditions,
		Confidence: decimal.NewFromFloat(0.7),
		CreatedAt:  time.Now(),
		Tags:       []string{},
	}, true
}

func classify(entry EntryIndicators) types.PatternType {
	switch {
	case entry.RSI.LessThan(decimal.NewFromInt(35)):
		return types.PatternOversoldReversal
	case entry.RSI.GreaterThan(decimal.NewFromInt(65)):
		return types.PatternOverboughtReversal
	case entry.HasSMAs && entry.ShortSMA.GreaterThan(entry.LongSMA):
		return types.PatternTrendFollowing
	case entry.MACD.IsPositive():
		return types.PatternMomentumContinuation
	default:
		return types.PatternCustom
	}
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

// mergeSimilar groups patterns that are merge-similar: matching
// (exchange, symbol, action) and all defined indicator ranges overlap.
func mergeSimilar(candidates []types.TradingPattern) []types.TradingPattern {
	used := make([]bool, len(candidates))
	var merged []types.TradingPattern

	for i := range candidates {
		if used[i] {
			continue
		}
		group := []types.TradingPattern{candidates[i]}
		used[i] = true
		for j := i + 1; j < len(candidates); j++ {
			if used[j] {
				continue
			}
			if similar(candidates[i], candidates[j]) {
				group = append(group, candidates[j])
				used[j] = true
			}
		}
		if len(group) >= 2 {
			merged = append(merged, mergeGroup(group))
		}
	}
	return merged
}

func similar(a, b types.TradingPattern) bool {
	if a.Exchange != b.Exchange || a.Symbol != b.Symbol || a.Action != b.Action {
		return false
	}
	for name, pa := range a.Conditions {
		pb, ok := b.Conditions[name]
		if !ok {
			continue
		}
		if !pa.Overlaps(pb) {
			return false
		}
	}
	return true
}

func mergeGroup(group []types.TradingPattern) types.TradingPattern {
	result := group[0]
	conditions := make(map[string]types.IndicatorPredicate, len(result.Conditions))
	for name, predicate := range result.Conditions {
		conditions[name] = predicate
	}

	confidenceSum := result.Confidence
	tagSet := map[string]bool{"merged": true}
	for _, t := range result.Tags {
		tagSet[t] = true
	}

	for _, p := range group[1:] {
		for name, predicate := range p.Conditions {
			if existing, ok := conditions[name]; ok {
				conditions[name] = existing.Union(predicate)
			} else {
				conditions[name] = predicate
			}
		}
		confidenceSum = confidenceSum.Add(p.Confidence)
		for _, t := range p.Tags {
			tagSet[t] = true
		}
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	result.Conditions = conditions
	result.Confidence = confidenceSum.Div(decimal.NewFromInt(int64(len(group))))
	result.Tags = tags
	return result
}

// MergeSimilar exposes mergeSimilar over the service's current active
// patterns, storing each merged result as a new pattern and returning the
// new IDs. The patterns that were merged are not deactivated and stay active.
func (s *Service) MergeSimilar() []string {
	s.mu.Lock()
	var candidates []types.TradingPattern
	for _, p := range s.patterns {
		if p.Active {
			candidates = append(candidates, p)
		}
	}
	s.mu.Unlock()

	merged := mergeSimilar(candidates)
	ids := make([]string, 0, len(merged))
	for _, m := range merged {
		m.ID = ""
		ids = append(ids, s.Store(m))
	}
	return ids
}
