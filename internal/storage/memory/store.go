// Package memory implements the storage.Repository port entirely in
// process memory, guarded by per-table RWMutexes and copy-on-read to
// prevent callers mutating shared state.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/storage"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"github.com/shopspring/decimal"
)

// Store is the in-memory Repository reference implementation.
type Store struct {
	traders  *traderTable
	trades   *tradeTable
	patterns *patternTable
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		traders:  &traderTable{rows: make(map[string]storage.TraderRow)},
		trades:   &tradeTable{rows: make(map[string]storage.TradeRow)},
		patterns: &patternTable{rows: make(map[string]types.TradingPattern)},
	}
}

func (s *Store) Traders() storage.TraderRepository   { return s.traders }
func (s *Store) Trades() storage.TradeRepository     { return s.trades }
func (s *Store) Patterns() storage.PatternRepository { return s.patterns }

type traderTable struct {
	mu   sync.RWMutex
	rows map[string]storage.TraderRow
}

func (t *traderTable) Create(ctx context.Context, row storage.TraderRow) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if row.ID == "" {
		row.ID = row.Config.ID
	}
	if row.ID == "" {
		row.ID = utils.GenerateID("trader")
	}
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	t.rows[row.ID] = row
	return row.ID, nil
}

func (t *traderTable) FindByID(ctx context.Context, id string) (storage.TraderRow, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	return row, ok, nil
}

func (t *traderTable) FindAll(ctx context.Context) ([]storage.TraderRow, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]storage.TraderRow, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	return out, nil
}

func (t *traderTable) FindActive(ctx context.Context) ([]storage.TraderRow, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []storage.TraderRow
	for _, row := range t.rows {
		if row.Status == storage.TraderStatusActive {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *traderTable) Count(ctx context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows), nil
}

func (t *traderTable) CanCreateMore(ctx context.Context, maxWorkers int) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows) < maxWorkers, nil
}

func (t *traderTable) UpdateStatus(ctx context.Context, id string, status storage.TraderStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return corerr.ErrNotFound
	}
	row.Status = status
	row.UpdatedAt = time.Now()
	t.rows[id] = row
	return nil
}

func (t *traderTable) UpdateBalance(ctx context.Context, id string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return corerr.ErrNotFound
	}
	row.Balance = row.Balance.Add(amount)
	row.UpdatedAt = time.Now()
	t.rows[id] = row
	return nil
}

func (t *traderTable) UpdateConfiguration(ctx context.Context, id string, config types.TraderConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[id]
	if !ok {
		return corerr.ErrNotFound
	}
	row.Config = config
	row.UpdatedAt = time.Now()
	t.rows[id] = row
	return nil
}

func (t *traderTable) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return corerr.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

type tradeTable struct {
	mu   sync.RWMutex
	rows map[string]storage.TradeRow
}

func (t *tradeTable) Create(ctx context.Context, row storage.TradeRow) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row.ID == "" {
		row.ID = utils.GenerateID("trade")
	}
	row.CreatedAt = time.Now()
	t.rows[row.ID] = row
	return row.ID, nil
}

func (t *tradeTable) FindByID(ctx context.Context, id string) (storage.TradeRow, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	return row, ok, nil
}

func (t *tradeTable) FindByTrader(ctx context.Context, traderID string) ([]storage.TradeRow, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []storage.TradeRow
	for _, row := range t.rows {
		if row.TraderID == traderID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *tradeTable) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return corerr.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

type patternTable struct {
	mu   sync.RWMutex
	rows map[string]types.TradingPattern
}

func (p *patternTable) Create(ctx context.Context, pattern types.TradingPattern) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pattern.ID == "" {
		pattern.ID = utils.GeneratePatternID()
	}
	p.rows[pattern.ID] = pattern
	return pattern.ID, nil
}

func (p *patternTable) FindByID(ctx context.Context, id string) (types.TradingPattern, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	row, ok := p.rows[id]
	return row, ok, nil
}

func (p *patternTable) FindAll(ctx context.Context) ([]types.TradingPattern, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.TradingPattern, 0, len(p.rows))
	for _, row := range p.rows {
		out = append(out, row)
	}
	return out, nil
}

func (p *patternTable) Update(ctx context.Context, pattern types.TradingPattern) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rows[pattern.ID]; !ok {
		return corerr.ErrNotFound
	}
	p.rows[pattern.ID] = pattern
	return nil
}

func (p *patternTable) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rows[id]; !ok {
		return corerr.ErrNotFound
	}
	delete(p.rows, id)
	return nil
}
