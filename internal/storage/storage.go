// Package storage defines the Repository port: durable storage of worker
// rows, trades, and patterns, kept deliberately narrow so a real SQL-backed
// implementation can satisfy it without touching core logic.
package storage

import (
	"context"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// TraderStatus is the persisted lifecycle status of a trader row, distinct
// from the richer in-memory TraderState the Worker tracks.
type TraderStatus string

const (
	TraderStatusActive  TraderStatus = "ACTIVE"
	TraderStatusPaused  TraderStatus = "PAUSED"
	TraderStatusStopped TraderStatus = "STOPPED"
	TraderStatusError   TraderStatus = "ERROR"
)

// TraderRow is the durable record of a trader.
type TraderRow struct {
	ID             string
	Config         types.TraderConfig
	Status         TraderStatus
	Balance        decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TradeRow is the durable record of an executed or closed trade.
type TradeRow struct {
	ID         string
	TraderID   string
	Symbol     string
	Action     types.SignalAction
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Profit     decimal.Decimal
	ClosedAt   time.Time
	CreatedAt  time.Time
}

// TraderRepository is the Repository port's trader sub-port.
type TraderRepository interface {
	Create(ctx context.Context, row TraderRow) (string, error)
	FindByID(ctx context.Context, id string) (TraderRow, bool, error)
	FindAll(ctx context.Context) ([]TraderRow, error)
	FindActive(ctx context.Context) ([]TraderRow, error)
	Count(ctx context.Context) (int, error)
	CanCreateMore(ctx context.Context, maxWorkers int) (bool, error)
	UpdateStatus(ctx context.Context, id string, status TraderStatus) error
	UpdateBalance(ctx context.Context, id string, amount decimal.Decimal) error
	UpdateConfiguration(ctx context.Context, id string, config types.TraderConfig) error
	Delete(ctx context.Context, id string) error
}

// TradeRepository is the Repository port's trade sub-port.
type TradeRepository interface {
	Create(ctx context.Context, row TradeRow) (string, error)
	FindByID(ctx context.Context, id string) (TradeRow, bool, error)
	FindByTrader(ctx context.Context, traderID string) ([]TradeRow, error)
	Delete(ctx context.Context, id string) error
}

// PatternRepository is the Repository port's pattern sub-port. The
// in-process Pattern Service keeps its patterns in its own map and does not
// read or write through this sub-port.
type PatternRepository interface {
	Create(ctx context.Context, pattern types.TradingPattern) (string, error)
	FindByID(ctx context.Context, id string) (types.TradingPattern, bool, error)
	FindAll(ctx context.Context) ([]types.TradingPattern, error)
	Update(ctx context.Context, pattern types.TradingPattern) error
	Delete(ctx context.Context, id string) error
}

// Repository is the full Repository port. The Supervisor depends on it and
// uses its Traders sub-port; the Risk Engine and the Pattern Service take no
// Repository.
type Repository interface {
	Traders() TraderRepository
	Trades() TradeRepository
	Patterns() PatternRepository
}
