// Package supervisor implements the Trader Supervisor: the fleet-wide
// lifecycle authority that mediates every create/start/stop/update/delete/
// recover transition and owns the Worker index.
package supervisor

import (
	"context"
	"sync"

	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/patterns"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/storage"
	"github.com/atlas-desktop/trading-core/internal/strategy"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/internal/trading"
	"github.com/atlas-desktop/trading-core/pkg/corerr"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"go.uber.org/zap"
)

// AdapterFactory constructs a fresh, unconnected ExchangeAdapter for the
// given venue. The Supervisor caches and shares one instance per exchange.
type AdapterFactory func(ex types.Exchange) (exchange.Adapter, error)

type adapterEntry struct {
	adapter  exchange.Adapter
	refCount int
}

// Supervisor owns the Worker set and its indexing map. A single fleet mutex
// serialises create/start/stop/update/delete; it is never held across a
// blocking adapter call.
type Supervisor struct {
	logger *zap.Logger
	config types.SupervisorConfig

	repo           storage.Repository
	riskEngine     *risk.Engine
	patternSvc     *patterns.Service
	bus            *telemetry.Bus
	adapterFactory AdapterFactory
	loopConfig     types.TradingLoopConfig

	mu       sync.Mutex
	workers  map[string]*trading.Worker
	adapters map[types.Exchange]*adapterEntry
}

// New constructs a Supervisor. SetStopHandler on riskEngine is wired here so
// the Risk Engine's emergency-stop path re-enters through Stop, never
// reaching around the fleet mutex.
func New(
	logger *zap.Logger,
	config types.SupervisorConfig,
	repo storage.Repository,
	riskEngine *risk.Engine,
	patternSvc *patterns.Service,
	bus *telemetry.Bus,
	adapterFactory AdapterFactory,
	loopConfig types.TradingLoopConfig,
) *Supervisor {
	s := &Supervisor{
		logger:         logger.Named("trader-supervisor"),
		config:         config,
		repo:           repo,
		riskEngine:     riskEngine,
		patternSvc:     patternSvc,
		bus:            bus,
		adapterFactory: adapterFactory,
		loopConfig:     loopConfig,
		workers:        make(map[string]*trading.Worker),
		adapters:       make(map[types.Exchange]*adapterEntry),
	}
	riskEngine.SetStopHandler(s.forceStop)
	riskEngine.SetBus(bus)
	return s
}

// forceStop is the Risk Engine's StopHandler: traderID "" stops the whole
// fleet, otherwise a single trader.
func (s *Supervisor) forceStop(ctx context.Context, traderID string, reason string) error {
	if traderID == "" {
		s.mu.Lock()
		ids := make([]string, 0, len(s.workers))
		for id := range s.workers {
			ids = append(ids, id)
		}
		s.mu.Unlock()
		var firstErr error
		for _, id := range ids {
			if err := s.Stop(ctx, id); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return s.Stop(ctx, traderID)
}

// getAdapterLocked returns the shared adapter for an exchange, creating and
// connecting it on first use. Caller holds s.mu.
func (s *Supervisor) getAdapterLocked(ctx context.Context, ex types.Exchange) (exchange.Adapter, error) {
	if entry, ok := s.adapters[ex]; ok {
		entry.refCount++
		return entry.adapter, nil
	}
	adapter, err := s.adapterFactory(ex)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindUnavailable, "construct adapter", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, corerr.Wrap(corerr.KindUnavailable, "connect adapter", err)
	}
	s.adapters[ex] = &adapterEntry{adapter: adapter, refCount: 1}
	return adapter, nil
}

// releaseAdapterLocked decrements the exchange's adapter refcount and
// disconnects only when no worker still holds it, so one trader's delete
// can never sever an adapter another trader on the same exchange depends
// on. Caller holds s.mu.
func (s *Supervisor) releaseAdapterLocked(ctx context.Context, ex types.Exchange) {
	entry, ok := s.adapters[ex]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount > 0 {
		return
	}
	delete(s.adapters, ex)
	if err := entry.adapter.Disconnect(ctx); err != nil {
		s.logger.Warn("adapter disconnect failed", zap.String("exchange", string(ex)), zap.Error(err))
	}
}

// Create allocates a Worker for the given config. Fails LimitExceeded if the
// repository-reported count is already at the fleet cap, RiskRejected if
// the Risk Engine's validateCreation denies it.
func (s *Supervisor) Create(ctx context.Context, config types.TraderConfig) (string, error) {
	if err := config.Validate(); err != nil {
		return "", corerr.Wrap(corerr.KindInvalidArgument, "invalid trader config", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	canCreate, err := s.repo.Traders().CanCreateMore(ctx, s.config.MaxWorkers)
	if err != nil {
		return "", corerr.Wrap(corerr.KindInternal, "check fleet capacity", err)
	}
	if !canCreate {
		return "", corerr.Newf(corerr.KindLimitExceeded, "fleet at capacity (max %d)", s.config.MaxWorkers)
	}

	if err := s.riskEngine.ValidateCreation(config); err != nil {
		return "", err
	}

	if config.ID == "" {
		config.ID = utils.GenerateID("trader")
	}

	adapter, err := s.getAdapterLocked(ctx, config.Exchange)
	if err != nil {
		return "", err
	}

	strat, err := strategy.New(config.Strategy)
	if err != nil {
		s.releaseAdapterLocked(ctx, config.Exchange)
		return "", corerr.Wrap(corerr.KindInvalidArgument, "construct strategy", err)
	}
	if err := strat.ValidateConfig(config); err != nil {
		s.releaseAdapterLocked(ctx, config.Exchange)
		return "", corerr.Wrap(corerr.KindInvalidArgument, "strategy rejects config", err)
	}

	positionMgr := trading.NewPositionManager(adapter, s.riskEngine, s.bus)
	worker := trading.NewWorker(s.logger, config, strat, adapter, s.riskEngine, s.patternSvc, positionMgr, s.bus, s.loopConfig)

	if _, err := s.repo.Traders().Create(ctx, storage.TraderRow{
		ID:     config.ID,
		Config: config,
		Status: storage.TraderStatusStopped,
	}); err != nil {
		s.releaseAdapterLocked(ctx, config.Exchange)
		return "", corerr.Wrap(corerr.KindInternal, "persist trader row", err)
	}

	s.riskEngine.Register(config)
	s.workers[config.ID] = worker

	if s.bus != nil {
		s.bus.Publish(types.TelemetryEvent{
			Channel:  types.ChannelTraderStatus,
			Type:     types.EventTraderStatus,
			EntityID: config.ID,
			Payload: types.TraderStatusPayload{
				TraderID: config.ID,
				State:    types.StateIdle,
				Reason:   types.ReasonCreated,
			},
		})
	}

	return config.ID, nil
}

// Start transitions a worker IDLE|STOPPED -> RUNNING. The adapter call
// chain runs inside worker.Start's goroutine, after the fleet mutex
// releases.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}

	if err := worker.Start(ctx); err != nil {
		return err
	}
	if err := s.repo.Traders().UpdateStatus(ctx, id, storage.TraderStatusActive); err != nil {
		s.logger.Error("failed to persist trader status", zap.String("traderId", id), zap.Error(err))
	}
	return nil
}

// Stop idempotently stops a worker, cancelling its Trading Loop and closing
// any open position via the PositionManager port.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}

	if err := worker.Stop(ctx, "SUPERVISOR_STOP"); err != nil {
		return err
	}
	if err := s.repo.Traders().UpdateStatus(ctx, id, storage.TraderStatusStopped); err != nil {
		s.logger.Error("failed to persist trader status", zap.String("traderId", id), zap.Error(err))
	}
	return nil
}

// Update swaps a worker's config, restarting it if it was running. The new
// config's ID must match id.
func (s *Supervisor) Update(ctx context.Context, id string, newConfig types.TraderConfig) error {
	if newConfig.ID != "" && newConfig.ID != id {
		return corerr.New(corerr.KindInvariantViolation, "config id must match trader id")
	}
	newConfig.ID = id

	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}

	if err := newConfig.Validate(); err != nil {
		return corerr.Wrap(corerr.KindInvalidArgument, "invalid trader config", err)
	}

	strat, err := strategy.New(newConfig.Strategy)
	if err != nil {
		return corerr.Wrap(corerr.KindInvalidArgument, "construct strategy", err)
	}
	if err := strat.ValidateConfig(newConfig); err != nil {
		return corerr.Wrap(corerr.KindInvalidArgument, "strategy rejects config", err)
	}

	wasRunning := worker.State() == types.StateRunning || worker.State() == types.StatePaused
	if wasRunning {
		if err := s.Stop(ctx, id); err != nil {
			return err
		}
	}

	worker.UpdateConfig(newConfig, strat)
	if err := s.repo.Traders().UpdateConfiguration(ctx, id, newConfig); err != nil {
		s.logger.Error("failed to persist updated config", zap.String("traderId", id), zap.Error(err))
	}

	if wasRunning {
		return s.Start(ctx, id)
	}
	return nil
}

// Delete stops a worker if needed, releases its adapter slot, and removes
// its repository row and risk bookkeeping.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}

	if err := worker.Stop(ctx, "TRADER_DELETED"); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.workers, id)
	s.releaseAdapterLocked(ctx, worker.Config().Exchange)
	s.mu.Unlock()

	s.riskEngine.Deregister(id)
	if err := s.repo.Traders().Delete(ctx, id); err != nil {
		return corerr.Wrap(corerr.KindInternal, "delete trader row", err)
	}
	return nil
}

// Recover reconstructs every persisted trader row as an IDLE worker,
// re-registering it with the Risk Engine. It never auto-starts a worker and
// is safe to call before any Create.
func (s *Supervisor) Recover(ctx context.Context) error {
	rows, err := s.repo.Traders().FindAll(ctx)
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "load trader rows", err)
	}

	for _, row := range rows {
		if err := s.recoverOne(ctx, row); err != nil {
			s.logger.Error("skipping trader during recovery", zap.String("traderId", row.ID), zap.Error(err))
			continue
		}
	}
	return nil
}

func (s *Supervisor) recoverOne(ctx context.Context, row storage.TraderRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[row.ID]; exists {
		return nil
	}

	adapter, err := s.getAdapterLocked(ctx, row.Config.Exchange)
	if err != nil {
		return err
	}
	strat, err := strategy.New(row.Config.Strategy)
	if err != nil {
		s.releaseAdapterLocked(ctx, row.Config.Exchange)
		return err
	}

	positionMgr := trading.NewPositionManager(adapter, s.riskEngine, s.bus)
	worker := trading.NewWorker(s.logger, row.Config, strat, adapter, s.riskEngine, s.patternSvc, positionMgr, s.bus, s.loopConfig)

	s.riskEngine.Register(row.Config)
	s.workers[row.ID] = worker

	if s.bus != nil {
		s.bus.Publish(types.TelemetryEvent{
			Channel:  types.ChannelTraderStatus,
			Type:     types.EventTraderStatus,
			EntityID: row.ID,
			Payload: types.TraderStatusPayload{
				TraderID: row.ID,
				State:    types.StateIdle,
				Reason:   types.ReasonRecovered,
			},
		})
	}
	return nil
}

// Health polls a single worker's health snapshot.
func (s *Supervisor) Health(id string) (types.WorkerHealth, error) {
	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return types.WorkerHealth{}, corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}
	return worker.Health(), nil
}

// Metrics returns a single worker's trading metrics snapshot.
func (s *Supervisor) Metrics(id string) (types.TraderMetrics, error) {
	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return types.TraderMetrics{}, corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}
	return worker.Metrics(), nil
}

// Get returns a single worker's config and current position, for the API
// layer's trader-detail endpoint.
func (s *Supervisor) Get(id string) (types.TraderConfig, *types.ManagedPosition, error) {
	s.mu.Lock()
	worker, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return types.TraderConfig{}, nil, corerr.Newf(corerr.KindNotFound, "trader %s not found", id)
	}
	var position *types.ManagedPosition
	if pos, hasPos := worker.Position(); hasPos {
		position = &pos
	}
	return worker.Config(), position, nil
}

// HealthAll polls every registered worker's health snapshot.
func (s *Supervisor) HealthAll() []types.WorkerHealth {
	s.mu.Lock()
	workers := make([]*trading.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	out := make([]types.WorkerHealth, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Health())
	}
	return out
}

// Count returns the number of workers currently indexed in memory.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// IDs returns the trader IDs currently indexed in memory, for shutdown
// enumeration and admin listing.
func (s *Supervisor) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// StopAll stops every running worker, returning the first error encountered
// while continuing to attempt the rest. Used during process shutdown.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var firstErr error
	for _, id := range s.IDs() {
		if err := s.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

