// Package telemetry implements the Telemetry Bus: a process-wide
// publish/subscribe hub with four fixed channels, bounded per-subscriber
// buffering, snapshot replay, and idle-timeout heartbeats.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/atlas-desktop/trading-core/pkg/utils"
	"go.uber.org/zap"
)

// Channels is the fixed, closed set of channels the bus supports.
var Channels = []types.TelemetryChannel{
	types.ChannelTraderStatus,
	types.ChannelPositions,
	types.ChannelRiskAlerts,
	types.ChannelMarketData,
}

const riskAlertRingDefault = 50

// Subscriber is a single bus connection: a bounded event buffer and the set
// of channels it currently wants delivered.
type Subscriber struct {
	ID     string
	Events chan types.TelemetryEvent

	mu           sync.Mutex
	channels     map[types.TelemetryChannel]bool
	lastProgress time.Time
	closed       bool
}

func newSubscriber(id string, bufferSize int, channels []types.TelemetryChannel) *Subscriber {
	set := make(map[types.TelemetryChannel]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}
	return &Subscriber{
		ID:           id,
		Events:       make(chan types.TelemetryEvent, bufferSize),
		channels:     set,
		lastProgress: time.Now(),
	}
}

func (s *Subscriber) wants(channel types.TelemetryChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel]
}

// SetChannels replaces the subscriber's channel set; visible to the next
// event dispatch.
func (s *Subscriber) SetChannels(channels []types.TelemetryChannel) {
	set := make(map[types.TelemetryChannel]bool, len(channels))
	for _, c := range channels {
		set[c] = true
	}
	s.mu.Lock()
	s.channels = set
	s.mu.Unlock()
}

// Bus is the Telemetry Bus: one mutex guards subscriber registration and
// per-channel snapshot state; delivery never blocks the publisher.
type Bus struct {
	logger *zap.Logger
	config types.TelemetryConfig

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	latest      map[types.TelemetryChannel]map[string]types.TelemetryEvent
	riskRing    []types.TelemetryEvent
}

// New constructs an empty bus bound to the given config.
func New(logger *zap.Logger, config types.TelemetryConfig) *Bus {
	latest := make(map[types.TelemetryChannel]map[string]types.TelemetryEvent, len(Channels))
	for _, c := range Channels {
		latest[c] = make(map[string]types.TelemetryEvent)
	}
	return &Bus{
		logger:      logger.Named("telemetry-bus"),
		config:      config,
		subscribers: make(map[string]*Subscriber),
		latest:      latest,
	}
}

// Subscribe registers a new connection for the given channels. When replay
// is true, every current snapshot for those channels is enqueued (marked
// replay=true) before Subscribe returns, ahead of any live event.
func (b *Bus) Subscribe(channels []types.TelemetryChannel, replay bool) *Subscriber {
	bufferSize := b.config.SubscriberBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	sub := newSubscriber(utils.GenerateConnectionID(), bufferSize, channels)

	b.mu.Lock()
	b.subscribers[sub.ID] = sub

	if replay {
		for _, c := range channels {
			if c == types.ChannelRiskAlerts {
				for _, evt := range b.riskRing {
					b.deliverLocked(sub, markReplay(evt))
				}
				continue
			}
			for _, evt := range b.latest[c] {
				b.deliverLocked(sub, markReplay(evt))
			}
		}
	}
	b.mu.Unlock()

	return sub
}

func markReplay(evt types.TelemetryEvent) types.TelemetryEvent {
	evt.Replay = true
	return evt
}

// Unsubscribe removes a connection from the registry and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.Events)
		}
		sub.mu.Unlock()
	}
}

// Publish fans an event out to every subscriber of its channel, updating
// the channel's snapshot state. Never blocks: a full subscriber buffer
// drops its oldest queued event to make room.
func (b *Bus) Publish(event types.TelemetryEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = types.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case event.Channel == types.ChannelRiskAlerts:
		limit := b.config.RiskAlertRingSize
		if limit <= 0 {
			limit = riskAlertRingDefault
		}
		b.riskRing = append(b.riskRing, event)
		if len(b.riskRing) > limit {
			b.riskRing = b.riskRing[len(b.riskRing)-limit:]
		}
	case event.Closed:
		delete(b.latest[event.Channel], event.EntityID)
	default:
		b.latest[event.Channel][event.EntityID] = event
	}

	for _, sub := range b.subscribers {
		if sub.wants(event.Channel) {
			b.deliverLocked(sub, event)
		}
	}
}

// deliverLocked enqueues event on sub, dropping the oldest queued event if
// the buffer is full. Caller holds b.mu.
func (b *Bus) deliverLocked(sub *Subscriber, event types.TelemetryEvent) {
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return
	}

	select {
	case sub.Events <- event:
		sub.mu.Lock()
		sub.lastProgress = time.Now()
		sub.mu.Unlock()
	default:
		select {
		case <-sub.Events:
		default:
		}
		select {
		case sub.Events <- event:
			sub.mu.Lock()
			sub.lastProgress = time.Now()
			sub.mu.Unlock()
		default:
		}
		b.logger.Warn("subscriber buffer full, dropped oldest event", zap.String("subscriberId", sub.ID))
	}
}

// List returns the IDs of every currently registered subscriber, for the
// admin surface.
func (b *Bus) List() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		out = append(out, id)
	}
	return out
}

// Disconnect forcibly removes a connection, for the admin surface.
func (b *Bus) Disconnect(id string, reason string) {
	b.logger.Info("admin disconnect", zap.String("subscriberId", id), zap.String("reason", reason))
	b.Unsubscribe(id)
}

// Run drives the heartbeat loop until ctx is cancelled: every
// HeartbeatInterval, every connection receives a heartbeat event; a
// connection with no write progress for IdleTimeout is disconnected.
func (b *Bus) Run(ctx context.Context) {
	interval := b.config.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	idle := b.config.IdleTimeout
	if idle <= 0 {
		idle = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.heartbeat(idle)
		}
	}
}

func (b *Bus) heartbeat(idle time.Duration) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	now := time.Now()
	for _, sub := range subs {
		sub.mu.Lock()
		stale := now.Sub(sub.lastProgress) > idle
		sub.mu.Unlock()
		if stale {
			b.logger.Warn("subscriber idle timeout, disconnecting", zap.String("subscriberId", sub.ID))
			b.Unsubscribe(sub.ID)
			continue
		}

		heartbeatEvent := types.TelemetryEvent{
			Type:      "heartbeat",
			Timestamp: types.Now(),
		}
		b.mu.Lock()
		b.deliverLocked(sub, heartbeatEvent)
		b.mu.Unlock()
	}
}
