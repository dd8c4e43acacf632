package telemetry

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

func testBus() *Bus {
	return New(zap.NewNop(), types.TelemetryConfig{
		SubscriberBufferSize: 4,
		RiskAlertRingSize:    3,
		HeartbeatInterval:    15 * time.Second,
		IdleTimeout:          15 * time.Second,
	})
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := testBus()
	sub := b.Subscribe([]types.TelemetryChannel{types.ChannelTraderStatus}, false)

	b.Publish(types.TelemetryEvent{Channel: types.ChannelTraderStatus, EntityID: "t1", Type: types.EventTraderStatus})

	select {
	case evt := <-sub.Events:
		if evt.EntityID != "t1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestSubscribeReplaysSnapshot(t *testing.T) {
	b := testBus()
	b.Publish(types.TelemetryEvent{Channel: types.ChannelTraderStatus, EntityID: "t1"})

	sub := b.Subscribe([]types.TelemetryChannel{types.ChannelTraderStatus}, true)
	select {
	case evt := <-sub.Events:
		if !evt.Replay {
			t.Fatal("expected replay marker on snapshot replay event")
		}
	case <-time.After(time.Second):
		t.Fatal("expected replayed snapshot event")
	}
}

func TestRiskAlertRingBounded(t *testing.T) {
	b := testBus()
	for i := 0; i < 5; i++ {
		b.Publish(types.TelemetryEvent{Channel: types.ChannelRiskAlerts, EntityID: "t1"})
	}
	b.mu.Lock()
	size := len(b.riskRing)
	b.mu.Unlock()
	if size != 3 {
		t.Fatalf("expected ring bounded to 3, got %d", size)
	}
}

func TestDropsOldestWhenBufferFull(t *testing.T) {
	b := testBus()
	sub := b.Subscribe([]types.TelemetryChannel{types.ChannelMarketData}, false)

	for i := 0; i < 6; i++ {
		b.Publish(types.TelemetryEvent{Channel: types.ChannelMarketData, EntityID: "btc", Payload: i})
	}

	if len(sub.Events) != 4 {
		t.Fatalf("expected buffer capped at 4, got %d", len(sub.Events))
	}
	if first := <-sub.Events; first.Payload != 2 {
		t.Fatalf("expected oldest events 0 and 1 dropped, first queued payload %v", first.Payload)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := testBus()
	sub := b.Subscribe([]types.TelemetryChannel{types.ChannelPositions}, false)
	b.Unsubscribe(sub.ID)

	_, ok := <-sub.Events
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
