// Package api provides WebSocket functionality for real-time updates.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket envelope types.
type MessageType string

const (
	// Server -> client
	MsgTypeEvent        MessageType = "event"
	MsgTypeSubscribed   MessageType = "subscribed"
	MsgTypeUnsubscribed MessageType = "unsubscribed"
	MsgTypePong         MessageType = "pong"
	MsgTypeError        MessageType = "error"

	// Client -> server
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"
)

// WSMessage is the envelope exchanged over the WebSocket connection. A
// server->client "event" carries a marshalled types.TelemetryEvent in Data.
type WSMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Channels  []string        `json:"channels,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Hub tracks active WebSocket connections. Event fan-out is delegated
// entirely to the Telemetry Bus; the hub is a thin connection registry.
type Hub struct {
	logger *zap.Logger
	bus    *telemetry.Bus

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub bound to a Telemetry Bus.
func NewHub(logger *zap.Logger, bus *telemetry.Bus) *Hub {
	return &Hub{
		logger:  logger.Named("ws-hub"),
		bus:     bus,
		clients: make(map[string]*Client),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// Serve takes ownership of an upgraded connection, subscribes it to the bus
// on the given initial channels (with snapshot replay), and runs its
// read/write pumps until the connection closes.
func (h *Hub) Serve(conn *websocket.Conn, initialChannels []types.TelemetryChannel) {
	client := &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  h.bus.Subscribe(initialChannels, true),
	}
	h.register(client)
	h.logger.Debug("client connected", zap.String("id", client.id))

	go client.forwardEvents()
	go client.writePump()
	client.readPump()
}

// Client is a single WebSocket connection bridging a Telemetry Bus
// Subscriber to the wire.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	sub  *telemetry.Subscriber
}

// forwardEvents drains the bus subscriber and enqueues each event for the
// write pump. Exits when the bus closes the subscriber's channel.
func (c *Client) forwardEvents() {
	for evt := range c.sub.Events {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		c.enqueue(WSMessage{Type: MsgTypeEvent, Data: data, Timestamp: types.Now()})
	}
	close(c.send)
}

func (c *Client) enqueue(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// readPump reads client commands until the connection errors or closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.bus.Unsubscribe(c.sub.ID)
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Debug("client disconnected", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Type {
	case MsgTypeSubscribe:
		c.sub.SetChannels(toChannels(msg.Channels))
		c.enqueue(WSMessage{ID: msg.ID, Type: MsgTypeSubscribed, Channels: msg.Channels, Timestamp: types.Now()})
	case MsgTypeUnsubscribe:
		c.sub.SetChannels(nil)
		c.enqueue(WSMessage{ID: msg.ID, Type: MsgTypeUnsubscribed, Timestamp: types.Now()})
	case MsgTypePing:
		c.enqueue(WSMessage{ID: msg.ID, Type: MsgTypePong, Timestamp: types.Now()})
	default:
		c.enqueue(WSMessage{ID: msg.ID, Type: MsgTypeError, Error: "unknown message type", Timestamp: types.Now()})
	}
}

// writePump drains the send queue to the wire and pings idle connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toChannels(names []string) []types.TelemetryChannel {
	out := make([]types.TelemetryChannel, 0, len(names))
	for _, n := range names {
		out = append(out, types.TelemetryChannel(n))
	}
	return out
}
