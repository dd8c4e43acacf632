// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/api"
	"github.com/atlas-desktop/trading-core/internal/exchange"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/storage/memory"
	"github.com/atlas-desktop/trading-core/internal/supervisor"
	"github.com/atlas-desktop/trading-core/internal/telemetry"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	riskEngine := risk.New(logger, types.DefaultRiskConfig())
	bus := telemetry.New(logger, types.DefaultTelemetryConfig())
	factory := func(ex types.Exchange) (exchange.Adapter, error) {
		return exchange.NewSimulatedAdapter(logger), nil
	}

	sup := supervisor.New(
		logger,
		types.DefaultSupervisorConfig(),
		memory.New(),
		riskEngine,
		nil,
		bus,
		factory,
		types.DefaultTradingLoopConfig(),
	)

	serverConfig := types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}

	server := api.NewServer(logger, serverConfig, sup, bus)
	ts := httptest.NewServer(server.Router())
	return server, ts
}

func testTraderConfig() types.TraderConfig {
	return types.TraderConfig{
		Name:                "demo",
		Exchange:            types.ExchangeSimulated,
		Symbol:              "BTC/USDT",
		MaxStakeAmount:      decimal.NewFromInt(100),
		MaxRiskLevel:        5,
		MaxTradingDuration:  time.Hour,
		Strategy:            types.StrategyTrendFollowing,
		CandlestickInterval: types.IntervalOneHour,
		Leverage:            decimal.NewFromInt(1),
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", result["status"])
	}
}

func TestCreateListGetTrader(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(testTraderConfig())
	resp, err := http.Post(ts.URL+"/api/v1/traders", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id := created["id"]
	if id == "" {
		t.Fatal("expected non-empty trader id")
	}

	listResp, err := http.Get(ts.URL + "/api/v1/traders")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", listResp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/v1/traders/" + id)
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestGetUnknownTraderReturnsNotFound(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/traders/does-not-exist")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStartStopTraderLifecycle(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(testTraderConfig())
	resp, err := http.Post(ts.URL+"/api/v1/traders", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	var created map[string]string
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	id := created["id"]

	startResp, err := http.Post(ts.URL+"/api/v1/traders/"+id+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	startResp.Body.Close()
	if startResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", startResp.StatusCode)
	}

	stopResp, err := http.Post(ts.URL+"/api/v1/traders/"+id+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop request failed: %v", err)
	}
	stopResp.Body.Close()
	if stopResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", stopResp.StatusCode)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	ping := api.WSMessage{Type: api.MsgTypePing, ID: "ping-1"}
	if err := conn.WriteJSON(ping); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply api.WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if reply.Type != api.MsgTypePong {
		t.Errorf("expected pong, got %s", reply.Type)
	}
	if reply.ID != ping.ID {
		t.Errorf("expected id %s, got %s", ping.ID, reply.ID)
	}
}

func TestWebSocketSubscribeUnsubscribe(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	sub := api.WSMessage{Type: api.MsgTypeSubscribe, ID: "sub-1", Channels: []string{"trader-status"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply api.WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}
	if reply.Type != api.MsgTypeSubscribed {
		t.Errorf("expected subscribed, got %s", reply.Type)
	}

	unsub := api.WSMessage{Type: api.MsgTypeUnsubscribe, ID: "unsub-1"}
	if err := conn.WriteJSON(unsub); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read unsubscribe ack: %v", err)
	}
	if reply.Type != api.MsgTypeUnsubscribed {
		t.Errorf("expected unsubscribed, got %s", reply.Type)
	}
}
