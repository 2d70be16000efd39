package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/model"
)

func startWSServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testSnapshot(seq uint64) Snapshot {
	return Snapshot{
		Seq:            seq,
		SimTime:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TimeMultiplier: 20,
		Flights: []FlightRecord{RecordFor(model.Flight{
			ID:         "f1",
			AircraftID: "AC1",
			Assignment: model.RouteAssignment{RouteID: "JFK-LAX", DepartureAirport: "JFK", ArrivalAirport: "LAX"},
			Progress:   50,
		})},
		Economics: core.EconomicsSnapshot{MonthlyRevenue: 1000, Routes: []core.RoutePerformance{}},
	}
}

func TestServeWSStreamsJSON(t *testing.T) {
	h, srv := startWSServer(t)
	h.Publish(testSnapshot(3))
	conn := dial(t, srv, "")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", frame)
	}
	var msg struct {
		Type    string   `json:"type"`
		Payload Snapshot `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "snapshot" || msg.Payload.Seq != 3 || len(msg.Payload.Flights) != 1 {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Payload.Flights[0].Status != model.StatusEnRoute {
		t.Fatalf("flight status = %s", msg.Payload.Flights[0].Status)
	}
}

func TestServeWSStreamsMsgpack(t *testing.T) {
	h, srv := startWSServer(t)
	h.Publish(testSnapshot(9))
	conn := dial(t, srv, "?format=msgpack")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", frame)
	}
	var msg struct {
		Type    string   `json:"type"`
		Payload Snapshot `json:"payload"`
	}
	dec := msgpack.NewDecoder(strings.NewReader(string(data)))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "snapshot" || msg.Payload.Seq != 9 || msg.Payload.TimeMultiplier != 20 {
		t.Fatalf("message = %+v", msg)
	}
}

func TestServeWSRejectsUnknownFormat(t *testing.T) {
	h := NewHub(nil)
	rr := httptest.NewRecorder()
	h.ServeWS(rr, httptest.NewRequest(http.MethodGet, "/ws?format=xml", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestServeWSDropsClosedClient(t *testing.T) {
	h, srv := startWSServer(t)
	conn := dial(t, srv, "")

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()
	for h.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("closed client was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
