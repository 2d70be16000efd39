package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/model"
)

// FlightRecord is the flat wire form of one live flight.
type FlightRecord struct {
	ID               string             `json:"id"`
	AircraftID       string             `json:"aircraft_id"`
	RouteID          string             `json:"route_id"`
	DepartureAirport string             `json:"departure_airport"`
	ArrivalAirport   string             `json:"arrival_airport"`
	Status           model.FlightStatus `json:"status"`
	Progress         float64            `json:"progress"`
	ElapsedSeconds   float64            `json:"elapsed_seconds"`
	Lat              float64            `json:"lat"`
	Lon              float64            `json:"lon"`
	Heading          float64            `json:"heading"`
	AltitudeFt       float64            `json:"altitude_ft"`
	GroundSpeed      float64            `json:"ground_speed_kts"`
	DepartedAt       time.Time          `json:"departed_at"`
}

// RecordFor flattens a flight for publishing.
func RecordFor(f model.Flight) FlightRecord {
	return FlightRecord{
		ID:               f.ID,
		AircraftID:       f.AircraftID,
		RouteID:          f.Assignment.RouteID,
		DepartureAirport: f.Assignment.DepartureAirport,
		ArrivalAirport:   f.Assignment.ArrivalAirport,
		Status:           core.StatusForProgress(f.Progress),
		Progress:         f.Progress,
		ElapsedSeconds:   f.Elapsed.Seconds(),
		Lat:              f.Lat,
		Lon:              f.Lon,
		Heading:          f.Heading,
		AltitudeFt:       f.AltitudeFt,
		GroundSpeed:      f.GroundSpeed,
		DepartedAt:       f.DepartedAt,
	}
}

// Snapshot is the full state pushed to subscribers after every tick. It is a
// flat list, never a diff.
type Snapshot struct {
	Seq            uint64                 `json:"seq"`
	SimTime        time.Time              `json:"sim_time"`
	TimeMultiplier float64                `json:"time_multiplier"`
	Flights        []FlightRecord         `json:"flights"`
	Economics      core.EconomicsSnapshot `json:"economics"`
}

// Message is the envelope every frame is wrapped in.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Wire formats accepted by Encode.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Encode wraps snap in a Message and serialises it. It returns the payload
// and the websocket frame type to send it as.
func Encode(format string, snap Snapshot) ([]byte, int, error) {
	msg := Message{Type: "snapshot", Payload: snap}
	switch format {
	case "", FormatJSON:
		data, err := json.Marshal(msg)
		return data, websocket.TextMessage, err
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(msg); err != nil {
			return nil, 0, err
		}
		return buf.Bytes(), websocket.BinaryMessage, nil
	default:
		return nil, 0, fmt.Errorf("unsupported snapshot format %q", format)
	}
}
