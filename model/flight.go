package model

import "time"

// FlightStatus is the lifecycle phase of a leg. It is always derived from
// progress and never stored on its own.
type FlightStatus string

const (
	StatusParked    FlightStatus = "parked"
	StatusDeparting FlightStatus = "departing"
	StatusEnRoute   FlightStatus = "en_route"
	StatusArriving  FlightStatus = "arriving"
)

// Rank orders statuses along the lifecycle. Parked ranks lowest.
func (s FlightStatus) Rank() int {
	switch s {
	case StatusDeparting:
		return 1
	case StatusEnRoute:
		return 2
	case StatusArriving:
		return 3
	default:
		return 0
	}
}

// Flight is one leg in progress. It carries a copy of the assignment it was
// spawned from so that deactivating the assignment mid-flight does not
// disturb the leg.
type Flight struct {
	ID         string          `json:"id"`
	AircraftID string          `json:"aircraft_id"`
	Assignment RouteAssignment `json:"assignment"`
	DepartedAt time.Time       `json:"departed_at"`

	// Progress is the percentage of the leg completed, in [0,100].
	Progress float64       `json:"progress"`
	Elapsed  time.Duration `json:"elapsed"`

	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Heading     float64 `json:"heading"`
	AltitudeFt  float64 `json:"altitude_ft"`
	GroundSpeed float64 `json:"ground_speed_kts"`
}
