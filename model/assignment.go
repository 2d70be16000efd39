package model

import "time"

// Fares are the per-seat ticket prices for an assignment.
type Fares struct {
	Economy  float64 `json:"economy" yaml:"economy"`
	Business float64 `json:"business" yaml:"business"`
}

// RouteAssignment binds one aircraft to one route. At most one active
// assignment exists per aircraft.
type RouteAssignment struct {
	AircraftID       string  `json:"aircraft_id" yaml:"aircraft_id"`
	RouteID          string  `json:"route_id" yaml:"route_id"`
	DepartureAirport string  `json:"departure_airport" yaml:"departure_airport"`
	ArrivalAirport   string  `json:"arrival_airport" yaml:"arrival_airport"`
	DistanceNM       float64 `json:"distance_nm" yaml:"distance_nm"`
	FrequencyPerWeek int     `json:"frequency_per_week" yaml:"frequency_per_week"`
	Fares            Fares   `json:"fares" yaml:"fares"`
	Active           bool    `json:"active" yaml:"active"`

	// LastDeparture and NextEligible drive the departure cadence. Zero
	// values mean "never departed" and "no turnaround pending".
	LastDeparture time.Time `json:"last_departure,omitempty" yaml:"last_departure"`
	NextEligible  time.Time `json:"next_eligible,omitempty" yaml:"next_eligible"`
}

// Cadence is the interval between scheduled departures: 168 hours divided
// by the weekly frequency.
func (a RouteAssignment) Cadence() time.Duration {
	if a.FrequencyPerWeek <= 0 {
		return 0
	}
	return 168 * time.Hour / time.Duration(a.FrequencyPerWeek)
}
