package state

import (
	"sync"

	"github.com/signalsfoundry/airline-simulator/model"
)

func newTestAssignment(aircraftID string) model.RouteAssignment {
	return model.RouteAssignment{
		AircraftID:       aircraftID,
		RouteID:          "JFK-LAX",
		DepartureAirport: "JFK",
		ArrivalAirport:   "LAX",
		DistanceNM:       2475,
		FrequencyPerWeek: 7,
		Fares:            model.Fares{Economy: 250, Business: 875},
	}
}

type fakeRegistryMetrics struct {
	mu       sync.Mutex
	active   int
	airborne int
	calls    int
}

func (f *fakeRegistryMetrics) SetAssignmentCounts(active, airborne int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = active
	f.airborne = airborne
	f.calls++
}
