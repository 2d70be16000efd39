package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/airline-simulator/model"
)

func testAssignment() model.RouteAssignment {
	return model.RouteAssignment{
		AircraftID:       "AC1",
		RouteID:          "JFK-LAX",
		DepartureAirport: "JFK",
		ArrivalAirport:   "LAX",
		DistanceNM:       2475,
		FrequencyPerWeek: 7,
		Fares:            model.Fares{Economy: 250, Business: 875},
		Active:           true,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutRoute(model.Route{ID: "JFK-LAX", DepartureAirport: "JFK", ArrivalAirport: "LAX", DistanceNM: 2475})
	s.PutAircraft(model.Aircraft{ID: "AC1", TypeID: "B737"})
	s.SetFinances(model.Finances{CashBalance: 42})

	if err := s.SaveAssignment(ctx, testAssignment()); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	next := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetNextDeparture(ctx, "AC1", "JFK-LAX", next.Add(-6*time.Hour), next); err != nil {
		t.Fatalf("SetNextDeparture: %v", err)
	}
	if err := s.SetAssignmentActive(ctx, "AC1", "JFK-LAX", false); err != nil {
		t.Fatalf("SetAssignmentActive: %v", err)
	}

	got, err := s.LoadAssignments(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("LoadAssignments = %v, %v", got, err)
	}
	if got[0].Active || !got[0].NextEligible.Equal(next) {
		t.Fatalf("assignment = %+v", got[0])
	}
	routes, _ := s.LoadRoutes(ctx)
	aircraft, _ := s.LoadAircraft(ctx)
	fin, _ := s.LoadFinances(ctx)
	if len(routes) != 1 || len(aircraft) != 1 || fin.CashBalance != 42 {
		t.Fatalf("routes=%v aircraft=%v finances=%v", routes, aircraft, fin)
	}
}

func TestMemoryStoreMissingAssignment(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SetAssignmentActive(context.Background(), "AC1", "X", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetAssignmentActive error = %v", err)
	}
	if err := s.SetNextDeparture(context.Background(), "AC1", "X", time.Time{}, time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetNextDeparture error = %v", err)
	}
}
