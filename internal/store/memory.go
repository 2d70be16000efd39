package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/airline-simulator/model"
)

type assignmentKey struct {
	aircraftID string
	routeID    string
}

// MemoryStore keeps records in process memory. It backs tests and the
// default "memory" storage driver.
type MemoryStore struct {
	mu          sync.RWMutex
	routes      map[string]model.Route
	aircraft    map[string]model.Aircraft
	assignments map[assignmentKey]model.RouteAssignment
	finances    model.Finances
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes:      make(map[string]model.Route),
		aircraft:    make(map[string]model.Aircraft),
		assignments: make(map[assignmentKey]model.RouteAssignment),
	}
}

// PutRoute seeds a route record.
func (m *MemoryStore) PutRoute(r model.Route) {
	m.mu.Lock()
	m.routes[r.ID] = r
	m.mu.Unlock()
}

// PutAircraft seeds an aircraft record.
func (m *MemoryStore) PutAircraft(a model.Aircraft) {
	m.mu.Lock()
	m.aircraft[a.ID] = a
	m.mu.Unlock()
}

// SetFinances seeds the airline balances.
func (m *MemoryStore) SetFinances(f model.Finances) {
	m.mu.Lock()
	m.finances = f
	m.mu.Unlock()
}

func (m *MemoryStore) LoadRoutes(context.Context) ([]model.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) LoadAircraft(context.Context) ([]model.Aircraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Aircraft, 0, len(m.aircraft))
	for _, a := range m.aircraft {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) LoadAssignments(context.Context) ([]model.RouteAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RouteAssignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AircraftID != out[j].AircraftID {
			return out[i].AircraftID < out[j].AircraftID
		}
		return out[i].RouteID < out[j].RouteID
	})
	return out, nil
}

func (m *MemoryStore) LoadFinances(context.Context) (model.Finances, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finances, nil
}

func (m *MemoryStore) SaveAssignment(_ context.Context, a model.RouteAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[assignmentKey{a.AircraftID, a.RouteID}] = a
	return nil
}

func (m *MemoryStore) SetAssignmentActive(_ context.Context, aircraftID, routeID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{aircraftID, routeID}
	a, ok := m.assignments[key]
	if !ok {
		return fmt.Errorf("%w: assignment %s/%s", ErrNotFound, aircraftID, routeID)
	}
	a.Active = active
	m.assignments[key] = a
	return nil
}

func (m *MemoryStore) SetNextDeparture(_ context.Context, aircraftID, routeID string, last, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{aircraftID, routeID}
	a, ok := m.assignments[key]
	if !ok {
		return fmt.Errorf("%w: assignment %s/%s", ErrNotFound, aircraftID, routeID)
	}
	a.LastDeparture = last
	a.NextEligible = next
	m.assignments[key] = a
	return nil
}

func (m *MemoryStore) Close() error { return nil }
