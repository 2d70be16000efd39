// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/model"
)

var (
	// ErrConflict is the parent of every rejection caused by current state
	// rather than by bad input.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyAssigned indicates the aircraft already has an active assignment.
	ErrAlreadyAssigned = fmt.Errorf("%w: aircraft already has an active assignment", ErrConflict)
	// ErrAircraftAirborne indicates the aircraft is flying a leg.
	ErrAircraftAirborne = fmt.Errorf("%w: aircraft is airborne", ErrConflict)
	// ErrNotFound indicates no matching active assignment exists.
	ErrNotFound = errors.New("assignment not found")
	// ErrInvalidAssignment indicates an assignment failed validation.
	ErrInvalidAssignment = fmt.Errorf("%w: invalid assignment", core.ErrValidation)
)

// Reason codes surfaced to callers for rejected commands.
const (
	ReasonAlreadyAssigned  = "already_assigned"
	ReasonAircraftAirborne = "aircraft_airborne"
	ReasonValidation       = "validation_failed"
	ReasonNotFound         = "not_found"
	ReasonInternal         = "internal"
)

// Reason maps an error onto a stable, structured reason code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyAssigned):
		return ReasonAlreadyAssigned
	case errors.Is(err, ErrAircraftAirborne):
		return ReasonAircraftAirborne
	case errors.Is(err, core.ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonInternal
	}
}

// RegistryMetricsRecorder receives count updates after every mutation.
type RegistryMetricsRecorder interface {
	SetAssignmentCounts(active, airborne int)
}

// Registry is the assignment arena: aircraft id -> active RouteAssignment,
// plus the set of aircraft currently flying a leg. All reads and writes go
// through one mutex, so "read due set + spawn" and "remove" never interleave.
type Registry struct {
	mu sync.Mutex

	// assignments holds active assignments keyed by aircraft id.
	assignments map[string]*model.RouteAssignment

	// airborne tracks aircraft with a live Flight. The Flight objects
	// themselves belong to the scheduler.
	airborne map[string]bool

	log     logging.Logger
	metrics RegistryMetricsRecorder
}

// RegistryOption customises Registry construction.
type RegistryOption func(*Registry)

// WithMetricsRecorder attaches an optional metrics recorder for counts.
func WithMetricsRecorder(m RegistryMetricsRecorder) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(log logging.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{
		assignments: make(map[string]*model.RouteAssignment),
		airborne:    make(map[string]bool),
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validateAssignment(a model.RouteAssignment) error {
	switch {
	case strings.TrimSpace(a.AircraftID) == "":
		return fmt.Errorf("%w: aircraft_id is required", ErrInvalidAssignment)
	case strings.TrimSpace(a.RouteID) == "":
		return fmt.Errorf("%w: route_id is required", ErrInvalidAssignment)
	case a.DepartureAirport == "" || a.ArrivalAirport == "":
		return fmt.Errorf("%w: route %q has no endpoints", ErrInvalidAssignment, a.RouteID)
	case !(a.DistanceNM > 0) || a.DistanceNM > core.MaxDistanceNM:
		return fmt.Errorf("%w: distance %v nm not in (0,%v]", ErrInvalidAssignment, a.DistanceNM, core.MaxDistanceNM)
	case a.FrequencyPerWeek <= 0 || a.FrequencyPerWeek > core.MaxFrequencyPerWeek:
		return fmt.Errorf("%w: frequency %d not in [1,%d]", ErrInvalidAssignment, a.FrequencyPerWeek, core.MaxFrequencyPerWeek)
	case !validFare(a.Fares.Economy) || !validFare(a.Fares.Business):
		return fmt.Errorf("%w: fares must be in [0,%v]", ErrInvalidAssignment, core.MaxFare)
	}
	return nil
}

func validFare(f float64) bool {
	return f >= 0 && f <= core.MaxFare
}

// Assign records a new active assignment. It fails with ErrAlreadyAssigned
// if the aircraft already has one; the registry is left unchanged.
func (r *Registry) Assign(a model.RouteAssignment) (model.RouteAssignment, error) {
	if err := validateAssignment(a); err != nil {
		return model.RouteAssignment{}, err
	}
	a.Active = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.assignments[a.AircraftID]; ok {
		return model.RouteAssignment{}, fmt.Errorf("%w: %q flies %q", ErrAlreadyAssigned, a.AircraftID, existing.RouteID)
	}
	stored := a
	r.assignments[a.AircraftID] = &stored
	r.recordMetricsLocked()

	r.log.Info(context.Background(), "assignment created",
		logging.String("aircraft_id", a.AircraftID),
		logging.String("route_id", a.RouteID),
		logging.Int("frequency_per_week", a.FrequencyPerWeek),
	)
	return stored, nil
}

// Remove deactivates the aircraft's assignment. An empty routeID matches any
// route. It fails with ErrAircraftAirborne while a leg is in progress.
func (r *Registry) Remove(aircraftID, routeID string) (model.RouteAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[aircraftID]
	if !ok || (routeID != "" && a.RouteID != routeID) {
		return model.RouteAssignment{}, fmt.Errorf("%w: aircraft %q route %q", ErrNotFound, aircraftID, routeID)
	}
	if r.airborne[aircraftID] {
		return model.RouteAssignment{}, fmt.Errorf("%w: %q", ErrAircraftAirborne, aircraftID)
	}
	delete(r.assignments, aircraftID)
	r.recordMetricsLocked()

	removed := *a
	removed.Active = false
	r.log.Info(context.Background(), "assignment removed",
		logging.String("aircraft_id", aircraftID),
		logging.String("route_id", removed.RouteID),
	)
	return removed, nil
}

func isDue(a *model.RouteAssignment, now time.Time) bool {
	if !a.NextEligible.IsZero() && now.Before(a.NextEligible) {
		return false
	}
	if a.LastDeparture.IsZero() {
		return true
	}
	return now.Sub(a.LastDeparture) >= a.Cadence()
}

func (r *Registry) dueLocked(now time.Time) []string {
	var ids []string
	for id, a := range r.assignments {
		if r.airborne[id] || !a.Active {
			continue
		}
		if isDue(a, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DueDepartures lists aircraft whose cadence has elapsed since their last
// departure, whose turnaround is over and which are not flying.
func (r *Registry) DueDepartures(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dueLocked(now)
}

// SpawnDue computes the due set and calls spawn for each aircraft while the
// registry lock is held. Aircraft whose spawn succeeds are marked airborne
// with LastDeparture = now. Failures are joined into the returned error and
// leave the aircraft due for the next attempt.
func (r *Registry) SpawnDue(now time.Time, spawn func(model.RouteAssignment) error) ([]model.RouteAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		spawned []model.RouteAssignment
		errs    []error
	)
	for _, id := range r.dueLocked(now) {
		a := r.assignments[id]
		next := *a
		next.LastDeparture = now
		if err := spawn(next); err != nil {
			errs = append(errs, fmt.Errorf("spawn %q: %w", id, err))
			continue
		}
		*a = next
		r.airborne[id] = true
		spawned = append(spawned, next)
	}
	if len(spawned) > 0 {
		r.recordMetricsLocked()
	}
	return spawned, errors.Join(errs...)
}

// Retire clears the airborne mark once a leg completes. If the aircraft still
// has an active assignment its next eligible departure is set and the updated
// assignment is returned with ok=true.
func (r *Registry) Retire(aircraftID string, nextEligible time.Time) (model.RouteAssignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.airborne, aircraftID)
	defer r.recordMetricsLocked()

	a, ok := r.assignments[aircraftID]
	if !ok {
		return model.RouteAssignment{}, false
	}
	a.NextEligible = nextEligible
	return *a, true
}

// Get returns the active assignment for an aircraft.
func (r *Registry) Get(aircraftID string) (model.RouteAssignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[aircraftID]
	if !ok {
		return model.RouteAssignment{}, false
	}
	return *a, true
}

// List returns copies of all active assignments ordered by aircraft id.
func (r *Registry) List() []model.RouteAssignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RouteAssignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AircraftID < out[j].AircraftID })
	return out
}

// IsAirborne reports whether the aircraft has a leg in progress.
func (r *Registry) IsAirborne(aircraftID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.airborne[aircraftID]
}

// Load hydrates the registry from persisted records. Inactive records are
// ignored; invalid or duplicate active records are skipped and reported.
func (r *Registry) Load(records []model.RouteAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		if err := validateAssignment(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := r.assignments[rec.AircraftID]; exists {
			errs = append(errs, fmt.Errorf("%w: duplicate active record for %q", ErrAlreadyAssigned, rec.AircraftID))
			continue
		}
		stored := rec
		r.assignments[rec.AircraftID] = &stored
	}
	r.recordMetricsLocked()
	return errors.Join(errs...)
}

func (r *Registry) recordMetricsLocked() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetAssignmentCounts(len(r.assignments), len(r.airborne))
}
