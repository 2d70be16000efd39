package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/airline-simulator/model"
)

// Status thresholds in percent of leg progress.
const (
	DepartingUntil = 5.0
	ArrivingFrom   = 95.0
)

// DefaultRestInterval is the turnaround applied after a completed leg.
const DefaultRestInterval = 30 * time.Minute

// ErrValidation classifies bad inputs: the operation is skipped and the
// simulation continues.
var ErrValidation = errors.New("validation error")

// StatusForProgress derives the lifecycle phase from progress alone.
func StatusForProgress(progress float64) model.FlightStatus {
	switch {
	case progress < DepartingUntil:
		return model.StatusDeparting
	case progress < ArrivingFrom:
		return model.StatusEnRoute
	default:
		return model.StatusArriving
	}
}

// FlightStatus returns the current phase of f.
func FlightStatus(f *model.Flight) model.FlightStatus {
	if f == nil {
		return model.StatusParked
	}
	return StatusForProgress(f.Progress)
}

// Upper bounds on assignment inputs. Half the earth's circumference is about
// 10,800 nm, so no real route is longer than MaxDistanceNM.
const (
	MaxDistanceNM       = 12500.0
	MaxFare             = 100000.0
	MaxFrequencyPerWeek = 168
)

// LegDuration converts a distance and cruise speed into simulated leg time.
// Legs that do not fit in a time.Duration are rejected.
func LegDuration(distanceNM, cruiseKts float64) (time.Duration, error) {
	if !(distanceNM > 0) || !(cruiseKts > 0) {
		return 0, fmt.Errorf("%w: leg duration needs positive distance and speed (got %v nm at %v kts)",
			ErrValidation, distanceNM, cruiseKts)
	}
	ns := distanceNM / cruiseKts * float64(time.Hour)
	if math.IsInf(ns, 0) || math.IsNaN(ns) || ns >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: leg of %v nm at %v kts is too long", ErrValidation, distanceNM, cruiseKts)
	}
	return time.Duration(ns), nil
}

// Transition reports what an Advance call did to a flight.
type Transition struct {
	From      model.FlightStatus
	To        model.FlightStatus
	Completed bool
}

// Changed reports whether the phase moved.
func (t Transition) Changed() bool { return t.From != t.To || t.Completed }

var phaseOrder = []model.FlightStatus{
	model.StatusDeparting,
	model.StatusEnRoute,
	model.StatusArriving,
}

// Phases lists every phase entered by this transition in lifecycle order,
// ending with parked when the leg completed. A large step that jumps from
// departing straight into arriving still reports en_route in between.
func (t Transition) Phases() []model.FlightStatus {
	var out []model.FlightStatus
	for _, s := range phaseOrder {
		if s.Rank() > t.From.Rank() && s.Rank() <= t.To.Rank() {
			out = append(out, s)
		}
	}
	if t.Completed {
		out = append(out, model.StatusParked)
	}
	return out
}

// Advance adds elapsed simulated time to f. Progress is clamped to [0,100]
// and never moves backwards. The leg is complete once progress hits 100.
func Advance(f *model.Flight, elapsed, leg time.Duration) (Transition, error) {
	if f == nil {
		return Transition{}, fmt.Errorf("%w: nil flight", ErrValidation)
	}
	if leg <= 0 {
		return Transition{}, fmt.Errorf("%w: leg duration must be positive (got %s)", ErrValidation, leg)
	}
	from := StatusForProgress(f.Progress)
	if elapsed > 0 {
		f.Elapsed += elapsed
		f.Progress = clamp(f.Progress+float64(elapsed)/float64(leg)*100, 0, 100)
	}
	return Transition{
		From:      from,
		To:        StatusForProgress(f.Progress),
		Completed: f.Progress >= 100,
	}, nil
}

// NextEligibleDeparture is when an aircraft that completed a leg at now may
// depart again.
func NextEligibleDeparture(now time.Time, rest time.Duration) time.Time {
	if rest < 0 {
		rest = 0
	}
	return now.Add(rest)
}
