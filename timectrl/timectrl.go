package timectrl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// Multiplier bounds accepted by SetMultiplier.
const (
	MinMultiplier = 1.0
	MaxMultiplier = 20.0
)

// ErrMultiplierOutOfRange is returned for multipliers outside [1,20].
var ErrMultiplierOutOfRange = errors.New("time multiplier out of range")

// SimClock is an interface for reading simulation time. Components depend on
// it rather than on the concrete controller so tests can pin time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// TimeController converts wall-clock deltas into simulated time using a
// settable multiplier and notifies registered listeners after every advance.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	// Tick is the wall-clock cadence used by Run.
	Tick time.Duration

	currentTime time.Time
	multiplier  float64

	listeners []func(time.Time)

	// wallNow is swapped in tests.
	wallNow func() time.Time
}

// NewTimeController constructs a controller starting at start with a 1x
// multiplier.
func NewTimeController(start time.Time, tick time.Duration) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		currentTime: start,
		multiplier:  MinMultiplier,
		wallNow:     time.Now,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Interval returns the wall-clock cadence used by Run.
func (tc *TimeController) Interval() time.Duration { return tc.Tick }

// SetTime jumps simulation time to t.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// Multiplier returns the current wall-to-sim ratio.
func (tc *TimeController) Multiplier() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.multiplier
}

// SetMultiplier changes the ratio used by subsequent advances. Time already
// simulated is never recomputed.
func (tc *TimeController) SetMultiplier(m float64) error {
	if m < MinMultiplier || m > MaxMultiplier || math.IsNaN(m) {
		return fmt.Errorf("%w: %v not in [%v,%v]", ErrMultiplierOutOfRange, m, MinMultiplier, MaxMultiplier)
	}
	tc.mu.Lock()
	tc.multiplier = m
	tc.mu.Unlock()
	return nil
}

// AddListener registers a callback invoked with the new simulation time
// after every advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves simulation time forward by wallDelta scaled by the current
// multiplier. It returns the simulated elapsed time and the new time.
func (tc *TimeController) Advance(wallDelta time.Duration) (time.Duration, time.Time) {
	if wallDelta < 0 {
		wallDelta = 0
	}
	tc.mu.Lock()
	elapsed := time.Duration(float64(wallDelta) * tc.multiplier)
	tc.currentTime = tc.currentTime.Add(elapsed)
	now := tc.currentTime
	listeners := slices.Clone(tc.listeners)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return elapsed, now
}

// Run calls onTick with the measured wall-clock delta on every Tick until ctx
// is cancelled. Cancellation is only observed between ticks, so an onTick
// call in progress always completes.
func (tc *TimeController) Run(ctx context.Context, onTick func(wallDelta time.Duration)) error {
	if tc.Tick <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", tc.Tick)
	}
	ticker := time.NewTicker(tc.Tick)
	defer ticker.Stop()

	last := tc.wallNow()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := tc.wallNow()
		delta := now.Sub(last)
		last = now
		onTick(delta)
	}
}
