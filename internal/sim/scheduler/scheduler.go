// Package scheduler drives simulated time: it advances live flights, retires
// completed legs, spawns due departures and publishes a snapshot every tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/observability"
	"github.com/signalsfoundry/airline-simulator/internal/publish"
	"github.com/signalsfoundry/airline-simulator/internal/sim/state"
	"github.com/signalsfoundry/airline-simulator/model"
	"github.com/signalsfoundry/airline-simulator/timectrl"
)

// Error classes reported to the metrics recorder.
const (
	ErrorClassValidation = "validation"
	ErrorClassTransient  = "transient"
	ErrorClassInternal   = "internal"
)

// FleetSource supplies aircraft financial records.
type FleetSource interface {
	Aircraft(id string) (model.Aircraft, error)
	ListAircraft() []model.Aircraft
}

// Publisher receives a snapshot after every tick. It must not block.
type Publisher interface {
	Publish(publish.Snapshot)
}

// WriteBack persists departure timestamps. Implementations must not block
// the caller on I/O.
type WriteBack interface {
	SetNextDeparture(aircraftID, routeID string, last, next time.Time)
}

// Clock is the simulated clock a Scheduler advances. *timectrl.TimeController
// implements it.
type Clock interface {
	timectrl.SimClock
	Interval() time.Duration
	Advance(wallDelta time.Duration) (time.Duration, time.Time)
	Multiplier() float64
	SetMultiplier(m float64) error
	Run(ctx context.Context, onTick func(wallDelta time.Duration)) error
}

// PathResolver turns airport codes into route geometry. *core.Resolver
// implements it.
type PathResolver interface {
	Path(depCode, arrCode string) (core.Path, error)
	Distance(depCode, arrCode string) (float64, error)
}

// MetricsRecorder is satisfied by *observability.SimCollector.
type MetricsRecorder interface {
	ObserveTick(d time.Duration, activeFlights int)
	IncFlightError(class string)
	IncTransition(status string)
	AddSpawned(n int)
	AddRetired(n int)
	SetTimeMultiplier(m float64)
	SetEconomics(revenue, costs, profit, roi float64)
}

// liveFlight is a Flight plus what the scheduler needs to advance it.
type liveFlight struct {
	flight    model.Flight
	leg       time.Duration
	cruiseFt  float64
	cruiseKts float64
}

// Scheduler is the only writer of Flight state and of departure timestamps.
type Scheduler struct {
	// tickMu is held for the duration of a tick so a tick is never observed
	// half applied and Run can only stop between ticks.
	tickMu sync.Mutex

	clock    Clock
	registry *state.Registry
	resolver PathResolver
	fleet    FleetSource
	tables   core.CostTables
	finances model.Finances
	rest     time.Duration

	flights map[string]*liveFlight // keyed by aircraft id
	seq     uint64

	latest atomic.Pointer[publish.Snapshot]

	publisher Publisher
	writeBack WriteBack
	metrics   MetricsRecorder
	log       logging.Logger
	tracer    trace.Tracer
	newID     func() string
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithPublisher sends each tick's snapshot to p.
func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.publisher = p } }

// WithWriteBack persists departure timestamps through w.
func WithWriteBack(w WriteBack) Option { return func(s *Scheduler) { s.writeBack = w } }

// WithMetricsRecorder attaches tick metrics.
func WithMetricsRecorder(m MetricsRecorder) Option { return func(s *Scheduler) { s.metrics = m } }

// WithRestInterval overrides the turnaround between legs.
func WithRestInterval(d time.Duration) Option { return func(s *Scheduler) { s.rest = d } }

// WithFinances sets the airline balances reported with economics.
func WithFinances(f model.Finances) Option { return func(s *Scheduler) { s.finances = f } }

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithIDGenerator replaces the flight id generator.
func WithIDGenerator(fn func() string) Option { return func(s *Scheduler) { s.newID = fn } }

// New builds a Scheduler. tables.AircraftTypes provides cruise performance
// for every aircraft type that may fly.
func New(clock Clock, registry *state.Registry, resolver PathResolver, fleet FleetSource, tables core.CostTables, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    clock,
		registry: registry,
		resolver: resolver,
		fleet:    fleet,
		tables:   tables,
		rest:     core.DefaultRestInterval,
		flights:  make(map[string]*liveFlight),
		tracer:   observability.Tracer(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	return s
}

// Run ticks on the clock's cadence until ctx is cancelled. A tick in progress
// always completes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info(ctx, "scheduler started",
		logging.Duration("tick", s.clock.Interval()),
		logging.Float("time_multiplier", s.clock.Multiplier()),
	)
	err := s.clock.Run(ctx, func(wallDelta time.Duration) {
		s.Step(ctx, wallDelta)
	})
	s.log.Info(context.Background(), "scheduler stopped", logging.Int("active_flights", len(s.ActiveFlights())))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Step performs exactly one tick for wallDelta of wall-clock time and returns
// the published snapshot.
func (s *Scheduler) Step(ctx context.Context, wallDelta time.Duration) publish.Snapshot {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := time.Now()
	elapsed, now := s.clock.Advance(wallDelta)

	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	retired := s.advanceFlights(ctx, elapsed)
	s.retire(ctx, now, retired)
	spawned := s.spawnDue(ctx, now)

	snap := s.buildSnapshot(now)
	s.latest.Store(&snap)
	if s.publisher != nil {
		s.publisher.Publish(snap)
	}

	span.SetAttributes(
		attribute.Int64("sim.elapsed_ms", elapsed.Milliseconds()),
		attribute.Int("sim.active_flights", len(snap.Flights)),
		attribute.Int("sim.retired", len(retired)),
		attribute.Int("sim.spawned", spawned),
	)
	if s.metrics != nil {
		s.metrics.ObserveTick(time.Since(started), len(snap.Flights))
		s.metrics.SetTimeMultiplier(snap.TimeMultiplier)
		e := snap.Economics
		s.metrics.SetEconomics(e.MonthlyRevenue, e.MonthlyCosts, e.NetProfit, e.ROI)
	}
	return snap
}

func (s *Scheduler) sortedAircraftIDs() []string {
	ids := make([]string, 0, len(s.flights))
	for id := range s.flights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// advanceFlights moves every live flight forward by elapsed. A flight whose
// geometry cannot be resolved is skipped for this tick only.
func (s *Scheduler) advanceFlights(ctx context.Context, elapsed time.Duration) []string {
	var completed []string
	for _, id := range s.sortedAircraftIDs() {
		lf := s.flights[id]
		f := &lf.flight
		path, err := s.resolver.Path(f.Assignment.DepartureAirport, f.Assignment.ArrivalAirport)
		if err != nil {
			s.flightError(ctx, lf, err)
			continue
		}
		tr, err := core.Advance(f, elapsed, lf.leg)
		if err != nil {
			s.flightError(ctx, lf, err)
			continue
		}
		place(lf, path)

		for _, phase := range tr.Phases() {
			if s.metrics != nil {
				s.metrics.IncTransition(string(phase))
			}
			s.log.Debug(ctx, "flight phase change",
				logging.String("flight_id", f.ID),
				logging.String("aircraft_id", f.AircraftID),
				logging.String("status", string(phase)),
				logging.Float("progress", f.Progress),
			)
		}
		if tr.Completed {
			completed = append(completed, id)
		}
	}
	return completed
}

// retire removes completed flights and starts the aircraft's turnaround.
func (s *Scheduler) retire(ctx context.Context, now time.Time, aircraftIDs []string) {
	if len(aircraftIDs) == 0 {
		return
	}
	next := core.NextEligibleDeparture(now, s.rest)
	for _, id := range aircraftIDs {
		lf := s.flights[id]
		delete(s.flights, id)

		asg, ok := s.registry.Retire(id, next)
		if ok && s.writeBack != nil {
			s.writeBack.SetNextDeparture(id, asg.RouteID, asg.LastDeparture, asg.NextEligible)
		}
		s.log.Info(ctx, "flight arrived",
			logging.String("flight_id", lf.flight.ID),
			logging.String("aircraft_id", id),
			logging.String("arrival_airport", lf.flight.Assignment.ArrivalAirport),
			logging.Duration("block_time", lf.flight.Elapsed),
		)
	}
	if s.metrics != nil {
		s.metrics.AddRetired(len(aircraftIDs))
	}
}

// spawnDue starts a leg for every due aircraft. Aircraft that cannot be
// spawned stay due and are retried next tick.
func (s *Scheduler) spawnDue(ctx context.Context, now time.Time) int {
	spawned, err := s.registry.SpawnDue(now, func(asg model.RouteAssignment) error {
		lf, err := s.newFlight(asg, now)
		if err != nil {
			s.log.Warn(ctx, "departure skipped",
				logging.String("aircraft_id", asg.AircraftID),
				logging.String("route_id", asg.RouteID),
				logging.Err(err),
			)
			if s.metrics != nil {
				s.metrics.IncFlightError(errorClass(err))
			}
			return err
		}
		s.flights[asg.AircraftID] = lf
		return nil
	})
	if err != nil {
		s.log.Debug(ctx, "some departures deferred", logging.Err(err))
	}
	for _, asg := range spawned {
		lf := s.flights[asg.AircraftID]
		if s.writeBack != nil {
			s.writeBack.SetNextDeparture(asg.AircraftID, asg.RouteID, asg.LastDeparture, asg.NextEligible)
		}
		s.log.Info(ctx, "flight departed",
			logging.String("flight_id", lf.flight.ID),
			logging.String("aircraft_id", asg.AircraftID),
			logging.String("route_id", asg.RouteID),
			logging.Duration("leg", lf.leg),
		)
	}
	if s.metrics != nil && len(spawned) > 0 {
		s.metrics.AddSpawned(len(spawned))
	}
	return len(spawned)
}

func (s *Scheduler) newFlight(asg model.RouteAssignment, now time.Time) (*liveFlight, error) {
	aircraft, err := s.fleet.Aircraft(asg.AircraftID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	typ, ok := s.tables.AircraftTypes[aircraft.TypeID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown aircraft type %q", core.ErrValidation, aircraft.TypeID)
	}
	leg, err := core.LegDuration(asg.DistanceNM, typ.CruiseSpeedKts)
	if err != nil {
		return nil, err
	}
	path, err := s.resolver.Path(asg.DepartureAirport, asg.ArrivalAirport)
	if err != nil {
		return nil, err
	}
	lf := &liveFlight{
		flight: model.Flight{
			ID:         s.newID(),
			AircraftID: asg.AircraftID,
			Assignment: asg,
			DepartedAt: now,
		},
		leg:       leg,
		cruiseFt:  typ.CruiseAltFt,
		cruiseKts: typ.CruiseSpeedKts,
	}
	place(lf, path)
	return lf, nil
}

// place recomputes position, heading and profile from progress.
func place(lf *liveFlight, path core.Path) {
	f := &lf.flight
	t := f.Progress / 100
	p := path.At(t)
	f.Lat, f.Lon = p.Lat, p.Lon
	f.Heading = path.HeadingAt(t)
	f.AltitudeFt = core.AltitudeAt(f.Progress, lf.cruiseFt)
	f.GroundSpeed = core.GroundSpeedAt(f.Progress, lf.cruiseKts)
}

func (s *Scheduler) flightError(ctx context.Context, lf *liveFlight, err error) {
	s.log.Warn(ctx, "flight skipped this tick",
		logging.String("flight_id", lf.flight.ID),
		logging.String("aircraft_id", lf.flight.AircraftID),
		logging.Err(err),
	)
	if s.metrics != nil {
		s.metrics.IncFlightError(errorClass(err))
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return ErrorClassValidation
	case errors.Is(err, core.ErrTransient):
		return ErrorClassTransient
	default:
		return ErrorClassInternal
	}
}

func (s *Scheduler) buildSnapshot(now time.Time) publish.Snapshot {
	s.seq++
	records := make([]publish.FlightRecord, 0, len(s.flights))
	for _, id := range s.sortedAircraftIDs() {
		records = append(records, publish.RecordFor(s.flights[id].flight))
	}
	return publish.Snapshot{
		Seq:            s.seq,
		SimTime:        now,
		TimeMultiplier: s.clock.Multiplier(),
		Flights:        records,
		Economics:      s.Economics(),
	}
}

// SetTimeMultiplier changes the multiplier from the next tick on.
func (s *Scheduler) SetTimeMultiplier(m float64) error {
	if err := s.clock.SetMultiplier(m); err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	if s.metrics != nil {
		s.metrics.SetTimeMultiplier(m)
	}
	s.log.Info(context.Background(), "time multiplier changed", logging.Float("time_multiplier", m))
	return nil
}

// TimeMultiplier returns the current multiplier.
func (s *Scheduler) TimeMultiplier() float64 { return s.clock.Multiplier() }

// Now returns the current simulated time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// ActiveFlights returns the flights as of the last completed tick, ordered by
// aircraft id.
func (s *Scheduler) ActiveFlights() []publish.FlightRecord {
	snap, _ := s.Latest()
	out := make([]publish.FlightRecord, len(snap.Flights))
	copy(out, snap.Flights)
	return out
}

// Latest returns the most recent snapshot.
func (s *Scheduler) Latest() (publish.Snapshot, bool) {
	p := s.latest.Load()
	if p == nil {
		return publish.Snapshot{}, false
	}
	return *p, true
}

// Economics computes the fleet economics for the current registry state.
func (s *Scheduler) Economics() core.EconomicsSnapshot {
	return core.ComputeEconomics(s.registry.List(), s.fleet.ListAircraft(), s.tables, s.finances)
}
