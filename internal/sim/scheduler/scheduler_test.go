package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/publish"
	"github.com/signalsfoundry/airline-simulator/internal/sim/state"
	"github.com/signalsfoundry/airline-simulator/kb"
	"github.com/signalsfoundry/airline-simulator/model"
	"github.com/signalsfoundry/airline-simulator/timectrl"
)

var (
	jfk   = model.Airport{Code: "JFK", Latitude: 40.6413, Longitude: -73.7781}
	lax   = model.Airport{Code: "LAX", Latitude: 33.9416, Longitude: -118.4085}
	b738  = model.AircraftType{ID: "B738", EconomySeats: 150, BusinessSeats: 20, CruiseSpeedKts: 450, CruiseAltFt: 35000, FuelBurnGPH: 850, CrewRequired: 6}
	// glider is slow enough that a transcontinental leg overflows time.Duration.
	glider = model.AircraftType{ID: "GLDR", EconomySeats: 1, CruiseSpeedKts: 1e-4, CruiseAltFt: 3000, CrewRequired: 1}
	start = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
)

// 2475 nm at 450 kts.
const jfkLaxLeg = 5*time.Hour + 30*time.Minute

type departureWrite struct {
	aircraftID, routeID string
	last, next          time.Time
}

type fakeWriteBack struct {
	mu     sync.Mutex
	writes []departureWrite
}

func (f *fakeWriteBack) SetNextDeparture(aircraftID, routeID string, last, next time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, departureWrite{aircraftID, routeID, last, next})
}

type fakeMetrics struct {
	mu          sync.Mutex
	ticks       int
	errors      map[string]int
	transitions map[string]int
	spawned     int
	retired     int
	multiplier  float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: map[string]int{}, transitions: map[string]int{}}
}

func (f *fakeMetrics) ObserveTick(time.Duration, int) { f.mu.Lock(); f.ticks++; f.mu.Unlock() }
func (f *fakeMetrics) IncFlightError(class string)    { f.mu.Lock(); f.errors[class]++; f.mu.Unlock() }
func (f *fakeMetrics) IncTransition(status string)    { f.mu.Lock(); f.transitions[status]++; f.mu.Unlock() }
func (f *fakeMetrics) AddSpawned(n int)               { f.mu.Lock(); f.spawned += n; f.mu.Unlock() }
func (f *fakeMetrics) AddRetired(n int)               { f.mu.Lock(); f.retired += n; f.mu.Unlock() }
func (f *fakeMetrics) SetTimeMultiplier(m float64)    { f.mu.Lock(); f.multiplier = m; f.mu.Unlock() }
func (f *fakeMetrics) SetEconomics(_, _, _, _ float64) {}

type capturePublisher struct {
	mu    sync.Mutex
	snaps []publish.Snapshot
}

func (c *capturePublisher) Publish(s publish.Snapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, s)
	c.mu.Unlock()
}

// switchableResolver fails every Path lookup while down is set.
type switchableResolver struct {
	*core.Resolver
	down atomic.Bool
}

func (r *switchableResolver) Path(depCode, arrCode string) (core.Path, error) {
	if r.down.Load() {
		return core.Path{}, fmt.Errorf("%w: route geometry unavailable", core.ErrTransient)
	}
	return r.Resolver.Path(depCode, arrCode)
}

type fixture struct {
	kb        *kb.KnowledgeBase
	resolver  *switchableResolver
	registry  *state.Registry
	clock     *timectrl.TimeController
	sched     *Scheduler
	writeBack *fakeWriteBack
	metrics   *fakeMetrics
	published *capturePublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	k := kb.NewKnowledgeBase()
	for _, ap := range []model.Airport{jfk, lax} {
		if err := k.AddAirport(ap); err != nil {
			t.Fatalf("AddAirport(%s): %v", ap.Code, err)
		}
	}
	k.PutRoute(model.Route{ID: "JFK-LAX", DepartureAirport: "JFK", ArrivalAirport: "LAX", DistanceNM: 2475})
	k.PutAircraftType(b738)
	k.PutAircraftType(glider)
	k.PutAircraft(model.Aircraft{ID: "N101", TypeID: "B738", AgeYears: 2, PurchasePrice: 90e6, Financing: model.FinancingLease})
	k.PutAircraft(model.Aircraft{ID: "N102", TypeID: "B738", AgeYears: 5, PurchasePrice: 80e6, Financing: model.FinancingCash})

	tables := core.DefaultCostTables()
	tables.AircraftTypes = k.AircraftTypes()

	fx := &fixture{
		kb:        k,
		resolver:  &switchableResolver{Resolver: core.NewResolver(k, 16)},
		registry:  state.NewRegistry(nil),
		clock:     timectrl.NewTimeController(start, time.Second),
		writeBack: &fakeWriteBack{},
		metrics:   newFakeMetrics(),
		published: &capturePublisher{},
	}
	n := 0
	base := []Option{
		WithWriteBack(fx.writeBack),
		WithMetricsRecorder(fx.metrics),
		WithPublisher(fx.published),
		WithIDGenerator(func() string { n++; return "flight-" + string(rune('0'+n)) }),
	}
	fx.sched = New(fx.clock, fx.registry, fx.resolver, k, tables, append(base, opts...)...)
	return fx
}

func (fx *fixture) assignJFKLAX(t *testing.T, aircraftID string) {
	t.Helper()
	_, err := fx.registry.Assign(model.RouteAssignment{
		AircraftID:       aircraftID,
		RouteID:          "JFK-LAX",
		DepartureAirport: "JFK",
		ArrivalAirport:   "LAX",
		DistanceNM:       2475,
		FrequencyPerWeek: 7,
		Fares:            model.Fares{Economy: 250, Business: 875},
	})
	if err != nil {
		t.Fatalf("Assign(%s): %v", aircraftID, err)
	}
}

func onlyFlight(t *testing.T, snap publish.Snapshot) publish.FlightRecord {
	t.Helper()
	if len(snap.Flights) != 1 {
		t.Fatalf("expected 1 flight, got %d", len(snap.Flights))
	}
	return snap.Flights[0]
}

func TestJFKToLAXLifecycle(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.assignJFKLAX(t, "N101")

	snap := fx.sched.Step(ctx, 0)
	f := onlyFlight(t, snap)
	if f.Progress != 0 || f.Status != model.StatusDeparting {
		t.Fatalf("spawned flight progress=%v status=%s, want 0/departing", f.Progress, f.Status)
	}
	if f.Lat != jfk.Latitude || f.Lon != jfk.Longitude {
		t.Fatalf("spawn position = (%v,%v), want JFK (%v,%v)", f.Lat, f.Lon, jfk.Latitude, jfk.Longitude)
	}
	if !fx.registry.IsAirborne("N101") {
		t.Fatalf("aircraft should be airborne after spawn")
	}

	// 5% of the leg.
	snap = fx.sched.Step(ctx, jfkLaxLeg/20)
	if f = onlyFlight(t, snap); f.Status != model.StatusEnRoute {
		t.Fatalf("status at 5%% = %s (progress %v), want en_route", f.Status, f.Progress)
	}

	snap = fx.sched.Step(ctx, jfkLaxLeg-jfkLaxLeg/20)
	if len(snap.Flights) != 0 {
		t.Fatalf("flight should be retired, got %+v", snap.Flights)
	}
	arrivedAt := start.Add(jfkLaxLeg)
	asg, ok := fx.registry.Get("N101")
	if !ok {
		t.Fatalf("assignment missing after arrival")
	}
	if want := arrivedAt.Add(core.DefaultRestInterval); !asg.NextEligible.Equal(want) {
		t.Fatalf("NextEligible = %v, want %v", asg.NextEligible, want)
	}
	if !asg.LastDeparture.Equal(start) {
		t.Fatalf("LastDeparture = %v, want %v", asg.LastDeparture, start)
	}
	if fx.registry.IsAirborne("N101") {
		t.Fatalf("aircraft still airborne after arrival")
	}

	if fx.metrics.spawned != 1 || fx.metrics.retired != 1 {
		t.Fatalf("spawned=%d retired=%d, want 1/1", fx.metrics.spawned, fx.metrics.retired)
	}
	for _, st := range []string{"en_route", "arriving", "parked"} {
		if fx.metrics.transitions[st] != 1 {
			t.Fatalf("transitions[%s] = %d, want 1", st, fx.metrics.transitions[st])
		}
	}

	fx.writeBack.mu.Lock()
	defer fx.writeBack.mu.Unlock()
	if len(fx.writeBack.writes) != 2 {
		t.Fatalf("write-backs = %+v, want departure and arrival", fx.writeBack.writes)
	}
	if w := fx.writeBack.writes[1]; !w.next.Equal(arrivedAt.Add(core.DefaultRestInterval)) {
		t.Fatalf("arrival write-back next = %v", w.next)
	}
}

func TestRestIntervalDelaysNextDeparture(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, WithRestInterval(2*time.Hour))
	_, err := fx.registry.Assign(model.RouteAssignment{
		AircraftID: "N101", RouteID: "JFK-LAX", DepartureAirport: "JFK", ArrivalAirport: "LAX",
		DistanceNM: 2475, FrequencyPerWeek: 56, // 3h cadence, shorter than the leg
	})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	fx.sched.Step(ctx, 0)
	fx.sched.Step(ctx, jfkLaxLeg)

	if snap := fx.sched.Step(ctx, time.Hour); len(snap.Flights) != 0 {
		t.Fatalf("departed during turnaround")
	}
	if snap := fx.sched.Step(ctx, time.Hour); len(snap.Flights) != 1 {
		t.Fatalf("expected departure once turnaround elapsed, got %d flights", len(snap.Flights))
	}
}

func TestMultiplierChangeAppliesForward(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.assignJFKLAX(t, "N101")
	fx.sched.Step(ctx, 0)

	before := onlyFlight(t, fx.sched.Step(ctx, time.Hour))
	slow := onlyFlight(t, fx.sched.Step(ctx, time.Second))
	d1 := slow.Progress - before.Progress

	if err := fx.sched.SetTimeMultiplier(20); err != nil {
		t.Fatalf("SetTimeMultiplier: %v", err)
	}
	if latest, _ := fx.sched.Latest(); latest.Flights[0].Progress != slow.Progress || latest.Flights[0].Lat != slow.Lat {
		t.Fatalf("multiplier change moved the published flight: %+v vs %+v", latest.Flights[0], slow)
	}

	fast := onlyFlight(t, fx.sched.Step(ctx, time.Second))
	d20 := fast.Progress - slow.Progress
	if math.Abs(d20-20*d1) > 1e-9 {
		t.Fatalf("progress delta at 20x = %v, want %v", d20, 20*d1)
	}
	if snap, _ := fx.sched.Latest(); snap.TimeMultiplier != 20 {
		t.Fatalf("snapshot multiplier = %v, want 20", snap.TimeMultiplier)
	}
	if fx.metrics.multiplier != 20 {
		t.Fatalf("metrics multiplier = %v", fx.metrics.multiplier)
	}
}

func TestSetTimeMultiplierRejectsOutOfRange(t *testing.T) {
	fx := newFixture(t)
	for _, m := range []float64{0, 0.5, 21, math.NaN()} {
		if err := fx.sched.SetTimeMultiplier(m); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("SetTimeMultiplier(%v) = %v, want ErrValidation", m, err)
		}
	}
	if fx.sched.TimeMultiplier() != 1 {
		t.Fatalf("multiplier changed by rejected values")
	}
}

func TestSpawnFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.assignJFKLAX(t, "N101")
	_, err := fx.registry.Assign(model.RouteAssignment{
		AircraftID: "N102", RouteID: "JFK-ZZZ", DepartureAirport: "JFK", ArrivalAirport: "ZZZ",
		DistanceNM: 1000, FrequencyPerWeek: 7,
	})
	if err != nil {
		t.Fatalf("Assign N102: %v", err)
	}

	snap := fx.sched.Step(ctx, 0)
	if f := onlyFlight(t, snap); f.AircraftID != "N101" {
		t.Fatalf("unexpected flight %s", f.AircraftID)
	}
	if fx.metrics.errors[ErrorClassTransient] != 1 {
		t.Fatalf("transient errors = %d, want 1", fx.metrics.errors[ErrorClassTransient])
	}
	if fx.registry.IsAirborne("N102") {
		t.Fatalf("failed spawn marked aircraft airborne")
	}

	if err := fx.kb.AddAirport(model.Airport{Code: "ZZZ", Latitude: 10, Longitude: 10}); err != nil {
		t.Fatalf("AddAirport: %v", err)
	}
	if snap = fx.sched.Step(ctx, time.Second); len(snap.Flights) != 2 {
		t.Fatalf("expected retry to spawn N102, got %d flights", len(snap.Flights))
	}
}

func TestUnknownAircraftTypeIsValidationError(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.kb.PutAircraft(model.Aircraft{ID: "N900", TypeID: "CONCORDE"})
	fx.assignJFKLAX(t, "N900")
	fx.assignJFKLAX(t, "N101")

	snap := fx.sched.Step(ctx, 0)
	if f := onlyFlight(t, snap); f.AircraftID != "N101" {
		t.Fatalf("unexpected flight %s", f.AircraftID)
	}
	if fx.metrics.errors[ErrorClassValidation] != 1 {
		t.Fatalf("validation errors = %v", fx.metrics.errors)
	}
}

func TestOverlongLegNeverSpawns(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.kb.PutAircraft(model.Aircraft{ID: "N700", TypeID: "GLDR"})
	fx.assignJFKLAX(t, "N700")

	for i := 0; i < 3; i++ {
		if snap := fx.sched.Step(ctx, time.Minute); len(snap.Flights) != 0 {
			t.Fatalf("tick %d: flights = %+v", i, snap.Flights)
		}
	}
	if fx.registry.IsAirborne("N700") {
		t.Fatalf("aircraft with an unrepresentable leg marked airborne")
	}
	if fx.metrics.errors[ErrorClassValidation] != 3 {
		t.Fatalf("validation errors = %v, want 3", fx.metrics.errors)
	}
	if _, err := fx.registry.Remove("N700", "JFK-LAX"); err != nil {
		t.Fatalf("Remove = %v", err)
	}
}

func TestLiveFlightGeometryFailureSkipsTick(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.assignJFKLAX(t, "N101")
	fx.sched.Step(ctx, 0)
	before := onlyFlight(t, fx.sched.Step(ctx, time.Hour))

	fx.resolver.down.Store(true)
	during := onlyFlight(t, fx.sched.Step(ctx, time.Hour))
	if during.Progress != before.Progress || during.Lat != before.Lat || during.Lon != before.Lon {
		t.Fatalf("flight moved while geometry was unavailable: %+v vs %+v", during, before)
	}
	if fx.metrics.errors[ErrorClassTransient] != 1 {
		t.Fatalf("transient errors = %v, want 1", fx.metrics.errors)
	}
	if !fx.registry.IsAirborne("N101") {
		t.Fatalf("skipped flight lost its airborne mark")
	}

	fx.resolver.down.Store(false)
	after := onlyFlight(t, fx.sched.Step(ctx, time.Hour))
	want := float64(2*time.Hour) / float64(jfkLaxLeg) * 100
	if math.Abs(after.Progress-want) > 1e-9 {
		t.Fatalf("progress after recovery = %v, want %v", after.Progress, want)
	}
}

func TestRemoveWhileAirborneLeavesFlight(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.assignJFKLAX(t, "N101")
	fx.sched.Step(ctx, 0)
	before := onlyFlight(t, fx.sched.Step(ctx, time.Hour))

	if _, err := fx.registry.Remove("N101", ""); !errors.Is(err, state.ErrAircraftAirborne) {
		t.Fatalf("Remove = %v, want ErrAircraftAirborne", err)
	}
	after := onlyFlight(t, fx.sched.Step(ctx, 0))
	if after.ID != before.ID || after.Progress != before.Progress {
		t.Fatalf("flight disturbed by rejected remove: %+v vs %+v", after, before)
	}
}

func TestSnapshotsPublishedWithEconomics(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, WithFinances(model.Finances{CashBalance: 1e6}))
	fx.assignJFKLAX(t, "N101")
	fx.sched.Step(ctx, 0)
	fx.sched.Step(ctx, time.Minute)

	fx.published.mu.Lock()
	defer fx.published.mu.Unlock()
	if len(fx.published.snaps) != 2 {
		t.Fatalf("published %d snapshots, want 2", len(fx.published.snaps))
	}
	last := fx.published.snaps[1]
	if last.Seq != 2 {
		t.Fatalf("seq = %d, want 2", last.Seq)
	}
	if !last.SimTime.Equal(start.Add(time.Minute)) {
		t.Fatalf("sim time = %v", last.SimTime)
	}
	e := last.Economics
	if e.ActiveAssignments != 1 || e.FleetSize != 2 || e.CashBalance != 1e6 {
		t.Fatalf("economics = %+v", e)
	}
	want := core.MonthlyRevenue(model.Fares{Economy: 250, Business: 875}, 150, 20, 7, 0.8)
	if e.MonthlyRevenue != want {
		t.Fatalf("monthly revenue = %v, want %v", e.MonthlyRevenue, want)
	}
}

func TestRunStopsBetweenTicks(t *testing.T) {
	fx := newFixture(t)
	fx.clock.Tick = 5 * time.Millisecond
	fx.assignJFKLAX(t, "N101")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.sched.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if snap, ok := fx.sched.Latest(); ok && snap.Seq >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler did not tick")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	stopped, _ := fx.sched.Latest()
	time.Sleep(20 * time.Millisecond)
	if again, _ := fx.sched.Latest(); again.Seq != stopped.Seq {
		t.Fatalf("ticks continued after Run returned: %d -> %d", stopped.Seq, again.Seq)
	}
	if len(stopped.Flights) != 1 {
		t.Fatalf("expected the flight to survive stop, got %d", len(stopped.Flights))
	}
}
