package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector exposes tick scheduler, economics and publisher metrics.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TicksTotal        prometheus.Counter
	TickDuration      prometheus.Histogram
	ActiveFlights     prometheus.Gauge
	FlightErrors      *prometheus.CounterVec
	FlightTransitions *prometheus.CounterVec
	FlightsSpawned    prometheus.Counter
	FlightsRetired    prometheus.Counter
	TimeMultiplier    prometheus.Gauge
	SimTime           prometheus.Gauge

	MonthlyRevenue prometheus.Gauge
	MonthlyCosts   prometheus.Gauge
	NetProfit      prometheus.Gauge
	ROI            prometheus.Gauge

	SnapshotsPublished prometheus.Counter
	SnapshotsDropped   prometheus.Counter
	Subscribers        prometheus.Gauge
	StoreWritesDropped prometheus.Counter
}

// NewSimCollector registers simulation metrics against the provided registerer.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	if c.TicksTotal, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Cumulative number of scheduler ticks.",
	}), "sim_ticks_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock time spent inside one scheduler tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sim_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.ActiveFlights, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_flights",
		Help: "Number of flights currently in the air.",
	}), "sim_active_flights"); err != nil {
		return nil, err
	}
	if c.FlightErrors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_flight_errors_total",
		Help: "Per-flight computation failures isolated by the scheduler, labeled by error class.",
	}, []string{"class"}), "sim_flight_errors_total"); err != nil {
		return nil, err
	}
	if c.FlightTransitions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_flight_transitions_total",
		Help: "Flight lifecycle transitions, labeled by the status entered.",
	}, []string{"to"}), "sim_flight_transitions_total"); err != nil {
		return nil, err
	}
	if c.FlightsSpawned, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_flights_spawned_total",
		Help: "Flights created from due assignments.",
	}), "sim_flights_spawned_total"); err != nil {
		return nil, err
	}
	if c.FlightsRetired, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_flights_retired_total",
		Help: "Flights removed after completing their leg.",
	}), "sim_flights_retired_total"); err != nil {
		return nil, err
	}
	if c.TimeMultiplier, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_multiplier",
		Help: "Current wall-clock to simulated-time ratio.",
	}), "sim_time_multiplier"); err != nil {
		return nil, err
	}
	if c.SimTime, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Current simulated time as a unix timestamp.",
	}), "sim_time_seconds"); err != nil {
		return nil, err
	}
	if c.MonthlyRevenue, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_economics_monthly_revenue",
		Help: "Fleet-wide monthly revenue from the latest economics snapshot.",
	}), "sim_economics_monthly_revenue"); err != nil {
		return nil, err
	}
	if c.MonthlyCosts, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_economics_monthly_costs",
		Help: "Fleet-wide monthly costs from the latest economics snapshot.",
	}), "sim_economics_monthly_costs"); err != nil {
		return nil, err
	}
	if c.NetProfit, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_economics_net_profit",
		Help: "Fleet-wide monthly net profit.",
	}), "sim_economics_net_profit"); err != nil {
		return nil, err
	}
	if c.ROI, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_economics_roi",
		Help: "Annualised return on fleet book value.",
	}), "sim_economics_roi"); err != nil {
		return nil, err
	}
	if c.SnapshotsPublished, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_snapshots_published_total",
		Help: "Snapshots handed to the publisher.",
	}), "sim_snapshots_published_total"); err != nil {
		return nil, err
	}
	if c.SnapshotsDropped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_snapshots_dropped_total",
		Help: "Snapshots overwritten before a subscriber consumed them.",
	}), "sim_snapshots_dropped_total"); err != nil {
		return nil, err
	}
	if c.Subscribers, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_snapshot_subscribers",
		Help: "Number of connected snapshot subscribers.",
	}), "sim_snapshot_subscribers"); err != nil {
		return nil, err
	}
	if c.StoreWritesDropped, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_store_writes_dropped_total",
		Help: "Write-backs discarded because the async store queue was full.",
	}), "sim_store_writes_dropped_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one tick and its duration.
func (c *SimCollector) ObserveTick(d time.Duration, activeFlights int) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(d.Seconds())
	c.ActiveFlights.Set(float64(activeFlights))
}

// IncFlightError counts an isolated per-flight failure.
func (c *SimCollector) IncFlightError(class string) {
	if c == nil {
		return
	}
	c.FlightErrors.WithLabelValues(class).Inc()
}

// IncTransition counts a lifecycle transition into status.
func (c *SimCollector) IncTransition(status string) {
	if c == nil {
		return
	}
	c.FlightTransitions.WithLabelValues(status).Inc()
}

// AddSpawned counts newly created flights.
func (c *SimCollector) AddSpawned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FlightsSpawned.Add(float64(n))
}

// AddRetired counts completed flights.
func (c *SimCollector) AddRetired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FlightsRetired.Add(float64(n))
}

// SetTimeMultiplier updates the multiplier gauge.
func (c *SimCollector) SetTimeMultiplier(m float64) {
	if c == nil {
		return
	}
	c.TimeMultiplier.Set(m)
}

// SetSimTime updates the simulated clock gauge.
func (c *SimCollector) SetSimTime(t time.Time) {
	if c == nil {
		return
	}
	c.SimTime.Set(float64(t.UnixNano()) / 1e9)
}

// SetEconomics updates the fleet economics gauges.
func (c *SimCollector) SetEconomics(revenue, costs, profit, roi float64) {
	if c == nil {
		return
	}
	c.MonthlyRevenue.Set(revenue)
	c.MonthlyCosts.Set(costs)
	c.NetProfit.Set(profit)
	c.ROI.Set(roi)
}

// IncPublished counts a snapshot handed to the publisher.
func (c *SimCollector) IncPublished() {
	if c == nil {
		return
	}
	c.SnapshotsPublished.Inc()
}

// IncDropped counts a snapshot overwritten in a latest-wins slot.
func (c *SimCollector) IncDropped() {
	if c == nil {
		return
	}
	c.SnapshotsDropped.Inc()
}

// SetSubscribers updates the subscriber gauge.
func (c *SimCollector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

// IncStoreWriteDropped counts a discarded async write-back.
func (c *SimCollector) IncStoreWriteDropped() {
	if c == nil {
		return
	}
	c.StoreWritesDropped.Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
