package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/publish"
	"github.com/signalsfoundry/airline-simulator/internal/sim/state"
	"github.com/signalsfoundry/airline-simulator/internal/store"
	"github.com/signalsfoundry/airline-simulator/model"
)

// Defaults applied when an assign request leaves a field at zero.
const (
	DefaultFrequencyPerWeek = 7
	DefaultEconomyFare      = 250.0
	DefaultBusinessFare     = 875.0
)

// RouteSource resolves route catalog entries.
type RouteSource interface {
	Route(id string) (model.Route, error)
}

// AssignRequest is the input to AssignRoute.
type AssignRequest struct {
	AircraftID       string  `json:"aircraft_id"`
	RouteID          string  `json:"route_id"`
	FrequencyPerWeek int     `json:"frequency_per_week"`
	FareEconomy      float64 `json:"fare_economy"`
	FareBusiness     float64 `json:"fare_business"`
}

// Commands is the gateway shared by the HTTP and gRPC surfaces. Registry
// mutations happen first; the store is updated afterwards and a store failure
// is logged without undoing the mutation.
type Commands struct {
	sched    *Scheduler
	registry *state.Registry
	routes   RouteSource
	store    store.Store
	log      logging.Logger
}

// NewCommands wires the command gateway. st may be nil.
func NewCommands(sched *Scheduler, registry *state.Registry, routes RouteSource, st store.Store, log logging.Logger) *Commands {
	if log == nil {
		log = logging.Noop()
	}
	return &Commands{sched: sched, registry: registry, routes: routes, store: st, log: log}
}

// AssignRoute binds an aircraft to a catalog route. It fails with
// state.ErrAlreadyAssigned if the aircraft is already flying a route.
func (c *Commands) AssignRoute(ctx context.Context, req AssignRequest) (model.RouteAssignment, error) {
	ctx, span := c.sched.tracer.Start(ctx, "commands.assign_route")
	defer span.End()
	span.SetAttributes(
		attribute.String("aircraft_id", req.AircraftID),
		attribute.String("route_id", req.RouteID),
	)

	asg, err := c.buildAssignment(req)
	if err == nil {
		asg, err = c.registry.Assign(asg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, state.Reason(err))
		return model.RouteAssignment{}, err
	}

	if c.store != nil {
		if serr := c.store.SaveAssignment(ctx, asg); serr != nil {
			c.log.Warn(ctx, "assignment not persisted",
				logging.String("aircraft_id", asg.AircraftID),
				logging.Err(serr),
			)
		}
	}
	return asg, nil
}

func (c *Commands) buildAssignment(req AssignRequest) (model.RouteAssignment, error) {
	req.AircraftID = strings.TrimSpace(req.AircraftID)
	req.RouteID = strings.TrimSpace(req.RouteID)
	if req.AircraftID == "" || req.RouteID == "" {
		return model.RouteAssignment{}, fmt.Errorf("%w: aircraft_id and route_id are required", state.ErrInvalidAssignment)
	}
	if _, err := c.sched.fleet.Aircraft(req.AircraftID); err != nil {
		return model.RouteAssignment{}, fmt.Errorf("%w: %w", state.ErrNotFound, err)
	}
	route, err := c.routes.Route(req.RouteID)
	if err != nil {
		return model.RouteAssignment{}, fmt.Errorf("%w: %w", state.ErrNotFound, err)
	}

	dist := route.DistanceNM
	if dist <= 0 {
		dist, err = c.sched.resolver.Distance(route.DepartureAirport, route.ArrivalAirport)
		if err != nil {
			return model.RouteAssignment{}, fmt.Errorf("%w: %v", state.ErrInvalidAssignment, err)
		}
	}

	freq := req.FrequencyPerWeek
	if freq == 0 {
		freq = DefaultFrequencyPerWeek
	}
	fares := model.Fares{Economy: req.FareEconomy, Business: req.FareBusiness}
	if fares.Economy == 0 {
		fares.Economy = DefaultEconomyFare
	}
	if fares.Business == 0 {
		fares.Business = DefaultBusinessFare
	}

	return model.RouteAssignment{
		AircraftID:       req.AircraftID,
		RouteID:          route.ID,
		DepartureAirport: route.DepartureAirport,
		ArrivalAirport:   route.ArrivalAirport,
		DistanceNM:       dist,
		FrequencyPerWeek: freq,
		Fares:            fares,
		Active:           true,
	}, nil
}

// RemoveAssignment deactivates the aircraft's assignment. It fails with
// state.ErrAircraftAirborne while the aircraft is flying a leg.
func (c *Commands) RemoveAssignment(ctx context.Context, aircraftID, routeID string) (model.RouteAssignment, error) {
	ctx, span := c.sched.tracer.Start(ctx, "commands.remove_assignment")
	defer span.End()
	span.SetAttributes(attribute.String("aircraft_id", aircraftID))

	removed, err := c.registry.Remove(aircraftID, routeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, state.Reason(err))
		return model.RouteAssignment{}, err
	}
	if c.store != nil {
		if serr := c.store.SetAssignmentActive(ctx, removed.AircraftID, removed.RouteID, false); serr != nil {
			c.log.Warn(ctx, "assignment deactivation not persisted",
				logging.String("aircraft_id", removed.AircraftID),
				logging.Err(serr),
			)
		}
	}
	return removed, nil
}

// SetTimeMultiplier changes the clock rate from the next tick on.
func (c *Commands) SetTimeMultiplier(_ context.Context, m float64) error {
	return c.sched.SetTimeMultiplier(m)
}

// TimeMultiplier returns the current clock rate.
func (c *Commands) TimeMultiplier() float64 { return c.sched.TimeMultiplier() }

// Assignments lists active assignments ordered by aircraft id.
func (c *Commands) Assignments() []model.RouteAssignment { return c.registry.List() }

// Economics returns the current fleet economics.
func (c *Commands) Economics() core.EconomicsSnapshot { return c.sched.Economics() }

// ActiveFlights returns the flights as of the last tick.
func (c *Commands) ActiveFlights() []publish.FlightRecord { return c.sched.ActiveFlights() }

// Snapshot returns the last published snapshot.
func (c *Commands) Snapshot() (publish.Snapshot, bool) { return c.sched.Latest() }
