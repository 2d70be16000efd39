// Package store is the persistence collaborator. The simulator reads plain
// records through Store and writes back only assignment-active flags and
// departure timestamps.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/airline-simulator/model"
)

// ErrNotFound indicates the addressed record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the data-access contract used by the simulator.
type Store interface {
	LoadRoutes(ctx context.Context) ([]model.Route, error)
	LoadAircraft(ctx context.Context) ([]model.Aircraft, error)
	LoadAssignments(ctx context.Context) ([]model.RouteAssignment, error)
	LoadFinances(ctx context.Context) (model.Finances, error)

	SaveAssignment(ctx context.Context, a model.RouteAssignment) error
	SetAssignmentActive(ctx context.Context, aircraftID, routeID string, active bool) error
	SetNextDeparture(ctx context.Context, aircraftID, routeID string, last, next time.Time) error

	Close() error
}
