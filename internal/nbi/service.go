package nbi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/publish"
	"github.com/signalsfoundry/airline-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/airline-simulator/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "airline.sim.v1.SimulationService"

// Commands is the gateway the service delegates to. *scheduler.Commands
// satisfies it.
type Commands interface {
	AssignRoute(ctx context.Context, req scheduler.AssignRequest) (model.RouteAssignment, error)
	RemoveAssignment(ctx context.Context, aircraftID, routeID string) (model.RouteAssignment, error)
	SetTimeMultiplier(ctx context.Context, m float64) error
	TimeMultiplier() float64
	Assignments() []model.RouteAssignment
	Economics() core.EconomicsSnapshot
	ActiveFlights() []publish.FlightRecord
}

// SimulationServer is the server API for SimulationService. Payloads are
// google.protobuf.Struct objects carrying the JSON form of the domain types.
type SimulationServer interface {
	SetTimeMultiplier(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssignRoute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveAssignment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAssignments(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetEconomics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListActiveFlights(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// SimulationService implements SimulationServer over the command gateway.
type SimulationService struct {
	cmds Commands
	log  logging.Logger
}

// NewSimulationService wires the service to the command gateway.
func NewSimulationService(cmds Commands, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationService{cmds: cmds, log: log}
}

func (s *SimulationService) SetTimeMultiplier(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	v, ok := in.GetFields()["multiplier"]
	if !ok {
		return nil, fmt.Errorf("%w: multiplier is required", ErrInvalidEntity)
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return nil, fmt.Errorf("%w: multiplier must be a number", ErrInvalidEntity)
	}
	if err := s.cmds.SetTimeMultiplier(ctx, v.GetNumberValue()); err != nil {
		return nil, err
	}
	return toStruct(map[string]float64{"multiplier": s.cmds.TimeMultiplier()})
}

func (s *SimulationService) AssignRoute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req scheduler.AssignRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	asg, err := s.cmds.AssignRoute(ctx, req)
	if err != nil {
		return nil, err
	}
	return toStruct(asg)
}

func (s *SimulationService) RemoveAssignment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		AircraftID string `json:"aircraft_id"`
		RouteID    string `json:"route_id"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.AircraftID == "" {
		return nil, fmt.Errorf("%w: aircraft_id is required", ErrInvalidEntity)
	}
	removed, err := s.cmds.RemoveAssignment(ctx, req.AircraftID, req.RouteID)
	if err != nil {
		return nil, err
	}
	return toStruct(removed)
}

func (s *SimulationService) ListAssignments(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return wrapList("assignments", s.cmds.Assignments())
}

func (s *SimulationService) GetEconomics(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.cmds.Economics())
}

func (s *SimulationService) ListActiveFlights(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return wrapList("flights", s.cmds.ActiveFlights())
}

// RegisterSimulationServiceServer registers srv on s.
func RegisterSimulationServiceServer(s grpc.ServiceRegistrar, srv SimulationServer) {
	s.RegisterService(&SimulationServiceDesc, srv)
}

func structHandler(call func(SimulationServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SimulationServer), ctx, req.(*structpb.Struct))
		})
	}
}

func emptyHandler(call func(SimulationServer, context.Context, *emptypb.Empty) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SimulationServer), ctx, req.(*emptypb.Empty))
		})
	}
}

// SimulationServiceDesc describes SimulationService for grpc.Server.
var SimulationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetTimeMultiplier", Handler: structHandler(SimulationServer.SetTimeMultiplier, "SetTimeMultiplier")},
		{MethodName: "AssignRoute", Handler: structHandler(SimulationServer.AssignRoute, "AssignRoute")},
		{MethodName: "RemoveAssignment", Handler: structHandler(SimulationServer.RemoveAssignment, "RemoveAssignment")},
		{MethodName: "ListAssignments", Handler: emptyHandler(SimulationServer.ListAssignments, "ListAssignments")},
		{MethodName: "GetEconomics", Handler: emptyHandler(SimulationServer.GetEconomics, "GetEconomics")},
		{MethodName: "ListActiveFlights", Handler: emptyHandler(SimulationServer.ListActiveFlights, "ListActiveFlights")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "airline/sim/v1/simulation.proto",
}
