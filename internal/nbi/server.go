package nbi

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/observability"
)

// NewServer builds a gRPC server exposing SimulationService and the standard
// health service. collector may be nil.
func NewServer(cmds Commands, log logging.Logger, collector *observability.APICollector) *grpc.Server {
	if log == nil {
		log = logging.Noop()
	}
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, ErrorMappingUnaryServerInterceptor())

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	RegisterSimulationServiceServer(server, NewSimulationService(cmds, log))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// SimulationClient is a thin client for SimulationService.
type SimulationClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationClient wraps an established connection.
func NewSimulationClient(cc grpc.ClientConnInterface) *SimulationClient {
	return &SimulationClient{cc: cc}
}

func (c *SimulationClient) invokeStruct(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SimulationClient) invokeEmpty(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SimulationClient) SetTimeMultiplier(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "SetTimeMultiplier", in, opts...)
}

func (c *SimulationClient) AssignRoute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "AssignRoute", in, opts...)
}

func (c *SimulationClient) RemoveAssignment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "RemoveAssignment", in, opts...)
}

func (c *SimulationClient) ListAssignments(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeEmpty(ctx, "ListAssignments", opts...)
}

func (c *SimulationClient) GetEconomics(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeEmpty(ctx, "GetEconomics", opts...)
}

func (c *SimulationClient) ListActiveFlights(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeEmpty(ctx, "ListActiveFlights", opts...)
}
