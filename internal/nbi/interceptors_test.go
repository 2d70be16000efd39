package nbi

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/airline-simulator/internal/logging"
	sim "github.com/signalsfoundry/airline-simulator/internal/sim/state"
)

func TestRequestIDInterceptorUsesInboundMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/GetEconomics"}

	var gotID string
	var gotLogger logging.Logger
	_, err := RequestIDUnaryServerInterceptor(logging.Noop())(ctx, nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error: %v", err)
	}
	if gotID != "req-42" {
		t.Fatalf("request id = %q, want req-42", gotID)
	}
	if gotLogger == nil {
		t.Fatalf("expected a request logger on the context")
	}
}

func TestRequestIDInterceptorGeneratesID(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/GetEconomics"}
	var gotID string
	_, _ = RequestIDUnaryServerInterceptor(nil)(context.Background(), nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if gotID == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestErrorMappingInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/RemoveAssignment"}
	_, err := ErrorMappingUnaryServerInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, sim.ErrAircraftAirborne
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", status.Code(err))
	}

	resp, err := ErrorMappingUnaryServerInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("passthrough = %v, %v", resp, err)
	}
}
