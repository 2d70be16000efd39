package nbi

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/observability"
)

const tracerName = "github.com/signalsfoundry/airline-simulator/internal/nbi"

// TracingUnaryServerInterceptor names the RPC span "SimulationService/<method>"
// and tags it with the aircraft and route the command addresses. A server
// span is started when the stats handler has not already created one.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := service + "/" + method

		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(name)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", ServiceName),
			attribute.String("rpc.method", method),
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		attrs = append(attrs, commandAttributes(req)...)
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			reason := ReasonFromStatus(ToStatusError(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
			span.SetAttributes(attribute.String("sim.reject_reason", reason))
		}

		if created {
			span.End()
		}
		return resp, err
	}
}

// commandAttributes lifts the identifiers a command targets out of its
// Struct payload. Query RPCs carry none.
func commandAttributes(req interface{}) []attribute.KeyValue {
	in, ok := req.(*structpb.Struct)
	if !ok {
		return nil
	}
	fields := in.GetFields()
	var attrs []attribute.KeyValue
	if v := fields["aircraft_id"].GetStringValue(); v != "" {
		attrs = append(attrs, attribute.String("sim.aircraft_id", v))
	}
	if v := fields["route_id"].GetStringValue(); v != "" {
		attrs = append(attrs, attribute.String("sim.route_id", v))
	}
	if v, ok := fields["multiplier"]; ok {
		attrs = append(attrs, attribute.Float64("sim.time_multiplier", v.GetNumberValue()))
	}
	return attrs
}
