package nbi

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	sim "github.com/signalsfoundry/airline-simulator/internal/sim/state"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingInterceptorNamesSpanAndTagsCommand(t *testing.T) {
	rec := recordSpans(t)
	req, err := structpb.NewStruct(map[string]interface{}{"aircraft_id": "N101AA", "route_id": "JFK-LAX"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/AssignRoute"}

	_, err = TracingUnaryServerInterceptor()(context.Background(), req, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, sim.ErrAlreadyAssigned
	})
	if err == nil {
		t.Fatalf("expected handler error to pass through")
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "SimulationService/AssignRoute" {
		t.Fatalf("span name = %q", span.Name())
	}
	for key, want := range map[string]string{
		"sim.aircraft_id":   "N101AA",
		"sim.route_id":      "JFK-LAX",
		"sim.reject_reason": sim.ReasonAlreadyAssigned,
		"rpc.service":       ServiceName,
	} {
		if v, ok := spanAttr(span.Attributes(), key); !ok || v.AsString() != want {
			t.Fatalf("attribute %s = %v (present=%v), want %q", key, v.AsString(), ok, want)
		}
	}
	if span.Status().Code != codes.Error {
		t.Fatalf("span status = %v, want Error", span.Status().Code)
	}
}

func TestTracingInterceptorQueryCarriesNoCommandAttributes(t *testing.T) {
	rec := recordSpans(t)
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/GetEconomics"}
	_, err := TracingUnaryServerInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor error: %v", err)
	}
	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "SimulationService/GetEconomics" {
		t.Fatalf("spans = %+v", spans)
	}
	if _, ok := spanAttr(spans[0].Attributes(), "sim.aircraft_id"); ok {
		t.Fatalf("query span tagged with an aircraft")
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("successful query marked as error")
	}
}
