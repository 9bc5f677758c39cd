// Package otel turns cache events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reqid"
)

const instrumentation = "github.com/hanpama/graphcache"

// Setup exports spans over OTLP/gRPC to endpoint and subscribes them to the
// global event bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(nil, tp.Tracer(instrumentation))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type subscriber struct {
	tracer      trace.Tracer
	httpSpans   sync.Map // rid -> trace.Span
	reqSpans    sync.Map // request id -> trace.Span
	commitSpans sync.Map // transaction id -> trace.Span
	grpcSpans   sync.Map // rid -> trace.Span
}

// Register subscribes span handlers to bus, or to the global bus when bus
// is nil, and returns a function removing them.
func Register(bus *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	var subs []func()
	add := func(u func()) { subs = append(subs, u) }
	if bus == nil {
		add(eventbus.Subscribe(s.httpStart))
		add(eventbus.Subscribe(s.httpFinish))
		add(eventbus.Subscribe(s.requestStart))
		add(eventbus.Subscribe(s.requestFinish))
		add(eventbus.Subscribe(s.commitStart))
		add(eventbus.Subscribe(s.commitFinish))
		add(eventbus.Subscribe(s.grpcStart))
		add(eventbus.Subscribe(s.grpcFinish))
		add(eventbus.Subscribe(s.publish))
		add(eventbus.Subscribe(s.missingData))
	} else {
		add(eventbus.On(bus, s.httpStart))
		add(eventbus.On(bus, s.httpFinish))
		add(eventbus.On(bus, s.requestStart))
		add(eventbus.On(bus, s.requestFinish))
		add(eventbus.On(bus, s.commitStart))
		add(eventbus.On(bus, s.commitFinish))
		add(eventbus.On(bus, s.grpcStart))
		add(eventbus.On(bus, s.grpcFinish))
		add(eventbus.On(bus, s.publish))
		add(eventbus.On(bus, s.missingData))
	}
	return func() {
		for _, u := range subs {
			u()
		}
	}
}

func end(m *sync.Map, key string, err error) trace.Span {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return nil
	}
	span := v.(trace.Span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return span
}

func (s *subscriber) httpStart(ctx context.Context, e events.HTTPStart) {
	rid, _ := reqid.FromContext(ctx)
	_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		semconv.HTTPMethodKey.String(e.Request.Method),
		attribute.String("http.target", e.Request.URL.Path),
	)
	s.httpSpans.Store(rid, span)
}

func (s *subscriber) httpFinish(ctx context.Context, e events.HTTPFinish) {
	rid, _ := reqid.FromContext(ctx)
	if span := end(&s.httpSpans, rid, nil); span != nil {
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	}
}

func (s *subscriber) requestStart(ctx context.Context, e events.RequestStart) {
	_, span := s.tracer.Start(ctx, "graphql.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("graphql.request.id", e.RequestID),
		attribute.String("graphql.operation.name", e.Name),
		attribute.String("graphql.operation.type", e.Kind),
	)
	s.reqSpans.Store(e.RequestID, span)
}

func (s *subscriber) requestFinish(_ context.Context, e events.RequestFinish) {
	if span := end(&s.reqSpans, e.RequestID, e.Err); span != nil {
		span.End()
	}
}

func (s *subscriber) commitStart(ctx context.Context, e events.CommitStart) {
	_, span := s.tracer.Start(ctx, "graphql.commit", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("graphql.transaction.id", e.Transaction),
		attribute.String("graphql.collision_key", e.CollisionKey),
	)
	s.commitSpans.Store(e.Transaction, span)
}

func (s *subscriber) commitFinish(_ context.Context, e events.CommitFinish) {
	if span := end(&s.commitSpans, e.Transaction, e.Err); span != nil {
		span.SetAttributes(attribute.String("graphql.transaction.status", e.Status))
		span.End()
	}
}

func (s *subscriber) grpcStart(ctx context.Context, e events.GRPCClientStart) {
	rid, _ := reqid.FromContext(ctx)
	parent := ctx
	if v, ok := s.reqSpans.Load(rid); ok {
		parent = trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	_, span := s.tracer.Start(parent, "grpc.client", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.RPCSystemGRPC,
		semconv.RPCMethodKey.String(e.Method),
		attribute.String("net.peer.name", e.Target),
	)
	s.grpcSpans.Store(rid, span)
}

func (s *subscriber) grpcFinish(ctx context.Context, e events.GRPCClientFinish) {
	rid, _ := reqid.FromContext(ctx)
	if span := end(&s.grpcSpans, rid, e.Err); span != nil {
		span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
		span.End()
	}
}

// publish records store writes made for a request as events on its span.
func (s *subscriber) publish(ctx context.Context, e events.Publish) {
	span := trace.SpanFromContext(ctx)
	if rid, ok := reqid.FromContext(ctx); ok {
		if v, ok := s.reqSpans.Load(rid); ok {
			span = v.(trace.Span)
		}
	}
	span.AddEvent("store.publish", trace.WithAttributes(
		attribute.Int64("store.generation", int64(e.Generation)),
		attribute.Int("store.records", e.Records),
		attribute.Int("store.changed", e.Changed),
		attribute.String("store.layer", e.Layer),
	))
}

func (s *subscriber) missingData(ctx context.Context, e events.MissingData) {
	trace.SpanFromContext(ctx).AddEvent("fragment.missing_data", trace.WithAttributes(
		attribute.String("fragment.name", e.Fragment),
		attribute.String("fragment.owner", e.Owner),
		attribute.StringSlice("fragment.missing", e.Fields),
	))
}
