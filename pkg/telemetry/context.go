package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/automation/pkg/engine"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext groups the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// runState is stored in the context by WithRunContext.
type runState struct {
	span         trace.Span
	timer        *Timer
	automationID string
}

// runStateKey is the context key for run state.
type runStateKey struct{}

// WithRunContext creates a context enriched with run-specific telemetry:
// a run span, a logger carrying the run fields, the run started metric and event.
func WithRunContext(ctx context.Context, runID, automationID, tenant string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, automationID)
	if tenant != "" {
		span.SetAttributes(AttrTenant.String(tenant))
	}

	logger := FromContext(ctx).WithRunID(runID).WithAutomation(automationID, tenant)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(automationID)
	_ = tel.Events.PublishRunStarted(runID, automationID)

	return context.WithValue(spanCtx, runStateKey{}, &runState{
		span:         span,
		timer:        NewTimer(),
		automationID: automationID,
	})
}

// EndRunContext completes the run context, recording metrics and events.
func EndRunContext(ctx context.Context, runID, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	state, ok := ctx.Value(runStateKey{}).(*runState)
	if !ok {
		return
	}
	state.span.SetAttributes(AttrRunStatus.String(status))
	if err != nil {
		RecordError(state.span, err)
	} else {
		RecordSuccess(state.span)
	}
	state.span.End()

	duration := state.timer.Duration()
	tel.Metrics.RecordRunCompleted(status, duration)

	if err != nil {
		_ = tel.Events.PublishRunFailed(runID, state.automationID, engine.Code(err), err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, state.automationID, status, duration)
	}
}

// RecordProviderResolution runs fn under a provider.resolve span and records
// the resolution metrics. Failures are counted by error code and class and
// logged at debug level with their diagnostics.
func RecordProviderResolution(ctx context.Context, schemaKey string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.StartProviderSpan(ctx, schemaKey)
	defer span.End()

	timer := NewTimer()
	err := fn(spanCtx)

	var code string
	if err != nil {
		class := "unknown"
		var e *engine.EngineError
		if errors.As(err, &e) {
			code, class = e.Code, string(e.Class)
			span.SetAttributes(AttrErrorClass.String(class), AttrErrorCode.String(code))
			FromContext(ctx).WithProvider(schemaKey).WithObject(engine.Diagnostics(e.Details)).
				WithError(err).Debug("provider resolution failed")
		}
		if code == "" {
			code = "unclassified"
		}
		tel.Metrics.RecordError(class, code)
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	tel.Metrics.RecordProviderResolution(schemaKey, code, timer.Duration())

	return err
}

// RecordDefaultFallback notes that a not-found lookup was answered by its default.
func RecordDefaultFallback(ctx context.Context, schemaKey string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordDefaultFallback(schemaKey)
	AddEvent(trace.SpanFromContext(ctx), "default.fallback", AttrSchemaKey.String(schemaKey))
}
