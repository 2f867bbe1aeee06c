package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Automation engine started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("release").
		WithRelease("2024-06-01").
		WithAutomation("quote-follow-up", "acme")

	logger.Debug("Compiling automation document")
	logger.WithObject(engine.Diagnostics{engine.DiagPath: "#/trigger/quote/total"}).
		Warn("Path lookup fell back to its default value")

	err := fmt.Errorf("unrecognized provider shape")
	logger.WithError(err).Error("Release rejected")

	// Output varies, no output specified
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	tel, _ := telemetry.NewTelemetry(telemetry.TestConfig())
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil)

	tel.Events.PublishRunStarted("run-123", "quote-follow-up")
	tel.Events.PublishRunCompleted("run-123", "quote-follow-up", "matched", 25*time.Millisecond)

	// Output:
	// Event: run.started - Run run-123 of quote-follow-up started
	// Event: run.completed - Run run-123 completed with status: matched
}

// Example_runInstrumentation demonstrates instrumenting a complete run.
func Example_runInstrumentation() {
	tel, _ := telemetry.NewTelemetry(telemetry.TestConfig())
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx = telemetry.WithRunContext(ctx, "run-123", "quote-follow-up", "acme")

	err := telemetry.RecordProviderResolution(ctx, "objectPathLookupText", func(ctx context.Context) error {
		telemetry.FromContext(ctx).Debug("resolving path")
		return nil
	})

	telemetry.EndRunContext(ctx, "run-123", "matched", err)

	fmt.Println("Run instrumentation complete")
	// Output: Run instrumentation complete
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	tel, _ := telemetry.NewTelemetry(telemetry.TestConfig())
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "validate_document",
		attribute.String("document.path", "automations/quote-follow-up.json"),
	)
	defer ic.End(nil)

	ic.Logger.Info("Validating automation document")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	tel, _ := telemetry.NewTelemetry(telemetry.TestConfig())
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	tel.Events.PublishRunStarted("run-123", "quote-follow-up")
	tel.Events.PublishProviderFailed("run-123", "entityLookup", engine.ErrCodePathNotFound, nil)
	tel.Events.PublishRunFailed("run-123", "quote-follow-up", engine.ErrCodePathNotFound, "not found")

	// Output:
	// Important event: provider.failed
	// Important event: run.failed
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceVersion = "1.2.3"

	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Events.BufferSize = 10000

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
