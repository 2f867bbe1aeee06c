// Package telemetry provides observability for the automation engine.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Runs
//
// The release runner wraps every automation run:
//
//	ctx = telemetry.WithRunContext(ctx, runID, automationID, tenant)
//	eval, err := program.Evaluate(ctx, automationID, input)
//	telemetry.EndRunContext(ctx, runID, status, err)
//
// WithRunContext opens an "automation.run" span, derives a logger carrying
// run_id, automation_id and tenant, increments the runs_started_total
// counter and publishes a run.started event.
//
// # Provider resolutions
//
// When a *Telemetry is registered in the engine.DependencyContext, every
// built provider resolves through RecordProviderResolution. Each resolution
// gets a "provider.resolve" span tagged with the schema key. Failures are
// counted by error code in provider_errors_total and by class in
// errors_by_class_total.
//
// # Metrics
//
//	automation_runs_started_total{automation}
//	automation_runs_completed_total{status}
//	automation_run_duration_seconds{status}
//	automation_provider_resolutions_total{provider,outcome}
//	automation_provider_resolution_duration_seconds{provider}
//	automation_provider_errors_total{provider,code}
//	automation_default_fallbacks_total{provider}
//	automation_errors_by_class_total{class}
//	automation_errors_by_code_total{code}
//	automation_release_builds_total{stage,status}
//	automation_releases_cached
//	automation_active_runs
//	automation_queued_runs
//
// # Events
//
// Events are delivered to subscribers in subscription order, synchronously
// or from a buffered goroutine when EnableAsync is set:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
