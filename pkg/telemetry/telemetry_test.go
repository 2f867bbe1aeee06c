package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/openfroyo/automation/pkg/engine"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	tel, err := NewTelemetry(TestConfig())
	if err != nil {
		t.Fatalf("NewTelemetry error: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"no metrics address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
		{"no event buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.WithRunID("run-1").
		WithAutomation("quote-follow-up", "acme").
		WithProvider("entityLookup").
		WithObject(engine.Diagnostics{engine.DiagEntityType: "customer"}).
		Info("resolved")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got: %s", buf.String())
	}
	want := map[string]string{
		"run_id":        "run-1",
		"automation_id": "quote-follow-up",
		"tenant":        "acme",
		"provider":      "entityLookup",
		"entityType":    "customer",
		"message":       "resolved",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("Expected %s=%s, got: %v", k, v, entry[k])
		}
	}
}

func TestFromContext_NoLogger(t *testing.T) {
	// Must not panic and must not write anywhere
	FromContext(context.Background()).WithRunID("x").Info("ignored")
}

func TestRecordProviderResolution(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	if err := RecordProviderResolution(ctx, "literal", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	notFound := engine.NewResolutionError("nothing there", nil).WithCode(engine.ErrCodePathNotFound)
	err := RecordProviderResolution(ctx, "objectPathLookupText", func(context.Context) error { return notFound })
	if !errors.Is(err, engine.ErrPathNotFound) {
		t.Fatalf("Expected error to be returned unchanged, got: %v", err)
	}

	if got := counterValue(t, tel.Metrics, "automation_provider_resolutions_total",
		map[string]string{"provider": "literal", "outcome": "success"}); got != 1 {
		t.Errorf("Expected 1 successful literal resolution, got: %v", got)
	}
	if got := counterValue(t, tel.Metrics, "automation_provider_errors_total",
		map[string]string{"provider": "objectPathLookupText", "code": engine.ErrCodePathNotFound}); got != 1 {
		t.Errorf("Expected 1 not-found error, got: %v", got)
	}
	if got := counterValue(t, tel.Metrics, "automation_errors_by_class_total",
		map[string]string{"class": "resolution"}); got != 1 {
		t.Errorf("Expected 1 resolution error, got: %v", got)
	}
}

func TestRecordProviderResolution_NoTelemetry(t *testing.T) {
	called := false
	err := RecordProviderResolution(context.Background(), "literal", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("Expected fn to run without telemetry, called=%v err=%v", called, err)
	}
}

func TestRunContext(t *testing.T) {
	tel := newTestTelemetry(t)

	var mu sync.Mutex
	var types []string
	tel.Events.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	}, FilterByRunID("run-9"))

	ctx := WithRunContext(tel.WithContext(context.Background()), "run-9", "renewal", "acme")
	EndRunContext(ctx, "run-9", "failed", engine.NewResolutionError("boom", nil).WithCode(engine.ErrCodeInvalidInputData))

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(types, ",") != "run.started,run.failed" {
		t.Errorf("Unexpected events: %v", types)
	}
	if got := counterValue(t, tel.Metrics, "automation_runs_completed_total", map[string]string{"status": "failed"}); got != 1 {
		t.Errorf("Expected 1 failed run, got: %v", got)
	}
}

func TestEventPublisher_Async(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    10,
		FlushInterval: 10 * time.Millisecond,
		MaxBatchSize:  100,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher error: %v", err)
	}

	received := make(chan Event, 1)
	ep.Subscribe(func(e Event) { received <- e }, FilterByType(EventTypeReleaseReloaded))

	if err := ep.PublishReleaseReloaded("r1", "/tmp/automations"); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case e := <-received:
		if e.ID == "" || e.ReleaseID != "r1" {
			t.Errorf("Unexpected event: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected event to be flushed by the interval")
	}

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics error: %v", err)
	}
	// All recorders are no-ops
	m.RecordRunStarted("a")
	m.RecordProviderResolution("literal", "", time.Millisecond)
	m.RecordReleaseBuild("compile", "ok")
	if m.Registry() != nil {
		t.Error("Expected no registry when metrics are disabled")
	}
}
