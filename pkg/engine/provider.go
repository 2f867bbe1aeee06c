package engine

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
)

// Provider is the executable unit produced from a Builder.
//
// Providers are built once per release build and resolved many times,
// possibly concurrently across independent runs. A provider never mutates
// itself during Resolve: all per-run state lives in the ProviderContext and
// the Scope.
type Provider[T any] interface {
	// SchemaReferenceKey returns the provider's identity within the
	// automation schema, e.g. "objectPathLookupText".
	SchemaReferenceKey() string

	// Resolve computes the value for the current run. It checks ctx before
	// doing any work and before blocking I/O.
	Resolve(ctx context.Context, pc *ProviderContext, scope *Scope) (Data[T], error)
}

// Builder is the compile-time counterpart of a Provider, decoded from an
// automation document. Build is deterministic and performs no I/O.
type Builder[T any] interface {
	// SchemaReferenceKey returns the schema key of the provider this builder produces.
	SchemaReferenceKey() string

	// Build constructs the provider, resolving collaborators from dc.
	Build(dc *DependencyContext) (Provider[T], error)
}

// Checkpoint fails with a cancellation error when ctx is done.
func Checkpoint(ctx context.Context, schemaKey string) error {
	if err := ctx.Err(); err != nil {
		return NewResolutionError("resolution cancelled", err).
			WithCode(ErrCodeCancelled).
			WithDetail(DiagSchemaKey, schemaKey)
	}
	return nil
}

// ProviderContext carries the root data of one automation run.
// It is shared by every provider resolved during the run, including
// concurrent branches, so its mutable parts are guarded.
type ProviderContext struct {
	// RunID identifies the run.
	RunID string

	// AutomationID identifies the automation being evaluated.
	AutomationID string

	// Tenant is the tenant the run belongs to.
	Tenant string

	// Root is the root runtime data: the trigger payload and entity references.
	Root map[string]any

	// Diagnostics is the base diagnostic bundle attached to failures of this run.
	Diagnostics Diagnostics

	mu       sync.Mutex
	counters map[string]int64
	failures []error
}

// NewProviderContext creates the context for one run.
func NewProviderContext(runID, automationID, tenant string, root map[string]any) *ProviderContext {
	if root == nil {
		root = make(map[string]any)
	}
	return &ProviderContext{
		RunID:        runID,
		AutomationID: automationID,
		Tenant:       tenant,
		Root:         root,
		Diagnostics: Diagnostics{
			DiagRunID:        runID,
			DiagAutomationID: automationID,
			DiagTenant:       tenant,
		},
		counters: make(map[string]int64),
	}
}

// Diagnose returns the run diagnostics extended with extra.
func (pc *ProviderContext) Diagnose(extra Diagnostics) Diagnostics {
	if pc == nil {
		return extra
	}
	return pc.Diagnostics.Merge(extra)
}

// Increment adds delta to the named run counter and returns the new value.
func (pc *ProviderContext) Increment(name string, delta int64) int64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.counters == nil {
		pc.counters = make(map[string]int64)
	}
	pc.counters[name] += delta
	return pc.counters[name]
}

// Counter returns the current value of the named run counter.
func (pc *ProviderContext) Counter(name string) int64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.counters[name]
}

// Counters returns a copy of every run counter.
func (pc *ProviderContext) Counters() map[string]int64 {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := make(map[string]int64, len(pc.counters))
	for k, v := range pc.counters {
		out[k] = v
	}
	return out
}

// Record keeps err in the run's diagnostics accumulator.
func (pc *ProviderContext) Record(err error) {
	if err == nil {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.failures = append(pc.failures, err)
}

// Failures returns the errors recorded so far.
func (pc *ProviderContext) Failures() []error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]error(nil), pc.failures...)
}

// Well-known dependency keys.
const (
	DependencyEntityRepository = "entityRepository"
	DependencyHTTPClient       = "httpClient"
	DependencyConditions       = "conditionCompiler"
	DependencyScripts          = "scriptCompiler"
	DependencyTelemetry        = "telemetry"
	DependencyPathResolver     = "pathResolver"
)

// EntityRepository reads entities for entity lookup providers.
type EntityRepository interface {
	GetEntity(ctx context.Context, tenant, entityType, entityID string) (map[string]any, error)
}

// HTTPDoer performs HTTP requests for HTTP fetching providers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DependencyContext holds the collaborators providers need at build time.
// It is populated before a release is built and read-only afterwards.
type DependencyContext struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewDependencyContext creates an empty dependency context.
func NewDependencyContext() *DependencyContext {
	return &DependencyContext{services: make(map[string]any)}
}

// Register makes svc available under key, replacing any previous entry.
func (dc *DependencyContext) Register(key string, svc any) *DependencyContext {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.services[key] = svc
	return dc
}

// Lookup returns the collaborator registered under key.
func (dc *DependencyContext) Lookup(key string) (any, bool) {
	if dc == nil {
		return nil, false
	}
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	svc, ok := dc.services[key]
	return svc, ok
}

// Keys lists registered dependency keys in sorted order.
func (dc *DependencyContext) Keys() []string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	keys := make([]string, 0, len(dc.services))
	for k := range dc.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dependency returns the collaborator registered under key as a T.
func Dependency[T any](dc *DependencyContext, key string) (T, error) {
	var zero T
	svc, ok := dc.Lookup(key)
	if !ok {
		return zero, NewConfigurationError(fmt.Sprintf("dependency %q is not registered", key), nil).
			WithCode(ErrCodeDependencyMissing).
			WithDetail("dependency", key)
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, NewConfigurationError(
			fmt.Sprintf("dependency %q has type %T, want %v", key, svc, reflect.TypeFor[T]()), nil,
		).WithCode(ErrCodeDependencyMissing).WithDetail("dependency", key)
	}
	return typed, nil
}

// OptionalDependency is like Dependency but returns def when nothing is registered.
func OptionalDependency[T any](dc *DependencyContext, key string, def T) (T, error) {
	if _, ok := dc.Lookup(key); !ok {
		return def, nil
	}
	return Dependency[T](dc, key)
}
