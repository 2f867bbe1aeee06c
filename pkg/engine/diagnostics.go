package engine

import (
	"maps"
	"slices"

	"github.com/rs/zerolog"
)

// Diagnostic keys used across the engine.
const (
	DiagProviderType = "providerType"
	DiagSchemaKey    = "schemaKey"
	DiagPath         = "path"
	DiagSegment      = "segment"
	DiagAlias        = "alias"
	DiagTenant       = "tenant"
	DiagRunID        = "runId"
	DiagAutomationID = "automationId"
	DiagActionPath   = "actionPath"
	DiagEntityType   = "entityType"
	DiagEntityID     = "entityId"
	DiagLocation     = "location"
)

// Diagnostics is an immutable bundle of key/value pairs attached to failures.
// Use With to derive an extended copy.
type Diagnostics map[string]any

// With returns a copy of d extended with key=value.
func (d Diagnostics) With(key string, value any) Diagnostics {
	out := make(Diagnostics, len(d)+1)
	maps.Copy(out, d)
	out[key] = value
	return out
}

// Merge returns a copy of d extended with every entry of other.
// Entries of other win on conflict.
func (d Diagnostics) Merge(other Diagnostics) Diagnostics {
	out := make(Diagnostics, len(d)+len(other))
	maps.Copy(out, d)
	maps.Copy(out, other)
	return out
}

// Keys returns the diagnostic keys in sorted order.
func (d Diagnostics) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (d Diagnostics) MarshalZerologObject(e *zerolog.Event) {
	for _, k := range d.Keys() {
		e.Interface(k, d[k])
	}
}
