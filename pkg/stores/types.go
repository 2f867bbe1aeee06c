package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/automation/pkg/config"
)

// ErrNotFound is wrapped by lookups of records that do not exist.
var ErrNotFound = errors.New("not found")

// ReleaseRecord is a persisted release: the documents it was compiled from.
type ReleaseRecord struct {
	ID         string            `json:"id"`
	Documents  []config.Document `json:"documents,omitempty"`
	Checksum   string            `json:"checksum"`
	DocCount   int               `json:"docCount"`
	CompiledAt time.Time         `json:"compiledAt"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Entity is a tenant-scoped record read by entity lookup providers.
type Entity struct {
	Tenant     string                 `json:"tenant"`
	EntityType string                 `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	Data       map[string]interface{} `json:"data"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// RunDiagnostic is one failure recorded during a run.
type RunDiagnostic struct {
	ID           int64                  `json:"id"`
	RunID        string                 `json:"runId"`
	AutomationID string                 `json:"automationId"`
	Code         string                 `json:"code"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Store defines the persistence operations of the automation engine.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Releases
	SaveRelease(ctx context.Context, id string, docs []config.Document) error
	LoadRelease(ctx context.Context, id string) ([]config.Document, error)
	GetRelease(ctx context.Context, id string) (*ReleaseRecord, error)
	ListReleases(ctx context.Context, limit, offset int) ([]*ReleaseRecord, error)
	DeleteRelease(ctx context.Context, id string) error

	// Entities
	PutEntity(ctx context.Context, entity *Entity) error
	GetEntity(ctx context.Context, tenant, entityType, entityID string) (map[string]interface{}, error)
	DeleteEntity(ctx context.Context, tenant, entityType, entityID string) error

	// Run diagnostics
	RecordRunDiagnostics(ctx context.Context, runID, automationID string, failures []error) error
	ListRunDiagnostics(ctx context.Context, runID string) ([]*RunDiagnostic, error)
}
