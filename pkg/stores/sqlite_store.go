package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// SaveRelease stores or replaces the documents of a release.
func (s *SQLiteStore) SaveRelease(ctx context.Context, id string, docs []config.Document) error {
	if id == "" {
		return fmt.Errorf("release id is required")
	}

	body, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to marshal release %s: %w", id, err)
	}
	sum := sha256.Sum256(body)

	query := `
		INSERT INTO releases (id, documents, checksum, doc_count, compiled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			documents = excluded.documents,
			checksum = excluded.checksum,
			doc_count = excluded.doc_count,
			compiled_at = excluded.compiled_at
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query, id, string(body), hex.EncodeToString(sum[:]), len(docs), now, now)
	if err != nil {
		return fmt.Errorf("failed to save release: %w", err)
	}

	return nil
}

// GetRelease retrieves a release with its documents.
func (s *SQLiteStore) GetRelease(ctx context.Context, id string) (*ReleaseRecord, error) {
	query := `
		SELECT id, documents, checksum, doc_count, compiled_at, created_at
		FROM releases
		WHERE id = ?
	`

	rec := &ReleaseRecord{}
	var body string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&body,
		&rec.Checksum,
		&rec.DocCount,
		&rec.CompiledAt,
		&rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("release %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &rec.Documents); err != nil {
		return nil, fmt.Errorf("failed to decode release %s: %w", id, err)
	}

	return rec, nil
}

// LoadRelease returns the documents of a stored release.
func (s *SQLiteStore) LoadRelease(ctx context.Context, id string) ([]config.Document, error) {
	rec, err := s.GetRelease(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Documents, nil
}

// ListReleases lists releases, newest first, without their documents.
func (s *SQLiteStore) ListReleases(ctx context.Context, limit, offset int) ([]*ReleaseRecord, error) {
	query := `
		SELECT id, checksum, doc_count, compiled_at, created_at
		FROM releases
		ORDER BY compiled_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	releases := []*ReleaseRecord{}
	for rows.Next() {
		rec := &ReleaseRecord{}
		if err := rows.Scan(&rec.ID, &rec.Checksum, &rec.DocCount, &rec.CompiledAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating releases: %w", err)
	}

	return releases, nil
}

// DeleteRelease deletes a release by ID
func (s *SQLiteStore) DeleteRelease(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM releases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete release: %w", err)
	}
	return expectRow(result, "release", id)
}

// PutEntity stores or replaces an entity.
func (s *SQLiteStore) PutEntity(ctx context.Context, entity *Entity) error {
	if entity.EntityType == "" || entity.EntityID == "" {
		return fmt.Errorf("entity type and id are required")
	}

	data, err := json.Marshal(entity.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	query := `
		INSERT INTO entities (tenant, entity_type, entity_id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant, entity_type, entity_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	entity.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query, entity.Tenant, entity.EntityType, entity.EntityID, string(data), entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put entity: %w", err)
	}

	return nil
}

// GetEntity returns the entity data, or nil when the entity does not exist.
// It satisfies engine.EntityRepository.
func (s *SQLiteStore) GetEntity(ctx context.Context, tenant, entityType, entityID string) (map[string]interface{}, error) {
	query := `
		SELECT data
		FROM entities
		WHERE tenant = ? AND entity_type = ? AND entity_id = ?
	`

	var data string
	err := s.db.QueryRowContext(ctx, query, tenant, entityType, entityID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s/%s: %w", entityType, entityID, err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// DeleteEntity deletes an entity.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, tenant, entityType, entityID string) error {
	query := `DELETE FROM entities WHERE tenant = ? AND entity_type = ? AND entity_id = ?`

	result, err := s.db.ExecContext(ctx, query, tenant, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return expectRow(result, "entity", entityType+"/"+entityID)
}

// RecordRunDiagnostics stores the failures of a run in one transaction.
// Engine errors keep their code and details; other errors are recorded
// under the "unknown" code.
func (s *SQLiteStore) RecordRunDiagnostics(ctx context.Context, runID, automationID string, failures []error) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_diagnostics (run_id, automation_id, code, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare diagnostic insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, failure := range failures {
		code, message, details := "unknown", failure.Error(), []byte(nil)

		var engineErr *engine.EngineError
		if errors.As(failure, &engineErr) {
			code = engineErr.Code
			if len(engineErr.Details) > 0 {
				if details, err = json.Marshal(engineErr.Details); err != nil {
					return fmt.Errorf("failed to marshal diagnostic details: %w", err)
				}
			}
		}

		var detailsArg interface{}
		if details != nil {
			detailsArg = string(details)
		}
		if _, err := stmt.ExecContext(ctx, runID, automationID, code, message, detailsArg, now); err != nil {
			return fmt.Errorf("failed to record diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit diagnostics: %w", err)
	}
	return nil
}

// ListRunDiagnostics returns the failures recorded for a run in insertion order.
func (s *SQLiteStore) ListRunDiagnostics(ctx context.Context, runID string) ([]*RunDiagnostic, error) {
	query := `
		SELECT id, run_id, automation_id, code, message, details, created_at
		FROM run_diagnostics
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics: %w", err)
	}
	defer rows.Close()

	diags := []*RunDiagnostic{}
	for rows.Next() {
		d := &RunDiagnostic{}
		var details sql.NullString
		if err := rows.Scan(&d.ID, &d.RunID, &d.AutomationID, &d.Code, &d.Message, &details, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &d.Details); err != nil {
				return nil, fmt.Errorf("failed to decode diagnostic details: %w", err)
			}
		}
		diags = append(diags, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagnostics: %w", err)
	}

	return diags, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
