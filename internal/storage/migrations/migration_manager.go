package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/errors"
)

// MigrationManager applies versioned SQL migrations to a Postgres database
type MigrationManager struct {
	db         *sql.DB
	logger     *logrus.Logger
	migrations map[int]*Migration
	versions   []int
	config     *MigrationConfig
}

// Migration is one schema change. Down is optional.
type Migration struct {
	Version     int    `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Up          string `json:"-"`
	Down        string `json:"-"`
}

// MigrationConfig contains migration configuration
type MigrationConfig struct {
	TableName string `json:"table_name" mapstructure:"table_name"`
	LockID    int64  `json:"lock_id" mapstructure:"lock_id"`
	DryRun    bool   `json:"dry_run" mapstructure:"dry_run"`
}

// MigrationRecord represents a migration record in the database
type MigrationRecord struct {
	Version       int           `json:"version"`
	Name          string        `json:"name"`
	Checksum      string        `json:"checksum"`
	AppliedAt     time.Time     `json:"applied_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// MigrationStatus represents the status of migrations
type MigrationStatus struct {
	CurrentVersion    int                `json:"current_version"`
	PendingCount      int                `json:"pending_count"`
	AppliedCount      int                `json:"applied_count"`
	PendingMigrations []*Migration       `json:"pending_migrations"`
	AppliedMigrations []*MigrationRecord `json:"applied_migrations"`
}

// MigrationResult represents the result of a migration operation
type MigrationResult struct {
	Version       int           `json:"version"`
	Name          string        `json:"name"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, config *MigrationConfig, logger *logrus.Logger) *MigrationManager {
	if config == nil {
		config = &MigrationConfig{}
	}
	if config.TableName == "" {
		config.TableName = "schema_migrations"
	}
	if config.LockID == 0 {
		config.LockID = 7340241
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: make(map[int]*Migration),
		config:     config,
	}
}

// RegisterMigration registers migrations. Versions must be positive and unique.
func (m *MigrationManager) RegisterMigration(migrations ...*Migration) error {
	for _, migration := range migrations {
		if migration.Version <= 0 {
			return errors.NewValidationError("INVALID_VERSION", "Migration version must be positive")
		}
		if migration.Name == "" {
			return errors.NewValidationError("INVALID_NAME", "Migration name cannot be empty")
		}
		if migration.Up == "" {
			return errors.NewValidationError("INVALID_MIGRATION",
				fmt.Sprintf("Migration %d has no up statement", migration.Version))
		}
		if _, exists := m.migrations[migration.Version]; exists {
			return errors.NewValidationError("DUPLICATE_VERSION",
				fmt.Sprintf("Duplicate migration version: %d", migration.Version))
		}

		m.migrations[migration.Version] = migration
		m.versions = append(m.versions, migration.Version)
	}

	sort.Ints(m.versions)
	return nil
}

// ListMigrations returns registered migrations in version order.
func (m *MigrationManager) ListMigrations() []*Migration {
	out := make([]*Migration, 0, len(m.versions))
	for _, v := range m.versions {
		out = append(out, m.migrations[v])
	}
	return out
}

// Migrate applies every pending migration, each in its own transaction,
// while holding a Postgres advisory lock.
func (m *MigrationManager) Migrate(ctx context.Context) ([]*MigrationResult, error) {
	var results []*MigrationResult

	err := m.withLock(ctx, func(conn *sql.Conn) error {
		applied, err := m.appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}
		if err := m.verifyChecksums(applied); err != nil {
			return err
		}

		for _, migration := range m.pending(applied) {
			result, err := m.runMigration(ctx, conn, migration, true)
			results = append(results, result)
			if err != nil {
				return err
			}
		}
		return nil
	})

	return results, err
}

// Rollback reverts the most recent steps migrations.
func (m *MigrationManager) Rollback(ctx context.Context, steps int) ([]*MigrationResult, error) {
	var results []*MigrationResult

	err := m.withLock(ctx, func(conn *sql.Conn) error {
		applied, err := m.appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}

		versions := make([]int, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(versions)))
		if steps < len(versions) {
			versions = versions[:steps]
		}

		for _, v := range versions {
			migration, ok := m.migrations[v]
			if !ok {
				return errors.NewValidationError("UNKNOWN_MIGRATION",
					fmt.Sprintf("Applied migration %d is not registered", v))
			}
			result, err := m.runMigration(ctx, conn, migration, false)
			results = append(results, result)
			if err != nil {
				return err
			}
		}
		return nil
	})

	return results, err
}

// GetStatus reports applied and pending migrations.
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to acquire connection")
	}
	defer conn.Close()

	if err := m.createMigrationTable(ctx, conn); err != nil {
		return nil, err
	}

	applied, err := m.appliedMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		PendingMigrations: m.pending(applied),
	}
	for _, v := range m.versions {
		if record, ok := applied[v]; ok {
			status.AppliedMigrations = append(status.AppliedMigrations, record)
			status.CurrentVersion = v
		}
	}
	status.AppliedCount = len(status.AppliedMigrations)
	status.PendingCount = len(status.PendingMigrations)

	return status, nil
}

// GenerateChecksum hashes the migration statements.
func GenerateChecksum(migration *Migration) string {
	sum := sha256.Sum256([]byte(migration.Up + "\n--down--\n" + migration.Down))
	return hex.EncodeToString(sum[:])
}

// Private methods

func (m *MigrationManager) withLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", m.config.LockID); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "LOCK_FAILED", "Failed to acquire migration lock")
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", m.config.LockID); err != nil {
			m.logger.WithError(err).Warn("Failed to release migration lock")
		}
	}()

	if err := m.createMigrationTable(ctx, conn); err != nil {
		return err
	}

	return fn(conn)
}

func (m *MigrationManager) createMigrationTable(ctx context.Context, conn *sql.Conn) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		execution_ms BIGINT NOT NULL DEFAULT 0
	)`, m.config.TableName)

	if _, err := conn.ExecContext(ctx, query); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "SCHEMA_INIT_FAILED", "Failed to create migration table")
	}
	return nil
}

func (m *MigrationManager) appliedMigrations(ctx context.Context, conn *sql.Conn) (map[int]*MigrationRecord, error) {
	query := fmt.Sprintf("SELECT version, name, checksum, applied_at, execution_ms FROM %s", m.config.TableName)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to read applied migrations")
	}
	defer rows.Close()

	applied := make(map[int]*MigrationRecord)
	for rows.Next() {
		record := &MigrationRecord{}
		var ms int64
		if err := rows.Scan(&record.Version, &record.Name, &record.Checksum, &record.AppliedAt, &ms); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to scan migration record")
		}
		record.ExecutionTime = time.Duration(ms) * time.Millisecond
		applied[record.Version] = record
	}
	return applied, rows.Err()
}

func (m *MigrationManager) verifyChecksums(applied map[int]*MigrationRecord) error {
	for v, record := range applied {
		migration, ok := m.migrations[v]
		if !ok {
			continue
		}
		if record.Checksum != GenerateChecksum(migration) {
			return errors.NewValidationError("CHECKSUM_MISMATCH",
				fmt.Sprintf("Migration %d (%s) was modified after it was applied", v, migration.Name))
		}
	}
	return nil
}

func (m *MigrationManager) pending(applied map[int]*MigrationRecord) []*Migration {
	var out []*Migration
	for _, v := range m.versions {
		if _, ok := applied[v]; !ok {
			out = append(out, m.migrations[v])
		}
	}
	return out
}

func (m *MigrationManager) runMigration(ctx context.Context, conn *sql.Conn, migration *Migration, up bool) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{
		Version: migration.Version,
		Name:    migration.Name,
	}

	logger := m.logger.WithFields(logrus.Fields{
		"version": migration.Version,
		"name":    migration.Name,
		"up":      up,
	})

	if m.config.DryRun {
		logger.Info("DRY RUN: Would run migration")
		result.Success = true
		return result, nil
	}

	statement := migration.Up
	if !up {
		statement = migration.Down
		if statement == "" {
			err := errors.NewValidationError("NO_DOWN_MIGRATION",
				fmt.Sprintf("Migration %d has no down statement", migration.Version))
			result.ErrorMessage = err.Error()
			return result, err
		}
	}

	err := m.inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return err
		}
		if up {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name, checksum, execution_ms) VALUES ($1, $2, $3, $4)", m.config.TableName),
				migration.Version, migration.Name, GenerateChecksum(migration), time.Since(start).Milliseconds())
			return err
		}
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.config.TableName), migration.Version)
		return err
	})

	result.ExecutionTime = time.Since(start)
	result.Success = err == nil
	if err != nil {
		result.ErrorMessage = err.Error()
		logger.WithError(err).Error("Migration failed")
		return result, errors.WrapError(err, errors.ErrorTypeStorage, "MIGRATION_FAILED",
			fmt.Sprintf("Migration %d (%s) failed", migration.Version, migration.Name))
	}

	logger.WithField("duration", result.ExecutionTime).Info("Migration applied")
	return result, nil
}

func (m *MigrationManager) inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
