package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage/migrations"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// ArchiveConfig holds configuration for the Postgres report archive
type ArchiveConfig struct {
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Database        string        `json:"database" mapstructure:"database"`
	Username        string        `json:"username" mapstructure:"username"`
	Password        string        `json:"password" mapstructure:"password"`
	SSLMode         string        `json:"ssl_mode" mapstructure:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `json:"auto_migrate" mapstructure:"auto_migrate"`
}

// ArchivedReport is one finished task as stored in the archive.
type ArchivedReport struct {
	TaskID      string             `json:"task_id"`
	Scope       string             `json:"scope"`
	Dataset     string             `json:"dataset"`
	Metric      models.Metric      `json:"metric"`
	Params      map[string]string  `json:"params"`
	State       string             `json:"state"`
	ErrorType   string             `json:"error_type,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	Report      *models.RiskReport `json:"report"`
	SubmittedAt time.Time          `json:"submitted_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// ArchiveQuery filters List. Zero values match everything.
type ArchiveQuery struct {
	Scope   string
	Metrics []models.Metric
	Since   time.Time
	Limit   int
}

// ReportArchive stores finished reports in Postgres.
type ReportArchive struct {
	config *ArchiveConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewReportArchive creates a new archive instance
func NewReportArchive(config *ArchiveConfig, logger *logrus.Logger) (*ReportArchive, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}
	if config.DSN == "" && config.Host == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres DSN or host is required")
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = constants.DefaultConnectionTimeout
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = constants.DefaultStorageTimeout
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &ReportArchive{
		config: config,
		logger: logger,
	}, nil
}

// ConnectionString builds the lib/pq connection string.
func (a *ReportArchive) ConnectionString() string {
	if a.config.DSN != "" {
		return a.config.DSN
	}

	port := a.config.Port
	if port == 0 {
		port = 5432
	}
	sslMode := a.config.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		a.config.Host,
		port,
		a.config.Username,
		a.config.Password,
		a.config.Database,
		sslMode,
	)
}

// Connect opens the pool and applies the archive schema when AutoMigrate is set.
func (a *ReportArchive) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", a.ConnectionString())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to open database connection")
	}

	db.SetMaxOpenConns(a.config.MaxConnections)
	db.SetMaxIdleConns(a.config.MaxIdleConns)
	db.SetConnMaxLifetime(a.config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Failed to ping database")
	}

	if a.config.AutoMigrate {
		if _, err := NewArchiveMigrator(db, a.logger).Migrate(ctx); err != nil {
			db.Close()
			return err
		}
	}

	a.db = db
	a.closed = false

	a.logger.WithFields(logrus.Fields{
		"host":     a.config.Host,
		"database": a.config.Database,
	}).Info("Connected to report archive")

	return nil
}

// DB exposes the pool for the migrate command.
func (a *ReportArchive) DB() (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed || a.db == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Database not connected")
	}
	return a.db, nil
}

// Close closes the database connection
func (a *ReportArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.db == nil {
		return nil
	}

	err := a.db.Close()
	a.db = nil
	a.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close database connection")
	}

	a.logger.Info("Report archive connection closed")
	return nil
}

// Ping tests the database connection
func (a *ReportArchive) Ping(ctx context.Context) error {
	db, err := a.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Database ping failed")
	}
	return nil
}

// Archive upserts one finished task.
func (a *ReportArchive) Archive(ctx context.Context, record *ArchivedReport) error {
	db, err := a.DB()
	if err != nil {
		return err
	}

	params, err := json.Marshal(record.Params)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode params")
	}
	report, err := json.Marshal(record.Report)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode report")
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	query := `
	INSERT INTO archived_reports (
		task_id, scope, dataset, metric, params, state, error_type, warnings, report, submitted_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (task_id) DO UPDATE SET
		state = EXCLUDED.state,
		error_type = EXCLUDED.error_type,
		warnings = EXCLUDED.warnings,
		report = EXCLUDED.report,
		completed_at = EXCLUDED.completed_at`

	_, err = db.ExecContext(ctx, query,
		record.TaskID,
		record.Scope,
		record.Dataset,
		string(record.Metric),
		params,
		record.State,
		record.ErrorType,
		pq.Array(record.Warnings),
		report,
		record.SubmittedAt,
		record.CompletedAt,
	)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to archive task %s", record.TaskID))
	}

	a.logger.WithFields(logrus.Fields{
		"task_id": record.TaskID,
		"metric":  record.Metric,
		"state":   record.State,
	}).Debug("Archived report")

	return nil
}

// Get loads one archived task.
func (a *ReportArchive) Get(ctx context.Context, taskID string) (*ArchivedReport, error) {
	db, err := a.DB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	row := db.QueryRowContext(ctx, selectArchived+" WHERE task_id = $1", taskID)
	record, err := scanArchived(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewAppError(errors.ErrorTypeJob, errors.CodeTaskNotFound,
			fmt.Sprintf("Archived task '%s' not found", taskID))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to read archived report")
	}
	return record, nil
}

// List returns archived tasks, newest first.
func (a *ReportArchive) List(ctx context.Context, q ArchiveQuery) ([]*ArchivedReport, error) {
	db, err := a.DB()
	if err != nil {
		return nil, err
	}

	query, args := buildListQuery(q)

	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to list archived reports")
	}
	defer rows.Close()

	var out []*ArchivedReport
	for rows.Next() {
		record, err := scanArchived(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to scan archived report")
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

const selectArchived = `
	SELECT task_id, scope, dataset, metric, params, state, error_type, warnings, report, submitted_at, completed_at
	FROM archived_reports`

func buildListQuery(q ArchiveQuery) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if q.Scope != "" {
		args = append(args, q.Scope)
		conditions = append(conditions, fmt.Sprintf("scope = $%d", len(args)))
	}
	if len(q.Metrics) > 0 {
		metrics := make([]string, len(q.Metrics))
		for i, m := range q.Metrics {
			metrics[i] = string(m)
		}
		args = append(args, pq.Array(metrics))
		conditions = append(conditions, fmt.Sprintf("metric = ANY($%d)", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conditions = append(conditions, fmt.Sprintf("completed_at >= $%d", len(args)))
	}

	query := selectArchived
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY completed_at DESC"

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArchived(row rowScanner) (*ArchivedReport, error) {
	record := &ArchivedReport{}
	var metric string
	var params, report []byte

	err := row.Scan(
		&record.TaskID,
		&record.Scope,
		&record.Dataset,
		&metric,
		&params,
		&record.State,
		&record.ErrorType,
		pq.Array(&record.Warnings),
		&report,
		&record.SubmittedAt,
		&record.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Metric = models.Metric(metric)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &record.Params); err != nil {
			return nil, err
		}
	}
	if len(report) > 0 {
		if err := json.Unmarshal(report, &record.Report); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// NewArchiveMigrator returns a migration manager loaded with the archive schema.
func NewArchiveMigrator(db *sql.DB, logger *logrus.Logger) *migrations.MigrationManager {
	m := migrations.NewMigrationManager(db, nil, logger)
	// Versions are fixed constants; registration cannot fail.
	_ = m.RegisterMigration(archiveMigrations()...)
	return m
}

func archiveMigrations() []*migrations.Migration {
	return []*migrations.Migration{
		{
			Version:     1,
			Name:        "create_archived_reports",
			Description: "Finished privacy metric tasks",
			Up: `
	CREATE TABLE IF NOT EXISTS archived_reports (
		task_id VARCHAR(64) PRIMARY KEY,
		scope VARCHAR(255) NOT NULL DEFAULT '',
		dataset TEXT NOT NULL DEFAULT '',
		metric VARCHAR(64) NOT NULL,
		params JSONB,
		state VARCHAR(32) NOT NULL,
		error_type VARCHAR(64) NOT NULL DEFAULT '',
		warnings TEXT[],
		report JSONB,
		submitted_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
			Down: `DROP TABLE IF EXISTS archived_reports`,
		},
		{
			Version:     2,
			Name:        "index_archived_reports",
			Description: "Lookup by scope and metric",
			Up: `
	CREATE INDEX IF NOT EXISTS idx_archived_reports_scope ON archived_reports (scope, completed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_archived_reports_metric ON archived_reports (metric, completed_at DESC)`,
			Down: `
	DROP INDEX IF EXISTS idx_archived_reports_metric;
	DROP INDEX IF EXISTS idx_archived_reports_scope`,
		},
	}
}
