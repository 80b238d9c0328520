package commands

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/internal/storage/migrations"
)

type stubMigrator struct {
	status        *migrations.MigrationStatus
	results       []*migrations.MigrationResult
	err           error
	migrated      bool
	rollbackSteps int
}

func (s *stubMigrator) Migrate(ctx context.Context) ([]*migrations.MigrationResult, error) {
	s.migrated = true
	return s.results, s.err
}

func (s *stubMigrator) Rollback(ctx context.Context, steps int) ([]*migrations.MigrationResult, error) {
	s.rollbackSteps = steps
	return s.results, s.err
}

func (s *stubMigrator) GetStatus(ctx context.Context) (*migrations.MigrationStatus, error) {
	if s.status == nil {
		return nil, fmt.Errorf("status unavailable")
	}
	return s.status, nil
}

func testStatus() *migrations.MigrationStatus {
	return &migrations.MigrationStatus{
		CurrentVersion: 1,
		AppliedCount:   1,
		PendingCount:   1,
		AppliedMigrations: []*migrations.MigrationRecord{
			{Version: 1, Name: "create_risk_reports", AppliedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		},
		PendingMigrations: []*migrations.Migration{
			{Version: 2, Name: "index_report_metric", Description: "Index reports by metric"},
		},
	}
}

func TestExecuteMigrationStatus(t *testing.T) {
	m := &stubMigrator{status: testStatus()}
	var out bytes.Buffer

	err := executeMigration(context.Background(), &out, m, &MigrateOptions{Status: true})
	require.NoError(t, err)

	assert.False(t, m.migrated)
	assert.Contains(t, out.String(), "Current version: 1")
	assert.Contains(t, out.String(), "Applied: 1, pending: 1")
	assert.Contains(t, out.String(), "- 0001 create_risk_reports (2026-01-02 03:04:05)")
	assert.Contains(t, out.String(), "- 0002 index_report_metric: Index reports by metric")
	assert.NotContains(t, out.String(), "DRY RUN")
}

func TestExecuteMigrationDryRun(t *testing.T) {
	m := &stubMigrator{status: testStatus()}
	var out bytes.Buffer

	err := executeMigration(context.Background(), &out, m, &MigrateOptions{DryRun: true})
	require.NoError(t, err)

	assert.False(t, m.migrated)
	assert.Contains(t, out.String(), "[DRY RUN MODE - No migrations were applied]")
}

func TestExecuteMigrationApply(t *testing.T) {
	tests := []struct {
		name     string
		opts     *MigrateOptions
		stub     *stubMigrator
		wantErr  string
		wantOut  []string
		migrated bool
		steps    int
	}{
		{
			name: "apply pending",
			opts: &MigrateOptions{},
			stub: &stubMigrator{results: []*migrations.MigrationResult{
				{Version: 1, Name: "create_risk_reports", Success: true, ExecutionTime: 2 * time.Millisecond},
				{Version: 2, Name: "index_report_metric", Success: true, ExecutionTime: time.Millisecond},
			}},
			wantOut:  []string{"- 0001 create_risk_reports (2ms) ok", "Applied 2 migration(s)"},
			migrated: true,
		},
		{
			name:     "up to date",
			opts:     &MigrateOptions{},
			stub:     &stubMigrator{},
			wantOut:  []string{"Archive schema is up to date"},
			migrated: true,
		},
		{
			name: "rollback",
			opts: &MigrateOptions{Rollback: 1},
			stub: &stubMigrator{results: []*migrations.MigrationResult{
				{Version: 2, Name: "index_report_metric", Success: true},
			}},
			wantOut: []string{"Rolled back 1 migration(s)"},
			steps:   1,
		},
		{
			name: "failed migration",
			opts: &MigrateOptions{},
			stub: &stubMigrator{
				results: []*migrations.MigrationResult{
					{Version: 1, Name: "create_risk_reports", ErrorMessage: "syntax error"},
				},
				err: fmt.Errorf("migration 1 failed"),
			},
			wantErr:  "migration 1 failed",
			wantOut:  []string{"FAILED: syntax error"},
			migrated: true,
		},
		{
			name:    "negative rollback",
			opts:    &MigrateOptions{Rollback: -1},
			stub:    &stubMigrator{},
			wantErr: "cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := executeMigration(context.Background(), &out, tt.stub, tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out.String(), want)
			}
			assert.Equal(t, tt.migrated, tt.stub.migrated)
			assert.Equal(t, tt.steps, tt.stub.rollbackSteps)
		})
	}
}

func TestExecuteMigrationStatusError(t *testing.T) {
	err := executeMigration(context.Background(), &bytes.Buffer{}, &stubMigrator{}, &MigrateOptions{Status: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status unavailable")
}
