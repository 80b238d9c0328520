package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/internal/api/handlers"
	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/tasks"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	v, err := NewViper("")
	require.NoError(t, err)
	config, err := Load(v)
	require.NoError(t, err)
	return config
}

func TestLoadDefaults(t *testing.T) {
	config := loadDefaults(t)

	assert.Equal(t, storage.BackendMemory, config.Cache.Backend)
	assert.Equal(t, constants.DefaultCacheTTL, config.Cache.TTL)
	assert.Equal(t, TaskBackendMemory, config.Tasks.Backend)
	assert.Equal(t, constants.DefaultTaskSoftTimeLimit, config.Tasks.Processor.SoftTimeLimit)
	assert.Equal(t, constants.DefaultTaskHardTimeLimit, config.Tasks.Processor.HardTimeLimit)
	assert.Equal(t, privacy.QualityModeWarn, config.Engine.QualityPolicy.Mode)
	assert.Equal(t, constants.DefaultMaxDroppedFraction, config.Engine.QualityPolicy.MaxDroppedFraction)
	assert.Equal(t, constants.DefaultPort, config.Server.Port)
	assert.True(t, config.Engine.RenderVisualizations)
	assert.False(t, config.ArchiveEnabled())
	assert.False(t, config.S3Enabled())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("AIDRIN_ENGINE_QUALITY_POLICY_MODE", "FAIL")
	t.Setenv("AIDRIN_TASKS_PROCESSOR_SOFT_TIME_LIMIT", "30s")
	t.Setenv("AIDRIN_ARCHIVE_DSN", "postgres://localhost/aidrin")
	t.Setenv("AIDRIN_S3_REGION", "us-east-1")

	config := loadDefaults(t)

	assert.Equal(t, privacy.QualityModeFail, config.Engine.QualityPolicy.Mode)
	assert.Equal(t, 30*time.Second, config.Tasks.Processor.SoftTimeLimit)
	assert.True(t, config.ArchiveEnabled())
	assert.True(t, config.S3Enabled())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidrin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  display_precision: 4
tasks:
  processor:
    concurrency: 2
`), 0o644))

	v, err := NewViper(path)
	require.NoError(t, err)
	config, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 4, config.Engine.DisplayPrecision)
	assert.Equal(t, 2, config.Tasks.Processor.Concurrency)
	assert.Equal(t, storage.BackendMemory, config.Cache.Backend)

	_, err = NewViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"quality mode", func(c *Config) { c.Engine.QualityPolicy.Mode = "ignore" }},
		{"dropped fraction", func(c *Config) { c.Engine.QualityPolicy.MaxDroppedFraction = 1.5 }},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"task backend", func(c *Config) { c.Tasks.Backend = "kafka" }},
		{"precision", func(c *Config) { c.Engine.DisplayPrecision = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := loadDefaults(t)
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			_, ok := err.(*errors.AppError)
			assert.True(t, ok)
		})
	}
}

func TestValidateMemoryTasksEmbedWorker(t *testing.T) {
	config := loadDefaults(t)
	config.Tasks.Backend = TaskBackendMemory
	config.Tasks.EmbedWorker = false

	require.NoError(t, config.Validate())
	assert.True(t, config.Tasks.EmbedWorker)

	config.Tasks.Backend = TaskBackendRedis
	config.Tasks.EmbedWorker = false
	require.NoError(t, config.Validate())
	assert.False(t, config.Tasks.EmbedWorker)
}

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger(LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = SetupLogger(LogConfig{Level: "nonsense", Format: "text"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestBuildRunsTasksEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	require.NoError(t, os.WriteFile(path, []byte("zip,age\n10001,30\n10001,41\n10002,52\n10002,29\n"), 0o644))

	config := loadDefaults(t)
	config.Engine.RenderVisualizations = false
	config.Metrics.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := Build(ctx, config, quietLogger())
	require.NoError(t, err)
	defer comps.Close()
	assert.Nil(t, comps.Archive)

	processor := comps.NewProcessor()
	done := make(chan struct{})
	go func() {
		processor.Start(ctx)
		close(done)
	}()

	req := &models.MetricRequest{
		Metric:           models.MetricKAnonymity,
		File:             models.FileDescriptor{Path: path},
		QuasiIdentifiers: []string{"zip"},
		Scope:            "alice",
	}

	submitted, err := comps.Manager.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, submitted.Cached)

	var finished *tasks.Task
	require.Eventually(t, func() bool {
		task, err := comps.Manager.Poll(ctx, submitted.ID)
		if err != nil || !task.State.IsFinal() {
			return false
		}
		finished = task
		return true
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, tasks.StateCompleted, finished.State)
	require.NotNil(t, finished.Result)
	require.NotNil(t, finished.Result.Headline)
	assert.Equal(t, 2.0, *finished.Result.Headline)

	again, err := comps.Manager.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, tasks.StateCompleted, again.State)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestRegisterHealthChecks(t *testing.T) {
	config := loadDefaults(t)
	config.Metrics.Enabled = false

	comps, err := Build(context.Background(), config, quietLogger())
	require.NoError(t, err)
	defer comps.Close()

	health := handlers.NewHealthHandler(handlers.BuildInfo{Version: "test"})
	comps.RegisterHealthChecks(health)

	rec := httptest.NewRecorder()
	health.GetReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildFailsOnUnreachableArchive(t *testing.T) {
	config := loadDefaults(t)
	config.Metrics.Enabled = false
	config.Archive.DSN = "postgres://nobody@127.0.0.1:1/aidrin?sslmode=disable&connect_timeout=1"
	config.Archive.ConnectTimeout = 500 * time.Millisecond

	_, err := Build(context.Background(), config, quietLogger())
	assert.Error(t, err)
}
