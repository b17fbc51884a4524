package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeflow/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STATE_DB_PATH", "WAREHOUSE_PATH", "DATASETS_FILE", "WORK_DIR",
		"LISTEN_ADDR", "LOG_LEVEL", "ENV", "DB_DRIVER", "DB_DSN",
		"STORE_URL", "S3_ENDPOINT", "S3_REGION", "S3_KEY_ID", "S3_SECRET",
		"S3_USE_PATH_STYLE", "GCS_CREDENTIALS_FILE", "GCS_ENDPOINT",
		"AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY", "FETCH_RPS",
		"CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "lakeflow_state.sqlite", cfg.StateDBPath)
	assert.Equal(t, "datasets.yaml", cfg.DatasetsFile)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "lakeflow_dev.sqlite", cfg.DBDSN)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.NotEmpty(t, cfg.Warnings, "missing STORE_URL should warn in dev")
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATE_DB_PATH", "/var/lib/lakeflow/state.sqlite")
	t.Setenv("STORE_URL", "s3://lake/raw")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_KEY_ID", "testkey")
	t.Setenv("S3_SECRET", "testsecret")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://app@localhost/lake")
	t.Setenv("FETCH_RPS", "2.5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/lakeflow/state.sqlite", cfg.StateDBPath)
	assert.Equal(t, "s3://lake/raw", cfg.Store.URL)
	assert.Equal(t, "us-east-1", cfg.Store.S3Region)
	assert.True(t, cfg.Store.S3UsePathStyle)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 2.5, cfg.FetchRPS)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "postgres without DSN",
			env:  map[string]string{"DB_DRIVER": "postgres"},
		},
		{
			name: "unknown driver",
			env:  map[string]string{"DB_DRIVER": "oracle"},
		},
		{
			name: "bad fetch rps",
			env:  map[string]string{"FETCH_RPS": "fast"},
		},
		{
			name: "production requires store",
			env:  map[string]string{"ENV": "production", "CORS_ALLOWED_ORIGINS": "https://ui.example.com"},
		},
		{
			name: "production rejects CORS wildcard",
			env:  map[string]string{"ENV": "production", "STORE_URL": "gs://lake"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			var cfgErr *domain.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestLoadFromEnv_SlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	assert.Equal(t, "DEBUG", cfg.SlogLevel().String())
	cfg.LogLevel = "warn"
	assert.Equal(t, "WARN", cfg.SlogLevel().String())
	cfg.LogLevel = "nonsense"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}

const validDatasetsYAML = `
datasets:
  - name: trips
    source_url: https://example.com/trips/{interval}.csv
    schedule: "0 6 2 * *"
    granularity: monthly
    table: trips
    external_table: trips_ext
    path_prefix: raw/trips
    schema:
      - {name: trip_id, type: integer}
      - {name: pickup_at, type: timestamp}
      - {name: fare, type: float}
    policy:
      max_attempts: 5
      backoff: 30s
      timeout: 15m
    task_policies:
      download:
        timeout: 1h
`

func writeDatasets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDatasets(t *testing.T) {
	datasets, err := LoadDatasets(writeDatasets(t, validDatasetsYAML))
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	ds := datasets[0]
	assert.Equal(t, "trips", ds.Name)
	assert.Equal(t, domain.GranularityMonthly, ds.Granularity)
	assert.Len(t, ds.Schema, 3)
	assert.Equal(t, 5, ds.Policy.MaxAttempts)
	assert.Equal(t, 30*time.Second, ds.Policy.Backoff)
	assert.Equal(t, 15*time.Minute, ds.Policy.Timeout)
	assert.Equal(t, time.Hour, ds.PolicyFor("download").Timeout)
}

func TestLoadDatasets_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: "datasets: []"},
		{name: "not yaml", content: "{{{"},
		{
			name: "unknown field rejected",
			content: `
datasets:
  - name: trips
    source_url: https://example.com/x.csv
    granularity: monthly
    table: trips
    external_table: trips_ext
    schema: [{name: a, type: integer}]
    surprise: true
`,
		},
		{
			name: "validation failure surfaces",
			content: `
datasets:
  - name: trips
    source_url: https://example.com/x.csv
    granularity: hourly
    table: trips
    external_table: trips_ext
    schema: [{name: a, type: integer}]
`,
		},
		{
			name: "duplicate dataset name",
			content: `
datasets:
  - name: trips
    source_url: https://example.com/x.csv
    granularity: monthly
    table: trips
    external_table: trips_ext
    schema: [{name: a, type: integer}]
  - name: trips
    source_url: https://example.com/y.csv
    granularity: monthly
    table: trips2
    external_table: trips2_ext
    schema: [{name: a, type: integer}]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDatasets(writeDatasets(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadDatasets_MissingFile(t *testing.T) {
	_, err := LoadDatasets(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
STATE_DB_PATH="/tmp/from-dotenv.sqlite"
LOG_LEVEL=debug
MALFORMED LINE
`), 0o600))

	t.Setenv("STATE_DB_PATH", "")
	t.Setenv("LOG_LEVEL", "warn") // real env wins

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "/tmp/from-dotenv.sqlite", os.Getenv("STATE_DB_PATH"))
	assert.Equal(t, "warn", os.Getenv("LOG_LEVEL"))
}

func TestLoadDotEnv_MissingFileIsNoop(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}
