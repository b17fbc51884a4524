// Package config handles application configuration: environment loading and
// the YAML dataset definitions file.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"lakeflow/internal/domain"
	"lakeflow/internal/objectstore"
)

// Config holds the runtime configuration for the pipeline service.
type Config struct {
	StateDBPath   string // path to the SQLite state store (run/task metadata)
	WarehousePath string // path to the DuckDB warehouse file ("" = in-memory)
	DatasetsFile  string // path to the YAML dataset definitions
	WorkDir       string // staging directory for per-run scratch files
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // log level: debug, info, warn, error (default "info")
	Env           string // environment: "development" (default) or "production"

	// Source fetching
	FetchRPS float64 // sustained download requests per second (0 = unlimited)

	// Relational destination. Driver selects the loader: "sqlite" (default)
	// or "postgres".
	DBDriver string
	DBDSN    string // postgres DSN, or sqlite file path

	// Object store; see objectstore.Config.
	Store objectstore.Config

	// CORS
	CORSAllowedOrigins []string // allowed origins (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. The object
// store variables are optional — trigger and query surfaces work without
// them, runs that reach the upload task fail with a config error.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		StateDBPath:   os.Getenv("STATE_DB_PATH"),
		WarehousePath: os.Getenv("WAREHOUSE_PATH"),
		DatasetsFile:  os.Getenv("DATASETS_FILE"),
		WorkDir:       os.Getenv("WORK_DIR"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
		DBDriver:      strings.ToLower(os.Getenv("DB_DRIVER")),
		DBDSN:         os.Getenv("DB_DSN"),
		Store: objectstore.Config{
			URL:                os.Getenv("STORE_URL"),
			S3Endpoint:         os.Getenv("S3_ENDPOINT"),
			S3Region:           os.Getenv("S3_REGION"),
			S3KeyID:            os.Getenv("S3_KEY_ID"),
			S3Secret:           os.Getenv("S3_SECRET"),
			GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
			GCSEndpoint:        os.Getenv("GCS_ENDPOINT"),
			AzureAccountName:   os.Getenv("AZURE_ACCOUNT_NAME"),
			AzureAccountKey:    os.Getenv("AZURE_ACCOUNT_KEY"),
		},
	}

	if strings.EqualFold(os.Getenv("S3_USE_PATH_STYLE"), "true") {
		cfg.Store.S3UsePathStyle = true
	}

	if v := os.Getenv("FETCH_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, domain.ErrConfig("invalid FETCH_RPS %q: %v", v, err)
		}
		cfg.FetchRPS = f
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = "lakeflow_state.sqlite"
	}
	if cfg.DatasetsFile == "" {
		cfg.DatasetsFile = "datasets.yaml"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite"
	}
	switch cfg.DBDriver {
	case "sqlite":
		if cfg.DBDSN == "" {
			cfg.DBDSN = "lakeflow_dev.sqlite"
		}
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, domain.ErrConfig("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return nil, domain.ErrConfig("unsupported DB_DRIVER %q (sqlite or postgres)", cfg.DBDriver)
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.Store.URL == "" {
		cfg.Warnings = append(cfg.Warnings, "STORE_URL not set — warehouse uploads will fail until configured")
	}

	// Production mode: loose defaults become fatal.
	if cfg.IsProduction() {
		if cfg.Store.URL == "" {
			return nil, domain.ErrConfig("STORE_URL must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, domain.ErrConfig("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

// datasetsFile is the YAML shape of the dataset definitions file.
type datasetsFile struct {
	Datasets []domain.Dataset `yaml:"datasets"`
}

// LoadDatasets parses and validates the YAML dataset definitions file.
func LoadDatasets(path string) ([]domain.Dataset, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, domain.ErrConfig("open datasets file %s: %v", path, err)
	}
	defer f.Close() //nolint:errcheck

	var parsed datasetsFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil {
		return nil, domain.ErrConfig("parse datasets file %s: %v", path, err)
	}
	if len(parsed.Datasets) == 0 {
		return nil, domain.ErrConfig("datasets file %s defines no datasets", path)
	}

	seen := make(map[string]struct{}, len(parsed.Datasets))
	for i := range parsed.Datasets {
		ds := &parsed.Datasets[i]
		if err := ds.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[ds.Name]; dup {
			return nil, domain.ErrConfig("datasets file %s: duplicate dataset %q", path, ds.Name)
		}
		seen[ds.Name] = struct{}{}
	}
	return parsed.Datasets, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be KEY=VALUE; comments (#) and blanks are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Real env vars take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
