package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"

	"lakeflow/internal/config"
	"lakeflow/internal/convert"
	"lakeflow/internal/db"
	"lakeflow/internal/db/repository"
	"lakeflow/internal/domain"
	"lakeflow/internal/fetch"
	"lakeflow/internal/loader"
	"lakeflow/internal/objectstore"
	"lakeflow/internal/pipeline"
	"lakeflow/internal/warehouse"
)

// app holds everything a command needs after bootstrap.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    *pipeline.Service

	closers []func()
}

// Close releases all resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp loads configuration and wires the full engine: state store,
// warehouse, object store, loaders, dataset registry, and service.
func newApp(ctx context.Context, envFile string) (*app, error) {
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// State store (run and task-run metadata).
	writeDB, readDB, err := db.OpenSQLitePair(cfg.StateDBPath, 4)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = readDB.Close(); _ = writeDB.Close() })
	if err := db.RunMigrations(writeDB); err != nil {
		return nil, err
	}

	// Warehouse. An empty path keeps the catalog in memory, which is fine
	// for the converter but loses view declarations on restart.
	duckDB, err := sql.Open("duckdb", cfg.WarehousePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = duckDB.Close() })

	converter := convert.NewDuckConverter(duckDB, logger)
	registrar := warehouse.NewDuckRegistrar(duckDB, logger)

	var store domain.ObjectStore
	if cfg.Store.URL != "" {
		store, err = objectstore.New(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
	} else {
		store = unconfiguredStore{}
	}

	var relLoader domain.Loader
	switch cfg.DBDriver {
	case "postgres":
		pg, err := loader.NewPostgresLoader(ctx, cfg.DBDSN, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		relLoader = pg
	default:
		devDB, err := sql.Open("sqlite3", cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = devDB.Close() })
		relLoader = loader.NewSQLiteLoader(devDB, logger)
	}

	components := pipeline.Components{
		Fetcher:      fetch.NewClient(cfg.FetchRPS, 1, logger),
		Converter:    converter,
		Store:        store,
		Registrar:    registrar,
		Loader:       relLoader,
		StoreBaseURL: cfg.Store.URL,
	}

	datasets, err := config.LoadDatasets(cfg.DatasetsFile)
	if err != nil {
		return nil, err
	}

	registry := pipeline.NewRegistry()
	for _, ds := range datasets {
		if err := registry.Register(ds, pipeline.StandardTasks(ds, components)); err != nil {
			return nil, err
		}
	}

	a.svc = pipeline.NewService(registry, repository.NewRunRepo(writeDB, readDB), cfg.WorkDir, logger)
	ok = true
	return a, nil
}

// unconfiguredStore stands in when STORE_URL is unset: runs proceed until
// the upload task, which fails with a config error.
type unconfiguredStore struct{}

func (unconfiguredStore) Upload(context.Context, string, string) (string, error) {
	return "", domain.ErrConfig("object store is not configured (set STORE_URL)")
}

func (unconfiguredStore) Download(context.Context, string, string) error {
	return domain.ErrConfig("object store is not configured (set STORE_URL)")
}
