package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.Loader = (*PostgresLoader)(nil)

// PostgresLoader loads row sets into a Postgres destination.
type PostgresLoader struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLoader connects a loader to the given Postgres DSN.
func NewPostgresLoader(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresLoader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, domain.ErrConfig("postgres DSN: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.ErrConnection("ping postgres: %v", err)
	}
	return &PostgresLoader{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (l *PostgresLoader) Close() {
	l.pool.Close()
}

// Load replaces the rows for iv in table with rows, in one transaction.
func (l *PostgresLoader) Load(ctx context.Context, table string, iv domain.Interval, rows *domain.RowSet) error {
	if rows == nil || len(rows.Columns) == 0 {
		return domain.ErrValidation("load %q: row set has no columns", table)
	}

	if _, err := l.pool.Exec(ctx, createTableSQL(postgresDialect, table, rows.Columns)); err != nil {
		return classifyPostgresError(err)
	}

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteSQL(postgresDialect, table), iv.Key()); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		stmt := insertSQL(postgresDialect, table, rows.Columns)
		for _, row := range rows.Rows {
			if len(row) != len(rows.Columns) {
				return domain.ErrValidation("load %q: row has %d values, schema declares %d columns",
					table, len(row), len(rows.Columns))
			}
			args := make([]any, 0, len(row)+1)
			args = append(args, iv.Key())
			args = append(args, row...)
			batch.Queue(stmt, args...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return classifyPostgresError(err)
	}

	l.logger.Info("loaded partition", "table", table, "interval", iv.Key(), "rows", len(rows.Rows))
	return nil
}

// classifyPostgresError maps SQLSTATE classes onto the retry taxonomy:
// class 23 (integrity constraint) is fatal-data, class 08 (connection) and
// dial failures are transient.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return domain.ErrConstraintViolation("postgres: %v", pgErr)
		case strings.HasPrefix(pgErr.Code, "08"):
			return domain.ErrConnection("postgres: %v", pgErr)
		}
		return fmt.Errorf("postgres load: %w", err)
	}
	// Anything below the protocol (dial, reset, timeout) is transient.
	return domain.ErrConnection("postgres: %v", err)
}
