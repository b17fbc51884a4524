package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sqlite3 "github.com/mattn/go-sqlite3"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.Loader = (*SQLiteLoader)(nil)

// SQLiteLoader loads row sets into a local SQLite development database.
type SQLiteLoader struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLoader creates a loader backed by the given SQLite handle.
func NewSQLiteLoader(db *sql.DB, logger *slog.Logger) *SQLiteLoader {
	return &SQLiteLoader{db: db, logger: logger}
}

// Load replaces the rows for iv in table with rows, in one transaction.
func (l *SQLiteLoader) Load(ctx context.Context, table string, iv domain.Interval, rows *domain.RowSet) error {
	if rows == nil || len(rows.Columns) == 0 {
		return domain.ErrValidation("load %q: row set has no columns", table)
	}

	if _, err := l.db.ExecContext(ctx, createTableSQL(sqliteDialect, table, rows.Columns)); err != nil {
		return classifySQLiteError(err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteError(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, deleteSQL(sqliteDialect, table), iv.Key()); err != nil {
		return classifySQLiteError(err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(sqliteDialect, table, rows.Columns))
	if err != nil {
		return classifySQLiteError(err)
	}
	defer stmt.Close()

	for _, row := range rows.Rows {
		if len(row) != len(rows.Columns) {
			return domain.ErrValidation("load %q: row has %d values, schema declares %d columns",
				table, len(row), len(rows.Columns))
		}
		args := make([]any, 0, len(row)+1)
		args = append(args, iv.Key())
		args = append(args, row...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return classifySQLiteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySQLiteError(err)
	}

	l.logger.Info("loaded partition", "table", table, "interval", iv.Key(), "rows", len(rows.Rows))
	return nil
}

// classifySQLiteError maps driver errors onto the retry taxonomy: constraint
// violations are fatal-data, everything else driver-level is treated as a
// transient connection problem.
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrConstraint {
			return domain.ErrConstraintViolation("sqlite: %v", err)
		}
		return domain.ErrConnection("sqlite: %v", err)
	}
	return fmt.Errorf("sqlite load: %w", err)
}
