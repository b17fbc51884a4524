// Package warehouse declares external tables in DuckDB: named views that
// point at object-store Parquet files without copying any data.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.Registrar = (*DuckRegistrar)(nil)

// DuckRegistrar declares external tables on a DuckDB connection.
type DuckRegistrar struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckRegistrar creates a registrar backed by the given DuckDB handle.
func NewDuckRegistrar(db *sql.DB, logger *slog.Logger) *DuckRegistrar {
	return &DuckRegistrar{db: db, logger: logger}
}

// DeclareExternalTable creates or replaces a view over pathGlob. The view is
// a pure pointer: it has no storage of its own and no durability beyond the
// referenced objects. Declaring twice with the same arguments is a no-op in
// effect.
//
// With a declared schema the select list casts each column explicitly; with
// schema nil the column set is inferred from the referenced files, and a
// failure to infer surfaces as SchemaInferenceError.
func (r *DuckRegistrar) DeclareExternalTable(ctx context.Context, table, pathGlob string, schema []domain.Column) error {
	if table == "" {
		return domain.ErrValidation("external table name is required")
	}
	if pathGlob == "" {
		return domain.ErrValidation("external table %q: path glob is required", table)
	}

	selectList := "*"
	if len(schema) > 0 {
		cols := make([]string, len(schema))
		for i, col := range schema {
			cols[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", quoteIdent(col.Name), duckType(col.Type), quoteIdent(col.Name))
		}
		selectList = strings.Join(cols, ", ")
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s FROM read_parquet(%s)",
		quoteIdent(table), selectList, quoteLiteral(pathGlob))

	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		if len(schema) == 0 {
			return domain.ErrSchemaInference("declare %q over %q: %v", table, pathGlob, err)
		}
		return fmt.Errorf("declare external table %q: %w", table, err)
	}

	r.logger.Info("declared external table", "table", table, "glob", pathGlob)
	return nil
}

func duckType(t domain.ColumnType) string {
	switch t {
	case domain.TypeInteger:
		return "BIGINT"
	case domain.TypeFloat:
		return "DOUBLE"
	case domain.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
