// Package convert turns delimited source files into Parquet artifacts
// through DuckDB's CSV and Parquet readers.
package convert

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.Converter = (*DuckConverter)(nil)

// DuckConverter converts CSV files to Parquet on a DuckDB connection.
type DuckConverter struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckConverter creates a converter backed by the given DuckDB handle.
func NewDuckConverter(db *sql.DB, logger *slog.Logger) *DuckConverter {
	return &DuckConverter{db: db, logger: logger}
}

// Convert writes the Parquet encoding of srcPath to destPath and returns the
// row count. The output is written wholesale: a re-run for the same interval
// overwrites the previous artifact at the same deterministic path.
func (c *DuckConverter) Convert(ctx context.Context, srcPath, destPath string, schema []domain.Column) (int64, error) {
	if len(schema) == 0 {
		return 0, domain.ErrConfig("convert: schema is required")
	}

	if err := checkHeader(srcPath, schema); err != nil {
		return 0, err
	}

	selectList := make([]string, len(schema))
	columnSpec := make([]string, len(schema))
	for i, col := range schema {
		selectList[i] = quoteIdent(col.Name)
		columnSpec[i] = fmt.Sprintf("%s: '%s'", quoteLiteral(col.Name), duckType(col.Type))
	}

	copySQL := fmt.Sprintf(
		"COPY (SELECT %s FROM read_csv(%s, header = true, columns = {%s})) TO %s (FORMAT PARQUET)",
		strings.Join(selectList, ", "),
		quoteLiteral(srcPath),
		strings.Join(columnSpec, ", "),
		quoteLiteral(destPath),
	)

	if _, err := c.db.ExecContext(ctx, copySQL); err != nil {
		return 0, classifyConvertError(err)
	}

	srcRows, err := c.count(ctx, fmt.Sprintf("SELECT count(*) FROM read_csv(%s, header = true, columns = {%s})",
		quoteLiteral(srcPath), strings.Join(columnSpec, ", ")))
	if err != nil {
		return 0, classifyConvertError(err)
	}
	dstRows, err := c.count(ctx, fmt.Sprintf("SELECT count(*) FROM read_parquet(%s)", quoteLiteral(destPath)))
	if err != nil {
		return 0, fmt.Errorf("verify artifact: %w", err)
	}
	if srcRows != dstRows {
		return 0, domain.ErrSchemaMismatch("convert %s: wrote %d rows, source has %d", srcPath, dstRows, srcRows)
	}

	c.logger.Info("converted to parquet", "src", srcPath, "dest", destPath, "rows", dstRows)
	return dstRows, nil
}

// ReadRows scans a Parquet artifact into a RowSet for relational loading.
func (c *DuckConverter) ReadRows(ctx context.Context, parquetPath string, schema []domain.Column) (*domain.RowSet, error) {
	selectList := make([]string, len(schema))
	for i, col := range schema {
		selectList[i] = quoteIdent(col.Name)
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM read_parquet(%s)",
		strings.Join(selectList, ", "), quoteLiteral(parquetPath)))
	if err != nil {
		return nil, classifyConvertError(err)
	}
	defer rows.Close()

	rs := &domain.RowSet{Columns: schema}
	for rows.Next() {
		dest := make([]any, len(schema))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan parquet row: %w", err)
		}
		row := make([]any, len(schema))
		for i := range dest {
			row[i] = *(dest[i].(*any))
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (c *DuckConverter) count(ctx context.Context, query string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// checkHeader verifies the source header has exactly the declared columns in
// the declared order.
func checkHeader(srcPath string, schema []domain.Column) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return domain.ErrNotFound("source file %q: %v", srcPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return domain.ErrSchemaMismatch("source file %q is empty", srcPath)
	}
	if err != nil {
		return domain.ErrSchemaMismatch("read header of %q: %v", srcPath, err)
	}

	if len(header) != len(schema) {
		return domain.ErrSchemaMismatch("source %q has %d columns, schema declares %d",
			srcPath, len(header), len(schema))
	}
	for i, col := range schema {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col.Name) {
			return domain.ErrSchemaMismatch("source %q column %d is %q, schema declares %q",
				srcPath, i, strings.TrimSpace(header[i]), col.Name)
		}
	}
	return nil
}

// duckType maps canonical types to DuckDB types.
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

// classifyConvertError maps DuckDB read/conversion errors into domain errors.
func classifyConvertError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No files found"),
		strings.Contains(msg, "No such file"):
		return domain.ErrNotFound("%s", msg)
	case strings.Contains(msg, "Conversion Error"),
		strings.Contains(msg, "Invalid Input Error"),
		strings.Contains(msg, "CSV Error"),
		strings.Contains(msg, "Could not convert"):
		return domain.ErrSchemaMismatch("%s", msg)
	default:
		return err
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
