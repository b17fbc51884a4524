// Package loader loads columnar row sets into a relational destination.
// Loads are interval-scoped delete-then-insert inside one transaction, so a
// re-run replaces exactly its own partition and a failure leaves the prior
// partition intact.
package loader

import (
	"fmt"
	"strings"

	"lakeflow/internal/domain"
)

// intervalColumn scopes every loaded row to its schedule interval. The
// delete-before-insert contract operates on this column.
const intervalColumn = "interval_key"

// dialect captures what differs between destination databases.
type dialect struct {
	placeholder func(i int) string // 1-based
	columnType  func(domain.ColumnType) string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	columnType: func(t domain.ColumnType) string {
		switch t {
		case domain.TypeInteger:
			return "INTEGER"
		case domain.TypeFloat:
			return "REAL"
		default:
			return "TEXT"
		}
	},
}

var postgresDialect = dialect{
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	columnType: func(t domain.ColumnType) string {
		switch t {
		case domain.TypeInteger:
			return "BIGINT"
		case domain.TypeFloat:
			return "DOUBLE PRECISION"
		case domain.TypeTimestamp:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	},
}

// createTableSQL builds the destination DDL: the declared schema plus the
// interval key column.
func createTableSQL(d dialect, table string, cols []domain.Column) string {
	defs := make([]string, 0, len(cols)+1)
	defs = append(defs, fmt.Sprintf("%s TEXT NOT NULL", quoteIdent(intervalColumn)))
	for _, c := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c.Name), d.columnType(c.Type)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
}

// deleteSQL builds the partition delete.
func deleteSQL(d dialect, table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quoteIdent(table), quoteIdent(intervalColumn), d.placeholder(1))
}

// insertSQL builds the per-row insert.
func insertSQL(d dialect, table string, cols []domain.Column) string {
	names := make([]string, 0, len(cols)+1)
	holders := make([]string, 0, len(cols)+1)
	names = append(names, quoteIdent(intervalColumn))
	holders = append(holders, d.placeholder(1))
	for i, c := range cols {
		names = append(names, quoteIdent(c.Name))
		holders = append(holders, d.placeholder(i+2))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(holders, ", "))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
