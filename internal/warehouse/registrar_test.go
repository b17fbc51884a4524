package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeflow/internal/domain"
)

func newTestRegistrar(t *testing.T) (*DuckRegistrar, *sql.DB) {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDuckRegistrar(db, slog.New(slog.DiscardHandler)), db
}

// writeParquet materializes a small trips partition as a Parquet file.
func writeParquet(t *testing.T, db *sql.DB, dir, name string, firstID int, rows int) {
	t.Helper()
	path := filepath.Join(dir, name)
	stmt := fmt.Sprintf(
		"COPY (SELECT %d + range AS trip_id, 10.0 + range AS fare FROM range(%d)) TO '%s' (FORMAT PARQUET)",
		firstID, rows, path)
	_, err := db.Exec(stmt)
	require.NoError(t, err)
}

func TestDeclareExternalTable(t *testing.T) {
	r, db := newTestRegistrar(t)
	dir := t.TempDir()
	writeParquet(t, db, dir, "2024-01-01.parquet", 1, 3)
	writeParquet(t, db, dir, "2024-01-02.parquet", 100, 2)

	schema := []domain.Column{
		{Name: "trip_id", Type: domain.TypeInteger},
		{Name: "fare", Type: domain.TypeFloat},
	}
	glob := filepath.Join(dir, "*.parquet")

	require.NoError(t, r.DeclareExternalTable(context.Background(), "trips_external", glob, schema))

	var n int64
	require.NoError(t, db.QueryRow("SELECT count(*) FROM trips_external").Scan(&n))
	assert.EqualValues(t, 5, n, "view spans every partition in the glob")
}

func TestDeclareIsCreateOrReplace(t *testing.T) {
	r, db := newTestRegistrar(t)
	dir := t.TempDir()
	writeParquet(t, db, dir, "2024-01-01.parquet", 1, 3)
	glob := filepath.Join(dir, "*.parquet")

	schema := []domain.Column{
		{Name: "trip_id", Type: domain.TypeInteger},
		{Name: "fare", Type: domain.TypeFloat},
	}

	// Declaring twice with identical arguments must not error and must leave
	// one working view.
	require.NoError(t, r.DeclareExternalTable(context.Background(), "trips_external", glob, schema))
	require.NoError(t, r.DeclareExternalTable(context.Background(), "trips_external", glob, schema))

	var n int64
	require.NoError(t, db.QueryRow("SELECT count(*) FROM trips_external").Scan(&n))
	assert.EqualValues(t, 3, n)

	// The view tracks the backing files: a refreshed partition shows up on
	// the next query with no re-declaration needed.
	writeParquet(t, db, dir, "2024-01-01.parquet", 1, 4)
	require.NoError(t, db.QueryRow("SELECT count(*) FROM trips_external").Scan(&n))
	assert.EqualValues(t, 4, n)
}

func TestDeclareInferredSchema(t *testing.T) {
	r, db := newTestRegistrar(t)
	dir := t.TempDir()
	writeParquet(t, db, dir, "2024-01-01.parquet", 1, 2)

	require.NoError(t, r.DeclareExternalTable(context.Background(), "trips_external",
		filepath.Join(dir, "*.parquet"), nil))

	var n int64
	require.NoError(t, db.QueryRow("SELECT count(*) FROM trips_external").Scan(&n))
	assert.EqualValues(t, 2, n)
}

func TestDeclareInferenceFailure(t *testing.T) {
	r, _ := newTestRegistrar(t)

	// No schema declared, nothing to infer from: SchemaInferenceError.
	err := r.DeclareExternalTable(context.Background(), "trips_external",
		filepath.Join(t.TempDir(), "*.parquet"), nil)
	require.Error(t, err)
	var inference *domain.SchemaInferenceError
	assert.ErrorAs(t, err, &inference)
}

func TestDeclareValidation(t *testing.T) {
	r, _ := newTestRegistrar(t)

	var verr *domain.ValidationError
	err := r.DeclareExternalTable(context.Background(), "", "glob", nil)
	assert.ErrorAs(t, err, &verr)

	err = r.DeclareExternalTable(context.Background(), "t", "", nil)
	assert.ErrorAs(t, err, &verr)
}
