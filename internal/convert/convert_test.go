package convert

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeflow/internal/domain"
)

func newTestConverter(t *testing.T) *DuckConverter {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDuckConverter(db, slog.New(slog.DiscardHandler))
}

func tripsSchema() []domain.Column {
	return []domain.Column{
		{Name: "trip_id", Type: domain.TypeInteger},
		{Name: "pickup_at", Type: domain.TypeTimestamp},
		{Name: "fare", Type: domain.TypeFloat},
		{Name: "zone", Type: domain.TypeString},
	}
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trips.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validCSV = `trip_id,pickup_at,fare,zone
1,2024-01-01 08:00:00,10.50,midtown
2,2024-01-01 08:05:00,7.25,downtown
3,2024-01-01 09:30:00,22.00,airport
`

func TestConvertPreservesRowCount(t *testing.T) {
	c := newTestConverter(t)
	src := writeCSV(t, validCSV)
	dest := filepath.Join(t.TempDir(), "trips.parquet")

	rows, err := c.Convert(context.Background(), src, dest, tripsSchema())
	require.NoError(t, err)
	assert.EqualValues(t, 3, rows)

	_, err = os.Stat(dest)
	require.NoError(t, err)
}

func TestConvertIdempotentOverwrite(t *testing.T) {
	c := newTestConverter(t)
	src := writeCSV(t, validCSV)
	dest := filepath.Join(t.TempDir(), "trips.parquet")

	_, err := c.Convert(context.Background(), src, dest, tripsSchema())
	require.NoError(t, err)

	// Second run at the same path replaces the artifact, no duplication.
	rows, err := c.Convert(context.Background(), src, dest, tripsSchema())
	require.NoError(t, err)
	assert.EqualValues(t, 3, rows)

	rs, err := c.ReadRows(context.Background(), dest, tripsSchema())
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 3)
}

func TestConvertSchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"missing_column", "trip_id,pickup_at,fare\n1,2024-01-01 08:00:00,10.50\n"},
		{"extra_column", "trip_id,pickup_at,fare,zone,tip\n1,2024-01-01 08:00:00,10.50,midtown,2.0\n"},
		{"reordered_columns", "pickup_at,trip_id,fare,zone\n2024-01-01 08:00:00,1,10.50,midtown\n"},
		{"empty_file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConverter(t)
			src := writeCSV(t, tt.csv)
			dest := filepath.Join(t.TempDir(), "trips.parquet")

			_, err := c.Convert(context.Background(), src, dest, tripsSchema())
			require.Error(t, err)
			var mismatch *domain.SchemaMismatchError
			assert.ErrorAs(t, err, &mismatch)
		})
	}
}

func TestReadRowsRoundTrip(t *testing.T) {
	c := newTestConverter(t)
	src := writeCSV(t, validCSV)
	dest := filepath.Join(t.TempDir(), "trips.parquet")

	_, err := c.Convert(context.Background(), src, dest, tripsSchema())
	require.NoError(t, err)

	rs, err := c.ReadRows(context.Background(), dest, tripsSchema())
	require.NoError(t, err)
	require.Len(t, rs.Rows, 3)
	require.Len(t, rs.Columns, 4)
	assert.EqualValues(t, 1, rs.Rows[0][0])
	assert.Equal(t, "midtown", rs.Rows[0][3])
}

func TestConvertMissingSource(t *testing.T) {
	c := newTestConverter(t)
	_, err := c.Convert(context.Background(),
		filepath.Join(t.TempDir(), "absent.csv"),
		filepath.Join(t.TempDir(), "out.parquet"),
		tripsSchema())
	require.Error(t, err)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
