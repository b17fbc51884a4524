package domain

import "context"

// RowSet is a tabular payload handed to the relational loader. Each row's
// values are positionally aligned with Columns.
type RowSet struct {
	Columns []Column
	Rows    [][]any
}

// ObjectStore uploads and downloads whole objects in a bucket namespace.
// Puts overwrite without error; there is no read-modify-write.
type ObjectStore interface {
	// Upload writes the file at localPath to key, returning the durable URI.
	// Fails with *TransferError on network or auth failure.
	Upload(ctx context.Context, localPath, key string) (string, error)
	// Download fetches uri into localPath. Fails with *NotFoundError when the
	// object does not exist, *TransferError on transient failure.
	Download(ctx context.Context, uri, localPath string) error
}

// Registrar declares external tables in the warehouse — pure pointers at
// object-store data, no copy. Re-declaring is create-or-replace.
type Registrar interface {
	DeclareExternalTable(ctx context.Context, table, pathGlob string, schema []Column) error
}

// Loader loads a row set into a relational destination. For a given interval
// the load is replace-before-insert inside one transaction: on failure the
// prior state of that interval is preserved.
type Loader interface {
	Load(ctx context.Context, table string, iv Interval, rows *RowSet) error
}

// Fetcher retrieves the raw source payload for an interval.
type Fetcher interface {
	// Fetch downloads url into destPath, returning the byte count.
	Fetch(ctx context.Context, url, destPath string) (int64, error)
}

// Converter turns a delimited source file into a columnar artifact.
type Converter interface {
	// Convert writes the Parquet artifact for srcPath to destPath and returns
	// the row count. Fails with *SchemaMismatchError when the source columns
	// are inconsistent with schema.
	Convert(ctx context.Context, srcPath, destPath string, schema []Column) (int64, error)
	// ReadRows scans a columnar artifact back into a RowSet for relational
	// loading.
	ReadRows(ctx context.Context, parquetPath string, schema []Column) (*RowSet, error)
}
