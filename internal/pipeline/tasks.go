package pipeline

import (
	"context"
	"strings"

	"lakeflow/internal/domain"
)

// Task names of the standard ingestion graph.
const (
	TaskDownload = "download"
	TaskConvert  = "convert"
	TaskUpload   = "upload"
	TaskRegister = "register"
	TaskLoad     = "load"
)

// Components are the ports the standard ingestion graph is built from.
type Components struct {
	Fetcher   domain.Fetcher
	Converter domain.Converter
	Store     domain.ObjectStore
	Registrar domain.Registrar
	Loader    domain.Loader

	// StoreBaseURL is the object store root (e.g. "gs://bucket/lake") the
	// registrar's path glob is anchored at.
	StoreBaseURL string
}

// StandardTasks builds the five-node ingestion graph for a dataset:
//
//	download → convert → upload → register
//	                   ↘ load
//
// The warehouse branch (upload, register) and the relational branch (load)
// only share the convert artifact; a failure in one does not skip the other.
func StandardTasks(ds domain.Dataset, c Components) []TaskDefinition {
	return []TaskDefinition{
		{
			Name:   TaskDownload,
			Policy: ds.PolicyFor(TaskDownload),
			Run: func(ctx context.Context, rc RunContext) error {
				n, err := c.Fetcher.Fetch(ctx, rc.SourceURL(), rc.SourcePath())
				if err != nil {
					return err
				}
				rc.Logger.Info("source fetched", "bytes", n)
				return nil
			},
		},
		{
			Name:      TaskConvert,
			DependsOn: []string{TaskDownload},
			Policy:    ds.PolicyFor(TaskConvert),
			Run: func(ctx context.Context, rc RunContext) error {
				rows, err := c.Converter.Convert(ctx, rc.SourcePath(), rc.ArtifactPath(), rc.Dataset.Schema)
				if err != nil {
					return err
				}
				rc.Logger.Info("artifact written", "rows", rows)
				return nil
			},
		},
		{
			Name:      TaskUpload,
			DependsOn: []string{TaskConvert},
			Policy:    ds.PolicyFor(TaskUpload),
			Run: func(ctx context.Context, rc RunContext) error {
				uri, err := c.Store.Upload(ctx, rc.ArtifactPath(), rc.Dataset.ObjectKey(rc.Interval))
				if err != nil {
					return err
				}
				rc.Logger.Info("artifact uploaded", "uri", uri)
				return nil
			},
		},
		{
			Name:      TaskRegister,
			DependsOn: []string{TaskUpload},
			Policy:    ds.PolicyFor(TaskRegister),
			Run: func(ctx context.Context, rc RunContext) error {
				glob := joinStoreURL(c.StoreBaseURL, rc.Dataset.PathGlob())
				return c.Registrar.DeclareExternalTable(ctx, rc.Dataset.ExternalTable, glob, rc.Dataset.Schema)
			},
		},
		{
			Name:      TaskLoad,
			DependsOn: []string{TaskConvert},
			Policy:    ds.PolicyFor(TaskLoad),
			Run: func(ctx context.Context, rc RunContext) error {
				rows, err := c.Converter.ReadRows(ctx, rc.ArtifactPath(), rc.Dataset.Schema)
				if err != nil {
					return err
				}
				return c.Loader.Load(ctx, rc.Dataset.Table, rc.Interval, rows)
			},
		},
	}
}

func joinStoreURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
