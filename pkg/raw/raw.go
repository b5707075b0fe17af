// Package raw mirrors raw staging databases, tables and rows into the
// destination project. Raw rows carry no metadata, so there is no
// provenance and no diffing: every run re-streams the source rows and
// overwrites by key.
package raw

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/raw")

// Options control one raw replication run.
type Options struct {
	// ChunkSize caps the number of rows fetched and inserted at a time.
	ChunkSize int
}

// tableSet is one source database with its tables, in listing order.
type tableSet struct {
	database string
	tables   []string
}

// NotCreatedNames returns the source names missing from the destination,
// in source order.
func NotCreatedNames(srcNames, dstNames []string) []string {
	dstSet := mapset.NewThreadUnsafeSet(dstNames...)
	var missing []string
	for _, name := range srcNames {
		if !dstSet.Contains(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Replicate copies every raw database, table and row from the source
// project into the destination.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "raw.Replicate")
	defer span.End()
	l := ctxzap.Extract(ctx)

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = replication.DefaultBatchSize
	}

	schema, err := ensureSchema(ctx, src, dst)
	if err != nil {
		return err
	}
	tables := 0
	for _, set := range schema {
		tables += len(set.tables)
	}
	l.Info("raw schema in place",
		zap.Int("databases", len(schema)),
		zap.Int("tables", tables))

	totalRows := 0
	for _, set := range schema {
		for _, table := range set.tables {
			rows, err := copyTable(ctx, src, dst, set.database, table, opts.ChunkSize)
			if err != nil {
				return err
			}
			totalRows += rows
			l.Debug("copied raw table",
				zap.String("database", set.database),
				zap.String("table", table),
				zap.Int("rows", rows))
		}
	}
	l.Info("finished raw replication", zap.Int("rows", totalRows))
	return nil
}

// ensureSchema creates the source databases and tables missing from the
// destination and returns the full source schema.
func ensureSchema(ctx context.Context, src, dst cdf.Client) ([]tableSet, error) {
	srcDBs, err := src.Raw().ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing source raw databases: %w", err)
	}
	dstDBs, err := dst.Raw().ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing destination raw databases: %w", err)
	}

	missing := NotCreatedNames(databaseNames(srcDBs), databaseNames(dstDBs))
	if len(missing) > 0 {
		created, err := dst.Raw().CreateDatabases(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("creating raw databases: %w", err)
		}
		if len(created) != len(missing) {
			return nil, fmt.Errorf("created %d of %d missing raw databases", len(created), len(missing))
		}
	}

	schema := make([]tableSet, 0, len(srcDBs))
	for _, db := range srcDBs {
		srcTables, err := src.Raw().ListTables(ctx, db.Name)
		if err != nil {
			return nil, fmt.Errorf("listing source raw tables of %s: %w", db.Name, err)
		}
		dstTables, err := dst.Raw().ListTables(ctx, db.Name)
		if err != nil {
			return nil, fmt.Errorf("listing destination raw tables of %s: %w", db.Name, err)
		}
		missing := NotCreatedNames(tableNames(srcTables), tableNames(dstTables))
		if len(missing) > 0 {
			created, err := dst.Raw().CreateTables(ctx, db.Name, missing)
			if err != nil {
				return nil, fmt.Errorf("creating raw tables in %s: %w", db.Name, err)
			}
			if len(created) != len(missing) {
				return nil, fmt.Errorf("created %d of %d missing raw tables in %s", len(created), len(missing), db.Name)
			}
		}
		schema = append(schema, tableSet{database: db.Name, tables: tableNames(srcTables)})
	}
	return schema, nil
}

// copyTable streams one table's rows from the source into the
// destination and returns the number of rows written.
func copyTable(ctx context.Context, src, dst cdf.Client, database, table string, chunkSize int) (int, error) {
	copied := 0
	err := src.Raw().Rows(ctx, database, table, chunkSize, func(chunk []cdf.RawRow) error {
		_, err := replication.Retry(ctx, chunk, func(ctx context.Context, rows []cdf.RawRow) ([]cdf.RawRow, error) {
			return rows, dst.Raw().InsertRows(ctx, database, table, rows)
		})
		if err != nil {
			return fmt.Errorf("inserting raw rows into %s/%s: %w", database, table, err)
		}
		copied += len(chunk)
		return nil
	})
	return copied, err
}

func databaseNames(dbs []cdf.RawDatabase) []string {
	out := make([]string, len(dbs))
	for i, db := range dbs {
		out[i] = db.Name
	}
	return out
}

func tableNames(tables []cdf.RawTable) []string {
	out := make([]string, len(tables))
	for i, table := range tables {
		out[i] = table.Name
	}
	return out
}
