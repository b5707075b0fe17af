// Package files replicates file metadata records between projects. File
// content is never transferred; copies describe the original file but
// hold no bytes.
package files

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

var tracer = otel.Tracer("github.com/cognitedata/cdf-replicator/pkg/files")

// Options control one file metadata replication run.
type Options struct {
	BatchSize  int
	NumWorkers int
	// DeleteStale removes replicated records whose source file no longer
	// exists.
	DeleteStale bool
	// DeleteForeign removes destination records that were not written by
	// the replicator.
	DeleteForeign bool
	// AssetIDs overrides the asset id mapping normally derived from the
	// destination asset listing.
	AssetIDs *replication.IDMap
}

// mimeTypes maps the bare-extension shorthand found in older tenants to
// the full types the files API accepts.
var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"json": "application/json",
	"xml":  "application/xml",
	"zip":  "application/zip",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"tiff": "image/tiff",
	"svg":  "image/svg+xml",
}

// normalizeMimeType upgrades known shorthand to a full MIME type.
// Anything already containing a subtype separator passes through, as
// does unknown shorthand, which the create recovery handles instead.
func normalizeMimeType(s string) string {
	if s == "" || strings.Contains(s, "/") {
		return s
	}
	if full, ok := mimeTypes[strings.ToLower(s)]; ok {
		return full
	}
	return s
}

// isInvalidMimeType reports whether a create was rejected because the
// API did not accept a record's MIME type.
func isInvalidMimeType(err error) bool {
	var cdfErr *cdf.Error
	if !errors.As(err, &cdfErr) {
		return false
	}
	return cdfErr.Code == 400 && strings.Contains(strings.ToLower(cdfErr.Message), "mime")
}

func buildFile(src *cdf.FileMetadata, ids *replication.IDMap, projectSrc string, runTime int64) *cdf.FileMetadata {
	return &cdf.FileMetadata{
		ExternalID:         src.ExternalID,
		Name:               src.Name,
		Directory:          src.Directory,
		Source:             src.Source,
		MimeType:           normalizeMimeType(src.MimeType),
		Metadata:           replication.NewMetadata(src, projectSrc, runTime),
		AssetIDs:           ids.MapAssetIDs(src.AssetIDs),
		SourceCreatedTime:  src.SourceCreatedTime,
		SourceModifiedTime: src.SourceModifiedTime,
	}
}

// updateFile leaves MimeType alone: the type was fixed when the record
// was created and the files API treats it as immutable.
func updateFile(src, dst *cdf.FileMetadata, ids *replication.IDMap, projectSrc string, runTime int64) *cdf.FileMetadata {
	dst.ExternalID = src.ExternalID
	dst.Name = src.Name
	dst.Directory = src.Directory
	dst.Source = src.Source
	dst.Metadata = replication.NewMetadata(src, projectSrc, runTime)
	dst.AssetIDs = ids.MapAssetIDs(src.AssetIDs)
	dst.SourceCreatedTime = src.SourceCreatedTime
	dst.SourceModifiedTime = src.SourceModifiedTime
	return dst
}

func copyBatch(ctx context.Context, store cdf.Store[*cdf.FileMetadata], batch []*cdf.FileMetadata, dstBySrcID map[int64]*cdf.FileMetadata, ids *replication.IDMap, projectSrc string, runTime int64) error {
	l := ctxzap.Extract(ctx)

	createList, updateList, unchanged := replication.MakeObjectsBatch(batch, dstBySrcID, nil,
		func(src *cdf.FileMetadata) *cdf.FileMetadata { return buildFile(src, ids, projectSrc, runTime) },
		func(src, dst *cdf.FileMetadata) *cdf.FileMetadata { return updateFile(src, dst, ids, projectSrc, runTime) },
	)

	created, err := replication.Retry(ctx, createList, store.Create)
	if err != nil && isInvalidMimeType(err) {
		l.Warn("file create rejected over MIME type, retrying batch without it", zap.Error(err))
		for _, f := range createList {
			f.MimeType = ""
		}
		created, err = replication.Retry(ctx, createList, store.Create)
	}
	if err != nil {
		return fmt.Errorf("creating file records: %w", err)
	}
	updated, err := replication.Retry(ctx, updateList, store.Update)
	if err != nil {
		return fmt.Errorf("updating file records: %w", err)
	}

	l.Info("replicated file batch",
		zap.Int("created", len(created)),
		zap.Int("updated", len(updated)),
		zap.Int("unchanged", len(unchanged)))
	return nil
}

// Replicate copies every file metadata record from the source project
// into the destination project, updating copies whose source changed
// since the last run.
func Replicate(ctx context.Context, src, dst cdf.Client, opts Options) error {
	ctx, span := tracer.Start(ctx, "files.Replicate")
	defer span.End()
	l := ctxzap.Extract(ctx)

	if opts.BatchSize <= 0 {
		opts.BatchSize = replication.DefaultBatchSize
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	projectSrc := src.Project()
	projectDst := dst.Project()

	srcFiles, err := src.Files().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing source files: %w", err)
	}
	dstFiles, err := dst.Files().List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing destination files: %w", err)
	}
	l.Info("listed file records",
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst),
		zap.Int("source", len(srcFiles)),
		zap.Int("destination", len(dstFiles)))

	ids := opts.AssetIDs
	if ids == nil {
		dstAssets, err := dst.Assets().List(ctx, nil)
		if err != nil {
			return fmt.Errorf("listing destination assets: %w", err)
		}
		ids = replication.NewIDMap()
		replication.RecordAll(ids, dstAssets)
	}

	runTime := replication.Now()
	dstBySrcID := replication.IDObjectMap(dstFiles)

	err = replication.RunChunked(ctx, srcFiles, opts.BatchSize, opts.NumWorkers, func(ctx context.Context, batch []*cdf.FileMetadata) error {
		return copyBatch(ctx, dst.Files(), batch, dstBySrcID, ids, projectSrc, runTime)
	})
	if err != nil {
		return err
	}
	l.Info("finished copying file records",
		zap.Int("count", len(srcFiles)),
		zap.String("source_project", projectSrc),
		zap.String("destination_project", projectDst))

	if opts.DeleteStale {
		staleIDs := replication.FindStaleIDs(srcFiles, dstFiles)
		if err := deleteFiles(ctx, dst, staleIDs); err != nil {
			return err
		}
		l.Info("deleted file records missing from source", zap.Int("count", len(staleIDs)))
	}
	if opts.DeleteForeign {
		foreignIDs := replication.FindForeignIDs(dstFiles)
		if err := deleteFiles(ctx, dst, foreignIDs); err != nil {
			return err
		}
		l.Info("deleted file records not written by replication", zap.Int("count", len(foreignIDs)))
	}
	return nil
}

func deleteFiles(ctx context.Context, dst cdf.Client, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := dst.Files().Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting file records: %w", err)
	}
	return nil
}
