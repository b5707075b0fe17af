package files

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/cdf/cdftest"
	"github.com/cognitedata/cdf-replicator/pkg/replication"
)

func newProjects(t *testing.T) (*cdftest.Client, *cdftest.Client) {
	t.Helper()
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	dst.AssetData.Add(&cdf.Asset{
		ID:       101,
		Name:     "pump",
		Metadata: map[string]string{replication.ReplicatedInternalIDKey: "11"},
	})
	return src, dst
}

func replicatedCopy(srcID, replicatedTime int64) map[string]string {
	return map[string]string{
		replication.ReplicatedSourceKey:     "src-project",
		replication.ReplicatedTimeKey:       strconv.FormatInt(replicatedTime, 10),
		replication.ReplicatedInternalIDKey: strconv.FormatInt(srcID, 10),
	}
}

func TestNormalizeMimeType(t *testing.T) {
	for in, want := range map[string]string{
		"":                "",
		"pdf":             "application/pdf",
		"PDF":             "application/pdf",
		"jpg":             "image/jpeg",
		"application/pdf": "application/pdf",
		"image/tiff":      "image/tiff",
		"wat":             "wat",
	} {
		require.Equal(t, want, normalizeMimeType(in), "input %q", in)
	}
}

func TestReplicateCreates(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{
		ID:                 11,
		ExternalID:         "report-1",
		Name:               "report.pdf",
		Directory:          "/reports",
		Source:             "scanner",
		MimeType:           "pdf",
		AssetIDs:           []int64{11},
		SourceCreatedTime:  500,
		SourceModifiedTime: 600,
		Uploaded:           true,
		UploadedTime:       700,
	})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	got := dst.FileData.Items()
	require.Len(t, got, 1)

	f := got[0]
	require.Equal(t, "report-1", f.ExternalID)
	require.Equal(t, "report.pdf", f.Name)
	require.Equal(t, "/reports", f.Directory)
	require.Equal(t, "scanner", f.Source)
	require.Equal(t, "application/pdf", f.MimeType, "shorthand MIME types are normalized on create")
	require.Equal(t, []int64{101}, f.AssetIDs)
	require.Equal(t, int64(500), f.SourceCreatedTime)
	require.Equal(t, int64(600), f.SourceModifiedTime)
	require.False(t, f.Uploaded, "copies never carry content")
	require.Zero(t, f.UploadedTime)
	require.Equal(t, "src-project", f.Metadata[replication.ReplicatedSourceKey])
	require.Equal(t, int64(11), replication.ReplicatedInternalID(f))
}

func TestReplicateUpdatesKeepMimeType(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{
		ID:              11,
		ExternalID:      "scan-1",
		Name:            "renamed.tiff",
		MimeType:        "application/pdf",
		LastUpdatedTime: 2000,
	})
	dst.FileData.Add(&cdf.FileMetadata{
		ID:         201,
		ExternalID: "scan-1",
		Name:       "scan.tiff",
		MimeType:   "image/tiff",
		Metadata:   replicatedCopy(11, 1000),
	})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, 0, dst.FileData.CreateCalls)
	require.Equal(t, 1, dst.FileData.UpdateCalls)

	got := dst.FileData.Items()
	require.Len(t, got, 1)
	require.Equal(t, "renamed.tiff", got[0].Name)
	require.Equal(t, "image/tiff", got[0].MimeType, "the recorded type is immutable after create")
	require.Greater(t, replication.ReplicatedTime(got[0]), int64(1000))
}

func TestUnchangedWhenCopyIsCurrent(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{ID: 11, ExternalID: "scan-1", LastUpdatedTime: 900})
	dst.FileData.Add(&cdf.FileMetadata{
		ID:         201,
		ExternalID: "scan-1",
		Metadata:   replicatedCopy(11, 1000),
	})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, 0, dst.FileData.CreateCalls)
	require.Equal(t, 0, dst.FileData.UpdateCalls)
}

func TestRecoversFromInvalidMimeType(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{ID: 11, ExternalID: "blob-1", MimeType: "wat"})
	dst.FileData.FailNextCreate(&cdf.Error{Code: 400, Message: "Invalid mime type: wat"})

	require.NoError(t, Replicate(context.Background(), src, dst, Options{}))

	require.Equal(t, 2, dst.FileData.CreateCalls, "one rejected create, one retry without the type")
	got := dst.FileData.Items()
	require.Len(t, got, 1)
	require.Empty(t, got[0].MimeType)
}

func TestOtherValidationErrorsAreNotRecovered(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{ID: 11, ExternalID: "blob-1"})
	dst.FileData.FailNextCreate(&cdf.Error{Code: 400, Message: "malformed request"})

	err := Replicate(context.Background(), src, dst, Options{})
	require.Error(t, err)
	require.Equal(t, 1, dst.FileData.CreateCalls)
}

func TestDeleteStaleRemovesFileRecords(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{ID: 11, ExternalID: "scan-1"})
	dst.FileData.Add(
		&cdf.FileMetadata{ID: 201, ExternalID: "scan-1", Metadata: replicatedCopy(11, 1000)},
		&cdf.FileMetadata{ID: 202, ExternalID: "gone-1", Metadata: replicatedCopy(12, 1000)},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{DeleteStale: true}))

	require.Equal(t, []int64{202}, dst.FileData.Deleted)
}

func TestDeleteForeign(t *testing.T) {
	src, dst := newProjects(t)
	dst.FileData.Add(
		&cdf.FileMetadata{ID: 201, ExternalID: "native-1"},
	)

	require.NoError(t, Replicate(context.Background(), src, dst, Options{DeleteForeign: true}))

	require.Equal(t, []int64{201}, dst.FileData.Deleted)
}

func TestDuplicateExternalIDFailsTheBatch(t *testing.T) {
	src, dst := newProjects(t)
	src.FileData.Add(&cdf.FileMetadata{ID: 11, ExternalID: "report-1"})
	dst.FileData.Add(&cdf.FileMetadata{ID: 201, ExternalID: "report-1", Name: "native"})

	err := Replicate(context.Background(), src, dst, Options{})
	require.Error(t, err)
	require.True(t, cdf.IsDuplicated(err))
}
