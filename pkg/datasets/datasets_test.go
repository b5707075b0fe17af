package datasets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
	"github.com/cognitedata/cdf-replicator/pkg/cdf/cdftest"
)

func TestResolveZero(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")

	got, err := NewResolver(src, dst).Resolve(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestResolveByExternalID(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	src.DataSetData.Add(&cdf.DataSet{ID: 5, ExternalID: "quality", Name: "Quality"})
	dst.DataSetData.Add(&cdf.DataSet{ID: 50, ExternalID: "quality", Name: "Quality (dst)"})

	got, err := NewResolver(src, dst).Resolve(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(50), got)
	require.Zero(t, dst.DataSetData.CreateCalls)
}

func TestResolveByName(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	// No external id on the source set, so matching falls through to the
	// name.
	src.DataSetData.Add(&cdf.DataSet{ID: 5, Name: "Quality"})
	dst.DataSetData.Add(&cdf.DataSet{ID: 50, Name: "Quality"})

	got, err := NewResolver(src, dst).Resolve(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(50), got)
	require.Zero(t, dst.DataSetData.CreateCalls)
}

func TestResolveCreatesMissingDataSet(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	src.DataSetData.Add(&cdf.DataSet{
		ID:             5,
		ExternalID:     "quality",
		Name:           "Quality",
		Description:    "lab measurements",
		Metadata:       map[string]string{"owner": "lab"},
		WriteProtected: true,
	})

	got, err := NewResolver(src, dst).Resolve(context.Background(), 5)
	require.NoError(t, err)

	items := dst.DataSetData.Items()
	require.Len(t, items, 1)
	require.Equal(t, got, items[0].ID)
	require.Equal(t, "quality", items[0].ExternalID)
	require.Equal(t, "Quality", items[0].Name)
	require.Equal(t, "lab measurements", items[0].Description)
	require.Equal(t, "lab", items[0].Metadata["owner"])
	require.True(t, items[0].WriteProtected)
}

func TestResolveMemoizes(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")
	src.DataSetData.Add(&cdf.DataSet{ID: 5, Name: "Quality"})

	r := NewResolver(src, dst)
	first, err := r.Resolve(context.Background(), 5)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), 5)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, dst.DataSetData.CreateCalls)
	require.Equal(t, map[int64]int64{5: first}, r.Known())
}

func TestResolveMissingSourceDataSet(t *testing.T) {
	src := cdftest.NewClient("src-project")
	dst := cdftest.NewClient("dst-project")

	_, err := NewResolver(src, dst).Resolve(context.Background(), 99)
	require.Error(t, err)
}
