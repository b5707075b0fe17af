package cdf

import "context"

// ListFilter narrows a List call. A nil filter lists everything.
type ListFilter struct {
	// Metadata restricts results to items whose metadata contains every
	// given key/value pair.
	Metadata map[string]string
	// Limit caps the number of items returned. Zero means no limit.
	Limit int
}

// Store is the uniform contract each resource kind's API surface offers.
// Create and Update return the written items as the API now sees them,
// with server-assigned fields populated.
type Store[T Resource] interface {
	List(ctx context.Context, filter *ListFilter) ([]T, error)
	// RetrieveMultiple fetches items by external id. With ignoreUnknown
	// set, unknown ids are silently dropped from the result; without it,
	// any unknown id fails the whole call with a not-found error.
	RetrieveMultiple(ctx context.Context, externalIDs []string, ignoreUnknown bool) ([]T, error)
	Create(ctx context.Context, items []T) ([]T, error)
	Update(ctx context.Context, items []T) ([]T, error)
	Delete(ctx context.Context, ids []int64) error
}

// AssetStore adds hierarchy traversal to the uniform store.
type AssetStore interface {
	Store[*Asset]
	// RetrieveSubtree returns the asset ref points at together with its
	// descendants, at most depth levels below it. A negative depth means
	// the whole subtree.
	RetrieveSubtree(ctx context.Context, ref ItemRef, depth int) ([]*Asset, error)
}

// SequenceStore adds row data access to the uniform store.
type SequenceStore interface {
	Store[*Sequence]
	// RetrieveRows fetches every row of the referenced sequence.
	RetrieveRows(ctx context.Context, ref ItemRef) (*SequenceRows, error)
	// InsertRows writes rows to the sequence referenced by the ID or
	// ExternalID carried on rows itself.
	InsertRows(ctx context.Context, rows *SequenceRows) error
}

// DataSetStore covers the data set operations the replicator needs. Data
// sets cannot be deleted, so the surface is narrower than Store.
type DataSetStore interface {
	List(ctx context.Context, filter *ListFilter) ([]*DataSet, error)
	// Retrieve returns the referenced data set, or nil when it does not
	// exist.
	Retrieve(ctx context.Context, ref ItemRef) (*DataSet, error)
	Create(ctx context.Context, items []*DataSet) ([]*DataSet, error)
}

// DatapointStore reads and writes numeric datapoints keyed by time
// series external id.
type DatapointStore interface {
	// RetrieveLatest returns the newest datapoint of the series, or nil
	// when the series has none.
	RetrieveLatest(ctx context.Context, externalID string) (*Datapoint, error)
	// Retrieve returns datapoints with timestamps in [start, end), at
	// most limit of them.
	Retrieve(ctx context.Context, externalID string, start, end int64, limit int) ([]Datapoint, error)
	Insert(ctx context.Context, externalID string, datapoints []Datapoint) error
	DeleteRange(ctx context.Context, externalID string, start, end int64) error
}

// RawStore reads and writes raw staging databases, tables and rows.
type RawStore interface {
	ListDatabases(ctx context.Context) ([]RawDatabase, error)
	CreateDatabases(ctx context.Context, names []string) ([]RawDatabase, error)
	ListTables(ctx context.Context, database string) ([]RawTable, error)
	CreateTables(ctx context.Context, database string, names []string) ([]RawTable, error)
	// Rows streams the rows of a table in chunks of at most chunkSize,
	// calling fn once per chunk. Iteration stops at fn's first error.
	Rows(ctx context.Context, database, table string, chunkSize int, fn func([]RawRow) error) error
	InsertRows(ctx context.Context, database, table string, rows []RawRow) error
}

// Client bundles every store of one project behind one set of
// credentials.
type Client interface {
	Project() string
	// Login verifies the credentials and reports the project they
	// resolve to.
	Login(ctx context.Context) (*LoginStatus, error)
	Assets() AssetStore
	Events() Store[*Event]
	TimeSeries() Store[*TimeSeries]
	Files() Store[*FileMetadata]
	Sequences() SequenceStore
	Relationships() Store[*Relationship]
	DataSets() DataSetStore
	Datapoints() DatapointStore
	Raw() RawStore
}
