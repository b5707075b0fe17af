package cdf

// Resource is the capability surface shared by every replicable record.
// The replication core only ever needs these four accessors; everything
// else about a record is opaque to it.
type Resource interface {
	ResourceID() int64
	ResourceExternalID() string
	ResourceLastUpdated() int64
	ResourceMetadata() map[string]string
}

// AssetLinked is the capability of resource kinds that can reference
// assets. Kinds with a single asset link report it as a one-element
// slice. A nil result means the object references no assets at all,
// which is different from referencing assets that do not resolve.
type AssetLinked interface {
	Resource
	ResourceAssetIDs() []int64
}

// ItemRef points at a single item by internal or external id. Exactly one
// of the fields is set.
type ItemRef struct {
	ID         int64  `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}

// Asset is a node in a project's asset hierarchy. ParentID is zero on
// root assets.
type Asset struct {
	ID               int64             `json:"id,omitempty"`
	ExternalID       string            `json:"externalId,omitempty"`
	Name             string            `json:"name,omitempty"`
	ParentID         int64             `json:"parentId,omitempty"`
	ParentExternalID string            `json:"parentExternalId,omitempty"`
	Description      string            `json:"description,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Source           string            `json:"source,omitempty"`
	DataSetID        int64             `json:"dataSetId,omitempty"`
	RootID           int64             `json:"rootId,omitempty"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
	LastUpdatedTime  int64             `json:"lastUpdatedTime,omitempty"`
}

func (a *Asset) ResourceID() int64                   { return a.ID }
func (a *Asset) ResourceExternalID() string          { return a.ExternalID }
func (a *Asset) ResourceLastUpdated() int64          { return a.LastUpdatedTime }
func (a *Asset) ResourceMetadata() map[string]string { return a.Metadata }

// Event is a point or interval occurrence tied to zero or more assets.
type Event struct {
	ID              int64             `json:"id,omitempty"`
	ExternalID      string            `json:"externalId,omitempty"`
	StartTime       int64             `json:"startTime,omitempty"`
	EndTime         int64             `json:"endTime,omitempty"`
	Type            string            `json:"type,omitempty"`
	Subtype         string            `json:"subtype,omitempty"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	AssetIDs        []int64           `json:"assetIds,omitempty"`
	Source          string            `json:"source,omitempty"`
	DataSetID       int64             `json:"dataSetId,omitempty"`
	CreatedTime     int64             `json:"createdTime,omitempty"`
	LastUpdatedTime int64             `json:"lastUpdatedTime,omitempty"`
}

func (e *Event) ResourceID() int64                   { return e.ID }
func (e *Event) ResourceExternalID() string          { return e.ExternalID }
func (e *Event) ResourceLastUpdated() int64          { return e.LastUpdatedTime }
func (e *Event) ResourceMetadata() map[string]string { return e.Metadata }
func (e *Event) ResourceAssetIDs() []int64           { return e.AssetIDs }

// TimeSeries describes a series of datapoints. AssetID is zero when the
// series is not linked to an asset.
type TimeSeries struct {
	ID                 int64             `json:"id,omitempty"`
	ExternalID         string            `json:"externalId,omitempty"`
	Name               string            `json:"name,omitempty"`
	IsString           bool              `json:"isString,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Unit               string            `json:"unit,omitempty"`
	AssetID            int64             `json:"assetId,omitempty"`
	IsStep             bool              `json:"isStep,omitempty"`
	Description        string            `json:"description,omitempty"`
	SecurityCategories []int64           `json:"securityCategories,omitempty"`
	DataSetID          int64             `json:"dataSetId,omitempty"`
	LegacyName         string            `json:"legacyName,omitempty"`
	CreatedTime        int64             `json:"createdTime,omitempty"`
	LastUpdatedTime    int64             `json:"lastUpdatedTime,omitempty"`
}

func (t *TimeSeries) ResourceID() int64                   { return t.ID }
func (t *TimeSeries) ResourceExternalID() string          { return t.ExternalID }
func (t *TimeSeries) ResourceLastUpdated() int64          { return t.LastUpdatedTime }
func (t *TimeSeries) ResourceMetadata() map[string]string { return t.Metadata }

func (t *TimeSeries) ResourceAssetIDs() []int64 {
	if t.AssetID == 0 {
		return nil
	}
	return []int64{t.AssetID}
}

// FileMetadata is the descriptive record of a file. The replicator copies
// records only, never file content, so Uploaded is always false on copies.
type FileMetadata struct {
	ID                 int64             `json:"id,omitempty"`
	ExternalID         string            `json:"externalId,omitempty"`
	Name               string            `json:"name,omitempty"`
	Directory          string            `json:"directory,omitempty"`
	Source             string            `json:"source,omitempty"`
	MimeType           string            `json:"mimeType,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	AssetIDs           []int64           `json:"assetIds,omitempty"`
	DataSetID          int64             `json:"dataSetId,omitempty"`
	SourceCreatedTime  int64             `json:"sourceCreatedTime,omitempty"`
	SourceModifiedTime int64             `json:"sourceModifiedTime,omitempty"`
	Uploaded           bool              `json:"uploaded,omitempty"`
	UploadedTime       int64             `json:"uploadedTime,omitempty"`
	CreatedTime        int64             `json:"createdTime,omitempty"`
	LastUpdatedTime    int64             `json:"lastUpdatedTime,omitempty"`
}

func (f *FileMetadata) ResourceID() int64                   { return f.ID }
func (f *FileMetadata) ResourceExternalID() string          { return f.ExternalID }
func (f *FileMetadata) ResourceLastUpdated() int64          { return f.LastUpdatedTime }
func (f *FileMetadata) ResourceMetadata() map[string]string { return f.Metadata }
func (f *FileMetadata) ResourceAssetIDs() []int64           { return f.AssetIDs }

// SequenceColumn describes one column of a sequence.
type SequenceColumn struct {
	ExternalID  string            `json:"externalId,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	ValueType   string            `json:"valueType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Sequence is a table-like resource with typed columns and numbered rows.
type Sequence struct {
	ID              int64             `json:"id,omitempty"`
	ExternalID      string            `json:"externalId,omitempty"`
	Name            string            `json:"name,omitempty"`
	Description     string            `json:"description,omitempty"`
	AssetID         int64             `json:"assetId,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Columns         []SequenceColumn  `json:"columns,omitempty"`
	DataSetID       int64             `json:"dataSetId,omitempty"`
	CreatedTime     int64             `json:"createdTime,omitempty"`
	LastUpdatedTime int64             `json:"lastUpdatedTime,omitempty"`
}

func (s *Sequence) ResourceID() int64                   { return s.ID }
func (s *Sequence) ResourceExternalID() string          { return s.ExternalID }
func (s *Sequence) ResourceLastUpdated() int64          { return s.LastUpdatedTime }
func (s *Sequence) ResourceMetadata() map[string]string { return s.Metadata }

func (s *Sequence) ResourceAssetIDs() []int64 {
	if s.AssetID == 0 {
		return nil
	}
	return []int64{s.AssetID}
}

// SequenceRow is one numbered row of sequence data. Values are positional
// and follow the column order of the owning SequenceRows.
type SequenceRow struct {
	RowNumber int64 `json:"rowNumber"`
	Values    []any `json:"values"`
}

// SequenceRows is a page of rows together with the columns the values
// belong to.
type SequenceRows struct {
	ID         int64         `json:"id,omitempty"`
	ExternalID string        `json:"externalId,omitempty"`
	Columns    []string      `json:"columns,omitempty"`
	Rows       []SequenceRow `json:"rows,omitempty"`
}

// Relationship connects two resources by external id.
type Relationship struct {
	ID               int64             `json:"id,omitempty"`
	ExternalID       string            `json:"externalId,omitempty"`
	SourceExternalID string            `json:"sourceExternalId,omitempty"`
	SourceType       string            `json:"sourceType,omitempty"`
	TargetExternalID string            `json:"targetExternalId,omitempty"`
	TargetType       string            `json:"targetType,omitempty"`
	StartTime        int64             `json:"startTime,omitempty"`
	EndTime          int64             `json:"endTime,omitempty"`
	Confidence       float64           `json:"confidence,omitempty"`
	DataSetID        int64             `json:"dataSetId,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
	LastUpdatedTime  int64             `json:"lastUpdatedTime,omitempty"`
}

func (r *Relationship) ResourceID() int64                   { return r.ID }
func (r *Relationship) ResourceExternalID() string          { return r.ExternalID }
func (r *Relationship) ResourceLastUpdated() int64          { return r.LastUpdatedTime }
func (r *Relationship) ResourceMetadata() map[string]string { return r.Metadata }

// DataSet groups resources under a shared access and lineage scope.
type DataSet struct {
	ID              int64             `json:"id,omitempty"`
	ExternalID      string            `json:"externalId,omitempty"`
	Name            string            `json:"name,omitempty"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	WriteProtected  bool              `json:"writeProtected,omitempty"`
	CreatedTime     int64             `json:"createdTime,omitempty"`
	LastUpdatedTime int64             `json:"lastUpdatedTime,omitempty"`
}

func (d *DataSet) ResourceID() int64                   { return d.ID }
func (d *DataSet) ResourceExternalID() string          { return d.ExternalID }
func (d *DataSet) ResourceLastUpdated() int64          { return d.LastUpdatedTime }
func (d *DataSet) ResourceMetadata() map[string]string { return d.Metadata }

// Datapoint is a single numeric sample. String series are not modeled;
// callers skip them.
type Datapoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// RawDatabase is a named raw staging database.
type RawDatabase struct {
	Name string `json:"name"`
}

// RawTable is a named table within a raw database.
type RawTable struct {
	Name string `json:"name"`
}

// RawRow is one key-value row of a raw table. Column values are arbitrary
// JSON.
type RawRow struct {
	Key             string         `json:"key"`
	Columns         map[string]any `json:"columns"`
	LastUpdatedTime int64          `json:"lastUpdatedTime,omitempty"`
}

// LoginStatus reports the identity a client's credentials resolve to.
type LoginStatus struct {
	User     string `json:"user,omitempty"`
	LoggedIn bool   `json:"loggedIn"`
	Project  string `json:"project"`
}

var (
	_ Resource = (*Asset)(nil)
	_ Resource = (*Event)(nil)
	_ Resource = (*TimeSeries)(nil)
	_ Resource = (*FileMetadata)(nil)
	_ Resource = (*Sequence)(nil)
	_ Resource = (*Relationship)(nil)
	_ Resource = (*DataSet)(nil)

	_ AssetLinked = (*Event)(nil)
	_ AssetLinked = (*TimeSeries)(nil)
	_ AssetLinked = (*FileMetadata)(nil)
	_ AssetLinked = (*Sequence)(nil)
)
