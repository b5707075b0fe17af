package cdftest

import (
	"context"
	"sort"
	"sync"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func copyInt64s(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	return append([]int64(nil), ids...)
}

func cloneAsset(a *cdf.Asset) *cdf.Asset {
	c := *a
	c.Metadata = copyMetadata(a.Metadata)
	return &c
}

func cloneEvent(e *cdf.Event) *cdf.Event {
	c := *e
	c.Metadata = copyMetadata(e.Metadata)
	c.AssetIDs = copyInt64s(e.AssetIDs)
	return &c
}

func cloneTimeSeries(ts *cdf.TimeSeries) *cdf.TimeSeries {
	c := *ts
	c.Metadata = copyMetadata(ts.Metadata)
	c.SecurityCategories = copyInt64s(ts.SecurityCategories)
	return &c
}

func cloneFile(f *cdf.FileMetadata) *cdf.FileMetadata {
	c := *f
	c.Metadata = copyMetadata(f.Metadata)
	c.AssetIDs = copyInt64s(f.AssetIDs)
	return &c
}

func cloneSequence(s *cdf.Sequence) *cdf.Sequence {
	c := *s
	c.Metadata = copyMetadata(s.Metadata)
	if s.Columns != nil {
		c.Columns = make([]cdf.SequenceColumn, len(s.Columns))
		for i, col := range s.Columns {
			c.Columns[i] = col
			c.Columns[i].Metadata = copyMetadata(col.Metadata)
		}
	}
	return &c
}

func cloneRelationship(r *cdf.Relationship) *cdf.Relationship {
	c := *r
	c.Metadata = copyMetadata(r.Metadata)
	return &c
}

func cloneDataSet(d *cdf.DataSet) *cdf.DataSet {
	c := *d
	c.Metadata = copyMetadata(d.Metadata)
	return &c
}

// AssetStore is the in-memory cdf.AssetStore.
type AssetStore struct {
	*Store[*cdf.Asset]
}

func newAssetStore() *AssetStore {
	return &AssetStore{Store: NewStore(cloneAsset, func(a *cdf.Asset, id, ts int64) {
		a.ID = id
		a.CreatedTime = ts
		a.LastUpdatedTime = ts
	})}
}

func (s *AssetStore) RetrieveSubtree(ctx context.Context, ref cdf.ItemRef, depth int) ([]*cdf.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var root *cdf.Asset
	for _, a := range s.items {
		if (ref.ID != 0 && a.ID == ref.ID) || (ref.ExternalID != "" && a.ExternalID == ref.ExternalID) {
			root = a
			break
		}
	}
	if root == nil {
		return nil, missingError([]cdf.ItemRef{ref})
	}

	out := []*cdf.Asset{s.clone(root)}
	frontier := []int64{root.ID}
	for level := 0; len(frontier) > 0 && (depth < 0 || level < depth); level++ {
		var next []int64
		for _, a := range s.items {
			for _, parent := range frontier {
				if a.ParentID == parent {
					out = append(out, s.clone(a))
					next = append(next, a.ID)
					break
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// SequenceStore is the in-memory cdf.SequenceStore. Row data lives beside
// the sequence records, keyed by sequence id.
type SequenceStore struct {
	*Store[*cdf.Sequence]
	rowsMu     sync.Mutex
	rows       map[int64][]cdf.SequenceRow
	rowCols    map[int64][]string
	insertErrs errQueue

	InsertRowCalls int
}

func newSequenceStore() *SequenceStore {
	return &SequenceStore{
		Store: NewStore(cloneSequence, func(s *cdf.Sequence, id, ts int64) {
			s.ID = id
			s.CreatedTime = ts
			s.LastUpdatedTime = ts
		}),
		rows:    make(map[int64][]cdf.SequenceRow),
		rowCols: make(map[int64][]string),
	}
}

func (s *SequenceStore) find(ref cdf.ItemRef) *cdf.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range s.items {
		if (ref.ID != 0 && seq.ID == ref.ID) || (ref.ExternalID != "" && seq.ExternalID == ref.ExternalID) {
			return s.clone(seq)
		}
	}
	return nil
}

// FailNextInsertRows queues errors returned by upcoming InsertRows calls.
func (s *SequenceStore) FailNextInsertRows(errs ...error) {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	s.insertErrs.push(errs...)
}

func (s *SequenceStore) RetrieveRows(ctx context.Context, ref cdf.ItemRef) (*cdf.SequenceRows, error) {
	seq := s.find(ref)
	if seq == nil {
		return nil, missingError([]cdf.ItemRef{ref})
	}
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	out := &cdf.SequenceRows{
		ID:         seq.ID,
		ExternalID: seq.ExternalID,
		Columns:    append([]string(nil), s.rowCols[seq.ID]...),
	}
	for _, row := range s.rows[seq.ID] {
		out.Rows = append(out.Rows, cdf.SequenceRow{
			RowNumber: row.RowNumber,
			Values:    append([]any(nil), row.Values...),
		})
	}
	return out, nil
}

func (s *SequenceStore) InsertRows(ctx context.Context, rows *cdf.SequenceRows) error {
	seq := s.find(cdf.ItemRef{ID: rows.ID, ExternalID: rows.ExternalID})
	if seq == nil {
		return missingError([]cdf.ItemRef{{ID: rows.ID, ExternalID: rows.ExternalID}})
	}
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	s.InsertRowCalls++
	if err := s.insertErrs.pop(); err != nil {
		return err
	}
	if len(rows.Columns) > 0 {
		s.rowCols[seq.ID] = append([]string(nil), rows.Columns...)
	}
	merged := s.rows[seq.ID]
	for _, row := range rows.Rows {
		replaced := false
		for i := range merged {
			if merged[i].RowNumber == row.RowNumber {
				merged[i] = row
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, row)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].RowNumber < merged[j].RowNumber })
	s.rows[seq.ID] = merged
	return nil
}

// DataSetStore is the in-memory cdf.DataSetStore.
type DataSetStore struct {
	mu     sync.Mutex
	items  []*cdf.DataSet
	nextID int64

	CreateCalls int
}

func newDataSetStore() *DataSetStore {
	return &DataSetStore{nextID: 1}
}

// Add seeds data sets verbatim, keeping their ids.
func (s *DataSetStore) Add(items ...*cdf.DataSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range items {
		s.items = append(s.items, cloneDataSet(d))
		if d.ID >= s.nextID {
			s.nextID = d.ID + 1
		}
	}
}

func (s *DataSetStore) Items() []*cdf.DataSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*cdf.DataSet, 0, len(s.items))
	for _, d := range s.items {
		out = append(out, cloneDataSet(d))
	}
	return out
}

func (s *DataSetStore) List(ctx context.Context, filter *cdf.ListFilter) ([]*cdf.DataSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*cdf.DataSet
	for _, d := range s.items {
		if !matchesFilter(d, filter) {
			continue
		}
		out = append(out, cloneDataSet(d))
		if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *DataSetStore) Retrieve(ctx context.Context, ref cdf.ItemRef) (*cdf.DataSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.items {
		if (ref.ID != 0 && d.ID == ref.ID) || (ref.ExternalID != "" && d.ExternalID == ref.ExternalID) {
			return cloneDataSet(d), nil
		}
	}
	return nil, nil
}

func (s *DataSetStore) Create(ctx context.Context, items []*cdf.DataSet) ([]*cdf.DataSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	ts := now()
	out := make([]*cdf.DataSet, 0, len(items))
	for _, d := range items {
		stored := cloneDataSet(d)
		stored.ID = s.nextID
		stored.CreatedTime = ts
		stored.LastUpdatedTime = ts
		s.nextID++
		s.items = append(s.items, stored)
		out = append(out, cloneDataSet(stored))
	}
	return out, nil
}

// DatapointStore is the in-memory cdf.DatapointStore. Series are keyed by
// external id and kept sorted by timestamp.
type DatapointStore struct {
	mu         sync.Mutex
	series     map[string][]cdf.Datapoint
	insertErrs errQueue

	InsertCalls int
}

func newDatapointStore() *DatapointStore {
	return &DatapointStore{series: make(map[string][]cdf.Datapoint)}
}

// Add seeds datapoints into one series, keeping it sorted.
func (s *DatapointStore) Add(externalID string, points ...cdf.Datapoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := append(s.series[externalID], points...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	s.series[externalID] = merged
}

// Series returns a snapshot of one series.
func (s *DatapointStore) Series(externalID string) []cdf.Datapoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cdf.Datapoint(nil), s.series[externalID]...)
}

// FailNextInsert queues errors returned by upcoming Insert calls.
func (s *DatapointStore) FailNextInsert(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErrs.push(errs...)
}

func (s *DatapointStore) RetrieveLatest(ctx context.Context, externalID string) (*cdf.Datapoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.series[externalID]
	if len(points) == 0 {
		return nil, nil
	}
	latest := points[len(points)-1]
	return &latest, nil
}

func (s *DatapointStore) Retrieve(ctx context.Context, externalID string, start, end int64, limit int) ([]cdf.Datapoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cdf.Datapoint
	for _, p := range s.series[externalID] {
		if p.Timestamp < start || p.Timestamp >= end {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *DatapointStore) Insert(ctx context.Context, externalID string, datapoints []cdf.Datapoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if err := s.insertErrs.pop(); err != nil {
		return err
	}
	merged := s.series[externalID]
	for _, p := range datapoints {
		replaced := false
		for i := range merged {
			if merged[i].Timestamp == p.Timestamp {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	s.series[externalID] = merged
	return nil
}

func (s *DatapointStore) DeleteRange(ctx context.Context, externalID string, start, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []cdf.Datapoint
	for _, p := range s.series[externalID] {
		if p.Timestamp >= start && p.Timestamp < end {
			continue
		}
		kept = append(kept, p)
	}
	s.series[externalID] = kept
	return nil
}

// RawStore is the in-memory cdf.RawStore. Databases and tables keep
// creation order.
type RawStore struct {
	mu         sync.Mutex
	dbOrder    []string
	tableOrder map[string][]string
	rows       map[string]map[string][]cdf.RawRow
	insertErrs errQueue

	InsertCalls int
}

func newRawStore() *RawStore {
	return &RawStore{
		tableOrder: make(map[string][]string),
		rows:       make(map[string]map[string][]cdf.RawRow),
	}
}

// FailNextInsertRows queues errors returned by upcoming InsertRows calls.
func (s *RawStore) FailNextInsertRows(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErrs.push(errs...)
}

// TableRows returns a snapshot of one table.
func (s *RawStore) TableRows(database, table string) []cdf.RawRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cdf.RawRow(nil), s.rows[database][table]...)
}

func (s *RawStore) ListDatabases(ctx context.Context) ([]cdf.RawDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cdf.RawDatabase, 0, len(s.dbOrder))
	for _, name := range s.dbOrder {
		out = append(out, cdf.RawDatabase{Name: name})
	}
	return out, nil
}

func (s *RawStore) CreateDatabases(ctx context.Context, names []string) ([]cdf.RawDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cdf.RawDatabase, 0, len(names))
	for _, name := range names {
		if _, ok := s.rows[name]; !ok {
			s.dbOrder = append(s.dbOrder, name)
			s.rows[name] = make(map[string][]cdf.RawRow)
		}
		out = append(out, cdf.RawDatabase{Name: name})
	}
	return out, nil
}

func (s *RawStore) ListTables(ctx context.Context, database string) ([]cdf.RawTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cdf.RawTable, 0, len(s.tableOrder[database]))
	for _, name := range s.tableOrder[database] {
		out = append(out, cdf.RawTable{Name: name})
	}
	return out, nil
}

func (s *RawStore) CreateTables(ctx context.Context, database string, names []string) ([]cdf.RawTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables, ok := s.rows[database]
	if !ok {
		return nil, missingError([]cdf.ItemRef{{ExternalID: database}})
	}
	out := make([]cdf.RawTable, 0, len(names))
	for _, name := range names {
		if _, ok := tables[name]; !ok {
			s.tableOrder[database] = append(s.tableOrder[database], name)
			tables[name] = nil
		}
		out = append(out, cdf.RawTable{Name: name})
	}
	return out, nil
}

func (s *RawStore) Rows(ctx context.Context, database, table string, chunkSize int, fn func([]cdf.RawRow) error) error {
	s.mu.Lock()
	rows := append([]cdf.RawRow(nil), s.rows[database][table]...)
	s.mu.Unlock()

	if chunkSize <= 0 {
		chunkSize = len(rows)
	}
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := fn(rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *RawStore) InsertRows(ctx context.Context, database, table string, rows []cdf.RawRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if err := s.insertErrs.pop(); err != nil {
		return err
	}
	tables, ok := s.rows[database]
	if !ok {
		return missingError([]cdf.ItemRef{{ExternalID: database}})
	}
	if _, ok := tables[table]; !ok {
		found := false
		for _, name := range s.tableOrder[database] {
			if name == table {
				found = true
				break
			}
		}
		if !found {
			return missingError([]cdf.ItemRef{{ExternalID: table}})
		}
	}
	merged := tables[table]
	for _, row := range rows {
		replaced := false
		for i := range merged {
			if merged[i].Key == row.Key {
				merged[i] = row
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, row)
		}
	}
	tables[table] = merged
	return nil
}

// Client is the in-memory cdf.Client. The store fields are exported so
// tests can seed data and inspect results without type assertions.
type Client struct {
	ProjectName string
	LoginUser   string
	LoginErr    error
	LoggedOut   bool

	AssetData        *AssetStore
	EventData        *Store[*cdf.Event]
	TimeSeriesData   *Store[*cdf.TimeSeries]
	FileData         *Store[*cdf.FileMetadata]
	SequenceData     *SequenceStore
	RelationshipData *Store[*cdf.Relationship]
	DataSetData      *DataSetStore
	DatapointData    *DatapointStore
	RawData          *RawStore
}

func NewClient(project string) *Client {
	return &Client{
		ProjectName: project,
		LoginUser:   "replicator@" + project,
		AssetData:   newAssetStore(),
		EventData: NewStore(cloneEvent, func(e *cdf.Event, id, ts int64) {
			e.ID = id
			e.CreatedTime = ts
			e.LastUpdatedTime = ts
		}),
		TimeSeriesData: NewStore(cloneTimeSeries, func(t *cdf.TimeSeries, id, ts int64) {
			t.ID = id
			t.CreatedTime = ts
			t.LastUpdatedTime = ts
		}),
		FileData: NewStore(cloneFile, func(f *cdf.FileMetadata, id, ts int64) {
			f.ID = id
			f.CreatedTime = ts
			f.LastUpdatedTime = ts
		}),
		SequenceData: newSequenceStore(),
		RelationshipData: NewStore(cloneRelationship, func(r *cdf.Relationship, id, ts int64) {
			r.ID = id
			r.CreatedTime = ts
			r.LastUpdatedTime = ts
		}),
		DataSetData:   newDataSetStore(),
		DatapointData: newDatapointStore(),
		RawData:       newRawStore(),
	}
}

func (c *Client) Project() string { return c.ProjectName }

func (c *Client) Login(ctx context.Context) (*cdf.LoginStatus, error) {
	if c.LoginErr != nil {
		return nil, c.LoginErr
	}
	return &cdf.LoginStatus{
		User:     c.LoginUser,
		LoggedIn: !c.LoggedOut,
		Project:  c.ProjectName,
	}, nil
}

func (c *Client) Assets() cdf.AssetStore                      { return c.AssetData }
func (c *Client) Events() cdf.Store[*cdf.Event]               { return c.EventData }
func (c *Client) TimeSeries() cdf.Store[*cdf.TimeSeries]      { return c.TimeSeriesData }
func (c *Client) Files() cdf.Store[*cdf.FileMetadata]         { return c.FileData }
func (c *Client) Sequences() cdf.SequenceStore                { return c.SequenceData }
func (c *Client) Relationships() cdf.Store[*cdf.Relationship] { return c.RelationshipData }
func (c *Client) DataSets() cdf.DataSetStore                  { return c.DataSetData }
func (c *Client) Datapoints() cdf.DatapointStore              { return c.DatapointData }
func (c *Client) Raw() cdf.RawStore                           { return c.RawData }

var (
	_ cdf.Client            = (*Client)(nil)
	_ cdf.Store[*cdf.Event] = (*Store[*cdf.Event])(nil)
	_ cdf.AssetStore        = (*AssetStore)(nil)
	_ cdf.SequenceStore     = (*SequenceStore)(nil)
	_ cdf.DataSetStore      = (*DataSetStore)(nil)
	_ cdf.DatapointStore    = (*DatapointStore)(nil)
	_ cdf.RawStore          = (*RawStore)(nil)
)
