package api

import (
	"context"
	"fmt"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

// store is the uniform HTTP store for one resource path.
type store[T cdf.Resource] struct {
	c    *Client
	path string
}

func (s *store[T]) List(ctx context.Context, filter *cdf.ListFilter) ([]T, error) {
	body := map[string]any{}
	maxItems := 0
	if filter != nil {
		if len(filter.Metadata) > 0 {
			body["filter"] = map[string]any{"metadata": filter.Metadata}
		}
		maxItems = filter.Limit
	}
	items, err := listAll[T](ctx, s.c, s.c.projectURL(s.path+"/list"), body, maxItems)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.path, err)
	}
	return items, nil
}

func (s *store[T]) RetrieveMultiple(ctx context.Context, externalIDs []string, ignoreUnknown bool) ([]T, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	refs := make([]cdf.ItemRef, len(externalIDs))
	for i, externalID := range externalIDs {
		refs[i] = cdf.ItemRef{ExternalID: externalID}
	}
	body := map[string]any{
		"items":            refs,
		"ignoreUnknownIds": ignoreUnknown,
	}
	var out itemsEnvelope[T]
	if err := s.c.post(ctx, s.c.projectURL(s.path+"/byids"), body, withJSON(&out)); err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", s.path, err)
	}
	return out.Items, nil
}

func (s *store[T]) Create(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var out itemsEnvelope[T]
	err := s.c.post(ctx, s.c.projectURL(s.path), map[string]any{"items": items}, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", s.path, err)
	}
	return out.Items, nil
}

func (s *store[T]) Update(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var out itemsEnvelope[T]
	err := s.c.post(ctx, s.c.projectURL(s.path+"/update"), map[string]any{"items": items}, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", s.path, err)
	}
	return out.Items, nil
}

func (s *store[T]) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	refs := make([]cdf.ItemRef, len(ids))
	for i, id := range ids {
		refs[i] = cdf.ItemRef{ID: id}
	}
	err := s.c.post(ctx, s.c.projectURL(s.path+"/delete"), map[string]any{"items": refs})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", s.path, err)
	}
	return nil
}

type assetStore struct {
	store[*cdf.Asset]
}

var _ cdf.AssetStore = (*assetStore)(nil)

// RetrieveSubtree lists the whole subtree under ref and trims it to
// depth levels client side, since the list endpoint has no depth cap.
func (s *assetStore) RetrieveSubtree(ctx context.Context, ref cdf.ItemRef, depth int) ([]*cdf.Asset, error) {
	body := map[string]any{
		"filter": map[string]any{"assetSubtreeIds": []cdf.ItemRef{ref}},
	}
	assets, err := listAll[*cdf.Asset](ctx, s.c, s.c.projectURL("assets/list"), body, 0)
	if err != nil {
		return nil, fmt.Errorf("listing asset subtree: %w", err)
	}
	if len(assets) == 0 {
		return nil, &cdf.Error{Code: 400, Message: "asset not found", Missing: []cdf.ItemRef{ref}}
	}
	if depth < 0 {
		return assets, nil
	}

	var root *cdf.Asset
	for _, a := range assets {
		if (ref.ID != 0 && a.ID == ref.ID) || (ref.ExternalID != "" && a.ExternalID == ref.ExternalID) {
			root = a
			break
		}
	}
	if root == nil {
		return nil, &cdf.Error{Code: 400, Message: "asset not found", Missing: []cdf.ItemRef{ref}}
	}

	out := []*cdf.Asset{root}
	frontier := map[int64]bool{root.ID: true}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		next := map[int64]bool{}
		for _, a := range assets {
			if frontier[a.ParentID] {
				out = append(out, a)
				next[a.ID] = true
			}
		}
		frontier = next
	}
	return out, nil
}

type sequenceStore struct {
	store[*cdf.Sequence]
}

var _ cdf.SequenceStore = (*sequenceStore)(nil)

func (s *sequenceStore) RetrieveRows(ctx context.Context, ref cdf.ItemRef) (*cdf.SequenceRows, error) {
	body := map[string]any{"limit": pageLimit}
	if ref.ID != 0 {
		body["id"] = ref.ID
	} else {
		body["externalId"] = ref.ExternalID
	}

	var rows *cdf.SequenceRows
	for {
		var page struct {
			cdf.SequenceRows
			NextCursor string `json:"nextCursor"`
		}
		err := s.c.post(ctx, s.c.projectURL("sequences/data/list"), body, withJSON(&page))
		if err != nil {
			return nil, fmt.Errorf("retrieving sequence rows: %w", err)
		}
		if rows == nil {
			rows = &cdf.SequenceRows{
				ID:         page.ID,
				ExternalID: page.ExternalID,
				Columns:    page.Columns,
			}
		}
		rows.Rows = append(rows.Rows, page.Rows...)
		if page.NextCursor == "" || len(page.Rows) == 0 {
			return rows, nil
		}
		body["cursor"] = page.NextCursor
	}
}

func (s *sequenceStore) InsertRows(ctx context.Context, rows *cdf.SequenceRows) error {
	err := s.c.post(ctx, s.c.projectURL("sequences/data"), map[string]any{"items": []*cdf.SequenceRows{rows}})
	if err != nil {
		return fmt.Errorf("inserting sequence rows: %w", err)
	}
	return nil
}

type dataSetStore struct {
	c *Client
}

var _ cdf.DataSetStore = (*dataSetStore)(nil)

func (s *dataSetStore) List(ctx context.Context, filter *cdf.ListFilter) ([]*cdf.DataSet, error) {
	body := map[string]any{}
	maxItems := 0
	if filter != nil {
		maxItems = filter.Limit
	}
	items, err := listAll[*cdf.DataSet](ctx, s.c, s.c.projectURL("datasets/list"), body, maxItems)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	return items, nil
}

func (s *dataSetStore) Retrieve(ctx context.Context, ref cdf.ItemRef) (*cdf.DataSet, error) {
	body := map[string]any{
		"items":            []cdf.ItemRef{ref},
		"ignoreUnknownIds": true,
	}
	var out itemsEnvelope[*cdf.DataSet]
	if err := s.c.post(ctx, s.c.projectURL("datasets/byids"), body, withJSON(&out)); err != nil {
		return nil, fmt.Errorf("retrieving dataset: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return out.Items[0], nil
}

func (s *dataSetStore) Create(ctx context.Context, items []*cdf.DataSet) ([]*cdf.DataSet, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var out itemsEnvelope[*cdf.DataSet]
	err := s.c.post(ctx, s.c.projectURL("datasets"), map[string]any{"items": items}, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("creating datasets: %w", err)
	}
	return out.Items, nil
}
