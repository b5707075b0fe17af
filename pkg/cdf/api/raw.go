package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

type rawStore struct {
	c *Client
}

var _ cdf.RawStore = (*rawStore)(nil)

// getAll follows cursors on a GET list endpoint.
func getAll[T any](ctx context.Context, c *Client, u *url.URL) ([]T, error) {
	query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	var out []T
	for {
		var page itemsEnvelope[T]
		if err := c.get(ctx, u, query, withJSON(&page)); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" || len(page.Items) == 0 {
			return out, nil
		}
		query.Set("cursor", page.NextCursor)
	}
}

func (s *rawStore) ListDatabases(ctx context.Context) ([]cdf.RawDatabase, error) {
	dbs, err := getAll[cdf.RawDatabase](ctx, s.c, s.c.projectURL("raw/dbs"))
	if err != nil {
		return nil, fmt.Errorf("listing raw databases: %w", err)
	}
	return dbs, nil
}

func (s *rawStore) CreateDatabases(ctx context.Context, names []string) ([]cdf.RawDatabase, error) {
	if len(names) == 0 {
		return nil, nil
	}
	items := make([]cdf.RawDatabase, len(names))
	for i, name := range names {
		items[i] = cdf.RawDatabase{Name: name}
	}
	var out itemsEnvelope[cdf.RawDatabase]
	err := s.c.post(ctx, s.c.projectURL("raw/dbs"), map[string]any{"items": items}, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("creating raw databases: %w", err)
	}
	return out.Items, nil
}

func (s *rawStore) ListTables(ctx context.Context, database string) ([]cdf.RawTable, error) {
	tables, err := getAll[cdf.RawTable](ctx, s.c, s.tablesURL(database))
	if err != nil {
		return nil, fmt.Errorf("listing raw tables of %s: %w", database, err)
	}
	return tables, nil
}

func (s *rawStore) CreateTables(ctx context.Context, database string, names []string) ([]cdf.RawTable, error) {
	if len(names) == 0 {
		return nil, nil
	}
	items := make([]cdf.RawTable, len(names))
	for i, name := range names {
		items[i] = cdf.RawTable{Name: name}
	}
	var out itemsEnvelope[cdf.RawTable]
	err := s.c.post(ctx, s.tablesURL(database), map[string]any{"items": items}, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("creating raw tables in %s: %w", database, err)
	}
	return out.Items, nil
}

func (s *rawStore) Rows(ctx context.Context, database, table string, chunkSize int, fn func([]cdf.RawRow) error) error {
	if chunkSize <= 0 {
		chunkSize = pageLimit
	}
	query := url.Values{"limit": {strconv.Itoa(chunkSize)}}
	for {
		var page itemsEnvelope[cdf.RawRow]
		if err := s.c.get(ctx, s.rowsURL(database, table), query, withJSON(&page)); err != nil {
			return fmt.Errorf("listing raw rows of %s/%s: %w", database, table, err)
		}
		if len(page.Items) > 0 {
			if err := fn(page.Items); err != nil {
				return err
			}
		}
		if page.NextCursor == "" || len(page.Items) == 0 {
			return nil
		}
		query.Set("cursor", page.NextCursor)
	}
}

func (s *rawStore) InsertRows(ctx context.Context, database, table string, rows []cdf.RawRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.c.post(ctx, s.rowsURL(database, table), map[string]any{"items": rows})
	if err != nil {
		return fmt.Errorf("inserting raw rows into %s/%s: %w", database, table, err)
	}
	return nil
}

func (s *rawStore) tablesURL(database string) *url.URL {
	return s.c.projectURL("raw/dbs/" + url.PathEscape(database) + "/tables")
}

func (s *rawStore) rowsURL(database, table string) *url.URL {
	return s.c.projectURL("raw/dbs/" + url.PathEscape(database) + "/tables/" + url.PathEscape(table) + "/rows")
}
