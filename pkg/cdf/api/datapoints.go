package api

import (
	"context"
	"fmt"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

type datapointStore struct {
	c *Client
}

var _ cdf.DatapointStore = (*datapointStore)(nil)

// datapointsItem is the per-series envelope of the datapoint endpoints.
type datapointsItem struct {
	ExternalID string          `json:"externalId"`
	Datapoints []cdf.Datapoint `json:"datapoints"`
}

func (s *datapointStore) RetrieveLatest(ctx context.Context, externalID string) (*cdf.Datapoint, error) {
	body := map[string]any{
		"items": []map[string]any{{"externalId": externalID}},
	}
	var out itemsEnvelope[datapointsItem]
	err := s.c.post(ctx, s.c.projectURL("timeseries/data/latest"), body, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("retrieving latest datapoint of %s: %w", externalID, err)
	}
	if len(out.Items) == 0 || len(out.Items[0].Datapoints) == 0 {
		return nil, nil
	}
	latest := out.Items[0].Datapoints[0]
	return &latest, nil
}

func (s *datapointStore) Retrieve(ctx context.Context, externalID string, start, end int64, limit int) ([]cdf.Datapoint, error) {
	body := map[string]any{
		"items": []map[string]any{{
			"externalId": externalID,
			"start":      start,
			"end":        end,
			"limit":      limit,
		}},
	}
	var out itemsEnvelope[datapointsItem]
	err := s.c.post(ctx, s.c.projectURL("timeseries/data/list"), body, withJSON(&out))
	if err != nil {
		return nil, fmt.Errorf("retrieving datapoints of %s: %w", externalID, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return out.Items[0].Datapoints, nil
}

func (s *datapointStore) Insert(ctx context.Context, externalID string, datapoints []cdf.Datapoint) error {
	if len(datapoints) == 0 {
		return nil
	}
	body := map[string]any{
		"items": []datapointsItem{{ExternalID: externalID, Datapoints: datapoints}},
	}
	if err := s.c.post(ctx, s.c.projectURL("timeseries/data"), body); err != nil {
		return fmt.Errorf("inserting datapoints of %s: %w", externalID, err)
	}
	return nil
}

func (s *datapointStore) DeleteRange(ctx context.Context, externalID string, start, end int64) error {
	body := map[string]any{
		"items": []map[string]any{{
			"externalId":     externalID,
			"inclusiveBegin": start,
			"exclusiveEnd":   end,
		}},
	}
	if err := s.c.post(ctx, s.c.projectURL("timeseries/data/delete"), body); err != nil {
		return fmt.Errorf("deleting datapoints of %s: %w", externalID, err)
	}
	return nil
}
