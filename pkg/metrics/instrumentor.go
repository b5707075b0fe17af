package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

const (
	runSuccessCounterName = "cdf_replicator.run_success"
	runFailureCounterName = "cdf_replicator.run_failure"
	runDurationHistoName  = "cdf_replicator.run_latency"
	runSuccessCounterDesc = "number of successful replication runs by resource kind"
	runFailureCounterDesc = "number of failed replication runs by resource kind, status code, and transience"
	runDurationHistoDesc  = "duration of replication runs by resource kind and outcome"
)

// FailureReason summarizes why a replication run failed.
type FailureReason struct {
	// StatusCode is the HTTP status the API answered with, or zero when
	// the failure never reached the API.
	StatusCode  int
	IsRateLimit bool
	IsTransient bool
}

// extractFailureReason pulls the API status out of err, however deeply
// it is wrapped.
func extractFailureReason(err error) FailureReason {
	if err == nil {
		return FailureReason{}
	}
	reason := FailureReason{IsTransient: cdf.IsTransient(err)}
	var ce *cdf.Error
	if errors.As(err, &ce) {
		reason.StatusCode = ce.Code
		reason.IsRateLimit = ce.Code == http.StatusTooManyRequests
	}
	return reason
}

// M records the outcome of replication runs.
type M struct {
	underlying Handler
}

func New(handler Handler) *M {
	return &M{underlying: handler}
}

func (m *M) RecordRunSuccess(ctx context.Context, resource string, dur time.Duration) {
	c := m.underlying.Int64Counter(runSuccessCounterName, runSuccessCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(runDurationHistoName, runDurationHistoDesc, Milliseconds)
	c.Add(ctx, 1, map[string]string{"resource": resource})
	h.Record(ctx, dur.Milliseconds(), map[string]string{"resource": resource, "outcome": "success"})
}

func (m *M) RecordRunFailure(ctx context.Context, resource string, dur time.Duration, err error) {
	reason := extractFailureReason(err)

	c := m.underlying.Int64Counter(runFailureCounterName, runFailureCounterDesc, Dimensionless)
	h := m.underlying.Int64Histogram(runDurationHistoName, runDurationHistoDesc, Milliseconds)

	counterTags := map[string]string{
		"resource":      resource,
		"status_code":   strconv.Itoa(reason.StatusCode),
		"is_rate_limit": strconv.FormatBool(reason.IsRateLimit),
		"transient":     strconv.FormatBool(reason.IsTransient),
	}
	histoTags := map[string]string{
		"resource":    resource,
		"outcome":     "failure",
		"status_code": strconv.Itoa(reason.StatusCode),
	}
	c.Add(ctx, 1, counterTags)
	h.Record(ctx, dur.Milliseconds(), histoTags)
}
