package runtime

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
)

func TestRouteStatsCollectsLatencyAndErrors(t *testing.T) {
	stats := newRouteStats(Route{Method: http.MethodGet, Pattern: "/orders", APIName: "listOrders"})

	stats.record(http.StatusOK, 10*time.Millisecond, ErrorCategoryNone, nil)
	stats.record(http.StatusOK, 30*time.Millisecond, ErrorCategoryNone, nil)
	stats.record(errspkg.StatusValidationFailed, 20*time.Millisecond, ErrorCategoryValidation, errTest)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	assert.Equal(t, uint64(3), stats.Requests)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, errspkg.StatusValidationFailed, stats.LastStatus)
	assert.Equal(t, int64(20*time.Millisecond), stats.Latency.AverageNs)
	assert.Equal(t, int64(20*time.Millisecond), stats.Latency.P50Ns)
	assert.Equal(t, int64(20*time.Millisecond), stats.Latency.LastNs)
	assert.Equal(t, 3, stats.Latency.SampleSize)
	assert.Equal(t, uint64(3), stats.Throughput.RequestsInWindow)
	assert.Equal(t, uint64(1), stats.Errors.Validation)
	assert.Equal(t, errTest.Error(), stats.Errors.LastError)
	assert.False(t, stats.LastRequestAt.IsZero())
}

func TestRouteStatsMarshalsUnderLock(t *testing.T) {
	stats := newRouteStats(Route{Method: http.MethodPost, Pattern: "/users"})
	stats.record(http.StatusCreated, time.Millisecond, ErrorCategoryNone, nil)

	data, err := jsoncodec.Marshal(stats)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, jsoncodec.Unmarshal(data, &decoded))
	assert.Equal(t, "POST", decoded["method"])
	assert.Equal(t, "/users", decoded["pattern"])
	assert.EqualValues(t, 1, decoded["requests"])
	assert.Contains(t, decoded, "latency")
	assert.NotContains(t, decoded, "latencyWindow")
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	lw := newLatencyWindow(4)
	for i := 1; i <= 6; i++ {
		lw.Add(time.Duration(i) * time.Millisecond)
	}

	snap := lw.Snapshot()
	assert.Equal(t, 4, snap.SampleSize)
	assert.Equal(t, int64(6*time.Millisecond), snap.LastNs)
	assert.Equal(t, int64(4500*time.Microsecond), snap.P50Ns)
	assert.InDelta(t, float64(5970*time.Microsecond), float64(snap.P99Ns), float64(time.Microsecond))
	assert.Equal(t, int64(4500*time.Microsecond), snap.AverageNs)
}

func TestPercentileInterpolates(t *testing.T) {
	samples := []int64{10, 20, 30, 40}
	assert.Equal(t, int64(10), percentile(samples, 0))
	assert.Equal(t, int64(25), percentile(samples, 0.5))
	assert.Equal(t, int64(40), percentile(samples, 1))
	assert.Zero(t, percentile(nil, 0.5))
}

func TestThroughputWindowDropsOldBuckets(t *testing.T) {
	tw := newThroughputWindow(time.Minute)
	base := time.Unix(1_700_000_000, 0)

	tw.AddAndSnapshot(base.Add(-2 * time.Minute))
	tw.AddAndSnapshot(base.Add(-30 * time.Second))
	tw.AddAndSnapshot(base.Add(200 * time.Millisecond))
	snap := tw.AddAndSnapshot(base.Add(700 * time.Millisecond))

	assert.Equal(t, 3, snap.Count)
	assert.InDelta(t, 31, snap.WindowSeconds, 0.001)
	assert.InDelta(t, 3.0/31, snap.CurrentRPS, 0.001)
}

func TestThroughputWindowSingleSecond(t *testing.T) {
	snap := newThroughputWindow(0).AddAndSnapshot(time.Unix(10, 0))
	assert.Equal(t, throughputSnapshot{Count: 1, WindowSeconds: 1, CurrentRPS: 1}, snap)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCategory
	}{
		{nil, ErrorCategoryNone},
		{errspkg.NewManagedError(errspkg.TypeRequestParamInvalid, "bad", errspkg.WithStatus(errspkg.StatusValidationFailed)), ErrorCategoryValidation},
		{errspkg.NewManagedError(errspkg.TypeUnauthorized, "no", errspkg.WithStatus(http.StatusUnauthorized)), ErrorCategoryValidation},
		{errspkg.NewManagedError(errspkg.TypeInternal, "db down"), ErrorCategoryHandler},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{context.Canceled, ErrorCategoryAborted},
		{errTest, ErrorCategoryHandler},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyError(tc.err), "%v", tc.err)
	}
}
