package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

type stubRepo struct {
	stats map[string]int64
	err   error
}

func (s *stubRepo) ExportJobStats(context.Context) (map[string]int64, error) {
	return s.stats, s.err
}

type stubQueue struct {
	depth, dlq int
	err        error
}

func (s *stubQueue) Depth() (int, error) { return s.depth, s.err }
func (s *stubQueue) DLQDepth() (int, error) { return s.dlq, nil }

func TestCollect(t *testing.T) {
	repo := &stubRepo{stats: map[string]int64{
		models.ExportStatusQueued:     2,
		models.ExportStatusProcessing: 1,
		models.ExportStatusCompleted:  9,
		models.ExportStatusFailed:     1,
	}}
	m := NewMonitor(repo, &stubQueue{depth: 3, dlq: 1}, 0, nil)

	require.NoError(t, m.Collect(context.Background()))

	s := m.Snapshot()
	assert.Equal(t, 3, s.QueueDepth)
	assert.Equal(t, 1, s.DLQDepth)
	assert.Equal(t, int64(3), s.ActiveJobs())
	assert.InDelta(t, 0.1, s.FailureRate(), 1e-9)
	assert.False(t, s.LastUpdated.IsZero())

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ExportQueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExportDLQDepth))
	assert.Equal(t, 9.0, testutil.ToFloat64(metrics.ExportJobsByStatus.WithLabelValues(models.ExportStatusCompleted)))

	assert.Equal(t, HealthHealthy, m.SystemHealth())
	assert.Empty(t, m.Alerts())
}

func TestCollectErrorKeepsPreviousSnapshot(t *testing.T) {
	queue := &stubQueue{depth: 5}
	m := NewMonitor(&stubRepo{stats: map[string]int64{}}, queue, 0, nil)
	require.NoError(t, m.Collect(context.Background()))

	queue.err = errors.New("channel closed")
	assert.Error(t, m.Collect(context.Background()))
	assert.Equal(t, 5, m.Snapshot().QueueDepth)

	m2 := NewMonitor(&stubRepo{err: errors.New("db down")}, &stubQueue{}, 0, nil)
	assert.ErrorContains(t, m2.Collect(context.Background()), "failed to get export stats")
}

func TestSystemHealth(t *testing.T) {
	tests := []struct {
		name   string
		queue  *stubQueue
		stats  map[string]int64
		health string
		alerts int
	}{
		{name: "idle", queue: &stubQueue{}, stats: map[string]int64{}, health: HealthHealthy},
		{name: "dead letters", queue: &stubQueue{dlq: 101}, stats: map[string]int64{}, health: HealthCritical, alerts: 1},
		{name: "backlog", queue: &stubQueue{depth: 1001}, stats: map[string]int64{}, health: HealthWarning, alerts: 1},
		{
			name:   "failing exports",
			queue:  &stubQueue{},
			stats:  map[string]int64{models.ExportStatusCompleted: 3, models.ExportStatusFailed: 1},
			health: HealthWarning,
			alerts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&stubRepo{stats: tt.stats}, tt.queue, 0, nil)
			require.NoError(t, m.Collect(context.Background()))
			assert.Equal(t, tt.health, m.SystemHealth())
			assert.Len(t, m.Alerts(), tt.alerts)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := NewMonitor(&stubRepo{stats: map[string]int64{}}, &stubQueue{depth: 1}, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return m.Snapshot().QueueDepth == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthHandler(t *testing.T) {
	repo := &stubRepo{stats: map[string]int64{
		models.ExportStatusProcessing: 2,
		models.ExportStatusCompleted:  10,
	}}
	queue := &stubQueue{depth: 4}
	m := NewMonitor(repo, queue, 0, nil)
	require.NoError(t, m.Collect(context.Background()))

	rec := httptest.NewRecorder()
	m.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, HealthHealthy, report.Status)
	assert.Equal(t, 4, report.QueueDepth)
	assert.Equal(t, int64(2), report.ActiveJobs)
	assert.Empty(t, report.Alerts)

	queue.dlq = dlqCriticalDepth + 1
	require.NoError(t, m.Collect(context.Background()))

	rec = httptest.NewRecorder()
	m.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, HealthCritical, report.Status)
	assert.Len(t, report.Alerts, 1)
}
