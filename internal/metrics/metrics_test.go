package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/platform", "200", 0.123)

	// Verify counter incremented
	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/platform", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordUpstreamRequest(t *testing.T) {
	UpstreamRequestsTotal.Reset()
	UpstreamRequestDuration.Reset()

	RecordUpstreamRequest("get_video", 200, 0.2)
	RecordUpstreamRequest("get_video", 404, 0.1)
	RecordUpstreamRequest("get_video", 0, 10)

	if got := testutil.ToFloat64(UpstreamRequestsTotal.WithLabelValues("get_video", "200")); got != 1.0 {
		t.Errorf("Expected 200 counter to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(UpstreamRequestsTotal.WithLabelValues("get_video", "404")); got != 1.0 {
		t.Errorf("Expected 404 counter to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(UpstreamRequestsTotal.WithLabelValues("get_video", "network_error")); got != 1.0 {
		t.Errorf("Expected network_error counter to be 1.0, got %f", got)
	}
}

func TestRecordPlaybackURLSet(t *testing.T) {
	PlaybackURLSetsTotal.Reset()

	RecordPlaybackURLSet(true)
	RecordPlaybackURLSet(false)
	RecordPlaybackURLSet(true)

	if got := testutil.ToFloat64(PlaybackURLSetsTotal.WithLabelValues("true")); got != 2.0 {
		t.Errorf("Expected signed counter to be 2.0, got %f", got)
	}
	if got := testutil.ToFloat64(PlaybackURLSetsTotal.WithLabelValues("false")); got != 1.0 {
		t.Errorf("Expected unsigned counter to be 1.0, got %f", got)
	}
}

func TestRecordExportCompleted(t *testing.T) {
	ExportsCompletedTotal.Reset()
	before := testutil.ToFloat64(ExportedVideosTotal)

	RecordExportCompleted("completed", 12.5, 40)
	RecordExportCompleted("failed", 1.2, 0)

	if got := testutil.ToFloat64(ExportsCompletedTotal.WithLabelValues("completed")); got != 1.0 {
		t.Errorf("Expected completed counter to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(ExportsCompletedTotal.WithLabelValues("failed")); got != 1.0 {
		t.Errorf("Expected failed counter to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(ExportedVideosTotal) - before; got != 40 {
		t.Errorf("Expected 40 exported videos, got %f", got)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("video", true)
	RecordCacheAccess("video", true)
	RecordCacheAccess("video", false)

	hits := testutil.ToFloat64(CacheHitsTotal.WithLabelValues("video"))
	if hits != 2.0 {
		t.Errorf("Expected 2 cache hits, got %f", hits)
	}

	misses := testutil.ToFloat64(CacheMissesTotal.WithLabelValues("video"))
	if misses != 1.0 {
		t.Errorf("Expected 1 cache miss, got %f", misses)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("bunny", "API_ERROR")
	RecordError("bunny", "API_ERROR")

	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("bunny", "API_ERROR")); got != 2.0 {
		t.Errorf("Expected 2 errors, got %f", got)
	}
}

func TestServerHandler(t *testing.T) {
	RecordSessionInitialized()

	srv := NewServer(0, nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bunnystream_sessions_initialized_total") {
		t.Error("Expected session counter in exposition")
	}

	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsServerCustomHealth(t *testing.T) {
	srv := NewServer(0, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}
