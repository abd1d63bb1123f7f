package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/bunny"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/gateway"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/middleware"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/platform"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/session"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

// MockExportService is a mock implementation of ExportService
type MockExportService struct {
	mock.Mock
}

func (m *MockExportService) Create(ctx context.Context, sess *models.Session, libraryID int64, collectionID string) (*models.ExportJob, error) {
	args := m.Called(ctx, sess, libraryID, collectionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExportJob), args.Error(1)
}

func (m *MockExportService) Get(ctx context.Context, sess *models.Session, id string) (*models.ExportJob, error) {
	args := m.Called(ctx, sess, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExportJob), args.Error(1)
}

func (m *MockExportService) List(ctx context.Context, sess *models.Session, libraryID int64, limit int) ([]*models.ExportJob, error) {
	args := m.Called(ctx, sess, libraryID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ExportJob), args.Error(1)
}

func (m *MockExportService) OpenSnapshot(ctx context.Context, sess *models.Session, id string) (io.ReadCloser, *models.ExportJob, error) {
	args := m.Called(ctx, sess, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(*models.ExportJob), args.Error(2)
}

// vendor fakes the Bunny management API
type vendor struct {
	mu      sync.Mutex
	queries []url.Values
	server  *httptest.Server
}

func newVendor(t *testing.T) *vendor {
	v := &vendor{}
	mux := http.NewServeMux()
	mux.HandleFunc("/library/42/videos/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("AccessKey") != "key-123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"Message":"denied"}`))
			return
		}
		w.Write([]byte(`{"guid":"abc","title":"Intro","storageSize":12345678901234567}`))
	})
	mux.HandleFunc("/library/42/videos", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.queries = append(v.queries, r.URL.Query())
		v.mu.Unlock()
		w.Write([]byte(`{"totalItems":2,"items":[{"guid":"a"},{"guid":"b"}]}`))
	})
	v.server = httptest.NewServer(mux)
	t.Cleanup(v.server.Close)
	return v
}

type testEnv struct {
	router  *gin.Engine
	exports *MockExportService
	vendor  *vendor
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupLimitedTestEnv(t, nil)
}

func setupLimitedTestEnv(t *testing.T, limiter *middleware.RateLimiter) *testEnv {
	gin.SetMode(gin.TestMode)

	v := newVendor(t)
	client := bunny.New(config.BunnyConfig{APIBaseURL: v.server.URL, Timeout: 2 * time.Second}, nil)
	exports := new(MockExportService)

	api := &API{
		sessions: session.NewService(config.SessionConfig{Secret: "test-secret", TTL: time.Hour}, session.NewMemoryStore(), nil, nil),
		gateway:  gateway.New(gateway.Options{Videos: client, Platform: platform.Static("Linux 6.1")}),
		exports:  exports,
	}

	return &testEnv{
		router:  setupRouter(api, limiter, nil),
		exports: exports,
		vendor:  v,
	}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) initialize(t *testing.T, cdnHostname string) string {
	t.Helper()
	w := e.do("POST", "/api/v1/initialize", "", map[string]interface{}{
		"accessKey":   "key-123",
		"libraryId":   42,
		"cdnHostname": cdnHostname,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp initializeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionToken)
	assert.Equal(t, int64(42), resp.LibraryID)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
	return resp.SessionToken
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperr.Body {
	t.Helper()
	var resp struct {
		Error apperr.Body `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := &API{checks: []HealthCheck{{Name: "redis", Check: func(context.Context) error { return nil }}}}
	w := httptest.NewRecorder()
	setupRouter(healthy, nil, nil).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	unhealthy := &API{checks: []HealthCheck{
		{Name: "redis", Check: func(context.Context) error { return nil }},
		{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
	}}
	w = httptest.NewRecorder()
	setupRouter(unhealthy, nil, nil).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"component":"database"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do("GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestInitializeValidation(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{name: "Missing access key", body: map[string]interface{}{"libraryId": 42}, message: "accessKey is required."},
		{name: "Blank access key", body: map[string]interface{}{"accessKey": "  ", "libraryId": 42}, message: "accessKey is required."},
		{name: "Zero library", body: map[string]interface{}{"accessKey": "k", "libraryId": 0}, message: "libraryId must be a positive integer."},
		{name: "Negative library", body: map[string]interface{}{"accessKey": "k", "libraryId": -3}, message: "libraryId must be a positive integer."},
		{name: "Malformed body", body: "not an object", message: "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/api/v1/initialize", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			body := decodeError(t, w)
			assert.Equal(t, apperr.CodeInvalidArgument, body.Code)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestRequiresSession(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		method  string
		path    string
		message string
	}{
		{"GET", "/api/v1/libraries/42/videos/abc", "Call initialize() before requesting video metadata."},
		{"GET", "/api/v1/libraries/42/videos", "Call initialize() before requesting videos."},
		{"GET", "/api/v1/libraries/42/videos/abc/play", "Call initialize() before requesting play data."},
		{"GET", "/api/v1/exports/exp-1", "Call initialize() before requesting exports."},
		{"GET", "/api/v1/exports/exp-1/snapshot", "Call initialize() before requesting exports."},
		{"GET", "/api/v1/libraries/42/exports", "Call initialize() before requesting exports."},
		{"DELETE", "/api/v1/session", "Call initialize() before using the SDK."},
	}
	for _, tt := range tests {
		w := env.do(tt.method, tt.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tt.path)

		body := decodeError(t, w)
		assert.Equal(t, apperr.CodeNotInitialized, body.Code)
		assert.Equal(t, tt.message, body.Message, tt.path)
	}

	w := env.do("GET", "/api/v1/libraries/42/videos/abc/play", "forged.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Call initialize() before requesting play data.", decodeError(t, w).Message)
}

func TestGetVideo(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	w := env.do("GET", "/api/v1/libraries/42/videos/abc", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// large numbers pass through unchanged
	assert.JSONEq(t, `{"guid":"abc","title":"Intro","storageSize":12345678901234567}`, w.Body.String())
}

func TestGetVideoErrors(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	w := env.do("GET", "/api/v1/libraries/abc/videos/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "libraryId must be a positive integer.", decodeError(t, w).Message)

	w = env.do("GET", "/api/v1/libraries/0/videos/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("GET", "/api/v1/libraries/42/videos/missing", token, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperr.CodeAPI, body.Code)
	assert.Contains(t, body.Message, "Bunny API returned 404")
}

func TestListVideos(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	w := env.do("GET", "/api/v1/libraries/42/videos?page=2&itemsPerPage=10&collectionId=col-9", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"items":[{"guid":"a"},{"guid":"b"}],"page":2,"itemsPerPage":10}`, w.Body.String())

	w = env.do("GET", "/api/v1/libraries/42/videos", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"page":1,"itemsPerPage":100`)

	require.Len(t, env.vendor.queries, 2)
	assert.Equal(t, "2", env.vendor.queries[0].Get("page"))
	assert.Equal(t, "10", env.vendor.queries[0].Get("itemsPerPage"))
	assert.Equal(t, "col-9", env.vendor.queries[0].Get("collection"))
	assert.Equal(t, "1", env.vendor.queries[1].Get("page"))
	assert.Equal(t, "100", env.vendor.queries[1].Get("itemsPerPage"))
	assert.False(t, env.vendor.queries[1].Has("collection"))
}

func TestListVideosInvalidPaging(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	for _, query := range []string{"page=x", "itemsPerPage=1.5", "page=-1"} {
		w := env.do("GET", "/api/v1/libraries/42/videos?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, apperr.CodeInvalidArgument, decodeError(t, w).Code)
	}
	assert.Empty(t, env.vendor.queries)
}

func TestGetVideoPlayData(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	w := env.do("GET", "/api/v1/libraries/42/videos/abc/play", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var urls models.PlaybackURLSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &urls))
	assert.Equal(t, "https://vz-42.b-cdn.net/abc/playlist.m3u8", urls.PlaylistURL)
	assert.Equal(t, "https://vz-42.b-cdn.net/abc/play_720p.mp4", urls.FallbackURL)
	assert.Equal(t, "https://vz-42.b-cdn.net/abc/play_360p.mp4", urls.URL360p)
	assert.Equal(t, "https://vz-42.b-cdn.net/abc/play_1080p.mp4", urls.URL1080p)
}

func TestGetVideoPlayDataSigned(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "cdn.example.com")

	w := env.do("GET", "/api/v1/libraries/42/videos/abc/play?token=a%2Bb&expires=0", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var urls models.PlaybackURLSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &urls))
	assert.Equal(t, "https://cdn.example.com/abc/playlist.m3u8?token=a%2Bb&expires=0", urls.PlaylistURL)
	assert.Equal(t, "https://cdn.example.com/abc/play_720p.mp4?token=a%2Bb&expires=0", urls.FallbackURL)

	w = env.do("GET", "/api/v1/libraries/42/videos/abc/play?expires=soon", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "expires must be an integer.", decodeError(t, w).Message)
}

func TestCollectionsAreUnimplemented(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	w := env.do("GET", "/api/v1/libraries/42/collections", token, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperr.CodeUnimplemented, body.Code)
	assert.Equal(t, "Native Bunny SDK integration for listCollections is not implemented yet.", body.Message)

	w = env.do("GET", "/api/v1/libraries/42/collections/col-1", token, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "Native Bunny SDK integration for getCollection is not implemented yet.", decodeError(t, w).Message)
}

func TestCollectionsNeedNoSession(t *testing.T) {
	env := setupTestEnv(t)

	for _, path := range []string{
		"/api/v1/libraries/42/collections",
		"/api/v1/libraries/42/collections/col-1",
		"/api/v1/libraries/not-a-number/collections",
	} {
		w := env.do("GET", path, "", nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code, path)
		assert.Equal(t, apperr.CodeUnimplemented, decodeError(t, w).Code, path)
	}
}

func TestRateLimitRunsBeforeSessionAuth(t *testing.T) {
	env := setupLimitedTestEnv(t, middleware.NewRateLimiter(1, 2, time.Minute))

	for i := 0; i < 2; i++ {
		w := env.do("GET", "/api/v1/libraries/42/videos", "forged.token.value", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := env.do("GET", "/api/v1/libraries/42/videos", "forged.token.value", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apperr.CodeRateLimited, decodeError(t, w).Code)
}

func TestGetPlatformVersion(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do("GET", "/api/v1/platform", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"platformVersion":"Linux 6.1"}`, w.Body.String())
}

func TestRevokeSession(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	w := env.do("DELETE", "/api/v1/session", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do("GET", "/api/v1/libraries/42/videos/abc", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateExport(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	job := &models.ExportJob{ID: "exp-1", LibraryID: 42, CollectionID: "col-1", Status: models.ExportStatusQueued}
	env.exports.On("Create", mock.Anything, mock.MatchedBy(func(s *models.Session) bool {
		return s.AccessKey == "key-123"
	}), int64(42), "col-1").Return(job, nil)

	w := env.do("POST", "/api/v1/libraries/42/exports", token, map[string]string{"collectionId": "col-1"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp models.ExportJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "exp-1", resp.ID)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	env.exports.AssertExpectations(t)
}

func TestCreateExportWithoutBody(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	env.exports.On("Create", mock.Anything, mock.Anything, int64(42), "").
		Return(&models.ExportJob{ID: "exp-2", LibraryID: 42, Status: models.ExportStatusQueued}, nil)

	w := env.do("POST", "/api/v1/libraries/42/exports", token, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	env.exports.AssertExpectations(t)
}

func TestCreateExportQueueFailure(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	env.exports.On("Create", mock.Anything, mock.Anything, int64(42), "").
		Return(nil, apperr.Wrap(apperr.CodeInternal, errors.New("amqp closed"), "failed to queue export"))

	w := env.do("POST", "/api/v1/libraries/42/exports", token, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to queue export", decodeError(t, w).Message)
}

func TestGetExport(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	env.exports.On("Get", mock.Anything, mock.Anything, "exp-1").Return(&models.ExportJob{
		ID:          "exp-1",
		LibraryID:   42,
		Status:      models.ExportStatusCompleted,
		VideoCount:  2,
		DownloadURL: "https://storage.example.com/exports/42/exp-1.json",
	}, nil)
	env.exports.On("Get", mock.Anything, mock.Anything, "missing").Return(nil, apperr.NotFound("export missing not found"))

	w := env.do("GET", "/api/v1/exports/exp-1", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"downloadUrl":"https://storage.example.com/exports/42/exp-1.json"`)

	w = env.do("GET", "/api/v1/exports/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.CodeNotFound, decodeError(t, w).Code)
}

func TestListExports(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	env.exports.On("List", mock.Anything, mock.Anything, int64(42), 5).Return([]*models.ExportJob{
		{ID: "exp-2", LibraryID: 42, Status: models.ExportStatusQueued},
		{ID: "exp-1", LibraryID: 42, Status: models.ExportStatusCompleted},
	}, nil)

	w := env.do("GET", "/api/v1/libraries/42/exports?limit=5", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Items []models.ExportJob `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "exp-2", resp.Items[0].ID)

	w = env.do("GET", "/api/v1/libraries/42/exports?limit=many", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "limit must be an integer.", decodeError(t, w).Message)

	env.exports.AssertExpectations(t)
}

func TestGetExportSnapshot(t *testing.T) {
	env := setupTestEnv(t)
	token := env.initialize(t, "")

	snapshot := `{"exportId":"exp-1","libraryId":42,"videoCount":0,"videos":[]}`
	env.exports.On("OpenSnapshot", mock.Anything, mock.Anything, "exp-1").
		Return(io.NopCloser(strings.NewReader(snapshot)), &models.ExportJob{ID: "exp-1", Status: models.ExportStatusCompleted}, nil)
	env.exports.On("OpenSnapshot", mock.Anything, mock.Anything, "exp-2").
		Return(nil, nil, apperr.NotFound("export exp-2 has no snapshot"))

	w := env.do("GET", "/api/v1/exports/exp-1/snapshot", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="exp-1.json"`, w.Header().Get("Content-Disposition"))
	assert.JSONEq(t, snapshot, w.Body.String())

	w = env.do("GET", "/api/v1/exports/exp-2/snapshot", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "export exp-2 has no snapshot", decodeError(t, w).Message)
}
