// Package bunny is a client for the Bunny Stream management API.
//
// Every call uses a fixed timeout and is never retried: transport failures,
// non-2xx responses and malformed bodies surface immediately as coded errors.
package bunny

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/config"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/tracing"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const (
	DefaultBaseURL = "https://video.bunnycdn.com"
	DefaultTimeout = 10 * time.Second

	// CollectionParam is the list filter understood by the management API.
	CollectionParam = "collection"

	peerService  = "bunny-stream"
	maxErrorBody = 64 * 1024
)

// Client talks to the Bunny Stream management API
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxPages   int
	logger     *logging.Logger
}

// New creates a management API client
func New(cfg config.BunnyConfig, logger *logging.Logger) *Client {
	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxPages := cfg.MaxExportPages
	if maxPages <= 0 {
		maxPages = 1000
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxPages:   maxPages,
		logger:     logger.WithComponent("bunny"),
	}
}

// GetVideo fetches the metadata of one video
func (c *Client) GetVideo(ctx context.Context, accessKey string, libraryID int64, videoID string) (models.VideoMetadata, error) {
	path := fmt.Sprintf("/library/%d/videos/%s", libraryID, url.PathEscape(videoID))

	body, err := c.get(ctx, "get_video", accessKey, libraryID, path, nil)
	if err != nil {
		return nil, wrapTransport(err, "Failed to fetch video")
	}

	video, err := models.DecodeVideoMetadata(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeParse, err, "JSON parsing error: %v", err)
	}
	return video, nil
}

// ListVideos fetches one page of a library's videos. Non-positive paging
// values fall back to the API defaults.
func (c *Client) ListVideos(ctx context.Context, accessKey string, query models.VideoListQuery) ([]models.VideoMetadata, error) {
	page := query.Page
	if page <= 0 {
		page = models.DefaultPage
	}
	perPage := query.ItemsPerPage
	if perPage <= 0 {
		perPage = models.DefaultItemsPerPage
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("itemsPerPage", strconv.Itoa(perPage))
	if collection := strings.TrimSpace(query.CollectionID); collection != "" {
		params.Set(CollectionParam, collection)
	}

	path := fmt.Sprintf("/library/%d/videos", query.LibraryID)
	body, err := c.get(ctx, "list_videos", accessKey, query.LibraryID, path, params)
	if err != nil {
		return nil, wrapTransport(err, "Failed to fetch videos")
	}

	return decodeVideoList(body)
}

// ListAllVideos walks every page of a library (or collection) until a short
// page is returned.
func (c *Client) ListAllVideos(ctx context.Context, accessKey string, libraryID int64, collectionID string, perPage int) ([]models.VideoMetadata, error) {
	if perPage <= 0 {
		perPage = models.DefaultItemsPerPage
	}

	var all []models.VideoMetadata
	for page := 1; page <= c.maxPages; page++ {
		items, err := c.ListVideos(ctx, accessKey, models.VideoListQuery{
			LibraryID:    libraryID,
			Page:         page,
			ItemsPerPage: perPage,
			CollectionID: collectionID,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < perPage {
			return all, nil
		}
	}

	return nil, apperr.New(apperr.CodeAPI, "library %d has more than %d pages of videos", libraryID, c.maxPages)
}

// statusError is a non-2xx upstream response
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("Bunny API returned %d: %s", e.status, e.body)
}

func (c *Client) get(ctx context.Context, operation, accessKey string, libraryID int64, path string, params url.Values) ([]byte, error) {
	span, ctx := tracing.StartClientSpan(ctx, "bunny."+operation, peerService)
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "library_id", libraryID)

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("AccessKey", accessKey)
	req.Header.Set("accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, libraryID, 0, start, err)
		tracing.LogError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	tracing.SetTag(span, "http.status_code", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &statusError{status: resp.StatusCode, body: string(errBody)}
		c.observe(operation, libraryID, resp.StatusCode, start, statusErr)
		tracing.LogError(span, statusErr)
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	c.observe(operation, libraryID, resp.StatusCode, start, err)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	return body, nil
}

func (c *Client) observe(operation string, libraryID int64, status int, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordUpstreamRequest(operation, status, elapsed.Seconds())
	c.logger.LogUpstreamCall(operation, libraryID, status, elapsed, err)
}

// wrapTransport converts a failed request into an API or network error
func wrapTransport(err error, action string) error {
	var se *statusError
	if errors.As(err, &se) {
		return &apperr.Error{Code: apperr.CodeAPI, Message: se.Error(), Status: se.status, Err: err}
	}
	return apperr.Wrap(apperr.CodeNetwork, err, "%s: %v", action, err)
}

// decodeVideoList extracts the video objects from a list response. The API
// returns them under "items"; some deployments use "results".
func decodeVideoList(body []byte) ([]models.VideoMetadata, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		if err == nil {
			err = fmt.Errorf("expected a JSON object")
		}
		return nil, apperr.Wrap(apperr.CodeParse, err, "JSON parsing error: %v", err)
	}

	for _, key := range []string{"items", "results"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}

		var elements []json.RawMessage
		if err := json.Unmarshal(raw, &elements); err != nil || elements == nil {
			// not an array, try the next key
			continue
		}

		videos := make([]models.VideoMetadata, 0, len(elements))
		for i, element := range elements {
			video, err := models.DecodeVideoMetadata(element)
			if err != nil {
				return nil, apperr.Wrap(apperr.CodeParse, err, "JSON parsing error: %s[%d]: %v", key, i, err)
			}
			videos = append(videos, video)
		}
		return videos, nil
	}

	return []models.VideoMetadata{}, nil
}
