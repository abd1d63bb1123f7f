package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/middleware"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/session"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

// SessionService creates and resolves sessions
type SessionService interface {
	Initialize(ctx context.Context, params session.InitializeParams) (*models.Session, string, error)
	Resolve(ctx context.Context, token string) (*models.Session, error)
	Revoke(ctx context.Context, id string) error
}

// GatewayService is the method surface available to initialized sessions
type GatewayService interface {
	GetVideo(ctx context.Context, sess *models.Session, libraryID int64, videoID string) (models.VideoMetadata, error)
	ListVideos(ctx context.Context, sess *models.Session, query models.VideoListQuery) ([]models.VideoMetadata, error)
	GetVideoPlayData(ctx context.Context, sess *models.Session, req models.PlaybackRequest) (*models.PlaybackURLSet, error)
	ListCollections(ctx context.Context, sess *models.Session, libraryID int64) ([]models.VideoMetadata, error)
	GetCollection(ctx context.Context, sess *models.Session, libraryID int64, collectionID string) (models.VideoMetadata, error)
	PlatformVersion(ctx context.Context) (string, error)
	ForgetSession(ctx context.Context, sess *models.Session)
}

// ExportService creates and reports on catalog exports
type ExportService interface {
	Create(ctx context.Context, sess *models.Session, libraryID int64, collectionID string) (*models.ExportJob, error)
	Get(ctx context.Context, sess *models.Session, id string) (*models.ExportJob, error)
	List(ctx context.Context, sess *models.Session, libraryID int64, limit int) ([]*models.ExportJob, error)
	OpenSnapshot(ctx context.Context, sess *models.Session, id string) (io.ReadCloser, *models.ExportJob, error)
}

// HealthCheck checks one backing service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type API struct {
	sessions SessionService
	gateway  GatewayService
	exports  ExportService
	checks   []HealthCheck
}

type initializeResponse struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LibraryID    int64     `json:"libraryId"`
}

type listResponse struct {
	Items        []models.VideoMetadata `json:"items"`
	Page         int                    `json:"page"`
	ItemsPerPage int                    `json:"itemsPerPage"`
}

func respondError(c *gin.Context, err error) {
	status, body := apperr.ToBody(err)
	c.Error(err)
	c.JSON(status, gin.H{"error": body})
}

func mustSession(c *gin.Context) (*models.Session, bool) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		respondError(c, apperr.NotInitialized("Call initialize() before using the SDK."))
	}
	return sess, ok
}

func libraryParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("libraryId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidArgument("libraryId must be a positive integer.")
	}
	return id, nil
}

// intQuery parses an optional integer query parameter; absent means 0
func intQuery(c *gin.Context, name string) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidArgument("%s must be an integer.", name)
	}
	return n, nil
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	for _, hc := range api.checks {
		if err := hc.Check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"component": hc.Name,
				"error":     err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Initialize endpoint
func (api *API) initialize(c *gin.Context) {
	var params session.InitializeParams
	if err := c.ShouldBindJSON(&params); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeInvalidArgument, err, "invalid request body"))
		return
	}

	sess, token, err := api.sessions.Initialize(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, initializeResponse{
		SessionToken: token,
		ExpiresAt:    sess.ExpiresAt,
		LibraryID:    sess.LibraryID,
	})
}

// Ends the caller's session
func (api *API) revokeSession(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	if err := api.sessions.Revoke(c.Request.Context(), sess.ID); err != nil {
		respondError(c, err)
		return
	}
	api.gateway.ForgetSession(c.Request.Context(), sess)
	c.Status(http.StatusNoContent)
}

func (api *API) getVideo(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	libraryID, err := libraryParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	video, err := api.gateway.GetVideo(c.Request.Context(), sess, libraryID, c.Param("videoId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

func (api *API) listVideos(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	libraryID, err := libraryParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := intQuery(c, "page")
	if err != nil {
		respondError(c, err)
		return
	}
	perPage, err := intQuery(c, "itemsPerPage")
	if err != nil {
		respondError(c, err)
		return
	}

	query := models.VideoListQuery{
		LibraryID:    libraryID,
		Page:         page,
		ItemsPerPage: perPage,
		CollectionID: c.Query("collectionId"),
	}
	videos, err := api.gateway.ListVideos(c.Request.Context(), sess, query)
	if err != nil {
		respondError(c, err)
		return
	}

	if query.Page == 0 {
		query.Page = models.DefaultPage
	}
	if query.ItemsPerPage == 0 {
		query.ItemsPerPage = models.DefaultItemsPerPage
	}
	c.JSON(http.StatusOK, listResponse{Items: videos, Page: query.Page, ItemsPerPage: query.ItemsPerPage})
}

func (api *API) getVideoPlayData(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	libraryID, err := libraryParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	req := models.PlaybackRequest{
		VideoID:   c.Param("videoId"),
		LibraryID: libraryID,
		Token:     c.Query("token"),
	}
	// presence of expires, not its value, decides whether it is emitted
	if raw, present := c.GetQuery("expires"); present {
		expires, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			respondError(c, apperr.InvalidArgument("expires must be an integer."))
			return
		}
		req.ExpiresAt = &expires
	}

	urls, err := api.gateway.GetVideoPlayData(c.Request.Context(), sess, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, urls)
}

// Collections answer UNIMPLEMENTED_NATIVE whatever the session or arguments
func (api *API) listCollections(c *gin.Context) {
	sess, _ := middleware.GetSession(c)
	libraryID, _ := strconv.ParseInt(c.Param("libraryId"), 10, 64)

	collections, err := api.gateway.ListCollections(c.Request.Context(), sess, libraryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": collections})
}

func (api *API) getCollection(c *gin.Context) {
	sess, _ := middleware.GetSession(c)
	libraryID, _ := strconv.ParseInt(c.Param("libraryId"), 10, 64)

	collection, err := api.gateway.GetCollection(c.Request.Context(), sess, libraryID, c.Param("collectionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (api *API) getPlatformVersion(c *gin.Context) {
	version, err := api.gateway.PlatformVersion(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platformVersion": version})
}

func (api *API) createExport(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	libraryID, err := libraryParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		CollectionID string `json:"collectionId"`
	}
	// body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperr.Wrap(apperr.CodeInvalidArgument, err, "invalid request body"))
			return
		}
	}

	job, err := api.exports.Create(c.Request.Context(), sess, libraryID, req.CollectionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (api *API) getExport(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	job, err := api.exports.Get(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (api *API) listExports(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	libraryID, err := libraryParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}

	jobs, err := api.exports.List(c.Request.Context(), sess, libraryID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": jobs})
}

// Streams the JSON snapshot of a completed export
func (api *API) getExportSnapshot(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}

	rc, job, err := api.exports.OpenSnapshot(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, "application/json", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s.json"`, job.ID),
	})
}
