// Package gateway implements the Bunny Stream method surface on top of an
// explicit session: metadata proxying, playback URL building and the
// collection and platform calls.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/logging"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/metrics"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/platform"
	"github.com/therealutkarshpriyadarshi/bunnystream/internal/playback"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
	"golang.org/x/sync/singleflight"
)

// VideoSource fetches metadata from the management API
type VideoSource interface {
	GetVideo(ctx context.Context, accessKey string, libraryID int64, videoID string) (models.VideoMetadata, error)
	ListVideos(ctx context.Context, accessKey string, query models.VideoListQuery) ([]models.VideoMetadata, error)
}

// MetadataCache caches single-video lookups. GetVideo returns nil, nil on a miss.
type MetadataCache interface {
	GetVideo(ctx context.Context, scope string, libraryID int64, videoID string) (models.VideoMetadata, error)
	SetVideo(ctx context.Context, scope string, libraryID int64, videoID string, video models.VideoMetadata, ttl time.Duration) error
	InvalidateLibrary(ctx context.Context, scope string, libraryID int64) error
}

// Options configures a Gateway. Cache and Platform are optional.
type Options struct {
	Videos   VideoSource
	Cache    MetadataCache
	CacheTTL time.Duration
	Platform platform.Provider
	Logger   *logging.Logger
}

// Gateway serves the method surface for initialized sessions
type Gateway struct {
	videos   VideoSource
	cache    MetadataCache
	cacheTTL time.Duration
	platform platform.Provider
	logger   *logging.Logger
	group    singleflight.Group
}

// New creates a gateway
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	provider := opts.Platform
	if provider == nil {
		provider = platform.NewHostProvider()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &Gateway{
		videos:   opts.Videos,
		cache:    opts.Cache,
		cacheTTL: ttl,
		platform: provider,
		logger:   logger.WithComponent("gateway"),
	}
}

// requireSession rejects a missing session. purpose names the data being
// requested in the error message.
func requireSession(sess *models.Session, purpose string) error {
	if sess == nil || strings.TrimSpace(sess.AccessKey) == "" || sess.LibraryID <= 0 {
		return apperr.NotInitializedFor(purpose)
	}
	return nil
}

func validateLibrary(libraryID int64) error {
	if libraryID <= 0 {
		return apperr.InvalidArgument("libraryId must be a positive integer.")
	}
	return nil
}

// GetVideo returns the vendor metadata of one video. Concurrent lookups of the
// same video under the same key share one upstream request.
func (g *Gateway) GetVideo(ctx context.Context, sess *models.Session, libraryID int64, videoID string) (models.VideoMetadata, error) {
	if err := requireSession(sess, "video metadata"); err != nil {
		return nil, err
	}
	if err := validateLibrary(libraryID); err != nil {
		return nil, err
	}
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, apperr.InvalidArgument("videoId is required.")
	}

	scope := sess.KeyFingerprint()
	logger := g.logger.WithSessionID(sess.ID).WithLibraryID(libraryID).WithVideoID(videoID)

	if g.cache != nil {
		cached, err := g.cache.GetVideo(ctx, scope, libraryID, videoID)
		if err != nil {
			logger.WithError(err).Warn("Metadata cache read failed")
		}
		metrics.RecordCacheAccess("video", cached != nil)
		if cached != nil {
			return cached, nil
		}
	}

	key := fmt.Sprintf("%s:%d:%s", scope, libraryID, videoID)
	// detached so one cancelled caller does not fail the others
	fetchCtx := context.WithoutCancel(ctx)
	result, err, shared := g.group.Do(key, func() (interface{}, error) {
		video, err := g.videos.GetVideo(fetchCtx, sess.AccessKey, libraryID, videoID)
		if err != nil {
			return nil, err
		}
		if g.cache != nil {
			if err := g.cache.SetVideo(fetchCtx, scope, libraryID, videoID, video, g.cacheTTL); err != nil {
				logger.WithError(err).Warn("Metadata cache write failed")
			}
		}
		return video, nil
	})
	if err != nil {
		metrics.RecordError("gateway", string(apperr.CodeOf(err)))
		return nil, err
	}
	if shared {
		logger.Debug("Shared in-flight metadata fetch")
	}

	return result.(models.VideoMetadata), nil
}

// ForgetSession drops the metadata cached under a session's access key
func (g *Gateway) ForgetSession(ctx context.Context, sess *models.Session) {
	if g.cache == nil || sess == nil {
		return
	}
	if err := g.cache.InvalidateLibrary(ctx, sess.KeyFingerprint(), sess.LibraryID); err != nil {
		g.logger.WithSessionID(sess.ID).WithError(err).Warn("Failed to invalidate cached metadata")
	}
}

// ListVideos returns one page of a library's videos. Zero paging values mean
// the defaults (page 1, 100 per page).
func (g *Gateway) ListVideos(ctx context.Context, sess *models.Session, query models.VideoListQuery) ([]models.VideoMetadata, error) {
	if err := requireSession(sess, "videos"); err != nil {
		return nil, err
	}
	if err := validateLibrary(query.LibraryID); err != nil {
		return nil, err
	}
	if query.Page < 0 {
		return nil, apperr.InvalidArgument("page must be a positive integer.")
	}
	if query.ItemsPerPage < 0 {
		return nil, apperr.InvalidArgument("itemsPerPage must be a positive integer.")
	}
	if query.Page == 0 {
		query.Page = models.DefaultPage
	}
	if query.ItemsPerPage == 0 {
		query.ItemsPerPage = models.DefaultItemsPerPage
	}
	query.CollectionID = strings.TrimSpace(query.CollectionID)

	videos, err := g.videos.ListVideos(ctx, sess.AccessKey, query)
	if err != nil {
		metrics.RecordError("gateway", string(apperr.CodeOf(err)))
		return nil, err
	}
	return videos, nil
}

// GetVideoPlayData builds the playback URLs of a video using the session's
// CDN hostname. No network call is made.
func (g *Gateway) GetVideoPlayData(_ context.Context, sess *models.Session, req models.PlaybackRequest) (*models.PlaybackURLSet, error) {
	if err := requireSession(sess, "play data"); err != nil {
		return nil, err
	}

	req.CDNHostname = sess.CDNHostname
	set, err := playback.Build(req)
	if err != nil {
		return nil, err
	}

	metrics.RecordPlaybackURLSet(strings.TrimSpace(req.Token) != "" || req.ExpiresAt != nil)
	return set, nil
}

// ListCollections is not available natively
func (g *Gateway) ListCollections(_ context.Context, _ *models.Session, _ int64) ([]models.VideoMetadata, error) {
	return nil, unimplemented("listCollections")
}

// GetCollection is not available natively
func (g *Gateway) GetCollection(_ context.Context, _ *models.Session, _ int64, _ string) (models.VideoMetadata, error) {
	return nil, unimplemented("getCollection")
}

func unimplemented(method string) error {
	return apperr.Unimplemented("Native Bunny SDK integration for %s is not implemented yet.", method)
}

// PlatformVersion reports the platform the gateway runs on. It needs no session.
func (g *Gateway) PlatformVersion(ctx context.Context) (string, error) {
	version, err := g.platform.Version(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, err, "failed to determine platform version")
	}
	return version, nil
}
