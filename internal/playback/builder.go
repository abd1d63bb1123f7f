// Package playback builds Bunny Stream CDN playback URLs for a video.
//
// Construction is purely local: no vendor API is called. Signed access is
// expressed through optional token and expires query parameters.
package playback

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/bunnystream/internal/apperr"
	"github.com/therealutkarshpriyadarshi/bunnystream/pkg/models"
)

const (
	defaultHostPattern = "vz-%d.b-cdn.net"
	playlistFile       = "playlist.m3u8"
	renditionPattern   = "play_%s.mp4"
)

// Renditions lists the fixed-bitrate renditions in ascending quality.
var Renditions = []string{
	models.Rendition360p,
	models.Rendition720p,
	models.Rendition1080p,
}

// DefaultHost returns the pull-zone hostname Bunny assigns to a library.
func DefaultHost(libraryID int64) string {
	return fmt.Sprintf(defaultHostPattern, libraryID)
}

// ResolveHost returns the trimmed custom hostname, or the library default when
// it is blank.
func ResolveHost(cdnHostname string, libraryID int64) string {
	if host := strings.TrimSpace(cdnHostname); host != "" {
		return host
	}
	return DefaultHost(libraryID)
}

// Build validates req and returns the playlist, fallback and rendition URLs.
func Build(req models.PlaybackRequest) (*models.PlaybackURLSet, error) {
	videoID := strings.TrimSpace(req.VideoID)
	if videoID == "" {
		return nil, apperr.InvalidArgument("videoId is required.")
	}
	if req.LibraryID <= 0 {
		return nil, apperr.InvalidArgument("libraryId must be a positive integer.")
	}

	base := fmt.Sprintf("https://%s/%s/", ResolveHost(req.CDNHostname, req.LibraryID), videoID)
	token := strings.TrimSpace(req.Token)

	set := &models.PlaybackURLSet{
		VideoID:       videoID,
		LibraryID:     req.LibraryID,
		PlaylistURL:   AppendAccessParams(base+playlistFile, token, req.ExpiresAt),
		RenditionURLs: make(map[string]string, len(Renditions)),
	}
	for _, label := range Renditions {
		set.RenditionURLs[label] = AppendAccessParams(base+fmt.Sprintf(renditionPattern, label), token, req.ExpiresAt)
	}

	set.URL360p = set.RenditionURLs[models.Rendition360p]
	set.URL720p = set.RenditionURLs[models.Rendition720p]
	set.URL1080p = set.RenditionURLs[models.Rendition1080p]
	set.FallbackURL = set.RenditionURLs[models.FallbackRendition]

	return set, nil
}

// AppendAccessParams appends the token and expires parameters to rawURL. The
// token is query-escaped and always precedes expires. With neither present
// rawURL is returned unchanged.
func AppendAccessParams(rawURL, token string, expiresAt *int64) string {
	token = strings.TrimSpace(token)
	if token == "" && expiresAt == nil {
		return rawURL
	}

	params := make([]string, 0, 2)
	if token != "" {
		params = append(params, "token="+url.QueryEscape(token))
	}
	if expiresAt != nil {
		params = append(params, "expires="+strconv.FormatInt(*expiresAt, 10))
	}

	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + strings.Join(params, "&")
}
