package models

// PlaybackRequest describes the playback URLs to build for one video.
type PlaybackRequest struct {
	VideoID     string `json:"videoId"`
	LibraryID   int64  `json:"libraryId"`
	CDNHostname string `json:"cdnHostname,omitempty"`
	Token       string `json:"token,omitempty"`
	ExpiresAt   *int64 `json:"expires,omitempty"`
}

// PlaybackURLSet holds the adaptive manifest and fixed-bitrate rendition URLs
// of a video. FallbackURL is always the 720p rendition.
type PlaybackURLSet struct {
	VideoID       string            `json:"videoId"`
	LibraryID     int64             `json:"libraryId"`
	PlaylistURL   string            `json:"videoPlaylistUrl"`
	FallbackURL   string            `json:"fallbackUrl"`
	URL360p       string            `json:"url360p"`
	URL720p       string            `json:"url720p"`
	URL1080p      string            `json:"url1080p"`
	RenditionURLs map[string]string `json:"renditions"`
}

// Rendition quality labels
const (
	Rendition360p  = "360p"
	Rendition720p  = "720p"
	Rendition1080p = "1080p"
)

// FallbackRendition is the rendition exposed as the generic fallback URL.
const FallbackRendition = Rendition720p
