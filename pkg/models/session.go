package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Session holds the state registered by initialize: the management API access
// key, the default library and an optional custom CDN hostname.
type Session struct {
	ID          string    `json:"id"`
	AccessKey   string    `json:"accessKey"`
	LibraryID   int64     `json:"libraryId"`
	CDNHostname string    `json:"cdnHostname,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// KeyFingerprint identifies the access key without revealing it. It scopes
// cached vendor responses so one key never reads data fetched with another.
func (s *Session) KeyFingerprint() string {
	sum := sha256.Sum256([]byte(s.AccessKey))
	return hex.EncodeToString(sum[:8])
}

// LibraryRegistration records that a library was initialized against the gateway.
type LibraryRegistration struct {
	LibraryID     int64     `json:"libraryId" db:"library_id"`
	CDNHostname   string    `json:"cdnHostname,omitempty" db:"cdn_hostname"`
	AccessKeyHash string    `json:"-" db:"access_key_hash"`
	SessionCount  int64     `json:"sessionCount" db:"session_count"`
	FirstSeenAt   time.Time `json:"firstSeenAt" db:"first_seen_at"`
	LastSeenAt    time.Time `json:"lastSeenAt" db:"last_seen_at"`

	// KeyRotated is set when the latest registration used a different access key
	KeyRotated bool `json:"keyRotated" db:"-"`
}

// IsFirst reports whether this registration created the library record.
func (r *LibraryRegistration) IsFirst() bool {
	return r.SessionCount == 1
}
