package models

import (
	"time"
)

// ExportJob represents a catalog export of a library (or one of its collections)
// into object storage.
type ExportJob struct {
	ID           string     `json:"id" db:"id"`
	SessionID    string     `json:"-" db:"session_id"`
	LibraryID    int64      `json:"libraryId" db:"library_id"`
	CollectionID string     `json:"collectionId,omitempty" db:"collection_id"`
	Status       string     `json:"status" db:"status"`
	ObjectKey    string     `json:"objectKey,omitempty" db:"object_key"`
	VideoCount   int        `json:"videoCount" db:"video_count"`
	ErrorCode    string     `json:"errorCode,omitempty" db:"error_code"`
	ErrorMsg     string     `json:"errorMessage,omitempty" db:"error_msg"`
	DownloadURL  string     `json:"downloadUrl,omitempty" db:"-"`
	StartedAt    *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsTerminal reports whether the job has finished, successfully or not.
func (j *ExportJob) IsTerminal() bool {
	return j.Status == ExportStatusCompleted || j.Status == ExportStatusFailed
}

// ExportStatus constants
const (
	ExportStatusPending    = "pending"
	ExportStatusQueued     = "queued"
	ExportStatusProcessing = "processing"
	ExportStatusCompleted  = "completed"
	ExportStatusFailed     = "failed"
)

// ExportSnapshot is the document written to object storage by an export.
type ExportSnapshot struct {
	ExportID     string          `json:"exportId"`
	LibraryID    int64           `json:"libraryId"`
	CollectionID string          `json:"collectionId,omitempty"`
	ExportedAt   time.Time       `json:"exportedAt"`
	VideoCount   int             `json:"videoCount"`
	Videos       []VideoMetadata `json:"videos"`
}
