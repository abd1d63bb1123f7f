package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// VideoMetadata is a video object as returned by the Bunny Stream management API.
// The vendor schema is open-ended, so the object is kept as a decoded JSON tree.
type VideoMetadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m VideoMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *VideoMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(VideoMetadata)
		return nil
	}

	data, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported metadata type %T", value)
	}

	decoded, err := DecodeVideoMetadata(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// GUID returns the vendor video identifier, if present.
func (m VideoMetadata) GUID() string {
	guid, _ := m["guid"].(string)
	return guid
}

// DecodeVideoMetadata decodes a single JSON object, keeping numbers exact.
func DecodeVideoMetadata(data []byte) (VideoMetadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var meta VideoMetadata
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return meta, nil
}

// VideoListQuery selects one page of a library's videos.
type VideoListQuery struct {
	LibraryID    int64  `json:"libraryId"`
	Page         int    `json:"page"`
	ItemsPerPage int    `json:"itemsPerPage"`
	CollectionID string `json:"collectionId,omitempty"`
}

// Defaults for video listing
const (
	DefaultPage         = 1
	DefaultItemsPerPage = 100
)
