package clip

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the lifecycle states of a clip.
type Status string

const (
	// StatusRecording marks a clip whose capture session is still active.
	StatusRecording Status = "recording"
	// StatusSaved marks a finalized clip persisted locally.
	StatusSaved Status = "saved"
	// StatusQueued marks a clip waiting for connectivity before upload.
	StatusQueued Status = "queued"
	// StatusProcessing marks a clip uploaded and awaiting server-side completion.
	StatusProcessing Status = "processing"
	// StatusUploaded marks a clip whose server-side processing finished.
	StatusUploaded Status = "uploaded"
	// StatusError marks a clip whose upload attempt failed.
	StatusError Status = "error"
)

const maxIdentifierLength = 190

// ErrInvalidClipID indicates that a clip identifier is empty or exceeds storage bounds.
var ErrInvalidClipID = errors.New("clip: invalid clip id")

// ID represents a validated clip identifier.
type ID string

// NewID validates raw input and returns an ID.
func NewID(rawInput string) (ID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidClipID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidClipID, maxIdentifierLength)
	}
	return ID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ID) String() string {
	return string(id)
}

// Clip models one recorded note through its entire life.
type Clip struct {
	ID            string
	CreatedAtMs   int64
	MimeType      string
	SizeBytes     int64
	DurationMs    int64
	Title         string
	Tags          []string
	Details       string
	ServerID      string
	TranscriptURL string
	Transcript    string
	Status        Status

	// Blob holds the encoded audio payload. A nil Blob on an in-memory
	// instance means the payload has not been hydrated from the store.
	Blob []byte

	// MediaPath is a transient playback handle derived from Blob. It is
	// never persisted and must be released when the clip is removed.
	MediaPath string
}

// Terminal reports whether the clip requires no further server tracking.
func (c Clip) Terminal() bool {
	return c.Status == StatusUploaded
}

// Tracked reports whether the clip should have an active status watcher.
func (c Clip) Tracked() bool {
	return c.Status == StatusProcessing && c.ServerID != ""
}

// Clone returns a deep copy of the clip.
func (c Clip) Clone() Clip {
	copied := c
	if c.Tags != nil {
		copied.Tags = append([]string(nil), c.Tags...)
	}
	if c.Blob != nil {
		copied.Blob = append([]byte(nil), c.Blob...)
	}
	return copied
}

// Patch describes a partial update to a clip. Nil fields are left untouched.
type Patch struct {
	Status        *Status
	Title         *string
	Tags          *[]string
	Details       *string
	ServerID      *string
	TranscriptURL *string
	Transcript    *string
	SizeBytes     *int64
	DurationMs    *int64
	Blob          *[]byte
	MediaPath     *string
}

// Apply merges the patch into the clip and returns the result.
func (p Patch) Apply(c Clip) Clip {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Tags != nil {
		c.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Details != nil {
		c.Details = *p.Details
	}
	if p.ServerID != nil {
		c.ServerID = *p.ServerID
	}
	if p.TranscriptURL != nil {
		c.TranscriptURL = *p.TranscriptURL
	}
	if p.Transcript != nil {
		c.Transcript = *p.Transcript
	}
	if p.SizeBytes != nil {
		c.SizeBytes = *p.SizeBytes
	}
	if p.DurationMs != nil {
		c.DurationMs = *p.DurationMs
	}
	if p.Blob != nil {
		c.Blob = *p.Blob
	}
	if p.MediaPath != nil {
		c.MediaPath = *p.MediaPath
	}
	return c
}

// ServerMetadata carries the metadata fields a server response may include.
type ServerMetadata struct {
	Title         string
	Tags          []string
	Details       string
	TranscriptURL string
	Transcript    string
}

// MergeServerMetadata folds server-provided fields into the clip, keeping the
// local value whenever the server omitted a field.
func MergeServerMetadata(c Clip, meta ServerMetadata) Clip {
	if meta.Title != "" {
		c.Title = meta.Title
	}
	if meta.Tags != nil {
		c.Tags = append([]string(nil), meta.Tags...)
	}
	if meta.Details != "" {
		c.Details = meta.Details
	}
	if meta.TranscriptURL != "" {
		c.TranscriptURL = meta.TranscriptURL
	}
	if meta.Transcript != "" {
		c.Transcript = meta.Transcript
	}
	return c
}
