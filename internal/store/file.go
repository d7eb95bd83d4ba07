package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicenotes/voicenotes/internal/clip"
	"go.uber.org/zap"
)

const clipFileSuffix = ".clip.json"

// clipDocument is the on-disk JSON shape of a clip. The audio payload is
// base64-encoded inline so one file carries the complete record.
type clipDocument struct {
	ID            string   `json:"id"`
	CreatedAtMs   int64    `json:"createdAt"`
	MimeType      string   `json:"mimeType"`
	SizeBytes     int64    `json:"size,omitempty"`
	DurationMs    int64    `json:"duration,omitempty"`
	Title         string   `json:"title,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Details       string   `json:"details,omitempty"`
	ServerID      string   `json:"serverId,omitempty"`
	TranscriptURL string   `json:"transcriptUrl,omitempty"`
	Transcript    string   `json:"transcriptText,omitempty"`
	Status        string   `json:"status"`
	BlobBase64    string   `json:"blob,omitempty"`
}

// FileStore persists one JSON document per clip under a directory. It is the
// simple-keyed middle tier of the fallback chain.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store: file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Save upserts the clip by id, writing through a temp file then renaming.
func (s *FileStore) Save(_ context.Context, record clip.Clip) error {
	if record.ID == "" {
		return ErrMissingClipID
	}
	doc := clipDocument{
		ID:            record.ID,
		CreatedAtMs:   record.CreatedAtMs,
		MimeType:      record.MimeType,
		SizeBytes:     record.SizeBytes,
		DurationMs:    record.DurationMs,
		Title:         record.Title,
		Tags:          record.Tags,
		Details:       record.Details,
		ServerID:      record.ServerID,
		TranscriptURL: record.TranscriptURL,
		Transcript:    record.Transcript,
		Status:        string(record.Status),
	}
	if record.Blob != nil {
		doc.BlobBase64 = base64.StdEncoding.EncodeToString(record.Blob)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	target := s.pathFor(record.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// GetAll returns every readable clip document. Malformed documents are
// skipped with a warning rather than failing the whole read.
func (s *FileStore) GetAll(_ context.Context) ([]clip.Clip, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	clips := make([]clip.Clip, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), clipFileSuffix) {
			continue
		}
		record, err := s.readDocument(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable clip document",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		clips = append(clips, record)
	}
	return clips, nil
}

// Remove deletes the clip document. Removing an unknown id is not an error.
func (s *FileStore) Remove(_ context.Context, id string) error {
	err := os.Remove(s.pathFor(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) pathFor(id string) string {
	return filepath.Join(s.dir, id+clipFileSuffix)
}

func (s *FileStore) readDocument(path string) (clip.Clip, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return clip.Clip{}, err
	}
	var doc clipDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return clip.Clip{}, err
	}
	record := clip.Clip{
		ID:            doc.ID,
		CreatedAtMs:   doc.CreatedAtMs,
		MimeType:      doc.MimeType,
		SizeBytes:     doc.SizeBytes,
		DurationMs:    doc.DurationMs,
		Title:         doc.Title,
		Tags:          doc.Tags,
		Details:       doc.Details,
		ServerID:      doc.ServerID,
		TranscriptURL: doc.TranscriptURL,
		Transcript:    doc.Transcript,
		Status:        clip.Status(doc.Status),
	}
	if doc.BlobBase64 != "" {
		blob, err := base64.StdEncoding.DecodeString(doc.BlobBase64)
		if err != nil {
			return clip.Clip{}, err
		}
		record.Blob = blob
	}
	return record, nil
}
