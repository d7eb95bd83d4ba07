package store

import (
	"context"
	"encoding/json"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/voicenotes/voicenotes/internal/clip"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// clipRecord is the persisted shape of a clip. MediaPath is deliberately not
// part of the schema: it is a session-local handle.
type clipRecord struct {
	ClipID        string `gorm:"column:clip_id;primaryKey;size:190;not null"`
	CreatedAtMs   int64  `gorm:"column:created_at_ms;not null;index:idx_clips_created"`
	MimeType      string `gorm:"column:mime_type;size:100;not null"`
	SizeBytes     int64  `gorm:"column:size_bytes;not null;default:0"`
	DurationMs    int64  `gorm:"column:duration_ms;not null;default:0"`
	Title         string `gorm:"column:title;type:text;not null;default:''"`
	TagsJSON      string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	Details       string `gorm:"column:details;type:text;not null;default:''"`
	ServerID      string `gorm:"column:server_id;size:190;not null;default:''"`
	TranscriptURL string `gorm:"column:transcript_url;type:text;not null;default:''"`
	Transcript    string `gorm:"column:transcript;type:text;not null;default:''"`
	Status        string `gorm:"column:status;size:32;not null"`
	Blob          []byte `gorm:"column:blob;type:blob"`
}

// TableName provides the explicit table binding for GORM.
func (clipRecord) TableName() string {
	return "clips"
}

// SQLiteStore persists clips in a local SQLite database via GORM. It is the
// durable primary tier of the fallback chain.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite establishes a SQLite connection, performs schema migration and
// returns the durable clip store.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&clipRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("clip database initialized", zap.String("path", path))
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing GORM handle, assumed migrated.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts the clip by id.
func (s *SQLiteStore) Save(ctx context.Context, record clip.Clip) error {
	if record.ID == "" {
		return ErrMissingClipID
	}
	row, err := toRecord(record)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetAll returns every persisted clip.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]clip.Clip, error) {
	var rows []clipRecord
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	clips := make([]clip.Clip, 0, len(rows))
	for _, row := range rows {
		clips = append(clips, fromRecord(row))
	}
	return clips, nil
}

// Remove deletes the clip by id. Deleting an unknown id is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&clipRecord{}, "clip_id = ?", id).Error
}

func toRecord(record clip.Clip) (clipRecord, error) {
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return clipRecord{}, err
	}
	return clipRecord{
		ClipID:        record.ID,
		CreatedAtMs:   record.CreatedAtMs,
		MimeType:      record.MimeType,
		SizeBytes:     record.SizeBytes,
		DurationMs:    record.DurationMs,
		Title:         record.Title,
		TagsJSON:      string(tagsJSON),
		Details:       record.Details,
		ServerID:      record.ServerID,
		TranscriptURL: record.TranscriptURL,
		Transcript:    record.Transcript,
		Status:        string(record.Status),
		Blob:          record.Blob,
	}, nil
}

func fromRecord(row clipRecord) clip.Clip {
	var tags []string
	if row.TagsJSON != "" {
		// Malformed tag payloads degrade to no tags rather than failing the read.
		_ = json.Unmarshal([]byte(row.TagsJSON), &tags)
	}
	return clip.Clip{
		ID:            row.ClipID,
		CreatedAtMs:   row.CreatedAtMs,
		MimeType:      row.MimeType,
		SizeBytes:     row.SizeBytes,
		DurationMs:    row.DurationMs,
		Title:         row.Title,
		Tags:          tags,
		Details:       row.Details,
		ServerID:      row.ServerID,
		TranscriptURL: row.TranscriptURL,
		Transcript:    row.Transcript,
		Status:        clip.Status(row.Status),
		Blob:          row.Blob,
	}
}
