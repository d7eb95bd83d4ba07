package store

import (
	"context"
	"errors"

	"github.com/voicenotes/voicenotes/internal/clip"
)

// ErrMissingClipID indicates a save attempt for a clip without an identifier.
var ErrMissingClipID = errors.New("store: clip id is required")

// Store is durable key-value persistence for clip records. Save upserts by
// clip id and must not persist the transient MediaPath. Remove is idempotent.
// GetAll imposes no ordering; callers sort for presentation.
type Store interface {
	Save(ctx context.Context, record clip.Clip) error
	GetAll(ctx context.Context) ([]clip.Clip, error)
	Remove(ctx context.Context, id string) error
}
