package store

import (
	"context"
	"sync"

	"github.com/voicenotes/voicenotes/internal/clip"
)

// MemoryStore keeps clips in an in-process map. It is the last-resort tier of
// a fallback chain: none of its operations can fail beyond input validation,
// at the cost of losing clips on process restart.
type MemoryStore struct {
	mu    sync.RWMutex
	clips map[string]clip.Clip
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clips: make(map[string]clip.Clip)}
}

// Save upserts the clip by id.
func (s *MemoryStore) Save(_ context.Context, record clip.Clip) error {
	if record.ID == "" {
		return ErrMissingClipID
	}
	record.MediaPath = ""
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips[record.ID] = record.Clone()
	return nil
}

// GetAll returns every stored clip.
func (s *MemoryStore) GetAll(_ context.Context) ([]clip.Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]clip.Clip, 0, len(s.clips))
	for _, record := range s.clips {
		result = append(result, record.Clone())
	}
	return result, nil
}

// Remove deletes the clip by id. Removing an unknown id is not an error.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clips, id)
	return nil
}
