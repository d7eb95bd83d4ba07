package store

import (
	"context"

	"github.com/voicenotes/voicenotes/internal/clip"
	"go.uber.org/zap"
)

// FallbackStore composes a primary and secondary store of the same interface
// using a read/write redundancy policy:
//
//   - writes and deletes are attempted against BOTH tiers, collecting rather
//     than short-circuiting errors; the call fails only when both tiers fail,
//     propagating the primary's error;
//   - reads prefer the primary's result but fall back to the secondary when
//     the primary fails OR returns an empty result set, recovering from a
//     primary that silently lost its data.
//
// The policy keeps the tiers in sync so the secondary has real data to serve
// when the primary degrades. Chains of three tiers are built by nesting
// FallbackStore instances pairwise.
type FallbackStore struct {
	primary   Store
	secondary Store
	logger    *zap.Logger
}

// NewFallbackStore composes the two tiers. The logger is optional.
func NewFallbackStore(primary, secondary Store, logger *zap.Logger) *FallbackStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackStore{primary: primary, secondary: secondary, logger: logger}
}

// Save writes to both tiers, failing only if both fail.
func (s *FallbackStore) Save(ctx context.Context, record clip.Clip) error {
	primaryErr := s.primary.Save(ctx, record)
	if primaryErr != nil {
		s.logger.Warn("primary store save failed",
			zap.String("clip_id", record.ID), zap.Error(primaryErr))
	}
	secondaryErr := s.secondary.Save(ctx, record)
	if secondaryErr != nil {
		s.logger.Warn("secondary store save failed",
			zap.String("clip_id", record.ID), zap.Error(secondaryErr))
	}
	if primaryErr != nil && secondaryErr != nil {
		return primaryErr
	}
	return nil
}

// GetAll reads from the primary, falling back on error or an empty result.
func (s *FallbackStore) GetAll(ctx context.Context) ([]clip.Clip, error) {
	clips, err := s.primary.GetAll(ctx)
	if err == nil && len(clips) > 0 {
		return clips, nil
	}
	if err != nil {
		s.logger.Warn("primary store read failed, using secondary", zap.Error(err))
	}
	return s.secondary.GetAll(ctx)
}

// Remove deletes from both tiers, failing only if both fail.
func (s *FallbackStore) Remove(ctx context.Context, id string) error {
	primaryErr := s.primary.Remove(ctx, id)
	if primaryErr != nil {
		s.logger.Warn("primary store remove failed",
			zap.String("clip_id", id), zap.Error(primaryErr))
	}
	secondaryErr := s.secondary.Remove(ctx, id)
	if secondaryErr != nil {
		s.logger.Warn("secondary store remove failed",
			zap.String("clip_id", id), zap.Error(secondaryErr))
	}
	if primaryErr != nil && secondaryErr != nil {
		return primaryErr
	}
	return nil
}
