package store

import (
	"path/filepath"

	"go.uber.org/zap"
)

// OpenChain builds the standard three-tier store under dataDir:
// SQLite -> per-clip JSON files -> in-memory, nested pairwise so the
// in-memory tier guarantees the chain as a whole cannot fail. Tiers that
// cannot be opened at all are left out of the chain rather than aborting.
func OpenChain(dataDir string, logger *zap.Logger) (Store, func() error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var chain Store = NewMemoryStore()
	closer := func() error { return nil }

	fileStore, err := NewFileStore(filepath.Join(dataDir, "clips"), logger)
	if err != nil {
		logger.Warn("file store unavailable", zap.Error(err))
	} else {
		chain = NewFallbackStore(fileStore, chain, logger)
	}

	sqliteStore, err := OpenSQLite(filepath.Join(dataDir, "clips.db"), logger)
	if err != nil {
		logger.Warn("sqlite store unavailable", zap.Error(err))
	} else {
		chain = NewFallbackStore(sqliteStore, chain, logger)
		closer = sqliteStore.Close
	}

	return chain, closer
}
