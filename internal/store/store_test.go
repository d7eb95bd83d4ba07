package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/voicenotes/voicenotes/internal/clip"
)

func sampleClip(id string) clip.Clip {
	return clip.Clip{
		ID:          id,
		CreatedAtMs: 1700000000000,
		MimeType:    "audio/webm",
		SizeBytes:   5000,
		DurationMs:  1200,
		Title:       "Untitled note",
		Tags:        []string{"todo", "todo"},
		Status:      clip.StatusSaved,
		Blob:        []byte{1, 2, 3, 4},
		MediaPath:   "/tmp/should-not-persist.webm",
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "clips"), nil)
	if err != nil {
		t.Fatalf("unexpected file store error: %v", err)
	}
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "clips.db"), nil)
	if err != nil {
		t.Fatalf("unexpected sqlite store error: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]Store{
		"memory":   NewMemoryStore(),
		"file":     fileStore,
		"sqlite":   sqliteStore,
		"fallback": NewFallbackStore(NewMemoryStore(), NewMemoryStore(), nil),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			saved := sampleClip("c1")
			if err := s.Save(ctx, saved); err != nil {
				t.Fatalf("unexpected save error: %v", err)
			}
			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("unexpected read error: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("expected one clip, got %d", len(all))
			}
			got := all[0]
			if got.ID != saved.ID || got.Title != saved.Title || got.MimeType != saved.MimeType {
				t.Fatalf("round trip mismatch: %#v", got)
			}
			if !reflect.DeepEqual(got.Tags, saved.Tags) {
				t.Fatalf("tags mismatch, want %v got %v", saved.Tags, got.Tags)
			}
			if !reflect.DeepEqual(got.Blob, saved.Blob) {
				t.Fatalf("blob must be persisted, got %v", got.Blob)
			}
			if got.MediaPath != "" {
				t.Fatalf("media path must not be persisted, got %q", got.MediaPath)
			}
		})
	}
}

func TestStoreSaveUpsertsByID(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := sampleClip("c1")
			if err := s.Save(ctx, first); err != nil {
				t.Fatalf("unexpected save error: %v", err)
			}
			updated := first
			updated.Title = "Renamed"
			updated.Status = clip.StatusProcessing
			if err := s.Save(ctx, updated); err != nil {
				t.Fatalf("unexpected second save error: %v", err)
			}
			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("unexpected read error: %v", err)
			}
			if len(all) != 1 {
				t.Fatalf("upsert must keep one record per id, got %d", len(all))
			}
			if all[0].Title != "Renamed" || all[0].Status != clip.StatusProcessing {
				t.Fatalf("upsert did not replace record: %#v", all[0])
			}
		})
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Remove(ctx, "never-saved"); err != nil {
				t.Fatalf("removing unknown id must not fail: %v", err)
			}
			if err := s.Save(ctx, sampleClip("c1")); err != nil {
				t.Fatalf("unexpected save error: %v", err)
			}
			if err := s.Remove(ctx, "c1"); err != nil {
				t.Fatalf("unexpected remove error: %v", err)
			}
			if err := s.Remove(ctx, "c1"); err != nil {
				t.Fatalf("second remove must not fail: %v", err)
			}
			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("unexpected read error: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("expected empty store, got %d clips", len(all))
			}
		})
	}
}

func TestStoreRejectsEmptyID(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Save(context.Background(), clip.Clip{}); !errors.Is(err, ErrMissingClipID) {
				t.Fatalf("expected ErrMissingClipID, got %v", err)
			}
		})
	}
}

func TestStoreHoldsMultipleClips(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"c1", "c2", "c3"} {
				if err := s.Save(ctx, sampleClip(id)); err != nil {
					t.Fatalf("unexpected save error: %v", err)
				}
			}
			all, err := s.GetAll(ctx)
			if err != nil {
				t.Fatalf("unexpected read error: %v", err)
			}
			ids := make([]string, 0, len(all))
			for _, record := range all {
				ids = append(ids, record.ID)
			}
			sort.Strings(ids)
			if !reflect.DeepEqual(ids, []string{"c1", "c2", "c3"}) {
				t.Fatalf("unexpected ids: %v", ids)
			}
		})
	}
}
