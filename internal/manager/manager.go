package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicenotes/voicenotes/internal/clip"
	"github.com/voicenotes/voicenotes/internal/playback"
	"github.com/voicenotes/voicenotes/internal/store"
	"github.com/voicenotes/voicenotes/internal/upload"
)

var (
	errMissingStore    = errors.New("clip store is required")
	errMissingUploader = errors.New("upload client is required")
	errMissingWatchers = errors.New("watcher set is required")
	noOpLogger         = zap.NewNop()

	// ErrClipNotFound means no clip with the given id is loaded.
	ErrClipNotFound = errors.New("clip not found")
	// ErrAlreadyUploaded rejects re-uploading a clip the server has already
	// fully processed.
	ErrAlreadyUploaded = errors.New("clip already uploaded")
)

// ServiceError tags a failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opManagerNew = "clips.manager.new"
	opLoad       = "clips.load"
	opAdd        = "clips.add"
	opUpdate     = "clips.update"
	opRemove     = "clips.remove"
	opUpload     = "clips.upload"
	opRefresh    = "clips.refresh"
	opPlay       = "clips.play"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Uploader is the slice of the upload client the manager drives.
type Uploader interface {
	Upload(ctx context.Context, record clip.Clip) (upload.Result, error)
	Fetch(ctx context.Context, serverID string) (*upload.StatusResponse, error)
}

// WatcherSet tracks server-side processing per clip.
type WatcherSet interface {
	Start(record clip.Clip)
	Stop(id string)
	StopAll()
	Resync(clips []clip.Clip)
	Watching(id string) bool
}

// Player is the single-slot playback surface.
type Player interface {
	Play(record clip.Clip) error
	Stop()
	PlayingID() string
}

// Gate reports connectivity; offline uploads are queued instead of attempted.
type Gate interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

type noPlayer struct{}

func (noPlayer) Play(clip.Clip) error { return playback.ErrDeviceUnavailable }
func (noPlayer) Stop()                {}
func (noPlayer) PlayingID() string    { return "" }

// DefaultTitle is assigned to clips created without one.
const DefaultTitle = "Untitled note"

// Config wires a Manager.
type Config struct {
	Store      store.Store
	Uploader   Uploader
	Watchers   WatcherSet
	Player     Player
	Gate       Gate
	Clock      func() time.Time
	IDProvider clip.IDProvider
	Logger     *zap.Logger
}

// Manager owns the loaded clip collection and orchestrates persistence,
// upload, status tracking and playback around it.
type Manager struct {
	store      store.Store
	uploader   Uploader
	watchers   WatcherSet
	player     Player
	gate       Gate
	clock      func() time.Time
	idProvider clip.IDProvider
	logger     *zap.Logger

	mu    sync.Mutex
	clips []clip.Clip // newest first
	index map[string]int
}

// NewManager validates the wiring and returns an empty manager; call Load to
// hydrate the collection.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opManagerNew, "missing_store", errMissingStore)
	}
	if cfg.Uploader == nil {
		return nil, newServiceError(opManagerNew, "missing_uploader", errMissingUploader)
	}
	if cfg.Watchers == nil {
		return nil, newServiceError(opManagerNew, "missing_watchers", errMissingWatchers)
	}

	player := cfg.Player
	if player == nil {
		player = noPlayer{}
	}
	gate := cfg.Gate
	if gate == nil {
		gate = alwaysOnline{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = clip.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Manager{
		store:      cfg.Store,
		uploader:   cfg.Uploader,
		watchers:   cfg.Watchers,
		player:     player,
		gate:       gate,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		index:      make(map[string]int),
	}, nil
}

// Load hydrates the collection from the store, newest first, and derives the
// watcher set from it.
func (m *Manager) Load(ctx context.Context) error {
	records, err := m.store.GetAll(ctx)
	if err != nil {
		return newServiceError(opLoad, "store_read_failed", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAtMs > records[j].CreatedAtMs
	})

	m.mu.Lock()
	m.clips = records
	m.reindexLocked()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.watchers.Resync(snapshot)
	m.logger.Info("clips loaded", zap.Int("count", len(records)))
	return nil
}

// Clips returns a newest-first snapshot of the collection.
func (m *Manager) Clips() []clip.Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Get returns a copy of one clip.
func (m *Manager) Get(id string) (clip.Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	position, ok := m.index[id]
	if !ok {
		return clip.Clip{}, ErrClipNotFound
	}
	return m.clips[position].Clone(), nil
}

// Search filters clips by a case-insensitive match over title, tags and
// details. An empty query returns everything.
func (m *Manager) Search(query string) []clip.Clip {
	needle := strings.ToLower(strings.TrimSpace(query))
	snapshot := m.Clips()
	if needle == "" {
		return snapshot
	}
	matched := make([]clip.Clip, 0, len(snapshot))
	for _, record := range snapshot {
		if clipMatches(record, needle) {
			matched = append(matched, record)
		}
	}
	return matched
}

// AddClip fills identity defaults, persists the clip and inserts it at the
// front of the collection.
func (m *Manager) AddClip(ctx context.Context, record clip.Clip) (clip.Clip, error) {
	if record.ID == "" {
		generated, err := m.idProvider.NewID()
		if err != nil {
			return clip.Clip{}, newServiceError(opAdd, "id_generation_failed", err)
		}
		record.ID = generated
	}
	if record.CreatedAtMs == 0 {
		record.CreatedAtMs = m.clock().UnixMilli()
	}
	if record.Title == "" {
		record.Title = DefaultTitle
	}
	if record.Status == "" {
		record.Status = clip.StatusSaved
	}
	if record.SizeBytes == 0 {
		record.SizeBytes = int64(len(record.Blob))
	}

	if err := m.store.Save(ctx, record); err != nil {
		return clip.Clip{}, newServiceError(opAdd, "store_save_failed", err)
	}

	m.mu.Lock()
	m.clips = append([]clip.Clip{record}, m.clips...)
	m.reindexLocked()
	m.mu.Unlock()

	m.logger.Info("clip added", zap.String("clip_id", record.ID))
	return record.Clone(), nil
}

// UpdateClip merges the patch into the clip and re-persists it.
func (m *Manager) UpdateClip(ctx context.Context, id string, patch clip.Patch) (clip.Clip, error) {
	m.mu.Lock()
	position, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return clip.Clip{}, newServiceError(opUpdate, "not_found", ErrClipNotFound)
	}
	updated := patch.Apply(m.clips[position])
	m.clips[position] = updated
	m.mu.Unlock()

	if err := m.store.Save(ctx, updated); err != nil {
		return clip.Clip{}, newServiceError(opUpdate, "store_save_failed", err)
	}
	return updated.Clone(), nil
}

// RemoveClip deletes the clip everywhere: playback, watcher, media handle,
// store and memory.
func (m *Manager) RemoveClip(ctx context.Context, id string) error {
	m.mu.Lock()
	position, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return newServiceError(opRemove, "not_found", ErrClipNotFound)
	}
	record := m.clips[position]
	m.clips = append(m.clips[:position], m.clips[position+1:]...)
	m.reindexLocked()
	m.mu.Unlock()

	if m.player.PlayingID() == id {
		m.player.Stop()
	}
	m.watchers.Stop(id)
	if record.MediaPath != "" {
		if err := playback.ReleaseMediaFile(record.MediaPath); err != nil {
			m.logger.Warn("media handle release failed", zap.String("clip_id", id), zap.Error(err))
		}
	}

	if err := m.store.Remove(ctx, id); err != nil {
		return newServiceError(opRemove, "store_remove_failed", err)
	}
	m.logger.Info("clip removed", zap.String("clip_id", id))
	return nil
}

// UploadClip sends the clip to the server. Offline it parks the clip in the
// queued state instead. Any upload failure marks the clip errored and is
// returned; clips the server already finished are rejected.
func (m *Manager) UploadClip(ctx context.Context, id string) error {
	record, err := m.Get(id)
	if err != nil {
		return newServiceError(opUpload, "not_found", err)
	}

	if record.Status == clip.StatusUploaded && record.ServerID != "" {
		return newServiceError(opUpload, "already_uploaded", ErrAlreadyUploaded)
	}
	if record.Tracked() {
		// Already in flight server-side; make sure it is being watched.
		m.watchers.Start(record)
		return nil
	}

	if !m.gate.Online() {
		queued := clip.StatusQueued
		if _, err := m.UpdateClip(ctx, id, clip.Patch{Status: &queued}); err != nil {
			return err
		}
		m.logger.Info("offline, clip queued", zap.String("clip_id", id))
		return nil
	}

	if len(record.Blob) == 0 {
		hydrated, err := m.hydrateBlob(ctx, id)
		if err != nil {
			m.markErrored(ctx, id)
			return newServiceError(opUpload, "missing_payload", err)
		}
		record = hydrated
	}

	processing := clip.StatusProcessing
	if _, err := m.UpdateClip(ctx, id, clip.Patch{Status: &processing}); err != nil {
		return err
	}

	result, err := m.uploader.Upload(ctx, record)
	if err != nil {
		m.markErrored(ctx, id)
		return newServiceError(opUpload, "request_failed", err)
	}

	m.mu.Lock()
	position, ok := m.index[id]
	if !ok {
		// Removed mid-flight; nothing left to track.
		m.mu.Unlock()
		return nil
	}
	merged := clip.MergeServerMetadata(m.clips[position], result.Metadata)
	merged.ServerID = result.ServerID
	merged.Status = clip.StatusProcessing
	m.clips[position] = merged
	m.mu.Unlock()

	if err := m.store.Save(ctx, merged); err != nil {
		return newServiceError(opUpload, "store_save_failed", err)
	}
	m.watchers.Start(merged)
	m.logger.Info("clip uploaded",
		zap.String("clip_id", id),
		zap.String("server_id", result.ServerID))
	return nil
}

// SyncQueued re-attempts every queued clip, sequentially and best-effort.
func (m *Manager) SyncQueued(ctx context.Context) int {
	return m.uploadWhere(ctx, func(record clip.Clip) bool {
		return record.Status == clip.StatusQueued
	})
}

// UploadPending pushes everything not yet confirmed server-side: saved,
// queued and previously errored clips.
func (m *Manager) UploadPending(ctx context.Context) int {
	return m.uploadWhere(ctx, func(record clip.Clip) bool {
		switch record.Status {
		case clip.StatusSaved, clip.StatusQueued, clip.StatusError:
			return true
		default:
			return false
		}
	})
}

func (m *Manager) uploadWhere(ctx context.Context, match func(clip.Clip) bool) int {
	uploaded := 0
	for _, record := range m.Clips() {
		if !match(record) {
			continue
		}
		if err := m.UploadClip(ctx, record.ID); err != nil {
			m.logger.Warn("upload attempt failed",
				zap.String("clip_id", record.ID), zap.Error(err))
			continue
		}
		uploaded++
	}
	return uploaded
}

// RefreshMetadata re-fetches server metadata for every clip with a server
// id, best-effort, and reconciles watcher state with the results.
func (m *Manager) RefreshMetadata(ctx context.Context) error {
	var firstErr error
	for _, record := range m.Clips() {
		if record.ServerID == "" {
			continue
		}
		response, err := m.uploader.Fetch(ctx, record.ServerID)
		if err != nil {
			m.logger.Debug("metadata fetch failed",
				zap.String("clip_id", record.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = newServiceError(opRefresh, "fetch_failed", err)
			}
			continue
		}
		if response == nil {
			continue
		}

		m.mu.Lock()
		position, ok := m.index[record.ID]
		if !ok {
			m.mu.Unlock()
			continue
		}
		merged := clip.MergeServerMetadata(m.clips[position], response.Metadata)
		if response.Done {
			merged.Status = clip.StatusUploaded
		}
		m.clips[position] = merged
		m.mu.Unlock()

		if err := m.store.Save(ctx, merged); err != nil {
			m.logger.Warn("metadata persist failed",
				zap.String("clip_id", record.ID), zap.Error(err))
		}
		if response.Done {
			m.watchers.Stop(record.ID)
		} else if merged.Tracked() {
			m.watchers.Start(merged)
		}
	}
	return firstErr
}

// HandleWatchUpdate is the watcher sink: it merges a poll observation into
// the clip and persists it.
func (m *Manager) HandleWatchUpdate(id string, patch clip.Patch) {
	if _, err := m.UpdateClip(context.Background(), id, patch); err != nil {
		m.logger.Warn("watch update failed", zap.String("clip_id", id), zap.Error(err))
	}
}

// PlayClip starts the clip on the player, materializing a media handle from
// the blob on first play. Any previous playback is stopped by the player.
func (m *Manager) PlayClip(ctx context.Context, id string) error {
	record, err := m.Get(id)
	if err != nil {
		return newServiceError(opPlay, "not_found", err)
	}

	if len(record.Blob) == 0 && record.MediaPath == "" {
		hydrated, err := m.hydrateBlob(ctx, id)
		if err != nil {
			return newServiceError(opPlay, "missing_media", err)
		}
		record = hydrated
	}

	if record.MediaPath == "" && len(record.Blob) > 0 {
		path, err := playback.WriteMediaFile(record)
		if err != nil {
			return newServiceError(opPlay, "media_handle_failed", err)
		}
		record.MediaPath = path
		m.mu.Lock()
		if position, ok := m.index[id]; ok {
			m.clips[position].MediaPath = path
		}
		m.mu.Unlock()
	}

	if err := m.player.Play(record); err != nil {
		return newServiceError(opPlay, "device_failed", err)
	}
	return nil
}

// StopPlayback halts the player. Safe when idle.
func (m *Manager) StopPlayback() {
	m.player.Stop()
}

// Close stops playback and every watcher.
func (m *Manager) Close() {
	m.player.Stop()
	m.watchers.StopAll()
}

// hydrateBlob reloads the clip's payload from the store.
func (m *Manager) hydrateBlob(ctx context.Context, id string) (clip.Clip, error) {
	records, err := m.store.GetAll(ctx)
	if err != nil {
		return clip.Clip{}, err
	}
	for _, stored := range records {
		if stored.ID != id {
			continue
		}
		if len(stored.Blob) == 0 {
			break
		}
		m.mu.Lock()
		if position, ok := m.index[id]; ok {
			m.clips[position].Blob = append([]byte(nil), stored.Blob...)
		}
		m.mu.Unlock()
		hydrated, err := m.Get(id)
		if err != nil {
			return clip.Clip{}, err
		}
		return hydrated, nil
	}
	return clip.Clip{}, upload.ErrMissingPayload
}

func (m *Manager) markErrored(ctx context.Context, id string) {
	failed := clip.StatusError
	if _, err := m.UpdateClip(ctx, id, clip.Patch{Status: &failed}); err != nil {
		m.logger.Warn("error status persist failed", zap.String("clip_id", id), zap.Error(err))
	}
}

func (m *Manager) snapshotLocked() []clip.Clip {
	snapshot := make([]clip.Clip, len(m.clips))
	for i, record := range m.clips {
		snapshot[i] = record.Clone()
	}
	return snapshot
}

func (m *Manager) reindexLocked() {
	m.index = make(map[string]int, len(m.clips))
	for i, record := range m.clips {
		m.index[record.ID] = i
	}
}

func clipMatches(record clip.Clip, needle string) bool {
	if strings.Contains(strings.ToLower(record.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(record.Details), needle) {
		return true
	}
	for _, tag := range record.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
