package watch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/voicenotes/voicenotes/internal/clip"
	"github.com/voicenotes/voicenotes/internal/upload"
	"go.uber.org/zap"
)

// Gate reports whether a poll is worth issuing right now. While offline or
// backgrounded the watcher keeps its schedule but skips the network call.
type Gate interface {
	Online() bool
	Visible() bool
}

// Poller issues one status request for a server job.
type Poller interface {
	Status(ctx context.Context, serverID string) (*upload.StatusResponse, error)
}

// UpdateFunc applies an observation to the clip identified by id. The
// callback owns persistence.
type UpdateFunc func(id string, patch clip.Patch)

// Backoff parameters. Defaults follow the poll schedule the service was
// tuned for: 3s base growing 1.6x per non-terminal result, capped at 60s,
// with a floor retry for 404s and transient failures and 0-400ms of jitter.
const (
	defaultBaseDelay = 3 * time.Second
	defaultGrowth    = 1.6
	defaultMaxDelay  = 60 * time.Second
	defaultMaxJitter = 400 * time.Millisecond
)

// TimerFactory schedules fn after d and returns a cancel function. Injected
// so tests can fire ticks deterministically.
type TimerFactory func(d time.Duration, fn func()) (cancel func())

func realTimer(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// Config wires the watcher set.
type Config struct {
	Poller Poller
	Gate   Gate
	Update UpdateFunc
	Logger *zap.Logger

	BaseDelay time.Duration
	Growth    float64
	MaxDelay  time.Duration
	MaxJitter time.Duration

	NewTimer TimerFactory
	Jitter   func() float64 // uniform [0,1) source
}

type entry struct {
	generation int
	delay      time.Duration
	cancel     func()
}

// Watchers runs at most one polling loop per clip id.
type Watchers struct {
	poller Poller
	gate   Gate
	update UpdateFunc
	logger *zap.Logger

	baseDelay time.Duration
	growth    float64
	maxDelay  time.Duration
	maxJitter time.Duration
	newTimer  TimerFactory
	jitter    func() float64

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty watcher set.
func New(cfg Config) *Watchers {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	growth := cfg.Growth
	if growth <= 1 {
		growth = defaultGrowth
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	maxJitter := cfg.MaxJitter
	if maxJitter < 0 {
		maxJitter = defaultMaxJitter
	}
	newTimer := cfg.NewTimer
	if newTimer == nil {
		newTimer = realTimer
	}
	jitter := cfg.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	return &Watchers{
		poller:    cfg.Poller,
		gate:      cfg.Gate,
		update:    cfg.Update,
		logger:    logger,
		baseDelay: baseDelay,
		growth:    growth,
		maxDelay:  maxDelay,
		maxJitter: maxJitter,
		newTimer:  newTimer,
		jitter:    jitter,
		entries:   make(map[string]*entry),
	}
}

// Start begins polling for the clip, canceling any existing watcher for the
// same id first so at most one timer per clip exists. Clips without a server
// id are ignored.
func (w *Watchers) Start(record clip.Clip) {
	if record.ServerID == "" {
		return
	}

	w.mu.Lock()
	existing := w.entries[record.ID]
	generation := 1
	if existing != nil {
		if existing.cancel != nil {
			existing.cancel()
		}
		generation = existing.generation + 1
	}
	e := &entry{generation: generation}
	w.entries[record.ID] = e
	w.mu.Unlock()

	// First poll fires immediately.
	w.schedule(record.ID, record.ServerID, generation, 0)
}

// Stop cancels the watcher for the id. Safe to call when none is active.
func (w *Watchers) Stop(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[id]; ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(w.entries, id)
	}
}

// StopAll cancels every watcher.
func (w *Watchers) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, e := range w.entries {
		if e.cancel != nil {
			e.cancel()
		}
		delete(w.entries, id)
	}
}

// Watching reports whether a watcher is active for the id.
func (w *Watchers) Watching(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[id]
	return ok
}

// Resync reconciles watchers with the clip collection: every clip in a
// non-terminal, server-tracked state gets a watcher; everything else loses
// its watcher. Watcher presence is derived from the collection, never
// persisted on its own.
func (w *Watchers) Resync(clips []clip.Clip) {
	tracked := make(map[string]clip.Clip, len(clips))
	for _, record := range clips {
		if record.Tracked() {
			tracked[record.ID] = record
		}
	}

	w.mu.Lock()
	var stale []string
	for id := range w.entries {
		if _, ok := tracked[id]; !ok {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()

	for _, id := range stale {
		w.Stop(id)
	}
	for _, record := range tracked {
		w.Start(record)
	}
}

// schedule arms the next tick if this generation is still current.
func (w *Watchers) schedule(id, serverID string, generation int, delay time.Duration) {
	w.mu.Lock()
	e, ok := w.entries[id]
	if !ok || e.generation != generation {
		w.mu.Unlock()
		return
	}
	e.delay = delay
	e.cancel = w.newTimer(delay, func() { w.tick(id, serverID, generation) })
	w.mu.Unlock()
}

func (w *Watchers) tick(id, serverID string, generation int) {
	w.mu.Lock()
	e, ok := w.entries[id]
	if !ok || e.generation != generation {
		w.mu.Unlock()
		return
	}
	currentDelay := e.delay
	w.mu.Unlock()

	// Offline or backgrounded: the result cannot be observed anyway, so
	// skip the network call and try the gate again shortly.
	if !w.gate.Online() || !w.gate.Visible() {
		gateDelay := currentDelay
		if gateDelay < w.baseDelay {
			gateDelay = w.baseDelay
		}
		w.schedule(id, serverID, generation, gateDelay)
		return
	}

	status, err := w.poller.Status(context.Background(), serverID)
	switch {
	case err != nil:
		// Transient failure: retry at the floor, never mark the clip failed.
		w.logger.Debug("status poll failed", zap.String("clip_id", id), zap.Error(err))
		w.schedule(id, serverID, generation, w.withJitter(w.baseDelay))
	case status == nil:
		// 404: the job is not visible server-side yet; try again soon
		// rather than backing off aggressively.
		w.schedule(id, serverID, generation, w.withJitter(w.baseDelay))
	case status.Done:
		uploaded := clip.StatusUploaded
		patch := metadataPatch(status.Metadata)
		patch.Status = &uploaded
		w.update(id, patch)
		w.Stop(id)
		w.logger.Info("clip processing finished", zap.String("clip_id", id))
	default:
		// Partial progress is merged immediately so it is visible before
		// completion.
		if patch := metadataPatch(status.Metadata); !patchEmpty(patch) {
			w.update(id, patch)
		}
		next := w.nextDelay(currentDelay)
		if advised := time.Duration(status.RetryAfterSeconds) * time.Second; advised > 0 {
			if advised < w.baseDelay {
				advised = w.baseDelay
			}
			next = advised
		}
		w.schedule(id, serverID, generation, w.withJitter(next))
	}
}

// nextDelay advances the exponential schedule: base on the first result,
// then growth-multiplied and capped.
func (w *Watchers) nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return w.baseDelay
	}
	next := time.Duration(float64(current) * w.growth)
	if next > w.maxDelay {
		next = w.maxDelay
	}
	return next
}

func (w *Watchers) withJitter(delay time.Duration) time.Duration {
	if w.maxJitter <= 0 {
		return delay
	}
	return delay + time.Duration(w.jitter()*float64(w.maxJitter))
}

func metadataPatch(meta clip.ServerMetadata) clip.Patch {
	var patch clip.Patch
	if meta.Title != "" {
		patch.Title = &meta.Title
	}
	if meta.Tags != nil {
		tags := append([]string(nil), meta.Tags...)
		patch.Tags = &tags
	}
	if meta.Details != "" {
		patch.Details = &meta.Details
	}
	if meta.TranscriptURL != "" {
		patch.TranscriptURL = &meta.TranscriptURL
	}
	if meta.Transcript != "" {
		patch.Transcript = &meta.Transcript
	}
	return patch
}

func patchEmpty(patch clip.Patch) bool {
	return patch.Title == nil && patch.Tags == nil && patch.Details == nil &&
		patch.TranscriptURL == nil && patch.Transcript == nil && patch.Status == nil
}
