package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/voicenotes/voicenotes/internal/clip"
	"github.com/voicenotes/voicenotes/internal/store"
	"go.uber.org/zap"
)

// State is the capture session lifecycle state.
type State string

const (
	StateInactive  State = "inactive"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

const defaultTitle = "Untitled note"

// levelWindow is the number of recent amplitude samples kept for
// visualization.
const levelWindow = 64

var errMissingStore = errors.New("capture: store is required")

// SessionConfig wires the session's collaborators. Store and IDProvider are
// required; everything else has working defaults.
type SessionConfig struct {
	Store       store.Store
	IDProvider  clip.IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
	OpenInput   InputOpener
	NewRecorder func(candidates []string, sampleRate, channels int) (Recorder, error)
	Candidates  []string
}

// Session owns at most one active recording and produces a finished clip.
type Session struct {
	store       store.Store
	ids         clip.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	openInput   InputOpener
	newRecorder func(candidates []string, sampleRate, channels int) (Recorder, error)
	candidates  []string

	mu       sync.Mutex
	state    State
	recorder Recorder
	device   InputDevice
	current  clip.Clip

	// Elapsed active time accumulates across pause/resume cycles: a running
	// total plus the start of the current live segment. A single absolute
	// start timestamp undercounts after the first pause.
	accumulated  time.Duration
	segmentStart *time.Time

	levels   [levelWindow]float64
	levelIdx int
}

// NewSession constructs an inactive capture session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = clip.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	openInput := cfg.OpenInput
	if openInput == nil {
		openInput = OpenMicrophone
	}
	newRecorder := cfg.NewRecorder
	if newRecorder == nil {
		newRecorder = selectRecorder
	}
	return &Session{
		store:       cfg.Store,
		ids:         ids,
		clock:       clock,
		logger:      logger,
		openInput:   openInput,
		newRecorder: newRecorder,
		candidates:  cfg.Candidates,
		state:       StateInactive,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the microphone, selects an encoding and begins buffering.
// A second concurrent start is rejected with ErrSessionActive.
func (s *Session) Start(_ context.Context) (clip.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInactive {
		return clip.Clip{}, ErrSessionActive
	}

	recorder, err := s.newRecorder(s.candidates, captureSampleRate, captureChannels)
	if err != nil {
		return clip.Clip{}, err
	}

	device, err := s.openInput(captureSampleRate, captureChannels, s.onFrames)
	if err != nil {
		return clip.Clip{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		_ = device.Close()
		return clip.Clip{}, err
	}

	now := s.clock()
	s.current = clip.Clip{
		ID:          id,
		CreatedAtMs: now.UnixMilli(),
		MimeType:    recorder.MimeType(),
		Title:       defaultTitle,
		Tags:        []string{},
		Status:      clip.StatusRecording,
	}
	s.recorder = recorder
	s.device = device
	s.state = StateRecording
	s.accumulated = 0
	s.segmentStart = &now
	s.levels = [levelWindow]float64{}
	s.levelIdx = 0

	s.logger.Info("recording started",
		zap.String("clip_id", id), zap.String("mime_type", recorder.MimeType()))
	return s.current.Clone(), nil
}

// Pause stops the session clock and frame buffering. No-op unless recording.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	if s.segmentStart != nil {
		s.accumulated += s.clock().Sub(*s.segmentStart)
		s.segmentStart = nil
	}
	s.state = StatePaused
}

// Resume continues the clock from its paused offset. No-op unless paused.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	now := s.clock()
	s.segmentStart = &now
	s.state = StateRecording
}

// Elapsed reports active recording time, excluding paused stretches.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.accumulated
	if s.segmentStart != nil {
		elapsed += s.clock().Sub(*s.segmentStart)
	}
	return elapsed
}

// Levels returns the recent amplitude window for visualization, oldest first.
func (s *Session) Levels() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, levelWindow)
	for i := 0; i < levelWindow; i++ {
		out = append(out, s.levels[(s.levelIdx+i)%levelWindow])
	}
	return out
}

// Stop finalizes the recording: assembles the blob, probes duration,
// persists the clip and returns it in saved status. A failed duration probe
// is logged and leaves the duration unknown; it does not fail the save.
func (s *Session) Stop(ctx context.Context) (clip.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording && s.state != StatePaused {
		return clip.Clip{}, ErrNotRecording
	}
	if s.segmentStart != nil {
		s.accumulated += s.clock().Sub(*s.segmentStart)
		s.segmentStart = nil
	}
	s.releaseDeviceLocked()

	blob, err := s.recorder.Stop()
	if err != nil {
		s.state = StateInactive
		s.recorder = nil
		return clip.Clip{}, err
	}

	finished := s.current
	finished.Blob = blob
	finished.SizeBytes = int64(len(blob))
	finished.Status = clip.StatusSaved

	duration, err := ProbeDuration(blob, finished.MimeType)
	if err != nil {
		s.logger.Warn("duration probe failed",
			zap.String("clip_id", finished.ID), zap.Error(err))
	} else {
		finished.DurationMs = duration.Milliseconds()
	}

	if err := s.store.Save(ctx, finished); err != nil {
		s.state = StateInactive
		s.recorder = nil
		return clip.Clip{}, err
	}

	s.state = StateInactive
	s.recorder = nil
	s.current = clip.Clip{}
	s.logger.Info("recording saved",
		zap.String("clip_id", finished.ID),
		zap.Int64("size_bytes", finished.SizeBytes),
		zap.Int64("duration_ms", finished.DurationMs))
	return finished, nil
}

// Cancel discards buffered data and releases resources without persisting.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording && s.state != StatePaused {
		return
	}
	s.releaseDeviceLocked()
	s.recorder.Cancel()
	s.recorder = nil
	s.current = clip.Clip{}
	s.segmentStart = nil
	s.accumulated = 0
	s.state = StateInactive
}

func (s *Session) releaseDeviceLocked() {
	if s.device != nil {
		if err := s.device.Close(); err != nil {
			s.logger.Warn("closing capture device", zap.Error(err))
		}
		s.device = nil
	}
}

// onFrames receives PCM from the input device. Frames delivered while paused
// are dropped so pauses leave no gap artifacts in the encoded output.
func (s *Session) onFrames(samples []float32) {
	s.mu.Lock()
	if s.state != StateRecording || s.recorder == nil {
		s.mu.Unlock()
		return
	}
	recorder := s.recorder
	s.recordLevelLocked(samples)
	s.mu.Unlock()

	recorder.Feed(samples)
}

// recordLevelLocked appends the RMS amplitude of the batch to the ring.
func (s *Session) recordLevelLocked(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	s.levels[s.levelIdx] = math.Sqrt(sum / float64(len(samples)))
	s.levelIdx = (s.levelIdx + 1) % levelWindow
}
