package capture

import (
	"errors"
)

// Capture errors surfaced to callers.
var (
	// ErrPermissionDenied indicates the microphone could not be acquired.
	ErrPermissionDenied = errors.New("capture: microphone access denied")
	// ErrDurationProbe indicates the finished blob could not be decoded for
	// its duration. Non-fatal: the clip is saved with an unknown duration.
	ErrDurationProbe = errors.New("capture: unable to probe duration")
	// ErrSessionActive indicates a second concurrent recording was requested.
	ErrSessionActive = errors.New("capture: a recording is already active")
	// ErrNotRecording indicates a finalize call without an active recording.
	ErrNotRecording = errors.New("capture: no active recording")
)

// Recorder is the codec capability interface. One variant exists per
// supported encoding; the session selects a variant at start time.
//
// Feed receives raw PCM frames from the input device and must tolerate
// zero-length deliveries (ignored, not appended). Stop assembles everything
// fed so far into a single encoded payload. Cancel discards buffered data.
type Recorder interface {
	Feed(samples []float32)
	Stop() ([]byte, error)
	Cancel()
	MimeType() string
}

// RecorderFactory constructs a recorder for the given capture format, or
// reports that the encoding is unsupported on this platform.
type RecorderFactory func(sampleRate, channels int) (Recorder, error)

// mime types this build can produce.
const (
	MimeOggOpus = "audio/ogg;codecs=opus"
	MimeWav     = "audio/wav"
)

var defaultCandidates = []string{MimeOggOpus, MimeWav}

func factoryFor(mimeType string) (RecorderFactory, bool) {
	switch mimeType {
	case MimeOggOpus:
		return newOpusRecorder, true
	case MimeWav:
		return newWavRecorder, true
	default:
		return nil, false
	}
}

// selectRecorder walks the preference-ordered candidate list and returns the
// first encoding whose recorder can actually be constructed, falling back to
// the pure-software WAV encoder which is always available.
func selectRecorder(candidates []string, sampleRate, channels int) (Recorder, error) {
	if len(candidates) == 0 {
		candidates = defaultCandidates
	}
	for _, mimeType := range candidates {
		factory, ok := factoryFor(mimeType)
		if !ok {
			continue
		}
		recorder, err := factory(sampleRate, channels)
		if err == nil {
			return recorder, nil
		}
	}
	return newWavRecorder(sampleRate, channels)
}
