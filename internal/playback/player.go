package playback

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/voicenotes/voicenotes/internal/clip"
)

// Config wires a Player.
type Config struct {
	Open     OutputOpener
	Logger   *zap.Logger
	OnFinish func(id string) // called after a track plays to its end
}

// Player drives at most one clip at a time through an output device.
// Starting a new clip stops whatever was playing.
type Player struct {
	open     OutputOpener
	logger   *zap.Logger
	onFinish func(id string)

	mu      sync.Mutex
	current *session
}

type session struct {
	id     string
	track  *track
	cursor int
	device OutputDevice
	done   chan struct{}
	once   sync.Once
}

// NewPlayer constructs an idle player.
func NewPlayer(cfg Config) *Player {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	open := cfg.Open
	if open == nil {
		open = OpenSpeaker
	}
	return &Player{open: open, logger: logger, onFinish: cfg.OnFinish}
}

// Play decodes the clip's media and starts it on the output device. The
// blob is used when hydrated, the media file otherwise.
func (p *Player) Play(record clip.Clip) error {
	blob := record.Blob
	if len(blob) == 0 && record.MediaPath != "" {
		data, err := os.ReadFile(record.MediaPath)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoMedia, err)
		}
		blob = data
	}
	if len(blob) == 0 {
		return ErrNoMedia
	}

	decoded, err := decode(blob, record.MimeType)
	if err != nil {
		return err
	}

	p.Stop()

	// Register the session before opening the device so the data callback
	// never races a half-installed session.
	s := &session{id: record.ID, track: decoded, done: make(chan struct{})}
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	device, err := p.open(decoded.sampleRate, decoded.channels, s.fill)
	if err != nil {
		p.mu.Lock()
		if p.current == s {
			p.current = nil
		}
		p.mu.Unlock()
		return err
	}
	s.device = device

	p.logger.Debug("playback started", zap.String("clip_id", record.ID))
	go p.reap(s)
	return nil
}

// Stop halts the active playback, if any. Safe to call when idle.
func (p *Player) Stop() {
	p.mu.Lock()
	s := p.current
	p.current = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	s.finish()
	if s.device != nil {
		_ = s.device.Close()
	}
}

// PlayingID returns the id of the clip currently playing, or "".
func (p *Player) PlayingID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.id
}

// reap waits for the track to run out, then tears the session down. The
// device cannot be closed from inside its own data callback.
func (p *Player) reap(s *session) {
	<-s.done

	p.mu.Lock()
	if p.current == s {
		p.current = nil
	} else {
		// Stopped or superseded; Stop already owns the teardown.
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	_ = s.device.Close()
	p.logger.Debug("playback finished", zap.String("clip_id", s.id))
	if p.onFinish != nil {
		p.onFinish(s.id)
	}
}

// fill feeds the device from the decoded track, padding with silence once
// exhausted, and signals completion exactly once.
func (s *session) fill(out []float32) int {
	remaining := s.track.samples[s.cursor:]
	n := copy(out, remaining)
	s.cursor += n
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if s.cursor >= len(s.track.samples) {
		s.once.Do(func() { close(s.done) })
	}
	return n
}

func (s *session) finish() {
	s.once.Do(func() { close(s.done) })
}
