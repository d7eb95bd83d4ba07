package capture

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	opus "gopkg.in/hraban/opus.v2"
)

// opus frames are encoded in 20ms slices.
const opusFrameMs = 20

// maxOpusPacket is large enough for any single encoded opus frame.
const maxOpusPacket = 4000

// opusRecorder encodes PCM into an Ogg/Opus container as frames arrive.
// Constructing it probes the platform opus encoder, so an unsupported
// platform fails over to the WAV variant at selection time.
type opusRecorder struct {
	sampleRate int
	channels   int
	frameSize  int

	mu        sync.Mutex
	encoder   *opus.Encoder
	container *bytes.Buffer
	ogg       *oggwriter.OggWriter
	pending   []float32
	sequence  uint16
	timestamp uint32
	closed    bool
}

func newOpusRecorder(sampleRate, channels int) (Recorder, error) {
	encoder, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("capture: opus encoder unavailable: %w", err)
	}

	container := &bytes.Buffer{}
	ogg, err := oggwriter.NewWith(container, uint32(sampleRate), uint16(channels))
	if err != nil {
		return nil, fmt.Errorf("capture: ogg container unavailable: %w", err)
	}

	return &opusRecorder{
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate / 1000 * opusFrameMs * channels,
		encoder:    encoder,
		container:  container,
		ogg:        ogg,
	}, nil
}

func (r *opusRecorder) Feed(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = append(r.pending, samples...)
	for len(r.pending) >= r.frameSize {
		frame := r.pending[:r.frameSize]
		r.pending = r.pending[r.frameSize:]
		if err := r.writeFrame(frame); err != nil {
			return
		}
	}
}

func (r *opusRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrNotRecording
	}
	r.closed = true

	// Pad the trailing partial frame with silence so no audio is dropped.
	if len(r.pending) > 0 {
		frame := make([]float32, r.frameSize)
		copy(frame, r.pending)
		r.pending = nil
		if err := r.writeFrame(frame); err != nil {
			return nil, err
		}
	}
	if err := r.ogg.Close(); err != nil {
		return nil, err
	}
	return r.container.Bytes(), nil
}

func (r *opusRecorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.pending = nil
	_ = r.ogg.Close()
	r.container.Reset()
}

func (r *opusRecorder) MimeType() string {
	return MimeOggOpus
}

// writeFrame encodes one fixed-size PCM frame and appends it to the ogg
// stream as an RTP-framed opus packet. Caller holds the lock.
func (r *opusRecorder) writeFrame(frame []float32) error {
	packet := make([]byte, maxOpusPacket)
	encoded, err := r.encoder.EncodeFloat32(frame, packet)
	if err != nil {
		return err
	}
	r.sequence++
	r.timestamp += uint32(r.frameSize / r.channels)
	return r.ogg.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			SequenceNumber: r.sequence,
			Timestamp:      r.timestamp,
		},
		Payload: packet[:encoded],
	})
}
