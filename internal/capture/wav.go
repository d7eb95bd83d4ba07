package capture

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavRecorder buffers PCM samples and encodes a 16-bit WAV container on
// Stop. It has no platform codec requirements, so it serves as the
// guaranteed-available fallback encoding.
type wavRecorder struct {
	sampleRate int
	channels   int

	mu  sync.Mutex
	buf []float32
}

func newWavRecorder(sampleRate, channels int) (Recorder, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("capture: invalid wav format %dHz/%dch", sampleRate, channels)
	}
	return &wavRecorder{sampleRate: sampleRate, channels: channels}, nil
}

func (r *wavRecorder) Feed(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	r.buf = append(r.buf, samples...)
	r.mu.Unlock()
}

func (r *wavRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	samples := r.buf
	r.buf = nil
	r.mu.Unlock()

	intBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: r.channels, SampleRate: r.sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, sample := range samples {
		intBuf.Data[i] = clampSample(sample)
	}

	var out seekableBuffer
	encoder := wav.NewEncoder(&out, r.sampleRate, 16, r.channels, 1)
	if err := encoder.Write(intBuf); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (r *wavRecorder) Cancel() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

func (r *wavRecorder) MimeType() string {
	return MimeWav
}

func clampSample(sample float32) int {
	if sample > 1 {
		sample = 1
	}
	if sample < -1 {
		sample = -1
	}
	if sample < 0 {
		return int(sample * 0x8000)
	}
	return int(sample * 0x7fff)
}

// seekableBuffer adapts an in-memory buffer to io.WriteSeeker so the WAV
// encoder can rewind and patch chunk sizes in the header.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if grown := b.pos + len(p); grown > len(b.data) {
		b.data = append(b.data, make([]byte, grown-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("capture: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("capture: negative seek position")
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekableBuffer) Bytes() []byte {
	return b.data
}
