package capture

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/wav"
	opus "gopkg.in/hraban/opus.v2"
)

// ProbeDuration decodes the finished blob and reports its playback duration.
// An undecodable blob yields ErrDurationProbe; callers treat that as
// non-fatal and save the clip with an unknown duration.
func ProbeDuration(blob []byte, mimeType string) (time.Duration, error) {
	switch {
	case strings.Contains(mimeType, "wav"):
		return probeWavDuration(blob)
	case strings.Contains(mimeType, "ogg"), strings.Contains(mimeType, "opus"):
		return probeOggOpusDuration(blob)
	default:
		return 0, fmt.Errorf("%w: no decoder for %q", ErrDurationProbe, mimeType)
	}
}

func probeWavDuration(blob []byte) (time.Duration, error) {
	decoder := wav.NewDecoder(bytes.NewReader(blob))
	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurationProbe, err)
	}
	return duration, nil
}

func probeOggOpusDuration(blob []byte) (time.Duration, error) {
	stream, err := opus.NewStream(bytes.NewReader(blob))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurationProbe, err)
	}
	defer stream.Close()

	var samples int64
	pcm := make([]float32, 11520)
	for {
		read, err := stream.ReadFloat32(pcm)
		samples += int64(read)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDurationProbe, err)
		}
	}
	return time.Duration(samples) * time.Second / captureSampleRate, nil
}
