package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/wav"
	opus "gopkg.in/hraban/opus.v2"
)

var (
	// ErrNoMedia means the clip carries neither a blob nor a media file.
	ErrNoMedia = errors.New("playback: clip has no media")
	// ErrUnsupportedMedia means no decoder handles the clip's container.
	ErrUnsupportedMedia = errors.New("playback: unsupported media type")
	// ErrDeviceUnavailable wraps failures to open the output device.
	ErrDeviceUnavailable = errors.New("playback: output device unavailable")
)

const opusSampleRate = 48000

// track is fully decoded PCM ready to feed an output device.
type track struct {
	samples    []float32
	sampleRate int
	channels   int
}

// decode turns an encoded blob into interleaved float32 PCM.
func decode(blob []byte, mimeType string) (*track, error) {
	switch {
	case strings.Contains(mimeType, "wav"):
		return decodeWav(blob)
	case strings.Contains(mimeType, "ogg"), strings.Contains(mimeType, "opus"):
		return decodeOggOpus(blob)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMedia, mimeType)
	}
}

func decodeWav(blob []byte) (*track, error) {
	decoder := wav.NewDecoder(bytes.NewReader(blob))
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(decoder.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return &track{
		samples:    samples,
		sampleRate: buf.Format.SampleRate,
		channels:   buf.Format.NumChannels,
	}, nil
}

func decodeOggOpus(blob []byte) (*track, error) {
	stream, err := opus.NewStream(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	defer stream.Close()

	var samples []float32
	pcm := make([]float32, 11520)
	for {
		read, err := stream.ReadFloat32(pcm)
		samples = append(samples, pcm[:read]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
		}
	}
	return &track{samples: samples, sampleRate: opusSampleRate, channels: 1}, nil
}
