package capture

import (
	"testing"
	"time"
)

func TestWavRecorderRoundTrip(t *testing.T) {
	recorder, err := newWavRecorder(captureSampleRate, captureChannels)
	if err != nil {
		t.Fatalf("unexpected recorder error: %v", err)
	}

	// One second of a quiet ramp.
	samples := make([]float32, captureSampleRate)
	for i := range samples {
		samples[i] = float32(i%100) / 1000
	}
	recorder.Feed(samples)

	blob, err := recorder.Stop()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if len(blob) <= 44 {
		t.Fatalf("expected payload beyond the wav header, got %d bytes", len(blob))
	}

	duration, err := ProbeDuration(blob, MimeWav)
	if err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	if duration < 990*time.Millisecond || duration > 1010*time.Millisecond {
		t.Fatalf("expected ~1s duration, got %v", duration)
	}
}

func TestWavRecorderIgnoresEmptyChunks(t *testing.T) {
	recorder, err := newWavRecorder(captureSampleRate, captureChannels)
	if err != nil {
		t.Fatalf("unexpected recorder error: %v", err)
	}
	recorder.Feed(nil)
	recorder.Feed([]float32{})
	recorder.Feed([]float32{0.5})

	blob, err := recorder.Stop()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	duration, err := ProbeDuration(blob, MimeWav)
	if err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	if expected := time.Second / captureSampleRate; duration != expected {
		t.Fatalf("expected a single-sample clip, got %v", duration)
	}
}

func TestWavRecorderZeroLengthRecordingStillDecodes(t *testing.T) {
	recorder, err := newWavRecorder(captureSampleRate, captureChannels)
	if err != nil {
		t.Fatalf("unexpected recorder error: %v", err)
	}
	blob, err := recorder.Stop()
	if err != nil {
		t.Fatalf("an immediate stop must still produce a valid container: %v", err)
	}
	duration, err := ProbeDuration(blob, MimeWav)
	if err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	if duration != 0 {
		t.Fatalf("expected silent zero duration, got %v", duration)
	}
}

func TestWavRecorderClampsOutOfRangeSamples(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int
	}{
		{name: "above-range", sample: 1.5, want: 0x7fff},
		{name: "below-range", sample: -1.5, want: -0x8000},
		{name: "zero", sample: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampSample(tt.sample); got != tt.want {
				t.Fatalf("clamp mismatch, want %d got %d", tt.want, got)
			}
		})
	}
}

func TestProbeDurationRejectsUnknownContainer(t *testing.T) {
	if _, err := ProbeDuration([]byte{1, 2, 3}, "audio/webm"); err == nil {
		t.Fatalf("expected probe error for unsupported container")
	}
}

func TestSelectRecorderFallsBackToWav(t *testing.T) {
	recorder, err := selectRecorder([]string{"audio/mp4", "audio/unknown"}, captureSampleRate, captureChannels)
	if err != nil {
		t.Fatalf("unexpected selection error: %v", err)
	}
	if recorder.MimeType() != MimeWav {
		t.Fatalf("expected wav fallback, got %q", recorder.MimeType())
	}
}
