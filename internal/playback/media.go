package playback

import (
	"fmt"
	"os"
	"strings"

	"github.com/voicenotes/voicenotes/internal/clip"
)

// WriteMediaFile materializes the clip's blob as a temp file and returns its
// path for use as a playback handle. The caller owns the file and releases
// it with ReleaseMediaFile.
func WriteMediaFile(record clip.Clip) (string, error) {
	if len(record.Blob) == 0 {
		return "", ErrNoMedia
	}
	file, err := os.CreateTemp("", "voicenotes-*"+mediaExt(record.MimeType))
	if err != nil {
		return "", fmt.Errorf("playback: create media file: %w", err)
	}
	if _, err := file.Write(record.Blob); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("playback: write media file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("playback: close media file: %w", err)
	}
	return file.Name(), nil
}

// ReleaseMediaFile removes a handle created by WriteMediaFile. Missing files
// are not an error.
func ReleaseMediaFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("playback: release media file: %w", err)
	}
	return nil
}

func mediaExt(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mp4"):
		return ".m4a"
	default:
		return ".webm"
	}
}
