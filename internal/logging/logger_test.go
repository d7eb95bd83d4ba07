package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{input: "debug", expected: zapcore.DebugLevel},
		{input: "info", expected: zapcore.InfoLevel},
		{input: "", expected: zapcore.InfoLevel},
		{input: "WARN", expected: zapcore.WarnLevel},
		{input: "warning", expected: zapcore.WarnLevel},
		{input: "error", expected: zapcore.ErrorLevel},
		{input: "nonsense", expected: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewFileLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	logger, err := NewFileLogger("info", path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Info("hello from test")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Fatalf("log line missing from file: %q", data)
	}
}

func TestNewFileLoggerFallsBackWithoutPath(t *testing.T) {
	logger, err := NewFileLogger("debug", "   ")
	if err != nil {
		t.Fatalf("NewFileLogger without path: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected a usable logger")
	}
}
