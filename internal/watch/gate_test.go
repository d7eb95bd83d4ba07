package watch

import "testing"

func TestProbeAddr(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{name: "explicit-port", baseURL: "http://localhost:8080/v1", expected: "localhost:8080"},
		{name: "http-default", baseURL: "http://api.example.com", expected: "api.example.com:80"},
		{name: "https-default", baseURL: "https://api.example.com/base", expected: "api.example.com:443"},
		{name: "empty", baseURL: "", expected: ""},
		{name: "garbage", baseURL: "://nope", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := probeAddr(tt.baseURL); got != tt.expected {
				t.Fatalf("probeAddr(%q) = %q, want %q", tt.baseURL, got, tt.expected)
			}
		})
	}
}

func TestGateFlags(t *testing.T) {
	gate := NewNetGate("", nil)
	if !gate.Online() || !gate.Visible() {
		t.Fatalf("gate must default to online and visible")
	}
	gate.SetOnline(false)
	gate.SetVisible(false)
	if gate.Online() || gate.Visible() {
		t.Fatalf("flag overrides must stick")
	}
	gate.SetOnline(true)
	gate.SetVisible(true)
	if !gate.Online() || !gate.Visible() {
		t.Fatalf("flags must flip back")
	}
}
