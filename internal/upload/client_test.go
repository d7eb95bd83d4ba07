package upload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicenotes/voicenotes/internal/clip"
)

func sampleClip() clip.Clip {
	return clip.Clip{
		ID:          "c1",
		CreatedAtMs: 1700000000000,
		MimeType:    "audio/webm",
		Title:       "Groceries",
		Tags:        []string{"todo", "home"},
		Status:      clip.StatusSaved,
		Blob:        make([]byte, 5000),
	}
}

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		API: Config{BaseURL: baseURL, UploadPath: "/notes", AuthToken: "secret-token"},
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client
}

func TestUploadSubmitsMultipartFormAndParsesBodyID(t *testing.T) {
	var received struct {
		fileName  string
		createdAt string
		title     string
		tags      string
		auth      string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("unexpected multipart error: %v", err)
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		received.fileName = header.Filename
		received.createdAt = r.FormValue("createdAt")
		received.title = r.FormValue("title")
		received.tags = r.FormValue("tags")
		received.auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "job1", "title": "Server title"})
	}))
	defer server.Close()

	result, err := newClient(t, server.URL).Upload(context.Background(), sampleClip())
	if err != nil {
		t.Fatalf("unexpected upload error: %v", err)
	}
	if result.ServerID != "job1" {
		t.Fatalf("expected server id job1, got %q", result.ServerID)
	}
	if result.Metadata.Title != "Server title" {
		t.Fatalf("expected server metadata to propagate")
	}
	if received.fileName != "note-c1.webm" {
		t.Fatalf("unexpected filename %q", received.fileName)
	}
	if received.createdAt != "1700000000000" {
		t.Fatalf("unexpected createdAt %q", received.createdAt)
	}
	if received.title != "Groceries" {
		t.Fatalf("unexpected title %q", received.title)
	}
	if received.tags != `["todo","home"]` {
		t.Fatalf("unexpected tags %q", received.tags)
	}
	if received.auth != "Bearer secret-token" {
		t.Fatalf("unexpected authorization %q", received.auth)
	}
}

func TestUploadFallsBackToLocationHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		value    string
		expected string
	}{
		{name: "location-id-param", header: "Location", value: "/jobs?id=loc1", expected: "loc1"},
		{name: "location-job-param", header: "Location", value: "https://x/jobs?job=loc2", expected: "loc2"},
		{name: "content-location", header: "Content-Location", value: "/jobs?id=loc3", expected: "loc3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(tt.header, tt.value)
				w.WriteHeader(http.StatusCreated)
			}))
			defer server.Close()

			result, err := newClient(t, server.URL).Upload(context.Background(), sampleClip())
			if err != nil {
				t.Fatalf("unexpected upload error: %v", err)
			}
			if result.ServerID != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, result.ServerID)
			}
		})
	}
}

func TestUploadWithoutAnyServerIDFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).Upload(context.Background(), sampleClip())
	if !errors.Is(err, ErrMissingServerID) {
		t.Fatalf("expected ErrMissingServerID, got %v", err)
	}
}

func TestUploadRejectionCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).Upload(context.Background(), sampleClip())
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status %d", rejected.StatusCode)
	}
	if rejected.Body != "payload too large" {
		t.Fatalf("unexpected body %q", rejected.Body)
	}
}

func TestUploadRequiresPayload(t *testing.T) {
	record := sampleClip()
	record.Blob = nil
	_, err := newClient(t, "http://localhost:0").Upload(context.Background(), record)
	if !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
}

func TestStatusDistinguishesResponseClasses(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		expectNil   bool
		expectError bool
		expectDone  bool
		expectRetry int
	}{
		{
			name: "not-found-means-not-visible-yet",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			expectNil: true,
		},
		{
			name: "server-error-is-transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			expectError: true,
		},
		{
			name: "pending",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
			},
		},
		{
			name: "done",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": "done", "transcriptUrl": "https://x/y"})
			},
			expectDone: true,
		},
		{
			name: "retry-after-header-wins-over-smaller-body-hint",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "30")
				json.NewEncoder(w).Encode(map[string]any{"status": "pending", "retryAfter": 10})
			},
			expectRetry: 30,
		},
		{
			name: "body-hint-wins-over-smaller-header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "5")
				json.NewEncoder(w).Encode(map[string]any{"status": "pending", "retryAfter": 45})
			},
			expectRetry: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("job") != "job1" {
					t.Fatalf("expected job query parameter, got %q", r.URL.RawQuery)
				}
				tt.handler(w, r)
			}))
			defer server.Close()

			status, err := newClient(t, server.URL).Status(context.Background(), "job1")
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected transient error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected status error: %v", err)
			}
			if tt.expectNil {
				if status != nil {
					t.Fatalf("expected nil status for 404")
				}
				return
			}
			if status.Done != tt.expectDone {
				t.Fatalf("done mismatch, want %v got %v", tt.expectDone, status.Done)
			}
			if status.RetryAfterSeconds != tt.expectRetry {
				t.Fatalf("retry hint mismatch, want %d got %d", tt.expectRetry, status.RetryAfterSeconds)
			}
			if tt.expectDone && status.Metadata.TranscriptURL != "https://x/y" {
				t.Fatalf("expected transcript url to propagate")
			}
		})
	}
}

func TestFetchReturnsServerMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("metadata fetch must use GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "done",
			"title":  "Refreshed",
			"tags":   []string{"a"},
		})
	}))
	defer server.Close()

	status, err := newClient(t, server.URL).Fetch(context.Background(), "job1")
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if !status.Done || status.Metadata.Title != "Refreshed" {
		t.Fatalf("unexpected fetch result: %#v", status)
	}
}

func TestFileNameDerivesContainerExtension(t *testing.T) {
	tests := []struct {
		mimeType string
		expected string
	}{
		{mimeType: "audio/webm;codecs=opus", expected: "note-c1.webm"},
		{mimeType: "audio/mp4", expected: "note-c1.m4a"},
		{mimeType: "audio/ogg;codecs=opus", expected: "note-c1.ogg"},
		{mimeType: "audio/wav", expected: "note-c1.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			record := sampleClip()
			record.MimeType = tt.mimeType
			if got := fileName(record); got != tt.expected {
				t.Fatalf("filename mismatch, want %q got %q", tt.expected, got)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr bool
	}{
		{name: "valid", config: Config{BaseURL: "https://api.example.com", UploadPath: "/notes"}},
		{name: "missing-base", config: Config{UploadPath: "/notes"}, expectErr: true},
		{name: "missing-path", config: Config{BaseURL: "https://api.example.com"}, expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
