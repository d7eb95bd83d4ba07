package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voicenotes/voicenotes/internal/clip"
	"github.com/voicenotes/voicenotes/internal/upload"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStubHandler(t *testing.T, secret string) (http.Handler, *stubClock) {
	t.Helper()
	clock := &stubClock{now: time.UnixMilli(1700000000000)}
	handler, err := NewHTTPHandler(Dependencies{
		Clock:          clock.Now,
		UploadPath:     "/upload",
		SigningSecret:  secret,
		NotFoundWindow: 2 * time.Second,
		CompleteAfter:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPHandler: %v", err)
	}
	return handler, clock
}

func multipartUpload(t *testing.T, target, query string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "note-c1.wav")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("fake-audio")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = writer.WriteField("createdAt", "1700000000000")
	_ = writer.WriteField("title", "Test note")
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, target+query, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func uploadJobID(t *testing.T, handler http.Handler) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, multipartUpload(t, "/upload", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil || payload.ID == "" {
		t.Fatalf("upload response missing id: %s", recorder.Body.String())
	}
	return payload.ID
}

func TestUploadReturnsJobID(t *testing.T) {
	handler, _ := newStubHandler(t, "")
	if id := uploadJobID(t, handler); id == "" {
		t.Fatalf("expected job id")
	}
}

func TestUploadLocationModeUsesHeader(t *testing.T) {
	handler, _ := newStubHandler(t, "")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, multipartUpload(t, "/upload", "?respond=location"))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	location := recorder.Header().Get("Location")
	if location == "" {
		t.Fatalf("expected Location header")
	}
}

func TestUploadWithoutFileIsRejected(t *testing.T) {
	handler, _ := newStubHandler(t, "")
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("{}"))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestStatusLifecycle(t *testing.T) {
	handler, clock := newStubHandler(t, "")
	jobID := uploadJobID(t, handler)

	statusCode := func(query string) (int, string) {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, "/upload/status?job="+query, nil)
		handler.ServeHTTP(recorder, request)
		return recorder.Code, recorder.Body.String()
	}

	if code, _ := statusCode("unknown"); code != http.StatusNotFound {
		t.Fatalf("unknown job must 404, got %d", code)
	}

	// Inside the not-found window a known job is still invisible.
	if code, _ := statusCode(jobID); code != http.StatusNotFound {
		t.Fatalf("fresh job must 404, got %d", code)
	}

	clock.Advance(3 * time.Second)
	code, body := statusCode(jobID)
	if code != http.StatusOK {
		t.Fatalf("processing job must 200, got %d: %s", code, body)
	}
	var processing struct {
		Status     string `json:"status"`
		RetryAfter int    `json:"retryAfter"`
	}
	if err := json.Unmarshal([]byte(body), &processing); err != nil {
		t.Fatalf("decode processing body: %v", err)
	}
	if processing.Status != "processing" || processing.RetryAfter == 0 {
		t.Fatalf("unexpected processing payload: %s", body)
	}

	clock.Advance(10 * time.Second)
	code, body = statusCode(jobID)
	if code != http.StatusOK {
		t.Fatalf("done job must 200, got %d", code)
	}
	var done struct {
		Status        string `json:"status"`
		TranscriptURL string `json:"transcriptUrl"`
	}
	if err := json.Unmarshal([]byte(body), &done); err != nil {
		t.Fatalf("decode done body: %v", err)
	}
	if done.Status != "done" || done.TranscriptURL == "" {
		t.Fatalf("unexpected done payload: %s", body)
	}
}

func TestBearerAuthGuardsAllRoutes(t *testing.T) {
	const secret = "test-secret"
	handler, _ := newStubHandler(t, secret)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, multipartUpload(t, "/upload", ""))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("missing token must 401, got %d", recorder.Code)
	}

	badToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "tester"})
	signedWrong, err := badToken.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	recorder = httptest.NewRecorder()
	request := multipartUpload(t, "/upload", "")
	request.Header.Set("Authorization", "Bearer "+signedWrong)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong-secret token must 401, got %d", recorder.Code)
	}

	goodToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "tester"})
	signed, err := goodToken.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	recorder = httptest.NewRecorder()
	request = multipartUpload(t, "/upload", "")
	request.Header.Set("Authorization", "Bearer "+signed)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("valid token must pass, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

// The stub exists to exercise the real client; run one full cycle through it.
func TestClientAgainstStubEndToEnd(t *testing.T) {
	handler, clock := newStubHandler(t, "")
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	client, err := upload.NewClient(upload.ClientConfig{
		API: upload.Config{
			BaseURL:    testServer.URL,
			UploadPath: "/upload",
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx := context.Background()
	result, err := client.Upload(ctx, clip.Clip{
		ID:          "c1",
		MimeType:    "audio/wav",
		Blob:        []byte("fake-audio"),
		CreatedAtMs: 1700000000000,
		Title:       "Test note",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.ServerID == "" {
		t.Fatalf("expected server id")
	}

	// Not indexed yet: the client reports "not found yet" as nil, nil.
	status, err := client.Status(ctx, result.ServerID)
	if err != nil || status != nil {
		t.Fatalf("expected (nil, nil) inside not-found window, got %v %v", status, err)
	}

	clock.Advance(3 * time.Second)
	status, err = client.Status(ctx, result.ServerID)
	if err != nil || status == nil || status.Done {
		t.Fatalf("expected pending status, got %+v %v", status, err)
	}
	if status.RetryAfterSeconds == 0 {
		t.Fatalf("expected server-advised retry delay")
	}

	clock.Advance(10 * time.Second)
	status, err = client.Status(ctx, result.ServerID)
	if err != nil || status == nil || !status.Done {
		t.Fatalf("expected done status, got %+v %v", status, err)
	}
	if status.Metadata.TranscriptURL == "" {
		t.Fatalf("done status must carry transcript url")
	}
}
