package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/voicenotes/voicenotes/internal/clip"
	"go.uber.org/zap"
)

var (
	// ErrMissingPayload indicates an upload attempt without an audio blob.
	ErrMissingPayload = errors.New("upload: clip has no audio payload")
	// ErrMissingServerID indicates a successful upload response that carried
	// no trackable identifier.
	ErrMissingServerID = errors.New("upload: server did not return an id")
)

// RejectedError reports a non-success upload response.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upload rejected: %d %s", e.StatusCode, e.Body)
}

// Result is what the server returned synchronously for an upload. It never
// implies processing completed; completion is established by polling.
type Result struct {
	ServerID string
	Metadata clip.ServerMetadata
}

// StatusResponse is one poll observation.
type StatusResponse struct {
	Done bool
	// RetryAfterSeconds is the server-advised poll delay, from either the
	// Retry-After header or an in-body hint. Zero means no advice.
	RetryAfterSeconds int
	Metadata          clip.ServerMetadata
}

// serverPayload mirrors the JSON bodies of the upload, status and metadata
// endpoints.
type serverPayload struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Title         string   `json:"title"`
	Tags          []string `json:"tags"`
	Details       string   `json:"details"`
	TranscriptURL string   `json:"transcriptUrl"`
	Transcript    string   `json:"transcriptText"`
	RetryAfter    int      `json:"retryAfter"`
}

func (p serverPayload) metadata() clip.ServerMetadata {
	return clip.ServerMetadata{
		Title:         p.Title,
		Tags:          p.Tags,
		Details:       p.Details,
		TranscriptURL: p.TranscriptURL,
		Transcript:    p.Transcript,
	}
}

// ClientConfig wires the upload client.
type ClientConfig struct {
	API    Config
	HTTP   *resty.Client
	Logger *zap.Logger
}

// Client submits finished clips to the remote endpoint and polls job status.
type Client struct {
	api    Config
	http   *resty.Client
	logger *zap.Logger
}

// NewClient validates the API config and constructs a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.API.Validate(); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = resty.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: cfg.API, http: httpClient, logger: logger}, nil
}

// Upload submits the clip payload as a multipart form and extracts the
// server-assigned job identifier.
func (c *Client) Upload(ctx context.Context, record clip.Clip) (Result, error) {
	if len(record.Blob) == 0 {
		return Result{}, ErrMissingPayload
	}

	request := c.http.R().
		SetContext(ctx).
		SetFileReader("file", fileName(record), bytes.NewReader(record.Blob)).
		SetFormData(map[string]string{
			"createdAt": strconv.FormatInt(record.CreatedAtMs, 10),
		})
	if record.Title != "" {
		request.SetFormData(map[string]string{"title": record.Title})
	}
	if len(record.Tags) > 0 {
		tagsJSON, err := json.Marshal(record.Tags)
		if err != nil {
			return Result{}, err
		}
		request.SetFormData(map[string]string{"tags": string(tagsJSON)})
	}
	c.authorize(request)

	response, err := request.Post(c.api.endpoint("", nil))
	if err != nil {
		return Result{}, err
	}
	if !response.IsSuccess() {
		return Result{}, &RejectedError{
			StatusCode: response.StatusCode(),
			Body:       strings.TrimSpace(string(response.Body())),
		}
	}

	var payload serverPayload
	// A body is optional; the identifier may arrive via headers instead.
	_ = json.Unmarshal(response.Body(), &payload)

	serverID := payload.ID
	if serverID == "" {
		serverID = idFromLocation(response.Header())
	}
	if serverID == "" {
		return Result{}, ErrMissingServerID
	}

	c.logger.Info("clip uploaded",
		zap.String("clip_id", record.ID), zap.String("server_id", serverID))
	return Result{ServerID: serverID, Metadata: payload.metadata()}, nil
}

// Status polls the job once. A 404 yields (nil, nil): the job is not visible
// server-side yet. Any other non-success response is a transient error.
func (c *Client) Status(ctx context.Context, serverID string) (*StatusResponse, error) {
	query := url.Values{"job": []string{serverID}}
	request := c.http.R().SetContext(ctx)
	c.authorize(request)

	response, err := request.Post(c.api.endpoint("/status", query))
	if err != nil {
		return nil, err
	}
	if response.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !response.IsSuccess() {
		return nil, fmt.Errorf("upload: status poll failed: %d", response.StatusCode())
	}

	var payload serverPayload
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, fmt.Errorf("upload: malformed status body: %w", err)
	}

	status := &StatusResponse{
		Done:              payload.Status == "done",
		RetryAfterSeconds: payload.RetryAfter,
		Metadata:          payload.metadata(),
	}
	if header := response.Header().Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > status.RetryAfterSeconds {
			status.RetryAfterSeconds = seconds
		}
	}
	return status, nil
}

// Fetch pulls the latest metadata for a known job, independent of polling.
func (c *Client) Fetch(ctx context.Context, serverID string) (*StatusResponse, error) {
	query := url.Values{"job": []string{serverID}}
	request := c.http.R().SetContext(ctx)
	c.authorize(request)

	response, err := request.Get(c.api.endpoint("", query))
	if err != nil {
		return nil, err
	}
	if response.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !response.IsSuccess() {
		return nil, fmt.Errorf("upload: metadata fetch failed: %d", response.StatusCode())
	}

	var payload serverPayload
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, fmt.Errorf("upload: malformed metadata body: %w", err)
	}
	return &StatusResponse{
		Done:     payload.Status == "done",
		Metadata: payload.metadata(),
	}, nil
}

func (c *Client) authorize(request *resty.Request) {
	if c.api.AuthToken != "" {
		request.SetAuthToken(c.api.AuthToken)
	}
}

// fileName derives the multipart filename from the clip id and a
// container-appropriate extension.
func fileName(record clip.Clip) string {
	ext := "webm"
	switch {
	case strings.Contains(record.MimeType, "mp4"):
		ext = "m4a"
	case strings.Contains(record.MimeType, "ogg"):
		ext = "ogg"
	case strings.Contains(record.MimeType, "wav"):
		ext = "wav"
	}
	return fmt.Sprintf("note-%s.%s", record.ID, ext)
}

// idFromLocation parses the job identifier out of a Location or
// Content-Location header's "id" or "job" query parameter.
func idFromLocation(headers http.Header) string {
	for _, name := range []string{"Location", "Content-Location"} {
		raw := headers.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		query := parsed.Query()
		if id := query.Get("id"); id != "" {
			return id
		}
		if id := query.Get("job"); id != "" {
			return id
		}
	}
	return ""
}
