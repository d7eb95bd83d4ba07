package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/voicenotes/voicenotes/internal/clip"
)

var errInvalidAuthorization = errors.New("authorization header missing or invalid")

// Dependencies wires the local transcription stub. It accepts uploads,
// pretends to process them, and serves the status and metadata endpoints the
// client polls, so the full upload cycle can be exercised without a real
// backend.
type Dependencies struct {
	Logger     *zap.Logger
	Clock      func() time.Time
	IDProvider clip.IDProvider

	// UploadPath is the route accepting multipart uploads. Status and
	// metadata hang off it the way the client expects.
	UploadPath string

	// SigningSecret enables HS256 bearer validation when non-empty.
	SigningSecret string

	// NotFoundWindow is how long a fresh job answers 404 on status, and
	// CompleteAfter is when it flips to done.
	NotFoundWindow time.Duration
	CompleteAfter  time.Duration
}

type job struct {
	id         string
	receivedAt time.Time
	title      string
	tags       []string
	filename   string
}

type httpHandler struct {
	logger         *zap.Logger
	clock          func() time.Time
	idProvider     clip.IDProvider
	secret         string
	notFoundWindow time.Duration
	completeAfter  time.Duration

	mu   sync.Mutex
	jobs map[string]*job
}

// NewHTTPHandler builds the stub's router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	uploadPath := deps.UploadPath
	if uploadPath == "" {
		uploadPath = "/upload"
	}
	if !strings.HasPrefix(uploadPath, "/") {
		return nil, fmt.Errorf("upload path must start with /, got %q", uploadPath)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = clip.NewUUIDProvider()
	}
	notFoundWindow := deps.NotFoundWindow
	if notFoundWindow < 0 {
		notFoundWindow = 0
	}
	completeAfter := deps.CompleteAfter
	if completeAfter <= 0 {
		completeAfter = 10 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		logger:         logger,
		clock:          clock,
		idProvider:     idProvider,
		secret:         deps.SigningSecret,
		notFoundWindow: notFoundWindow,
		completeAfter:  completeAfter,
		jobs:           make(map[string]*job),
	}

	group := router.Group("/")
	if handler.secret != "" {
		group.Use(handler.authorizeRequest)
	}
	group.POST(uploadPath, handler.handleUpload)
	group.POST(uploadPath+"/status", handler.handleStatus)
	group.GET(uploadPath, handler.handleFetch)

	return router, nil
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		h.logger.Warn("request rejected", zap.Error(errInvalidAuthorization))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(h.secret), nil
	})
	if err != nil || !parsed.Valid {
		h.logger.Warn("bearer token rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}

	id, err := h.idProvider.NewID()
	if err != nil {
		h.logger.Error("job id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "id_generation_failed"})
		return
	}

	record := &job{
		id:         id,
		receivedAt: h.clock(),
		title:      c.PostForm("title"),
		filename:   file.Filename,
	}
	if tags := c.PostForm("tags"); tags != "" {
		record.tags = splitTags(tags)
	}

	h.mu.Lock()
	h.jobs[id] = record
	h.mu.Unlock()

	h.logger.Info("upload accepted",
		zap.String("job_id", id),
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size))

	// respond=location exercises the client's header-based id extraction.
	if c.Query("respond") == "location" {
		c.Header("Location", fmt.Sprintf("/jobs?id=%s", id))
		c.Status(http.StatusCreated)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	record, ok := h.lookup(c.Query("job"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_job"})
		return
	}

	age := h.clock().Sub(record.receivedAt)
	switch {
	case age < h.notFoundWindow:
		// Fresh jobs are not visible yet, matching backends that index
		// asynchronously.
		c.Header("Retry-After", "3")
		c.JSON(http.StatusNotFound, gin.H{"error": "not_indexed"})
	case age < h.completeAfter:
		c.JSON(http.StatusOK, gin.H{
			"id":         record.id,
			"status":     "processing",
			"retryAfter": 5,
		})
	default:
		c.JSON(http.StatusOK, h.donePayload(record))
	}
}

func (h *httpHandler) handleFetch(c *gin.Context) {
	record, ok := h.lookup(c.Query("job"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_job"})
		return
	}

	if h.clock().Sub(record.receivedAt) < h.completeAfter {
		c.JSON(http.StatusOK, gin.H{
			"id":     record.id,
			"status": "processing",
			"title":  record.title,
		})
		return
	}
	c.JSON(http.StatusOK, h.donePayload(record))
}

func (h *httpHandler) donePayload(record *job) gin.H {
	title := record.title
	if title == "" {
		title = record.filename
	}
	return gin.H{
		"id":             record.id,
		"status":         "done",
		"title":          title,
		"tags":           record.tags,
		"transcriptUrl":  fmt.Sprintf("/transcripts/%s", record.id),
		"transcriptText": fmt.Sprintf("transcript for %s", record.filename),
	}
}

func (h *httpHandler) lookup(id string) (*job, bool) {
	if id == "" {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.jobs[id]
	return record, ok
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `"[]`)
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
