package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tunablelabs/codebase-rag/internal/domain"
	"github.com/tunablelabs/codebase-rag/internal/service"
)

// Handler exposes the session and query services over HTTP. Streaming
// responses (answers, ingestion progress) are delivered as SSE.
type Handler struct {
	ingestService  *service.IngestService
	sessionService *service.SessionService
	queryService   *service.QueryService
}

// NewHandler creates a new API handler
func NewHandler(
	ingestService *service.IngestService,
	sessionService *service.SessionService,
	queryService *service.QueryService,
) *Handler {
	return &Handler{
		ingestService:  ingestService,
		sessionService: sessionService,
		queryService:   queryService,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	sessions.GET("", h.ListSessions)
	sessions.POST("", h.Ingest)
	sessions.GET("/ingest/progress", h.IngestProgress)
	sessions.POST("/:id/select", h.SelectSession)
	sessions.POST("/:id/rename", h.RenameSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.GET("/:id/messages", h.SessionMessages)

	r.POST("/chat", h.Chat)
}

// ListSessions returns all sessions plus the active id
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions":  h.sessionService.Sessions(),
		"active_id": h.sessionService.ActiveID(),
	})
}

// Ingest registers a new repository. The source is either a remote URL
// (JSON body) or a local folder (multipart upload).
func (h *Handler) Ingest(c *gin.Context) {
	src, err := parseSource(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), src)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, result)
}

// IngestProgress streams ingestion progress snapshots as SSE until the
// attempt settles.
func (h *Handler) IngestProgress(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-ticker.C:
			p := h.ingestService.Progress()
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			switch p.Stage {
			case service.StageIdle, service.StageComplete, service.StageError:
				return false
			}
			return true
		}
	})
}

// SelectSession marks a session active
func (h *Handler) SelectSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessionService.Select(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_id": id})
}

// RenameSession renames a session
func (h *Handler) RenameSession(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sessionService.Rename(c.Request.Context(), c.Param("id"), req.Name); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session renamed"})
}

// DeleteSession deletes a session
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessionService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "session deleted",
		"active_id": h.sessionService.ActiveID(),
	})
}

// SessionMessages returns the conversation of one session
func (h *Handler) SessionMessages(c *gin.Context) {
	messages, err := h.sessionService.Messages(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Chat submits a question against the active session and streams the answer
// as SSE. Each event carries the full message so far, not a delta.
func (h *Handler) Chat(c *gin.Context) {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.queryService.Ask(c.Request.Context(), req.Question)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		data, _ := json.Marshal(gin.H{
			"session_id": ev.SessionID,
			"message":    ev.Message,
			"state":      ev.State,
			"notice":     ev.Notice,
		})
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.State, data)
		return true
	})
}

// parseSource builds the ingestion source from the request. A JSON body
// names a remote repository; a multipart body carries a folder upload with
// an optional repo_url field that takes precedence over the files.
func parseSource(c *gin.Context) (domain.RepoSource, error) {
	var src domain.RepoSource

	contentType := c.ContentType()
	if contentType == "multipart/form-data" {
		form, err := c.MultipartForm()
		if err != nil {
			return src, err
		}
		if urls := form.Value["repo_url"]; len(urls) > 0 {
			src.RepoURL = urls[0]
		}
		for _, fh := range form.File["files"] {
			f, err := fh.Open()
			if err != nil {
				return src, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return src, err
			}
			src.Files = append(src.Files, domain.UploadFile{Path: fh.Filename, Data: data})
		}
		return src, nil
	}

	var req struct {
		RepoURL string `json:"repo_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return src, err
	}
	src.RepoURL = req.RepoURL
	return src, nil
}

// statusFor maps domain errors onto HTTP status codes. Anything unmapped is
// treated as a backend failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyQuestion), errors.Is(err, domain.ErrNoSource):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIngestInFlight), errors.Is(err, domain.ErrQueryInFlight):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
