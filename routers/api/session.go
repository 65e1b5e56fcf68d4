package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"StoryboardVideo-server/models"
	"StoryboardVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler exposes the generation and export controls of a session.
type SessionHandler struct {
	Sessions  *models.SessionStore
	Generator *service.Generator
	Runs      service.RunScheduler
	Exporter  *service.Exporter
	Player    *service.Slideshow
	Log       *logrus.Entry

	// websockets outlive the request that opened them; ctx is cancelled at shutdown
	ctx context.Context
}

func NewSessionHandler(ctx context.Context, store *models.SessionStore, gen *service.Generator, runs service.RunScheduler, exp *service.Exporter, player *service.Slideshow, log *logrus.Entry) *SessionHandler {
	return &SessionHandler{
		Sessions:  store,
		Generator: gen,
		Runs:      runs,
		Exporter:  exp,
		Player:    player,
		Log:       log,
		ctx:       ctx,
	}
}

type sessionRequest struct {
	Prompt      *string `json:"prompt"`
	AspectRatio *string `json:"aspect_ratio" binding:"omitempty,oneof=16:9 9:16 1:1"`
}

func (r sessionRequest) apply(s *models.Session) {
	if r.Prompt != nil {
		s.SetPrompt(*r.Prompt)
	}
	if r.AspectRatio != nil {
		s.SetAspectRatio(models.AspectRatio(*r.AspectRatio))
	}
}

func bindSessionRequest(c *gin.Context) (sessionRequest, error) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

func (h *SessionHandler) lookup(c *gin.Context) (*models.Session, bool) {
	id := c.Param("session_id")
	s, ok := h.Sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found: " + id})
		return nil, false
	}
	return s, true
}

// 创建会话：POST /v1/api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	req, err := bindSessionRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.Sessions.Create()
	req.apply(s)
	h.Log.WithField("session", s.ID).Info("session created")
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "session": s.Snapshot()})
}

// 查询会话：GET /v1/api/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// 更新提示词或画幅：PUT /v1/api/sessions/:session_id
// Edits are accepted during a run; the run keeps the values it started with.
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	req, err := bindSessionRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.apply(s)
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id := c.Param("session_id")
	if !h.Sessions.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found: " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "deleted": true})
}

// 生成分镜与图片：POST /v1/api/sessions/:session_id/generate
// The run continues in the background; progress is read from the session or its websocket.
func (h *SessionHandler) Generate(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	run, err := h.Generator.Begin(s, nil)
	switch {
	case errors.Is(err, service.ErrGenerationActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"error": service.Describe(err)})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.Describe(err)})
		return
	}

	if err := h.Runs.Schedule(run); err != nil {
		run.Abort(err)
		h.Log.WithError(err).WithField("session", s.ID).Error("schedule generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.Describe(err)})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":  run.ID,
		"session": s.Snapshot(),
	})
}

// 导出视频：POST /v1/api/sessions/:session_id/export
func (h *SessionHandler) Export(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	_, err := h.Exporter.Export(c.Request.Context(), s, ginDownloader{c: c})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNoImages):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrExportActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, gin.H{"error": service.Describe(err)})
		}
	}
}

// ginDownloader streams the video back as the response body.
type ginDownloader struct {
	c *gin.Context
}

func (d ginDownloader) Deliver(_ context.Context, f service.ExportFile) error {
	if f.ArchiveURL != "" {
		d.c.Header("X-Archive-URL", f.ArchiveURL)
	}
	d.c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	d.c.Data(http.StatusOK, "video/mp4", f.Data)
	return nil
}
