package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"StoryboardVideo-server/models"
	"StoryboardVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const missingCredential = "API_KEY is not set in environment."

// RelayHandler forwards storyboard and image intents to the AI provider.
// A nil Provider means no credential was configured.
type RelayHandler struct {
	Provider service.Provider
	Log      *logrus.Entry
}

func NewRelayHandler(provider service.Provider, log *logrus.Entry) *RelayHandler {
	return &RelayHandler{Provider: provider, Log: log}
}

// 中继入口：POST {relay.path}
func (h *RelayHandler) Handle(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method Not Allowed"})
		return
	}
	if h.Provider == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: missingCredential})
		return
	}

	raw, err := c.GetRawData()
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Empty request body"})
		return
	}
	var req models.RelayRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid JSON"})
		return
	}

	switch req.Type {
	case models.RelayTypeStoryboard:
		h.storyboard(c, req)
	case models.RelayTypeImage:
		h.image(c, req)
	default:
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid type"})
	}
}

func (h *RelayHandler) storyboard(c *gin.Context, req models.RelayRequest) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Missing prompt"})
		return
	}
	scenes, err := h.Provider.Storyboard(c.Request.Context(), prompt)
	if err != nil {
		h.providerError(c, req.Type, err)
		return
	}
	c.JSON(http.StatusOK, models.StoryboardResponse{Scenes: scenes})
}

func (h *RelayHandler) image(c *gin.Context, req models.RelayRequest) {
	scene := strings.TrimSpace(req.SceneDescription)
	if scene == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Missing sceneDescription"})
		return
	}
	aspect, err := models.ParseAspectRatio(string(req.AspectRatio))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid aspectRatio"})
		return
	}
	img, err := h.Provider.SceneImage(c.Request.Context(), scene, aspect)
	if err != nil {
		h.providerError(c, req.Type, err)
		return
	}
	c.JSON(http.StatusOK, models.ImageResponse{Image: img})
}

func (h *RelayHandler) providerError(c *gin.Context, intent string, err error) {
	msg := err.Error()
	if msg == "" {
		msg = "Unknown error"
	}
	if h.Log != nil {
		h.Log.WithError(err).WithField("type", intent).Warn("provider request failed")
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: msg, Details: intent})
}
