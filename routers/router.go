package routers

import (
	"time"

	"StoryboardVideo-server/routers/api"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handlers are the route targets InitRouter mounts.
type Handlers struct {
	RelayPath string
	Relay     *api.RelayHandler
	Sessions  *api.SessionHandler
	Log       *logrus.Entry
}

func InitRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	// every method reaches the relay so that it can answer 405 itself
	r.Any(h.RelayPath, h.Relay.Handle)

	v1 := r.Group("/v1/api")
	{
		v1.POST("/sessions", h.Sessions.CreateSession)
		v1.GET("/sessions/:session_id", h.Sessions.GetSession)
		v1.PUT("/sessions/:session_id", h.Sessions.UpdateSession)
		v1.DELETE("/sessions/:session_id", h.Sessions.DeleteSession)
		v1.POST("/sessions/:session_id/generate", h.Sessions.Generate)
		v1.POST("/sessions/:session_id/export", h.Sessions.Export)
		v1.GET("/sessions/:session_id/wss", h.Sessions.ProgressWebSocket)
		v1.GET("/sessions/:session_id/player/wss", h.Sessions.PlayerWebSocket)
	}
	return r
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if log == nil {
			return
		}
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Microsecond).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
