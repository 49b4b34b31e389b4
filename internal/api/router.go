package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ivlev/panel2anime/internal/engine"
)

// NewRouter wires the control endpoints of one session.
func NewRouter(session *engine.Session) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	h := NewHandler(session)

	api := r.Group("/api")
	{
		api.GET("/status", h.Status)
		api.PUT("/project", h.ReplaceProject)
		api.POST("/play", h.Play)
		api.POST("/pause", h.Pause)
		api.POST("/toggle", h.Toggle)
		api.POST("/reset", h.Reset)
		api.POST("/export", h.Export)
		api.GET("/frame.png", h.FramePNG)
		api.GET("/download", h.Download)
	}

	r.GET("/ws/status", h.StatusStream)
	return r
}
