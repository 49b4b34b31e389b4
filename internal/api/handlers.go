package api

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/panel2anime/internal/effects"
	"github.com/ivlev/panel2anime/internal/engine"
	"github.com/ivlev/panel2anime/internal/source"
	"github.com/ivlev/panel2anime/internal/storyboard"
	"github.com/ivlev/panel2anime/internal/system"
)

const maxProjectSize = 32 << 20

// Response is the JSON envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Handler struct {
	session *engine.Session
}

func NewHandler(session *engine.Session) *Handler {
	return &Handler{session: session}
}

func (h *Handler) ok(c *gin.Context, code int) {
	c.JSON(code, Response{Success: true, Data: h.session.Status()})
}

func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var le *source.LoadError
	var mpe *engine.MissingPanelError
	switch {
	case errors.As(err, &le), errors.As(err, &mpe):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrEmptyTimeline), errors.Is(err, source.ErrSuperseded):
		code = http.StatusConflict
	}
	c.JSON(code, Response{Error: err.Error()})
}

func (h *Handler) Status(c *gin.Context) {
	h.ok(c, http.StatusOK)
}

// ReplaceProject accepts a YAML project body and loads it into the session.
func (h *Handler) ReplaceProject(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProjectSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	project, err := storyboard.DecodeProject(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}
	if n := effects.FillMissing(project, h.session.Config().ZoomMode); n > 0 {
		log.Printf("[*] Добавлено движение для %d клипов (%s)", n, h.session.Config().ZoomMode)
	}

	if err := h.session.Replace(c.Request.Context(), project); err != nil {
		fail(c, err)
		return
	}
	h.ok(c, http.StatusOK)
}

func (h *Handler) Play(c *gin.Context) {
	if err := h.session.Play(); err != nil {
		fail(c, err)
		return
	}
	h.ok(c, http.StatusOK)
}

func (h *Handler) Pause(c *gin.Context) {
	h.session.Pause()
	h.ok(c, http.StatusOK)
}

func (h *Handler) Toggle(c *gin.Context) {
	if err := h.session.Toggle(); err != nil {
		fail(c, err)
		return
	}
	h.ok(c, http.StatusOK)
}

func (h *Handler) Reset(c *gin.Context) {
	if err := h.session.Reset(); err != nil {
		fail(c, err)
		return
	}
	h.ok(c, http.StatusOK)
}

// Export starts a capture. The artifact shows up in the status once it stops.
func (h *Handler) Export(c *gin.Context) {
	if err := h.session.Capture().Start(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	h.ok(c, http.StatusAccepted)
}

// FramePNG returns the current surface.
func (h *Handler) FramePNG(c *gin.Context) {
	frame := h.session.Surface().Acquire()
	defer system.PutImage(frame)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, frame); err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *Handler) Download(c *gin.Context) {
	a := h.session.Capture().Artifact()
	if a == nil {
		c.JSON(http.StatusNotFound, Response{Error: "no export available"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	c.Header("Last-Modified", a.CreatedAt.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, a.MIME, a.Data)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Writer.Status() >= http.StatusBadRequest {
			log.Printf("[!] %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
		}
	}
}
