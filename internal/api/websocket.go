package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ivlev/panel2anime/internal/engine"
)

const (
	statusInterval = 100 * time.Millisecond
	pingInterval   = 30 * time.Second
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusStream pushes the session status whenever it changes.
func (h *Handler) StatusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[!] WebSocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Читаем только для обработки close/pong
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	var last engine.Status
	first := true
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			st := h.session.Status()
			if !first && st == last {
				continue
			}
			first = false
			last = st
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				log.Printf("[!] WebSocket write: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
