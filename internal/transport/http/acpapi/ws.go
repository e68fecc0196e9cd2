package acpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaohan0616/acpd/internal/hub"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WatchRunEvents upgrades the connection and streams a run's events over
// WebSocket: the recorded log first, then live events as they happen.
// GET /runs/:run_id/events/ws
func (h *Handler) WatchRunEvents(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event streaming unavailable"})
	}

	runID := c.Param("run_id")
	events, err := h.service.GetEvents(c.Request().Context(), runID)
	if err != nil {
		return errorJSON(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade WebSocket: %v", err)
		return err
	}

	watcher := h.hub.NewWatcher(ws, runID)

	// Replay before going live. A live event recorded during the replay gap
	// is not re-delivered here; the event log stays the complete record.
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			ws.Close()
			return nil
		}
	}

	h.hub.Register(watcher)
	go h.writePump(watcher)
	go h.readPump(watcher)
	return nil
}

// readPump drains the connection so close frames and pongs are processed.
func (h *Handler) readPump(w *hub.Watcher) {
	defer func() {
		h.hub.Unregister(w)
		w.Close()
	}()

	w.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	w.Conn.SetPongHandler(func(string) error {
		w.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		if _, _, err := w.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump forwards hub deliveries and keeps the connection alive.
func (h *Handler) writePump(w *hub.Watcher) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		w.Close()
	}()

	for {
		select {
		case data, ok := <-w.Send:
			w.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				w.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("WARN: failed to write WebSocket message: %v", err)
				return
			}

		case <-ticker.C:
			w.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := w.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
