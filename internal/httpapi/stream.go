package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	// The control surface binds to a local UI; origin is not checked
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream pushes every snapshot of the current session as a JSON frame
// until the session ends or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.manager.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	logger := s.logger.With().Str("session_id", ctrl.ID()).Logger()
	logger.Debug().Msg("Snapshot stream opened")

	// The read side only tracks liveness
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("Snapshot stream read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug().Err(err).Msg("Snapshot stream write failed")
				return
			}
			if snap.Session.Status.Terminal() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session "+string(snap.Session.Status))
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				logger.Debug().Str("status", string(snap.Session.Status)).Msg("Snapshot stream finished")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug().Msg("Snapshot stream closed")
			return
		}
	}
}
