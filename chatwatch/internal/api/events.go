package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/sink"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents streams events as JSON text frames: the recent replay
// first (unless ?replay=0), then live events. A client that cannot keep
// up is disconnected by the hub.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade", "error", err)
		return
	}
	var sub *sink.Subscription
	if r.URL.Query().Get("replay") == "0" {
		sub = s.cfg.Hub.SubscribeLive(sink.DefaultBuffer)
	} else {
		sub = s.cfg.Hub.Subscribe(sink.DefaultBuffer)
	}
	defer sub.Close()
	s.logger.Info("api: stream client connected", "remote", r.RemoteAddr)

	// The read side only serves control frames and notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-gone
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case e, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			s.logger.Info("api: stream client gone", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}
