package publish

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/airline-simulator/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket and streams snapshots to it.
// Frames are JSON text by default; ?format=msgpack switches to binary
// msgpack frames. A client whose write fails is dropped.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != FormatJSON && format != FormatMsgpack {
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	sub := h.Subscribe()
	log := h.log.With(logging.String("remote", r.RemoteAddr), logging.String("format", format))
	log.Info(r.Context(), "snapshot subscriber connected")

	go h.writePump(conn, sub, format, log)
	go readPump(conn, sub)
}

// readPump only services control frames; anything the client sends is
// ignored. It ends the subscription once the peer goes away.
func readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription, format string, log logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
		log.Info(context.Background(), "snapshot subscriber disconnected")
	}()

	for {
		select {
		case snap, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, frame, err := Encode(format, snap)
			if err != nil {
				log.Error(context.Background(), "encode snapshot", logging.Err(err))
				return
			}
			if err := conn.WriteMessage(frame, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
