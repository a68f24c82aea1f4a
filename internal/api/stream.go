package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream upgrades to a websocket and pushes realtime events to the
// client. The optional ?device= query narrows the feed to one device;
// absent, the client sees the whole fleet. Client disconnect
// unregisters the subscription immediately; monitoring itself is
// unaffected by subscriber count.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	sub := h.bus.Subscribe(deviceID)
	log := h.logger.WithFields(map[string]interface{}{
		"remote": conn.RemoteAddr().String(),
		"device": deviceID,
	})
	log.Info("Stream subscriber connected")

	defer func() {
		sub.Close()
		conn.Close()
		log.Info("Stream subscriber disconnected")
	}()

	// Reader goroutine: the client never sends data frames, but reading
	// is how close frames and pong responses are processed.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("Stream write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
