package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coinhost/billing/internal/billing"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth is the Authorization header only, which browsers never send
		// on an upgrade, so a cross-site page cannot open an authenticated
		// stream. Panel backends and CLIs are the intended clients.
		return true
	},
}

// wsWriter wraps a WebSocket connection to ensure thread-safe writes.
// gorilla/websocket only supports one concurrent writer at a time.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteMessage safely writes a message to the WebSocket connection.
func (w *wsWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(messageType, data)
}

// EventsHandler serves GET /v1/events: a WebSocket stream of the caller's
// billing events as JSON text messages. Client messages are ignored.
func EventsHandler(events EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r.Context())
		if !ok {
			WriteError(w, ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// upgrader.Upgrade writes the error response
			return
		}
		defer conn.Close()

		ch, unsubscribe := events.Subscribe(user.ID)
		defer unsubscribe()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go readUntilClosed(conn, cancel)

		streamEvents(ctx, &wsWriter{conn: conn}, ch)
		slog.Debug("event stream closed", "user_id", user.ID)
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed, and cancels the stream once the connection goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// streamEvents writes events until ctx is done or ch is closed.
func streamEvents(ctx context.Context, writer *wsWriter, ch <-chan billing.Event) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = writer.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.Error("failed to encode billing event", "error", err)
				continue
			}
			if err := writer.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
