package audit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHandler upgrades dashboard connections and bridges them to the
// broadcaster. Each connection gets a write pump owning all writes and
// a read pump handling liveness pings and disconnects.
type StreamHandler struct {
	bus       *Broadcaster
	analytics *Analytics
	upgrader  websocket.Upgrader
}

func NewStreamHandler(bus *Broadcaster, analytics *Analytics) *StreamHandler {
	return &StreamHandler{
		bus:       bus,
		analytics: analytics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("audit: websocket upgrade failed", "error", err)
		return
	}

	id, events := h.bus.Subscribe()
	slog.Info("audit: subscriber connected", "subscriber_id", id)

	// Most recent records first, so a fresh dashboard is never blank.
	recent, err := h.analytics.Recent(r.Context(), 10, 0)
	if err != nil {
		slog.Warn("audit: initial batch failed", "subscriber_id", id, "error", err)
		recent = nil
	}

	pongs := make(chan struct{}, 4)
	done := make(chan struct{})

	go h.writePump(conn, id, Envelope{Type: "initial", Data: recent}, events, pongs, done)
	h.readPump(conn, id, pongs, done)
}

// readPump owns all reads. A client text frame "ping" is answered with
// a pong envelope through the write pump.
func (h *StreamHandler) readPump(conn *websocket.Conn, id int, pongs chan<- struct{}, done chan struct{}) {
	defer func() {
		close(done)
		h.bus.Unsubscribe(id)
		conn.Close()
		slog.Info("audit: subscriber disconnected", "subscriber_id", id)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if strings.EqualFold(strings.TrimSpace(string(msg)), "ping") {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump owns all writes: the initial batch, live events, pong
// replies, and protocol-level keepalive pings.
func (h *StreamHandler) writePump(conn *websocket.Conn, id int, initial Envelope,
	events <-chan Envelope, pongs <-chan struct{}, done <-chan struct{}) {

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(env Envelope) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(env); err != nil {
			h.bus.Unsubscribe(id)
			return false
		}
		return true
	}

	if !write(initial) {
		return
	}
	for {
		select {
		case env, ok := <-events:
			if !ok {
				// Dropped by the broadcaster.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !write(env) {
				return
			}
		case <-pongs:
			if !write(Envelope{Type: "pong"}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.bus.Unsubscribe(id)
				return
			}
		case <-done:
			return
		}
	}
}

var _ http.Handler = (*StreamHandler)(nil)
