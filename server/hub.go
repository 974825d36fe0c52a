package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// PushMessage is the wire envelope for every pushed event, mirroring the
// host's own websocket message shape.
type PushMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type hubConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *hubConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub is the server side of the push-notification channel: a set of
// websocket connections keyed by client id. It satisfies the Pusher
// interfaces of both the cache managers and the trigger. The core only
// ever writes to it; inbound frames are drained and discarded.
type Hub struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	conns    map[string]*hubConn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*hubConn),
	}
}

// ServeWS upgrades one HTTP request into a registered push connection.
// The client id comes from the clientId query parameter; a missing id
// gets a generated one, echoed back in the first message.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	hc := &hubConn{conn: conn}
	h.mu.Lock()
	if old, ok := h.conns[clientID]; ok {
		old.conn.Close()
	}
	h.conns[clientID] = hc
	h.mu.Unlock()

	slog.Info("push client connected", "client_id", clientID)
	hc.writeJSON(PushMessage{Type: "hello", Data: map[string]string{"client_id": clientID}})

	// Drain inbound frames until the peer goes away. The core never acts
	// on anything a client sends.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(clientID, hc)
				return
			}
		}
	}()
}

func (h *Hub) drop(clientID string, hc *hubConn) {
	h.mu.Lock()
	if cur, ok := h.conns[clientID]; ok && cur == hc {
		delete(h.conns, clientID)
	}
	h.mu.Unlock()
	hc.conn.Close()
	slog.Info("push client disconnected", "client_id", clientID)
}

// Push delivers one event. An empty target broadcasts; otherwise only the
// named client's connection receives the message. Pushing to a client
// with no live connection is an error the caller may log and ignore.
func (h *Hub) Push(event string, payload any, target string) error {
	msg := PushMessage{Type: event, Data: payload}
	if _, err := json.Marshal(msg); err != nil {
		return err
	}

	h.mu.Lock()
	targets := make(map[string]*hubConn)
	if target == "" {
		for id, hc := range h.conns {
			targets[id] = hc
		}
	} else if hc, ok := h.conns[target]; ok {
		targets[target] = hc
	}
	h.mu.Unlock()

	if target != "" && len(targets) == 0 {
		return fmt.Errorf("no connection for client %s", target)
	}

	for id, hc := range targets {
		if err := hc.writeJSON(msg); err != nil {
			slog.Warn("push write failed, dropping connection", "client_id", id, "error", err)
			h.drop(id, hc)
		}
	}
	return nil
}

// ClientCount returns the number of live push connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
