package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/glosshq/glossgen/internal/events"
	"github.com/gorilla/websocket"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// wsClient is one connected dashboard consumer. All writes go through
// writeMu so pings and broadcasts never interleave on the wire.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := c.conn.WriteMessage(messageType, data)
	c.conn.SetWriteDeadline(time.Time{}) // Clear deadline
	return err
}

func (c *wsClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := c.conn.WriteJSON(v)
	c.conn.SetWriteDeadline(time.Time{})
	return err
}

// WSHub manages WebSocket dashboard connections
type WSHub struct {
	clients map[*wsClient]bool
	mu      sync.Mutex
}

// NewWSHub creates an empty hub
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]bool)}
}

// Broadcast sends the event to every connected client, dropping clients
// whose connection fails
func (h *WSHub) Broadcast(event events.Event) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(event); err != nil {
			h.remove(c)
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		c.conn.Close()
	}
	h.mu.Unlock()
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("api: websocket upgrade failed: %v", err)
			return
		}

		client := &wsClient{conn: conn}
		s.wsHub.add(client)

		// Protocol-level pings keep idle dashboard connections alive
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := client.write(websocket.PingMessage, nil); err != nil {
					s.wsHub.remove(client)
					return
				}
			}
		}()

		// Drain reads so close frames and pongs are processed
		go func() {
			defer s.wsHub.remove(client)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
