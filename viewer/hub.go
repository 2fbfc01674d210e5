package viewer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/brensch/gomokuzero/executor/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan events.Event
}

// Hub pushes self-play events to websocket clients. A client joining late
// first receives the latest snapshot of every game still in progress.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	live    map[string]events.Event
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		live:    make(map[string]events.Event),
	}
}

// Run forwards events from ch until ch is closed or ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, ch <-chan events.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Kind == events.GameFinished {
		delete(h.live, ev.GameID)
	} else {
		h.live[ev.GameID] = ev
	}
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Too slow; drop the client rather than stall everyone else.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// LiveGames returns the latest event of each unfinished game.
func (h *Hub) LiveGames() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Event, 0, len(h.live))
	for _, ev := range h.live {
		out = append(out, ev)
	}
	return out
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan events.Event, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	for _, ev := range h.live {
		select {
		case c.send <- ev:
		default:
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop discards incoming messages; it exists to notice disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
