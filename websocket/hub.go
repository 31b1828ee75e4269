package websocket

import (
	"encoding/json/v2"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub fans a broadcast stream out to many connected Conns. It is the one
// piece of shared infrastructure the rest of a real-time service builds
// on top of the engine for: register a Conn after a successful Accept,
// push messages through Broadcast, and let Hub clean up a client whose
// write starts failing.
type Hub struct {
	clients map[*Conn]bool

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan []byte

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// NewHub returns a Hub ready to use once Run is started in a goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Conn]bool),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop; it blocks until Close is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Int("clients", h.ClientCount()).Msg("websocket: client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			h.mu.Unlock()
			log.Debug().Int("clients", h.ClientCount()).Msg("websocket: client unregistered")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go func(c *Conn, msg []byte) {
					if err := c.Write(OpBinary, msg); err != nil {
						log.Warn().Err(err).Msg("websocket: broadcast write failed, dropping client")
						h.Unregister(c)
					}
				}(client, message)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds client to the Hub so it receives future broadcasts. A
// no-op once the Hub is closed.
func (h *Hub) Register(client *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()
	h.register <- client
}

// Unregister removes client and closes its connection. Safe to call more
// than once for the same client.
func (h *Hub) Unregister(client *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()
	h.unregister <- client
}

// Broadcast queues message for delivery, as a binary frame, to every
// registered client. It returns once the message is enqueued, not once
// delivered; it blocks while the 256-message queue is full.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()
	h.broadcast <- message
}

// BroadcastText queues text as a broadcast message.
func (h *Hub) BroadcastText(text string) {
	h.Broadcast([]byte(text))
}

// BroadcastJSON marshals v and queues it as a broadcast message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts the Hub down: stops Run, closes every registered client,
// and closes the Hub's own channels. Safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for client := range h.clients {
		_ = client.Close()
	}
	h.clients = make(map[*Conn]bool)
	h.mu.Unlock()

	close(h.register)
	close(h.unregister)
	close(h.broadcast)
	return nil
}
