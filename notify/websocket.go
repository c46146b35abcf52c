// Package notify pushes job state transitions to connected booth UI
// clients over websockets.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/boothworks/printfleet/print"
)

// Broadcaster fans job updates out to every connected client. Clients
// that fail a write are dropped; the booth UI reconnects on its own.
type Broadcaster struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	log       *slog.Logger
}

func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
		log:       log.With("component", "notify"),
	}
}

// Start runs the broadcast loop until the channel is drained and Stop is
// called.
func (b *Broadcaster) Start() {
	go func() {
		for msg := range b.broadcast {
			b.mu.Lock()
			for conn := range b.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					b.log.Debug("dropping websocket client", "err", err)
					conn.Close()
					delete(b.clients, conn)
				}
			}
			b.mu.Unlock()
		}
	}()
}

// Stop closes the broadcast loop and every client connection.
func (b *Broadcaster) Stop() {
	close(b.broadcast)
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.Close()
		delete(b.clients, conn)
	}
}

// Register adds a client connection.
func (b *Broadcaster) Register(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[conn] = true
	b.log.Debug("websocket client connected", "clients", len(b.clients))
}

// Unregister removes and closes a client connection.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[conn]; ok {
		delete(b.clients, conn)
		conn.Close()
	}
}

// jobUpdate is the wire shape the booth UI consumes.
type jobUpdate struct {
	Type                string              `json:"type"`
	JobID               string              `json:"job_id"`
	State               string              `json:"state"`
	Reason              print.FailureReason `json:"reason,omitempty"`
	UnverifiedAlignment bool                `json:"unverified_alignment,omitempty"`
	Attempts            int                 `json:"attempts"`
}

// JobUpdate queues a job snapshot for broadcast. Never blocks: if the
// buffer is full the update is dropped, the UI will catch up on the next
// transition or by polling the job endpoint.
func (b *Broadcaster) JobUpdate(job print.Job) {
	msg, err := json.Marshal(jobUpdate{
		Type:                "job_update",
		JobID:               job.ID,
		State:               job.State.String(),
		Reason:              job.Reason,
		UnverifiedAlignment: job.UnverifiedAlignment,
		Attempts:            len(job.Attempts),
	})
	if err != nil {
		b.log.Error("marshal job update", "err", err)
		return
	}
	select {
	case b.broadcast <- msg:
	default:
	}
}
