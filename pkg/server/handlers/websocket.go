package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/marlin-db/pkg/oplog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// OplogBroadcaster is an oplog sink that fans entries out to
// websocket subscribers. Slow subscribers drop entries rather than
// stall writes.
type OplogBroadcaster struct {
	mu          sync.Mutex
	subscribers map[chan oplog.Entry]struct{}
	closed      bool
}

// NewOplogBroadcaster creates an empty broadcaster
func NewOplogBroadcaster() *OplogBroadcaster {
	return &OplogBroadcaster{
		subscribers: make(map[chan oplog.Entry]struct{}),
	}
}

// Append implements oplog.Sink
func (b *OplogBroadcaster) Append(entry oplog.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subscriber := range b.subscribers {
		select {
		case subscriber <- entry:
		default:
		}
	}
}

// Subscribe registers a subscriber channel
func (b *OplogBroadcaster) Subscribe() chan oplog.Entry {
	subscriber := make(chan oplog.Entry, 64)
	b.mu.Lock()
	if b.closed {
		close(subscriber)
	} else {
		b.subscribers[subscriber] = struct{}{}
	}
	b.mu.Unlock()
	return subscriber
}

// Unsubscribe removes a subscriber channel
func (b *OplogBroadcaster) Unsubscribe(subscriber chan oplog.Entry) {
	b.mu.Lock()
	if _, ok := b.subscribers[subscriber]; ok {
		delete(b.subscribers, subscriber)
		close(subscriber)
	}
	b.mu.Unlock()
}

// Close disconnects all subscribers
func (b *OplogBroadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	for subscriber := range b.subscribers {
		close(subscriber)
	}
	b.subscribers = make(map[chan oplog.Entry]struct{})
	b.mu.Unlock()
}

// TailOplog streams oplog entries over a websocket connection
func (h *Handlers) TailOplog(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("oplog tail upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	subscriber := h.broadcast.Subscribe()
	defer h.broadcast.Unsubscribe(subscriber)

	// drain client messages so close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-subscriber:
			if !ok {
				return
			}
			payload := map[string]interface{}{
				"ts": map[string]interface{}{"t": entry.TS.T, "i": entry.TS.I},
				"ns": entry.NS,
				"op": string(entry.Op),
				"o":  jsonValue(entry.O),
			}
			if entry.O2 != nil {
				payload["o2"] = jsonValue(entry.O2)
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
