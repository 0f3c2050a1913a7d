package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RecordEvent describes websocket payloads emitted when the ledger grows.
type RecordEvent struct {
	Type         string     `json:"type"`
	SubmissionID string     `json:"submission_id"`
	Record       *RecordDTO `json:"record,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// RecordNotifier tracks active websocket clients and broadcasts new ledger
// records to all of them. Late joiners receive the most recent event.
type RecordNotifier struct {
	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	lastEvent *RecordEvent
}

// NewRecordNotifier constructs a notifier instance.
func NewRecordNotifier() *RecordNotifier {
	return &RecordNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and returns a client handle.
func (n *RecordNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	last := n.lastEvent
	n.mu.Unlock()

	if last != nil {
		_ = client.writeJSON(*last)
	}
	return client
}

// Unregister removes the websocket client and closes the socket.
func (n *RecordNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the event to every registered client, dropping clients
// whose connection has gone away.
func (n *RecordNotifier) Broadcast(event RecordEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	snapshot := event
	n.lastEvent = &snapshot

	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
	n.mu.Unlock()
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
