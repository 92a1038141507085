package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/protocol"
)

// Connection represents a single WebSocket connection. A connection either
// observes one run (RunID set) or subscribes to the activity feed.
type Connection struct {
	ID    string
	RunID string
	Feed  bool
	Conn  *websocket.Conn
	Send  chan []byte
	mu    sync.Mutex
}

// Hub tracks run observers and activity feed subscribers.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// observers maps run_id to set of connection IDs
	observers map[string]map[string]bool

	// Feed subscribers by connection ID
	feed map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

var (
	_ pipeline.Hook      = (*Hub)(nil)
	_ pipeline.StartHook = (*Hub)(nil)
)

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		observers:   make(map[string]map[string]bool),
		feed:        make(map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.observers = make(map[string]map[string]bool)
			h.feed = make(map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.Feed {
				h.feed[conn.ID] = true
			} else if conn.RunID != "" {
				if h.observers[conn.RunID] == nil {
					h.observers[conn.RunID] = make(map[string]bool)
				}
				h.observers[conn.RunID][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("Connection registered: %s (run: %s, feed: %v)", conn.ID, conn.RunID, conn.Feed)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				delete(h.feed, conn.ID)
				if conn.RunID != "" && h.observers[conn.RunID] != nil {
					delete(h.observers[conn.RunID], conn.ID)
					if len(h.observers[conn.RunID]) == 0 {
						delete(h.observers, conn.RunID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case data := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.feed {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- data:
				default:
					// Buffer full, drop the subscriber
					log.Printf("Connection %s buffer full, closing", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection. It is not tracked until Register.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast sends data to every activity feed subscriber. The feed is best
// effort: when the hub is backed up the message is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		log.Printf("WARN: activity broadcast queue full, dropping message")
	}
}

// BroadcastJSON sends a JSON message to every activity feed subscriber.
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// RunStarted implements pipeline.StartHook.
func (h *Hub) RunStarted(run domain.Run) {
	h.announce(protocol.ActivityMessage{
		BaseMessage: protocol.NewBase(protocol.TypePipelineStart, run.RunID),
		Mode:        run.Mode,
		Number:      run.Number,
		Status:      domain.RunStatusRunning,
	})
}

// RunFinished implements pipeline.Hook.
func (h *Hub) RunFinished(_ context.Context, run domain.Run) {
	msg := protocol.ActivityMessage{
		BaseMessage: protocol.NewBase(protocol.TypePipelineComplete, run.RunID),
		Mode:        run.Mode,
		Number:      run.Number,
		Status:      run.Status,
	}
	if run.Status == domain.RunStatusError {
		msg.Type = protocol.TypePipelineError
		msg.Error = run.Error
	} else {
		msg.Success = domain.Bool(run.Success)
	}
	h.announce(msg)
}

func (h *Hub) announce(msg protocol.ActivityMessage) {
	if err := h.BroadcastJSON(msg); err != nil {
		log.Printf("WARN: failed to broadcast %s: %v", msg.Type, err)
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetSubscriberCount returns the number of activity feed subscribers.
func (h *Hub) GetSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feed)
}

// GetWatchedRunCount returns the number of runs with at least one observer.
func (h *Hub) GetWatchedRunCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// GetObserverCount returns the number of observers attached to a run.
func (h *Hub) GetObserverCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers[runID])
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON writes v as a text frame, bounded by timeout.
func (c *Connection) WriteJSON(v interface{}, timeout time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
