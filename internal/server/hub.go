package server

import (
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rwalker-dev/foreman/internal/session"
)

// clientSendBuffer is how many undelivered notifications a subscriber may
// lag behind before it is disconnected.
const clientSendBuffer = 64

// Hub fans session notifications out to websocket subscribers. It
// implements session.Transport: Publish is called synchronously from each
// session loop, and per-client buffered channels decouple slow readers
// from the loop. A client that cannot keep up is closed, not waited on.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{} // session id → subscribers

	// onOwnerGone is invoked when a session's owning client disconnects.
	onOwnerGone func(sessionID string)
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan session.Notification
	owner bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHub creates a Hub. onOwnerGone runs when a session's owning client
// disconnects; nil disables implicit stop.
func NewHub(onOwnerGone func(sessionID string)) *Hub {
	return &Hub{
		clients:     make(map[string]map[*wsClient]struct{}),
		onOwnerGone: onOwnerGone,
	}
}

// Publish delivers a notification to every subscriber of the session.
// Ordering per client follows emission order; a subscriber whose buffer
// overflows is dropped so one slow reader cannot stall the session loop.
func (h *Hub) Publish(sessionID string, n session.Notification) {
	h.mu.RLock()
	subs := make([]*wsClient, 0, len(h.clients[sessionID]))
	for c := range h.clients[sessionID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		select {
		case c.send <- n:
		default:
			log.Printf("[hub] dropping slow subscriber for session %s", sessionID)
			c.close(websocket.StatusPolicyViolation, "backpressure")
		}
	}
}

// Subscribe upgrades the request to a websocket and streams the session's
// notifications until the client goes away. An owner=true query parameter
// marks the connection as the session's owning client; its disconnect
// triggers the hub's onOwnerGone callback.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("[hub] websocket accept for session %s: %v", sessionID, err)
		return
	}

	c := &wsClient{
		conn:   conn,
		send:   make(chan session.Notification, clientSendBuffer),
		owner:  r.URL.Query().Get("owner") == "true",
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*wsClient]struct{})
	}
	h.clients[sessionID][c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients[sessionID], c)
		if len(h.clients[sessionID]) == 0 {
			delete(h.clients, sessionID)
		}
		h.mu.Unlock()
		c.close(websocket.StatusNormalClosure, "bye")

		if c.owner && h.onOwnerGone != nil {
			h.onOwnerGone(sessionID)
		}
	}()

	// The read side only detects disconnects; clients send nothing.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n := <-c.send:
			if err := wsjson.Write(r.Context(), conn, n); err != nil {
				return
			}
		case <-readDone:
			return
		case <-c.closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// SubscriberCount returns how many clients follow the session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (c *wsClient) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close(code, reason)
	})
}

// ensure the hub satisfies the session transport contract.
var _ session.Transport = (*Hub)(nil)
