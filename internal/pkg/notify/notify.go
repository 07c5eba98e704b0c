// Package notify implements the one concrete Notifier this repository
// owns: a live push of hunt/cron status over WebSocket to connected
// admin sessions (SPEC_FULL DOMAIN STACK). Notifier *CRUD* (creating
// named notifier configs like Slack/email targets) remains an external
// collaborator per spec §1; this package is what HuntEngine and
// CronEngine actually call to "fire the notifier" once one is
// configured. Grounded on werbes-FlowAnalyzer's connection-registry
// shape for its own live-update websocket endpoint.
package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is pushed to every subscribed connection when a hunt or cron
// job reaches a notable state (hunt finished, cron alert threshold
// crossed; spec §4.3 step 7, §4.4 step 2f).
type Event struct {
	Kind      string `json:"kind"` // "hunt" | "cron"
	ID        string `json:"id"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Hub tracks live WebSocket subscribers and fans Events out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the connection and registers it as a subscriber
// until it disconnects or a write fails.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("notify: upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain and discard client frames; this is a server-push-only
	// channel, but we must read to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Notify pushes ev to every connected subscriber. Slow or dead
// connections are dropped on the next write failure rather than
// blocking the caller (HuntEngine/CronEngine checkpoint paths must not
// stall on a stuck browser tab).
func (h *Hub) Notify(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("notify: marshal event failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.mu.Lock()
			delete(h.conns, c)
			h.mu.Unlock()
			c.Close()
		}
	}
}

// NotifyHuntFinished fires a hunt-finished event (spec §4.3 step 7).
func (h *Hub) NotifyHuntFinished(huntID, name string) {
	h.Notify(Event{Kind: "hunt", ID: huntID, Name: name, Message: "hunt finished"})
}

// NotifyCronAlert fires a cron new-match-count alert (spec §4.4 step
// 2f: "if notifier set AND count grew AND >= 600s since lastNotified").
func (h *Hub) NotifyCronAlert(queryID, name string, newMatchCount int64) {
	h.Notify(Event{
		Kind:    "cron",
		ID:      queryID,
		Name:    name,
		Message: fmt.Sprintf("%d new matches", newMatchCount),
	})
}

// Count returns the number of currently connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
