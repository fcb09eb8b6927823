package devserver

import (
	"log/slog"
	"sync"
)

// Hub tracks live sessions per user and fans frames out to them.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu       sync.RWMutex
	sessions map[int64]map[string]*client
}

func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{log: log, metrics: metrics, sessions: make(map[int64]map[string]*client)}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	set, ok := h.sessions[c.userID]
	if !ok {
		set = make(map[string]*client)
		h.sessions[c.userID] = set
	}
	set[c.sessionID] = c
	h.mu.Unlock()

	h.metrics.sessions.Inc()
	h.log.Info("hub.session.join", "user_id", c.userID, "session_id", c.sessionID)
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	set := h.sessions[c.userID]
	_, ok := set[c.sessionID]
	if ok {
		delete(set, c.sessionID)
		if len(set) == 0 {
			delete(h.sessions, c.userID)
		}
	}
	h.mu.Unlock()

	// Close only after removal so broadcasters never target a dying session.
	c.Close()
	if ok {
		h.metrics.sessions.Dec()
		h.log.Info("hub.session.leave", "user_id", c.userID, "session_id", c.sessionID)
	}
}

// Online reports how many sessions userID has open.
func (h *Hub) Online(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// SendTo queues b on every session of userID and returns how many accepted it.
// Slow sessions drop the frame instead of blocking the sender.
func (h *Hub) SendTo(userID int64, b []byte) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.sessions[userID]))
	for _, c := range h.sessions[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.offer(b) {
			n++
			continue
		}
		h.metrics.dropped.Inc()
		h.log.Info("ws.send.drop", "session_id", c.sessionID, "user_id", userID)
	}
	return n
}
