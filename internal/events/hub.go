// Package events fans out dump session progress to live watchers (the
// progress TUI and the API event stream).
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published during a dump session.
const (
	SessionStarted  = "session.started"
	DaemonStarted   = "daemon.started"
	DaemonFinished  = "daemon.finished"
	SessionFinished = "session.finished"
	Interrupted     = "session.interrupted"
)

// Event is one published notification.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// SessionInfo is the payload of SessionStarted.
type SessionInfo struct {
	SessionID   string   `json:"session_id"`
	Feature     string   `json:"feature"`
	Destination string   `json:"destination,omitempty"`
	Daemons     []string `json:"daemons"`
}

// DaemonInfo is the payload of DaemonStarted and DaemonFinished.
type DaemonInfo struct {
	SessionID string `json:"session_id"`
	Daemon    string `json:"daemon"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Outcome   string `json:"outcome,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionResult is the payload of SessionFinished.
type SessionResult struct {
	SessionID   string `json:"session_id"`
	Feature     string `json:"feature"`
	State       string `json:"state"`
	Attempted   int    `json:"attempted"`
	Responded   int    `json:"responded"`
	Interrupted bool   `json:"interrupted"`
	Destination string `json:"destination,omitempty"`
}

// Publisher is the producing side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub that keeps a bounded backlog for watchers
// that attach late or reconnect.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[chan Event]struct{}
}

// NewHub creates a hub keeping the last capacity events (100 when <= 0).
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		backlog: make([]Event, 0, capacity),
		limit:   capacity,
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish stamps and delivers an event. Subscribers that are not keeping
// up miss it rather than block the dump.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.limit-1]
	}
	h.backlog = append(h.backlog, ev)

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of new events and a cancel func that closes
// it. Cancel may be called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 128)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// SnapshotSince returns backlog events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are dense and ascending, so the cut point is computable.
	skip := 0
	if n := len(h.backlog); n > 0 {
		skip = int(lastID - h.backlog[0].ID + 1)
		skip = max(0, min(skip, n))
	}
	return append([]Event(nil), h.backlog[skip:]...)
}

// Decode unmarshals the payload of ev into v.
func Decode[T any](ev Event) (T, error) {
	var v T
	err := json.Unmarshal(ev.Data, &v)
	return v, err
}
