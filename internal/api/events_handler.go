package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/diagdump/internal/events"
)

const sseKeepAlive = 15 * time.Second

// eventStream writes server-sent events and remembers the last id sent.
type eventStream struct {
	w      io.Writer
	flush  func()
	lastID int64
}

func (es *eventStream) send(ev events.Event) error {
	if ev.ID <= es.lastID {
		return nil
	}
	frame := "id: " + strconv.FormatInt(ev.ID, 10) + "\n"
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Event payloads are single-line JSON.
	if _, err := fmt.Fprintf(es.w, "%sdata: %s\n\n", frame, ev.Data); err != nil {
		return err
	}
	es.lastID = ev.ID
	return nil
}

func (es *eventStream) ping() error {
	_, err := io.WriteString(es.w, ": keep-alive\n\n")
	return err
}

// handleEvents handles GET /events. Clients resume with Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe first so events published during the replay are not lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &eventStream{w: w, flush: flusher.Flush, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.SnapshotSince(stream.lastID) {
		if stream.send(ev) != nil {
			return
		}
	}
	stream.flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			return
		}
		stream.flush()
	}
}

// parseLastEventID treats anything but a non-negative integer as 0.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
