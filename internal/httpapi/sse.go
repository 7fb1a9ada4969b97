package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamWriteTimeout = 10 * time.Second

// handleJobStream sends the full job list once, then every job that
// finishes as a "job" event. A keepalive comment is sent while idle.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel := s.queue.SubscribeLossy(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	// Each write must finish within streamWriteTimeout; a stalled client
	// is disconnected.
	write := func(format string, args ...any) bool {
		_ = rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		return write("event: %s\ndata: %s\n\n", event, payload)
	}

	if !send("jobs", s.queue.List()) {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case job := <-events:
			if !send("job", job) {
				return
			}
		case <-ticker.C:
			if !write(": keepalive\n\n") {
				return
			}
		}
	}
}
