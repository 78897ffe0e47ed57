package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteRaw sends one event whose data is already serialized JSON
func (s *SSEWriter) WriteRaw(event, jsonData string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepalive sends an SSE comment frame so idle connections stay open
func (s *SSEWriter) WriteKeepalive() error {
	if _, err := fmt.Fprint(s.w, ":\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

const (
	streamCeiling     = 15 * time.Minute
	keepaliveInterval = 15 * time.Second
)

// handleStreamLogs streams a run's event log as Server-Sent Events. Entries
// already in the log are replayed first, then new entries are forwarded as
// they arrive. The stream ends when the run emits its workflow_end event, the
// client disconnects, or the ceiling expires.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.parseRunID(w, r)
	if !ok {
		return
	}

	run, err := s.queries.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	sub := s.coord.Subscribe(ctx, runID.String())
	defer sub.Close()
	notify := sub.Channel()

	deadline := time.NewTimer(streamCeiling)
	defer deadline.Stop()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	var cursor int64
	flush := func() (bool, error) {
		entries, next, err := s.coord.TailLog(ctx, runID.String(), cursor)
		if err != nil {
			return false, err
		}
		cursor = next
		for _, entry := range entries {
			if err := sse.WriteRaw("log", entry); err != nil {
				return false, err
			}
			if strings.Contains(entry, `"workflow_end"`) {
				return true, nil
			}
		}
		return false, nil
	}

	if done, err := flush(); done || err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			_ = sse.WriteRaw("timeout", `{"message":"stream ceiling reached, reconnect to continue"}`)
			return
		case <-keepalive.C:
			if err := sse.WriteKeepalive(); err != nil {
				return
			}
		case _, open := <-notify:
			if !open {
				return
			}
			if done, err := flush(); done || err != nil {
				return
			}
		}
	}
}
