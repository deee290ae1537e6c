package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/af-corp/relay-gateway/internal/types"
)

// sseWriter writes downstream events as text/event-stream frames, flushing
// after each one.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

var errStreamingUnsupported = errors.New("response writer does not support flushing")

// newSSEWriter commits the 200 stream headers. It fails before writing
// anything when the writer cannot flush, so the caller can still send a
// regular error response.
func newSSEWriter(w http.ResponseWriter, reqID string) (*sseWriter, error) {
	if !canFlush(w) {
		return nil, errStreamingUnsupported
	}
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if reqID != "" {
		h.Set("X-Request-ID", reqID)
	}

	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, fmt.Errorf("clear write deadline: %w", err)
	}

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("flush stream headers: %w", err)
	}
	return &sseWriter{w: w, rc: rc}, nil
}

func (s *sseWriter) writeEvent(ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Name, err)
	}
	return s.rc.Flush()
}

// keepAlive writes an SSE comment. Clients ignore it; proxies see traffic.
func (s *sseWriter) keepAlive(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write keep-alive: %w", err)
	}
	return s.rc.Flush()
}

func canFlush(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}
