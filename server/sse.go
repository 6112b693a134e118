// ABOUTME: Server-Sent Events encoder for the run event stream.
// ABOUTME: Sets the SSE response headers and formats one JSON data frame per agent.Event.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseEvent mirrors the wire shape of one SSE frame (spec §6: "Server-Sent
// Events with one JSON object per data: frame"), grounded on the teacher's
// web.SSEEvent.Format convention of "event: <type>\ndata: <data>\n\n".
type sseEvent struct {
	Event string
	Data  string
}

func (e sseEvent) format() string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Event, e.Data)
}

// sseWriter sets the reference SSE headers (spec §6) on w and returns a
// write function that writes one frame per call, and a flush function that
// is a no-op if the underlying ResponseWriter cannot flush.
func sseWriter(w http.ResponseWriter) (write func(eventType string, payload any) error, flush func()) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	flush = func() {
		if canFlush {
			flusher.Flush()
		}
	}

	write = func(eventType string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, sseEvent{Event: eventType, Data: string(data)}.format())
		return err
	}
	return write, flush
}
