package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleEvents streams hub events as server-sent events. One hub
// client per connection; the hub disconnects consumers that lag.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := s.hub.Subscribe()
	defer client.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("sse-client-connected", zap.String("client-id", client.ID()))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("sse-client-disconnected", zap.String("client-id", client.ID()))
			return

		case ev, open := <-client.Events():
			if !open {
				// Hub dropped us, likely for lagging.
				s.logger.Debug("sse-client-dropped", zap.String("client-id", client.ID()))
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Channel, ev.Payload); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
