package kernel

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sonika-ai/conductor/internal/core/services"
)

// handleBroadcastSSE streams every kernel event to the client: trace
// lifecycle, tool activity, planner decisions.
func (s *Server) handleBroadcastSSE(w http.ResponseWriter, r *http.Request) {
	s.streamSSE(w, r, services.BroadcastChannel)
}

// handleConversationSSE streams events scoped to one conversation.
func (s *Server) handleConversationSSE(w http.ResponseWriter, r *http.Request) {
	// Path shape: /v1/conversations/{id}/events
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var convID string
	if len(parts) >= 3 {
		convID = parts[2]
	}
	if convID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}
	s.streamSSE(w, r, convID)
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.eventBus.Subscribe(topic)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
