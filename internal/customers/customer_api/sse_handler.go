package customer_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dance-ticketing/internal/utils"
)

const heartbeatInterval = 25 * time.Second

// StreamBalanceEvents streams ticket_balance_changed events for one customer
// until the client disconnects.
func (h *Handler) StreamBalanceEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.customerID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := h.Emitter.Subscribe(r.Context(), id)
	h.Logger.Debug("SSE", fmt.Sprintf("Client subscribed to customer %d", id))

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client for customer %d disconnected", id))
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to marshal balance event: %v", err))
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: ticket_balance_changed\ndata: %s\n\n", event.EventID, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
