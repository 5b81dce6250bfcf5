package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/realtime"
)

const keepaliveInterval = 30 * time.Second

// EventsHandler streams fleet events to dashboard sessions over SSE.
type EventsHandler struct {
	hub    *realtime.Hub
	logger *logging.Logger
}

func NewEventsHandler(hub *realtime.Hub, logger *logging.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: logger}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := h.hub.Subscribe()
	defer h.hub.Unsubscribe(session)

	h.logger.WithContext(r.Context()).Debug("event stream opened",
		logging.IP(httputil.GetClientIP(r)))

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			// Comment line keeps intermediaries from closing idle streams.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-session.Events():
			if !open {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				h.logger.Warn("encode stream event", logging.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		}
	}
}
