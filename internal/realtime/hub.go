// Package realtime pushes fleet state changes to connected dashboard
// sessions. Delivery is fire-and-forget: a slow session drops events
// rather than stalling the telemetry pipeline, and clients recover by
// refetching the machine list.
package realtime

import (
	"sync"

	"github.com/fleetpulse/fleetpulse/internal/metrics"
)

// Event names pushed over the stream.
const (
	EventMachineUpdate  = "machine_update"
	EventMachineRemoved = "machine_removed"
	EventRefreshRequest = "refresh_request"
	EventAlertOpened    = "alert_opened"
	EventAlertResolved  = "alert_resolved"
)

type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Broadcaster is the narrow surface the services publish through.
type Broadcaster interface {
	Broadcast(ev Event)
}

const sessionBuffer = 64

// Hub fans events out to subscribed sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

type Session struct {
	ch chan Event
}

// Events is the receive side consumed by the SSE handler.
func (s *Session) Events() <-chan Event {
	return s.ch
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[*Session]struct{})}
}

func (h *Hub) Subscribe() *Session {
	s := &Session{ch: make(chan Event, sessionBuffer)}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeSessions.Inc()
	return s
}

func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.ch)
		metrics.RealtimeSessions.Dec()
	}
	h.mu.Unlock()
}

// Broadcast delivers to every session without blocking. A full session
// buffer loses the event.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.sessions {
		select {
		case s.ch <- ev:
		default:
			metrics.RealtimeDropped.Inc()
		}
	}
}

// SessionCount reports connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
