package services

import (
	"sync"

	redisclient "github.com/bibflow/holdingpen-backend/internal/clients/redis"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

// EventHub fans bus events out to in-process stream subscribers (the
// SSE endpoint curators watch). A slow subscriber drops events rather
// than blocking the forwarder.
type EventHub struct {
	mu      sync.RWMutex
	clients map[chan redisclient.Event]bool
	log     *logger.Logger
}

func NewEventHub(baseLog *logger.Logger) *EventHub {
	return &EventHub{
		clients: make(map[chan redisclient.Event]bool),
		log:     baseLog.With("service", "EventHub"),
	}
}

// Subscribe registers a new listener. The returned cancel func must be
// called when the listener goes away.
func (h *EventHub) Subscribe() (<-chan redisclient.Event, func()) {
	ch := make(chan redisclient.Event, 16)
	h.mu.Lock()
	h.clients[ch] = true
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if h.clients[ch] {
			delete(h.clients, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers an event to every subscriber. Wired as the redis
// forwarder callback at startup.
func (h *EventHub) Broadcast(ev redisclient.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.log.Debug("event dropped for slow subscriber", "run_id", ev.RunID, "type", ev.Type)
		}
	}
}
