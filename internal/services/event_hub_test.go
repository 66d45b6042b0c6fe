package services

import (
	"testing"

	"github.com/google/uuid"

	redisclient "github.com/bibflow/holdingpen-backend/internal/clients/redis"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub(logger.MustNew("development"))
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	ev := redisclient.Event{Type: "run.halted", RunID: uuid.New()}
	hub.Broadcast(ev)

	for name, ch := range map[string]<-chan redisclient.Event{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.RunID != ev.RunID || got.Type != "run.halted" {
				t.Fatalf("%s got %+v", name, got)
			}
		default:
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestEventHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewEventHub(logger.MustNew("development"))
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Fill past the buffer; the hub must not block.
	for i := 0; i < 32; i++ {
		hub.Broadcast(redisclient.Event{Type: "run.progress"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer = %d/%d, want full", len(ch), cap(ch))
	}
}

func TestEventHubCancelIsIdempotent(t *testing.T) {
	hub := NewEventHub(logger.MustNew("development"))
	_, cancel := hub.Subscribe()
	cancel()
	cancel() // second call must not panic on a closed channel

	// Broadcasting after unsubscribe reaches nobody and must not panic.
	hub.Broadcast(redisclient.Event{Type: "run.completed"})
}
