package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/agentsdashboard/orchestrator/internal/bus"
)

// Event type constants for WebSocket messages.
const (
	EventJob          = "job.event"
	EventWorkerStatus = "worker.status"
)

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Pump subscribes to the event bus and forwards every message to connected
// clients until ctx ends or the bus closes.
func (h *Hub) Pump(ctx context.Context, b *bus.EventBus) {
	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch {
			case msg.Job != nil:
				h.BroadcastEvent(ctx, EventJob, msg.Job)
			case msg.Status != nil:
				h.BroadcastEvent(ctx, EventWorkerStatus, msg.Status)
			}
		}
	}
}
