package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

// Heartbeater periodically publishes the worker's status to the message
// queue and the in-process bus.
type Heartbeater struct {
	gateway  *Gateway
	queue    messagequeue.Queue
	interval time.Duration
}

// NewHeartbeater creates a heartbeater. queue may be nil; the bus still
// receives status updates.
func NewHeartbeater(gateway *Gateway, queue messagequeue.Queue, interval time.Duration) *Heartbeater {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Heartbeater{gateway: gateway, queue: queue, interval: interval}
}

// Run publishes status on a fixed interval until ctx ends, then publishes a
// final "stopping" status.
func (h *Heartbeater) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.publish(ctx, "ok")
	for {
		select {
		case <-ctx.Done():
			h.publish(context.WithoutCancel(ctx), "stopping")
			return
		case <-ticker.C:
			h.publish(ctx, "ok")
		}
	}
}

func (h *Heartbeater) publish(ctx context.Context, status string) {
	st := h.gateway.Status(status)
	h.gateway.bus.PublishWorkerStatus(st)

	if h.queue == nil {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := h.queue.Publish(ctx, messagequeue.SubjectWorkerStatus, data); err != nil {
		slog.Warn("publish worker status", "error", err)
	}
}
