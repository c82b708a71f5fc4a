// Package messagequeue defines the message queue port (interface) and the
// wire schemas exchanged between the control plane and worker gateways.
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Request sends a message and waits for a single reply (RPC-style).
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)

	// Reply registers a handler whose return value is sent back to the
	// requester. The returned function cancels the subscription.
	Reply(ctx context.Context, subject string, handler ReplyHandler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// ReplyHandler processes a request message and returns the reply body.
type ReplyHandler func(ctx context.Context, subject string, data []byte) ([]byte, error)

// Subjects for the control plane <-> worker gateway protocol.
const (
	SubjectJobDispatch  = "jobs.dispatch"  // control plane -> worker: dispatch a run (request/reply)
	SubjectJobCancel    = "jobs.cancel"    // control plane -> worker: cancel a run (request/reply)
	SubjectJobReconcile = "jobs.reconcile" // control plane -> worker: reconcile orphaned containers (request/reply)
	SubjectJobEvents    = "jobs.events"    // worker -> control plane: streamed run events
	SubjectWorkerStatus = "workers.status" // worker -> control plane: heartbeat / slot accounting

	SubjectWorkerHeartbeat = "workers.heartbeat" // control plane -> worker: liveness probe (request/reply)
)
