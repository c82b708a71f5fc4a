package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
	"github.com/agentsdashboard/orchestrator/internal/resilience"
)

// Queue publishing trips a breaker after repeated failures so a down broker
// does not stall event-heavy runs. The bus and the ledger stay authoritative.
const (
	publishMaxFailures = 5
	publishRetryAfter  = 30 * time.Second
)

// RunEventSink is the per-run event sink handed to a runtime adapter. It owns
// sequencing: every emitted event gets the next monotonic sequence starting at
// 1, regardless of what the adapter parsed off the wire. Events fan out to the
// in-process bus and, best effort, to the message queue.
type RunEventSink struct {
	runID           string
	protocolVersion string
	bus             *bus.EventBus
	queue           messagequeue.Queue
	breaker         *resilience.Breaker

	mu  sync.Mutex
	seq int64
}

// NewRunEventSink creates a sink for one run. queue may be nil in tests.
func NewRunEventSink(runID, protocolVersion string, b *bus.EventBus, q messagequeue.Queue) *RunEventSink {
	return &RunEventSink{
		runID:           runID,
		protocolVersion: protocolVersion,
		bus:             b,
		queue:           q,
		breaker:         resilience.NewBreaker(publishMaxFailures, publishRetryAfter),
	}
}

// Emit publishes one runtime event with the next sequence number.
func (s *RunEventSink) Emit(ctx context.Context, eventType run.EventType, content string, metadata map[string]string) {
	ev := run.Event{
		Sequence: s.next(),
		Type:     eventType,
		Content:  content,
		Metadata: metadata,
	}

	kind := messagequeue.JobEventLog
	if eventType == run.EventCommandDelta {
		kind = messagequeue.JobEventLogChunk
	}
	s.publish(ctx, ev, kind, "")
}

// Completed publishes the terminal event for the run. It must be the last
// event emitted; the sink guarantees it carries the highest sequence.
func (s *RunEventSink) Completed(ctx context.Context, env *run.Envelope, state run.State) {
	ev := run.Event{
		Sequence: s.next(),
		Type:     run.EventRunCompleted,
		Content:  env.Summary,
		Metadata: map[string]string{"status": string(state)},
	}
	s.publish(ctx, ev, messagequeue.JobEventCompleted, env.Summary)
}

// Sequence returns the last assigned sequence number.
func (s *RunEventSink) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *RunEventSink) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *RunEventSink) publish(ctx context.Context, ev run.Event, kind, summary string) {
	proj := run.Project(ev, s.protocolVersion)
	je := messagequeue.JobEvent{
		RunID:         s.runID,
		EventType:     kind,
		Summary:       summary,
		Metadata:      ev.Metadata,
		Sequence:      ev.Sequence,
		Category:      proj.Category,
		PayloadJSON:   proj.PayloadJSON,
		SchemaVersion: proj.SchemaVersion,
		TimestampMs:   time.Now().UnixMilli(),
	}

	if s.bus != nil {
		s.bus.PublishJobEvent(je)
	}
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(je)
	if err != nil {
		slog.Error("marshal job event", "run_id", s.runID, "error", err)
		return
	}
	err = s.breaker.Execute(func() error {
		return s.queue.Publish(ctx, messagequeue.SubjectJobEvents, data)
	})
	if err != nil {
		slog.Warn("publish job event", "run_id", s.runID, "seq", ev.Sequence, "error", err)
	}
}
