package service

import (
	"context"
	"testing"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

func drainJobEvents(t *testing.T, ch <-chan bus.Message, n int) []messagequeue.JobEvent {
	t.Helper()
	events := make([]messagequeue.JobEvent, 0, n)
	for len(events) < n {
		select {
		case msg := <-ch:
			if msg.Job != nil {
				events = append(events, *msg.Job)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestSinkAssignsMonotonicSequence(t *testing.T) {
	b := bus.New()
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	sink := NewRunEventSink("run-1", "", b, nil)
	ctx := context.Background()

	sink.Emit(ctx, run.EventRunLifecycle, "Runtime started", nil)
	sink.Emit(ctx, run.EventAssistantDelta, "working", nil)
	sink.Emit(ctx, run.EventCommandDelta, "raw output", nil)

	events := drainJobEvents(t, ch, 3)
	for i, ev := range events {
		if ev.Sequence != int64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, ev.Sequence, i+1)
		}
		if ev.RunID != "run-1" {
			t.Errorf("event %d run_id = %q", i, ev.RunID)
		}
		if ev.SchemaVersion != run.DefaultSchemaVersion {
			t.Errorf("event %d schema = %q, want default", i, ev.SchemaVersion)
		}
	}

	if events[0].EventType != messagequeue.JobEventLog {
		t.Errorf("lifecycle event type = %q, want log", events[0].EventType)
	}
	if events[2].EventType != messagequeue.JobEventLogChunk {
		t.Errorf("command delta event type = %q, want log_chunk", events[2].EventType)
	}
	if events[1].Category != string(run.EventAssistantDelta) {
		t.Errorf("assistant category = %q", events[1].Category)
	}
}

func TestSinkCompletedCarriesHighestSequence(t *testing.T) {
	b := bus.New()
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	sink := NewRunEventSink("run-1", "", b, nil)
	ctx := context.Background()

	sink.Emit(ctx, run.EventAssistantDelta, "almost there", nil)
	sink.Completed(ctx, &run.Envelope{Status: run.EnvelopeSucceeded, Summary: "Done"}, run.StateSucceeded)

	events := drainJobEvents(t, ch, 2)
	last := events[1]
	if last.EventType != messagequeue.JobEventCompleted {
		t.Errorf("terminal event type = %q, want completed", last.EventType)
	}
	if last.Sequence != 2 {
		t.Errorf("terminal sequence = %d, want 2", last.Sequence)
	}
	if last.Summary != "Done" {
		t.Errorf("terminal summary = %q", last.Summary)
	}
	if last.Metadata["status"] != "succeeded" {
		t.Errorf("terminal status metadata = %q", last.Metadata["status"])
	}
}

func TestSinkRequestProtocolVersionWins(t *testing.T) {
	b := bus.New()
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	sink := NewRunEventSink("run-1", "custom-v9", b, nil)
	sink.Emit(context.Background(), run.EventAssistantDelta, "text", nil)

	ev := drainJobEvents(t, ch, 1)[0]
	if ev.SchemaVersion != "custom-v9" {
		t.Errorf("schema = %q, want custom-v9", ev.SchemaVersion)
	}
}
