package bus_test

import (
	"testing"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/bus"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

func recvOne(t *testing.T, ch <-chan bus.Message) bus.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return bus.Message{}
}

func TestFanOut(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.PublishJobEvent(messagequeue.JobEvent{RunID: "run-1", EventType: messagequeue.JobEventLog})

	for _, ch := range []<-chan bus.Message{ch1, ch2} {
		msg := recvOne(t, ch)
		if msg.Job == nil || msg.Job.RunID != "run-1" {
			t.Errorf("message = %+v, want job event for run-1", msg)
		}
	}
}

func TestNoReplay(t *testing.T) {
	b := bus.New()
	defer b.Close()

	b.PublishJobEvent(messagequeue.JobEvent{RunID: "before"})

	ch, cancel := b.Subscribe()
	defer cancel()

	b.PublishWorkerStatus(messagequeue.WorkerStatus{WorkerID: "w1"})

	msg := recvOne(t, ch)
	if msg.Status == nil || msg.Status.WorkerID != "w1" {
		t.Errorf("message = %+v, want the status published after subscribe", msg)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Cancel is idempotent.
	cancel()
}

func TestCloseCompletesAllSubscribers(t *testing.T) {
	b := bus.New()

	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()
	b.Close()

	for _, ch := range []<-chan bus.Message{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("expected closed channel after bus close")
		}
	}

	// Publishing after close is a no-op, subscribing yields a closed channel.
	b.PublishJobEvent(messagequeue.JobEvent{RunID: "late"})
	ch3, _ := b.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("expected closed channel from post-close subscribe")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	// Overflow the buffer; publishes must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.PublishJobEvent(messagequeue.JobEvent{RunID: "run", Sequence: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// The subscriber still receives the most recent messages.
	msg := recvOne(t, ch)
	if msg.Job == nil {
		t.Fatal("expected a job event")
	}
}
