package events

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBroadcastSubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	n := bus.Broadcast(TaskStartedEvent{ProtocolID: "p1", ID: "task-1", AgentID: "sp-01", Timestamp: time.Now()})
	if n != 1 {
		t.Fatalf("expected 1 recipient, got %d", n)
	}

	select {
	case received := <-ch:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type %q, got %q", EventTypeTaskStarted, received.EventType())
		}
		if e, ok := received.(TaskStartedEvent); !ok || e.ID != "task-1" {
			t.Errorf("unexpected event payload: %#v", received)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	if n := bus.Broadcast(TaskCompletedEvent{ID: "task-2", Result: "ok"}); n != 2 {
		t.Fatalf("expected 2 recipients, got %d", n)
	}

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.EventType() != EventTypeTaskCompleted {
				t.Errorf("subscriber %d: got %q", i+1, received.EventType())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

func TestBroadcastWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	if n := bus.Broadcast(ProtocolEvent{Type: EventTypeProtocolActivated, ProtocolID: "p1"}); n != 0 {
		t.Fatalf("expected 0 recipients, got %d", n)
	}
}

func TestLateSubscriberMissesEarlierBroadcast(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	bus.Broadcast(ProtocolEvent{Type: EventTypeProtocolActivated, ProtocolID: "p1"})
	ch := bus.SubscribeAll(10)

	select {
	case e := <-ch:
		t.Fatalf("late subscriber received replayed event %q", e.EventType())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Broadcast(TaskStartedEvent{ID: "task", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("broadcaster blocked on a full subscriber")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

func TestTopicIsolation(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	vetoCh := bus.Subscribe(TopicVeto, 10)

	bus.Broadcast(TaskStartedEvent{ID: "task-1"})
	bus.Broadcast(VetoEvent{RunID: "run-1", Reason: "unethical"})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("task channel: got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout")
	}
	select {
	case received := <-vetoCh:
		if received.EventType() != EventTypeRunVetoed {
			t.Errorf("veto channel: got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("veto channel: timeout")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-vetoCh:
		t.Error("veto channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Broadcast(TaskStartedEvent{ID: "task-1"})
	bus.Broadcast(PhaseEvent{RunID: "run-1", Phase: "RESEARCH"})

	received := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case e := <-allCh:
			received[e.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
	if !received[EventTypeTaskStarted] || !received[EventTypePhaseEntered] {
		t.Errorf("SubscribeAll missed events: %v", received)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	topicCh := bus.Subscribe(TopicTask, 10)
	allCh := bus.SubscribeAll(10)
	if got := bus.SubscriberCount(); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	bus.Unsubscribe(topicCh)
	bus.Unsubscribe(allCh)

	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
	if _, ok := <-topicCh; ok {
		t.Error("topic channel not closed after unsubscribe")
	}
	if _, ok := <-allCh; ok {
		t.Error("all channel not closed after unsubscribe")
	}
	if n := bus.Broadcast(TaskStartedEvent{ID: "task-1"}); n != 0 {
		t.Errorf("expected 0 recipients after unsubscribe, got %d", n)
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()
	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

func TestBroadcastAfterClose(t *testing.T) {
	bus := NewEventBus(nil)
	bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("broadcast after close panicked: %v", r)
		}
	}()
	if n := bus.Broadcast(TaskStartedEvent{ID: "task-1"}); n != 0 {
		t.Errorf("expected 0 recipients after close, got %d", n)
	}
}

func TestBroadcastLogsRecipientCount(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewEventBus(zap.New(core))
	defer bus.Close()

	bus.SubscribeAll(10)
	bus.Subscribe(TopicTask, 10)
	bus.Broadcast(TaskStartedEvent{ID: "task-1"})

	entries := logs.FilterMessage("broadcast").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 broadcast log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["recipients"]; got != int64(2) {
		t.Errorf("expected recipients=2, got %v", got)
	}
}

func TestBroadcastLogsZeroRecipients(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewEventBus(zap.New(core))
	defer bus.Close()

	if n := bus.Broadcast(ProgressEvent{ProtocolID: "p1"}); n != 0 {
		t.Fatalf("expected 0 recipients, got %d", n)
	}

	entries := logs.FilterMessage("broadcast").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 broadcast log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["recipients"]; got != int64(0) {
		t.Errorf("expected recipients=0, got %v", got)
	}
}

func TestMarshalEnvelope(t *testing.T) {
	data, err := Marshal(VetoEvent{RunID: "run-1", Subject: "topic", Phase: "RESEARCH", Reason: "unethical"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"type":"veto.issued"`, `"topic":"veto"`, `"reason":"unethical"`} {
		if !strings.Contains(got, want) {
			t.Errorf("envelope %s missing %s", got, want)
		}
	}
}
