package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestHub_DeliversPerSession(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe("a")
	defer cancelA()
	b, cancelB := hub.Subscribe("b")
	defer cancelB()

	if err := hub.Publish(context.Background(), New("a", StoryReady)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-a:
		if e.Type != StoryReady || e.SessionID != "a" {
			t.Errorf("got %+v", e)
		}
	default:
		t.Fatal("subscriber a received nothing")
	}
	select {
	case e := <-b:
		t.Fatalf("subscriber b received %+v", e)
	default:
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s")
	if hub.Subscribers("s") != 1 {
		t.Fatalf("Subscribers = %d, want 1", hub.Subscribers("s"))
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if hub.Subscribers("s") != 0 {
		t.Errorf("Subscribers = %d, want 0", hub.Subscribers("s"))
	}
}

func TestHub_CloseSession(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s")
	hub.CloseSession("s")
	if _, ok := <-ch; ok {
		t.Error("channel still open after CloseSession")
	}
	cancel() // must not panic on an already closed channel
}

func TestHub_SubscribeAfterCloseSession(t *testing.T) {
	hub := NewHub()
	hub.CloseSession("s")

	ch, cancel := hub.Subscribe("s")
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("subscription to a closed session should be closed")
	}
	if hub.Subscribers("s") != 0 {
		t.Errorf("Subscribers = %d, want 0", hub.Subscribers("s"))
	}
	if err := hub.Publish(context.Background(), New("s", StoryReady)); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("s")
	defer cancel()
	for i := 0; i < subscriberBuffer*2; i++ {
		if err := hub.Publish(context.Background(), New("s", ChatReply)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
}

func TestMulti(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("broker down")}
	m := Multi{ok, nil, failing}

	err := m.Publish(context.Background(), New("s", GateChanged))
	if err == nil || err.Error() != "broker down" {
		t.Errorf("Publish error = %v, want broker down", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Errorf("deliveries ok=%d failing=%d, want 1 each", len(ok.events), len(failing.events))
	}
}

func TestOrNop(t *testing.T) {
	if _, isNop := OrNop(nil).(Nop); !isNop {
		t.Error("OrNop(nil) should be Nop")
	}
	r := &recordingPublisher{}
	if OrNop(r) != r {
		t.Error("OrNop should return a non-nil publisher unchanged")
	}
}

func TestEventJSON(t *testing.T) {
	e := New("s1", NarrationFailed).WithPage(2).WithMessage("Couldn't generate voice for this page.")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "narration.failed" || got["page"] != float64(2) || got["session_id"] != "s1" {
		t.Errorf("unexpected JSON %s", data)
	}
	if _, ok := got["phase"]; ok {
		t.Errorf("empty phase should be omitted: %s", data)
	}

	// Page zero is still a page.
	data, _ = json.Marshal(New("s1", NarrationReady).WithPage(0))
	if err := json.Unmarshal(data, &got); err != nil || got["page"] != float64(0) {
		t.Errorf("page 0 lost: %s", data)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "storytime.events.v1"}

	if err := p.Publish(context.Background(), New("sess", StoryPhase).WithPhase("writing")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "sess" {
		t.Errorf("Key = %q, want sess", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "story.phase" {
		t.Errorf("Headers = %+v", msg.Headers)
	}
	var e Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Phase != "writing" {
		t.Errorf("Phase = %q", e.Phase)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close err=%v closed=%v", err, w.closed)
	}
}
