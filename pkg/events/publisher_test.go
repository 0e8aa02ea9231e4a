package events

import (
	"testing"
	"time"
)

func TestEmitReachesSubscriber(t *testing.T) {
	p := NewPublisher("test")

	id, ch := p.Subscribe(8)
	defer p.Unsubscribe(id)

	err := p.Emit(SubtitleAppend, "session-123", SubtitleAppendData{
		SegmentID: "seg-1",
		Text:      "hello world",
		IsFinal:   true,
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case env := <-ch:
		if env.Type != SubtitleAppend {
			t.Errorf("type = %q, want %q", env.Type, SubtitleAppend)
		}
		if env.Source != "test" {
			t.Errorf("source = %q, want %q", env.Source, "test")
		}
		if env.SessionID != "session-123" {
			t.Errorf("session_id = %q, want %q", env.SessionID, "session-123")
		}
		if env.ID == "" {
			t.Error("envelope should carry an id")
		}

		payload, err := Decode[SubtitleAppendData](env)
		if err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload.Text != "hello world" || !payload.IsFinal {
			t.Errorf("payload = %+v, want final %q", payload, "hello world")
		}
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered")
	}
}

func TestEmitDropsWhenSubscriberFull(t *testing.T) {
	p := NewPublisher("test")

	id, ch := p.Subscribe(1)
	defer p.Unsubscribe(id)

	// Second emit overflows the buffer and must not block.
	done := make(chan struct{})
	go func() {
		_ = p.Emit(VadLevel, "", VadLevelData{Confidence: 0.1})
		_ = p.Emit(VadLevel, "", VadLevelData{Confidence: 0.2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}

	if got := len(ch); got != 1 {
		t.Errorf("len(ch) = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewPublisher("test")

	id, ch := p.Subscribe(1)
	p.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	if err := p.Emit(SessionStatus, "", SessionStatusData{Status: "idle"}); err != nil {
		t.Fatalf("Emit() after Unsubscribe error = %v", err)
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []EventType{
		SessionStatus, SessionError,
		SubtitleAppend, SubtitleCleared,
		VadLevel, ModelChanged,
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if et == "" {
			t.Error("empty event type constant")
		}
		if seen[et] {
			t.Errorf("duplicate event type: %q", et)
		}
		seen[et] = true
	}
}
