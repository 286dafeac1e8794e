package eventbus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeSub struct {
	id     uint64
	frames [][]byte
	full   bool
}

func (f *fakeSub) ID() uint64 { return f.id }

func (f *fakeSub) Deliver(frame []byte) bool {
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func mustPattern(t *testing.T, s string) Pattern {
	t.Helper()
	p, err := ParsePattern(s)
	if err != nil {
		t.Fatalf("ParsePattern(%q): %v", s, err)
	}
	return p
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"task.*", "task.updated", true},
		{"task.*", "task.a.b", true},
		{"task.*", "task", false},
		{"task.*", "plan.updated", false},
		{"task.*", "tasks.updated", false},
		{"task.updated", "task.updated", true},
		{"task.updated", "task.updated.more", false},
		{"*", "anything.at.all", true},
		{"*", "x", true},
		{"a.b.*", "a.b.c", true},
		{"a.b.*", "a.bc.d", false},
	}
	for _, tt := range tests {
		p := mustPattern(t, tt.pattern)
		if got := p.Match(tt.topic); got != tt.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestParsePatternRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", ".*", "task*", "*.task", "a..b", "task.", "a.*.b"} {
		if _, err := ParsePattern(s); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ParsePattern(%q) error = %v, want ErrInvalidTopic", s, err)
		}
	}
}

func TestPatternStringRoundTrip(t *testing.T) {
	for _, s := range []string{"*", "task.*", "task.updated"} {
		if got := mustPattern(t, s).String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestPublishDeliversToMatching(t *testing.T) {
	b := New(nil)
	s1 := &fakeSub{id: 1}
	s2 := &fakeSub{id: 2}
	b.Subscribe(s1, mustPattern(t, "task.*"))
	b.Subscribe(s1, mustPattern(t, "*")) // overlapping patterns, one delivery
	b.Subscribe(s2, mustPattern(t, "plan.updated"))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err := b.Publish("task.updated", json.RawMessage(`{"id":42}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(s1.frames) != 1 || len(s2.frames) != 0 {
		t.Fatalf("delivered=%d s1=%d s2=%d", n, len(s1.frames), len(s2.frames))
	}

	var env struct {
		Event struct {
			Topic     string          `json:"topic"`
			Payload   json.RawMessage `json:"payload"`
			EmittedAt time.Time       `json:"emitted_at"`
		} `json:"event"`
	}
	if err := json.Unmarshal(s1.frames[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Event.Topic != "task.updated" || string(env.Event.Payload) != `{"id":42}` || !env.Event.EmittedAt.Equal(now) {
		t.Errorf("pushed event = %+v", env.Event)
	}
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	b := New(nil)
	full := &fakeSub{id: 1, full: true}
	ok := &fakeSub{id: 2}
	b.Subscribe(full, mustPattern(t, "*"))
	b.Subscribe(ok, mustPattern(t, "*"))

	n, err := b.Publish("x", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(ok.frames) != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
}

func TestUnsubscribeAndRemoveConnection(t *testing.T) {
	b := New(nil)
	s := &fakeSub{id: 7}
	b.Subscribe(s, mustPattern(t, "a.*"))
	b.Subscribe(s, mustPattern(t, "b"))
	if b.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", b.Count())
	}

	if !b.Unsubscribe(7, mustPattern(t, "a.*")) {
		t.Error("unsubscribe of held pattern returned false")
	}
	if b.Unsubscribe(7, mustPattern(t, "a.*")) {
		t.Error("second unsubscribe returned true")
	}
	if got := b.Patterns(7); len(got) != 1 || got[0] != "b" {
		t.Errorf("Patterns() = %v", got)
	}

	b.RemoveConnection(7)
	if b.Count() != 0 {
		t.Errorf("Count() = %d after RemoveConnection", b.Count())
	}
	if n, _ := b.Publish("b", nil, time.Now()); n != 0 {
		t.Errorf("removed connection still received %d events", n)
	}
}
