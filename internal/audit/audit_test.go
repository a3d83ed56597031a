package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.got <- e
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(10)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 10}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Type: "login_success"})
	}
	d.Close()
	if n := len(sink.Events()); n != 5 {
		t.Fatalf("delivered %d events, want 5", n)
	}
	d.Emit(context.Background(), Event{Type: "after_close"})
	if n := len(sink.Events()); n != 5 {
		t.Fatalf("event accepted after Close")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	close(sink.release)
	d.Close()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type panickingSink struct{}

func (panickingSink) Emit(context.Context, Event) { panic("sink bug") }

func TestDispatcherCountsAndLogsSinkErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Logger: zap.New(core)}, NewJSONWriterSink(failingWriter{}))

	d.Emit(context.Background(), Event{Type: "login_failure", UserID: "u1"})
	d.Emit(context.Background(), Event{Type: "login_success", UserID: "u2"})
	d.Close()

	if got := d.Failed(); got != 2 {
		t.Fatalf("Failed() = %d, want 2", got)
	}
	entries := logs.FilterMessage("audit sink failed").All()
	if len(entries) != 2 {
		t.Fatalf("logged %d failures, want 2", len(entries))
	}
	if entries[0].ContextMap()["error"] != "disk full" {
		t.Fatalf("error field = %v", entries[0].ContextMap()["error"])
	}
	if d.Dropped() != 0 {
		t.Fatalf("sink failures must not count as drops")
	}
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panickingSink{})
	d.Emit(context.Background(), Event{Type: "a"})
	d.Emit(context.Background(), Event{Type: "b"})
	d.Close()
	if got := d.Failed(); got != 2 {
		t.Fatalf("Failed() = %d, want 2", got)
	}
}

func TestDispatcherTimesOutStuckSink(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DeliveryTimeout: 10 * time.Millisecond}, sink)
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Type: "x"})
	}
	d.Close()
	if len(sink.Events()) != 1 {
		t.Fatalf("channel holds %d events, want 1", len(sink.Events()))
	}
	if got := d.Failed(); got != 2 {
		t.Fatalf("Failed() = %d, want 2", got)
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 || d.Failed() != 0 {
		t.Fatal("nil dispatcher counters must be 0")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Type: "user_created", UserID: "u1", Success: true, Timestamp: time.Unix(0, 0).UTC()})
	s.Emit(context.Background(), Event{Type: "login_failure", Error: "invalid credentials"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Type != "user_created" || e.UserID != "u1" || !e.Success {
		t.Fatalf("event = %+v", e)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewZapSink(zap.New(core))
	s.Emit(context.Background(), Event{Type: "session_created", UserID: "u1", Success: true})
	s.Emit(context.Background(), Event{Type: "registry_denied", ActorID: "a1", Error: "unauthorized", Metadata: map[string]string{"op": "create_role"}})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("entries = %d, want 2", len(all))
	}
	if all[0].Level != zapcore.InfoLevel || all[1].Level != zapcore.WarnLevel {
		t.Fatalf("levels = %v, %v", all[0].Level, all[1].Level)
	}
	if got := all[1].ContextMap()["meta.op"]; got != "create_role" {
		t.Fatalf("meta.op = %v", got)
	}
}
