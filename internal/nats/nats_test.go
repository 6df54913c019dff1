package nats

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(ServerOptions{Port: RandomPort, Name: "test"}, testLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(ServerOptions{Port: RandomPort}, testLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !s.IsRunning() || s.ClientURL() == "" {
		t.Error("server should be running")
	}
	s.Stop()
	if s.IsRunning() {
		t.Error("server should not be running after Stop()")
	}
}

func TestResponderRoundTrip(t *testing.T) {
	s := startServer(t)
	store, err := config.NewStore("", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r := NewResponder(s.ClientURL(), control.NewDispatcher("cam-01", store, nil, testLogger()), testLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("responder Start() error: %v", err)
	}
	defer r.Stop()

	c, err := Dial(s.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Send(ctx, "cam-01", control.Request{
		RequestID: "n1",
		Command:   "set_bitrate",
		Value:     json.RawMessage(`1500000`),
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !resp.OK() || resp.RequestID != "n1" || resp.ThingName != "cam-01" {
		t.Errorf("response = %+v", resp)
	}
	if store.Snapshot().Bitrate != 1500000 {
		t.Errorf("bitrate = %d", store.Snapshot().Bitrate)
	}

	resp, err = c.Send(ctx, "cam-01", control.Request{Command: "nope"})
	if err != nil || resp.OK() {
		t.Errorf("unknown command = %+v, %v", resp, err)
	}
}

func TestResponderUnavailableServer(t *testing.T) {
	store, _ := config.NewStore("", testLogger())
	defer store.Close()
	r := NewResponder("nats://127.0.0.1:1", control.NewDispatcher("cam-01", store, nil, testLogger()), testLogger())
	if err := r.Start(context.Background()); err == nil {
		t.Error("Start() should fail without a server")
	}
	if r.IsConnected() {
		t.Error("responder reports a connection")
	}
	r.Stop()
}

func TestBridgeForwardsEvents(t *testing.T) {
	s := startServer(t)
	bus := events.New()
	b := NewBridge(s.ClientURL(), "cam-01", bus, testLogger())
	if err := b.Start(); err != nil {
		t.Fatalf("bridge Start() error: %v", err)
	}
	defer b.Stop()

	c, err := Dial(s.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	got := make(chan EventMessage, 4)
	unsub, err := c.Subscribe("cam-01", func(m EventMessage) { got <- m })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()
	// make sure the subscription reached the server before publishing
	if err := c.conn.Flush(); err != nil {
		t.Fatal(err)
	}

	bus.Publish(events.LogEntryEvent{Message: "noise"})
	bus.Publish(events.SessionStartedEvent{SessionID: "20260105_094000", Policy: "schedule"})

	select {
	case m := <-got:
		if m.Type != "session-started" || m.Thing != "cam-01" {
			t.Errorf("message = %+v", m)
		}
		var ev events.SessionStartedEvent
		if err := json.Unmarshal(m.Event, &ev); err != nil || ev.SessionID != "20260105_094000" {
			t.Errorf("event = %s (%v)", m.Event, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}
}

func TestSubjects(t *testing.T) {
	if got := SubjectCommand("cam-01"); got != "camkeeper.control.cam-01.command" {
		t.Errorf("command subject = %s", got)
	}
	if got := SubjectEvent("cam-01", "merge-failed"); got != "camkeeper.events.cam-01.merge-failed" {
		t.Errorf("event subject = %s", got)
	}
}
