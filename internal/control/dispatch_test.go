package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/smazurov/camkeeper/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandler struct {
	calls   []string
	err     error
	session string
}

func (h *fakeHandler) record(call string) error {
	h.calls = append(h.calls, call)
	return h.err
}

func (h *fakeHandler) StartSession(context.Context) (string, error) {
	return h.session, h.record("start")
}

func (h *fakeHandler) StopSession(context.Context) (string, error) {
	return h.session, h.record("stop")
}

func (h *fakeHandler) StartManual(context.Context) (string, error) {
	return "/rec/manual_20260105_100000.mp4", h.record("manual-start")
}

func (h *fakeHandler) StopManual(context.Context) (string, error) {
	return "/rec/manual_20260105_100000.mp4", h.record("manual-stop")
}

func (h *fakeHandler) EnableHLS(context.Context) error { return h.record("hls") }

func (h *fakeHandler) Status(context.Context) any {
	h.calls = append(h.calls, "status")
	return map[string]any{"state": "idle"}
}

func (h *fakeHandler) Restart(context.Context) error { return h.record("restart") }

func newDispatcher(t *testing.T, h Handler) (*Dispatcher, *config.Store) {
	t.Helper()
	store, err := config.NewStore("", discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewDispatcher("cam-01", store, h, discardLogger()), store
}

func TestDispatchSettingsCommand(t *testing.T) {
	d, store := newDispatcher(t, &fakeHandler{})
	req := mustParse(t, `{"request_id":"r1","command":"set_gamma","value":1.5}`)

	resp := d.Dispatch(context.Background(), req)
	if !resp.OK() || resp.RequestID != "r1" || resp.ThingName != "cam-01" || resp.Command != "set_gamma" {
		t.Fatalf("response = %+v", resp)
	}
	if got := store.Snapshot().Gamma; got != 1.5 {
		t.Errorf("gamma = %g", got)
	}
	view, ok := resp.Data.(config.View)
	if !ok || view.Gamma != 1.5 {
		t.Errorf("data = %#v", resp.Data)
	}

	// the same update again is accepted and changes nothing
	version := store.Snapshot().Version
	resp = d.Dispatch(context.Background(), req)
	if !resp.OK() || resp.Message != "settings unchanged" || store.Snapshot().Version != version {
		t.Errorf("repeat = %+v, version %d -> %d", resp, version, store.Snapshot().Version)
	}
}

func TestDispatchRejectsInvalidSettings(t *testing.T) {
	d, store := newDispatcher(t, &fakeHandler{})
	before := store.Snapshot()

	for _, payload := range []string{
		`{"command":"set_gamma","value":11}`,
		`{"command":"set_fps","value":0}`,
		`{"command":"set_time_zone","value":"Mars/Olympus"}`,
		`{"command":"set_schedule_days","value":""}`,
	} {
		resp := d.Dispatch(context.Background(), mustParse(t, payload))
		if resp.OK() {
			t.Errorf("%s accepted", payload)
		}
	}
	if store.Snapshot().Version != before.Version {
		t.Error("rejected updates changed the store")
	}
}

func TestDispatchActions(t *testing.T) {
	h := &fakeHandler{session: "20260105_094000"}
	d, _ := newDispatcher(t, h)

	for _, cmd := range []string{"camera_on", "camera_off", "record_on", "record_off", "hls_on", "hls_off", "status", "restart"} {
		resp := d.Dispatch(context.Background(), Request{Command: cmd})
		if !resp.OK() {
			t.Errorf("%s: %+v", cmd, resp)
		}
	}
	want := "start,stop,manual-start,manual-stop,hls,status,restart"
	if got := strings.Join(h.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestDispatchStartReturnsSessionID(t *testing.T) {
	d, _ := newDispatcher(t, &fakeHandler{session: "20260105_094000"})
	resp := d.Dispatch(context.Background(), Request{RequestID: "a", Command: "session_start"})
	data, _ := json.Marshal(resp)
	if !strings.Contains(string(data), `"session_id":"20260105_094000"`) {
		t.Errorf("response = %s", data)
	}
}

func TestDispatchErrors(t *testing.T) {
	h := &fakeHandler{err: errors.New("no frames")}
	d, _ := newDispatcher(t, h)

	resp := d.Dispatch(context.Background(), Request{Command: "warp_speed"})
	if resp.OK() || !strings.Contains(resp.Message, CodeUnknownCommand) {
		t.Errorf("unknown command = %+v", resp)
	}
	resp = d.Dispatch(context.Background(), Request{Command: "session_start"})
	if resp.OK() || !strings.Contains(resp.Message, "no frames") {
		t.Errorf("failing handler = %+v", resp)
	}

	bare := NewDispatcher("cam-01", mustStore(t), nil, discardLogger())
	if resp := bare.Dispatch(context.Background(), Request{Command: "record_on"}); resp.OK() {
		t.Error("action succeeded without a handler")
	}
	if resp := bare.Dispatch(context.Background(), Request{Command: "status"}); !resp.OK() {
		t.Errorf("status without handler = %+v", resp)
	}
}

func mustStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.NewStore("", discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
