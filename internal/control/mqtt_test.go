package control

import (
	"context"
	"testing"
)

func TestTopics(t *testing.T) {
	if got := CommandRequestTopic("cam-01"); got != "things/cam-01/command/req" {
		t.Errorf("command req = %s", got)
	}
	if got := CommandResponseTopic("cam-01"); got != "things/cam-01/command/res" {
		t.Errorf("command res = %s", got)
	}
	if got := StatusRequestTopic("cam-01"); got != "things/cam-01/status/req" {
		t.Errorf("status req = %s", got)
	}
	if got := StatusResponseTopic("cam-01"); got != "things/cam-01/status/res" {
		t.Errorf("status res = %s", got)
	}
}

func TestMQTTRespond(t *testing.T) {
	h := &fakeHandler{}
	d, store := newDispatcher(t, h)
	m := NewMQTT(MQTTOptions{Broker: "tcp://127.0.0.1:1"}, d, discardLogger())
	ctx := context.Background()

	topic, resp, ok := m.respond(ctx, inbound{
		topic:   "things/cam-01/command/req",
		payload: []byte(`{"request_id":"r7","command":"SET_FPS","value":12}`),
	})
	if !ok || topic != "things/cam-01/command/res" || !resp.OK() || resp.RequestID != "r7" {
		t.Fatalf("command = %s %+v %v", topic, resp, ok)
	}
	if store.Snapshot().FPS != 12 {
		t.Errorf("fps = %d", store.Snapshot().FPS)
	}

	topic, resp, ok = m.respond(ctx, inbound{topic: "things/cam-01/status/req", payload: []byte(`{"request_id":"s1"}`)})
	if !ok || topic != "things/cam-01/status/res" || resp.RequestID != "s1" || resp.Data == nil {
		t.Errorf("status = %s %+v %v", topic, resp, ok)
	}

	topic, resp, ok = m.respond(ctx, inbound{topic: "things/cam-01/command/req", payload: []byte(`garbage`)})
	if !ok || topic != "things/cam-01/command/res" || resp.OK() {
		t.Errorf("garbage = %s %+v %v", topic, resp, ok)
	}

	if _, _, ok := m.respond(ctx, inbound{topic: "things/other/command/req", payload: []byte(`{}`)}); ok {
		t.Error("answered a request for another thing")
	}
}

func TestMQTTDefaults(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	m := NewMQTT(MQTTOptions{QoS: 7}, d, discardLogger())
	if m.opts.QoS != DefaultQoS || m.opts.ClientID != "camkeeper-cam-01" || cap(m.inbox) != 32 {
		t.Errorf("opts = %+v", m.opts)
	}
}
