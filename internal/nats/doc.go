// Package nats embeds a NATS server for local control and event fan-out.
//
// # Architecture
//
//   - Server: embedded NATS server running inside camkeeper
//   - Responder: answers control requests with the shared command dispatcher
//   - Bridge: republishes every bus event on a per-type subject
//   - Client: request/reply client used by the CLI
//
// # Subject Hierarchy
//
//	camkeeper.control.{thing}.command    # command request/reply
//	camkeeper.events.{thing}.{type}      # bus events, e.g. session-started
//
// Core NATS only, no JetStream. Event publishing is fire-and-forget; when
// the server is unreachable the bridge drops events and the recorder is
// unaffected.
//
// # Debugging with nats CLI
//
// Watch everything a device emits:
//
//	nats sub "camkeeper.events.cam-01.>"
//
// Only merge outcomes:
//
//	nats sub "camkeeper.events.*.merge-*"
//
// Send a command:
//
//	nats req "camkeeper.control.cam-01.command" '{"request_id":"dbg","command":"set_gamma","value":1.4}'
//
// Ask for status:
//
//	nats req "camkeeper.control.cam-01.command" '{"command":"status"}' | jq .
//
// # Message Formats
//
// Command requests and replies use the control envelopes:
//
//	{"request_id": "dbg", "command": "set_gamma", "value": 1.4}
//	{"request_id": "dbg", "thing_name": "cam-01", "command": "set_gamma", "result": "success", ...}
//
// EventMessage (camkeeper.events.{thing}.{type}):
//
//	{
//	  "thing": "cam-01",
//	  "type": "segment-closed",
//	  "timestamp": "2026-01-05T09:41:00Z",
//	  "event": {"session_id": "20260105_094000", "index": 0, ...}
//	}
package nats
