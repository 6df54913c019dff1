package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smazurov/camkeeper/internal/events"
)

// Subject prefixes for NATS topics.
const (
	SubjectControlPrefix = "camkeeper.control"
	SubjectEventsPrefix  = "camkeeper.events"
)

// SubjectCommand returns the request/reply subject for a device's commands.
func SubjectCommand(thing string) string {
	return fmt.Sprintf("%s.%s.command", SubjectControlPrefix, thing)
}

// SubjectEvent returns the subject an event type is published on.
func SubjectEvent(thing, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectEventsPrefix, thing, eventType)
}

// EventMessage wraps a bus event for the wire.
type EventMessage struct {
	Thing     string          `json:"thing"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
}

// NewEventMessage encodes ev.
func NewEventMessage(thing string, ev events.Event) (EventMessage, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return EventMessage{}, err
	}
	return EventMessage{
		Thing:     thing,
		Type:      events.Name(ev),
		Timestamp: time.Now().Format(time.RFC3339),
		Event:     body,
	}, nil
}

// Marshal serializes the message to JSON.
func (m EventMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalEvent deserializes an EventMessage from JSON.
func UnmarshalEvent(data []byte) (EventMessage, error) {
	var m EventMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
