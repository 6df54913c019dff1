package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(SessionStartedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the static type, so each concrete event
	// needs its own generic instantiation.
	switch e := ev.(type) {
	case SessionStartedEvent:
		event.Publish(b.dispatcher, e)
	case SessionClosedEvent:
		event.Publish(b.dispatcher, e)
	case SegmentOpenedEvent:
		event.Publish(b.dispatcher, e)
	case SegmentClosedEvent:
		event.Publish(b.dispatcher, e)
	case RecordingIndicatorEvent:
		event.Publish(b.dispatcher, e)
	case ManualRecordingEvent:
		event.Publish(b.dispatcher, e)
	case MotionStateEvent:
		event.Publish(b.dispatcher, e)
	case SinkStateEvent:
		event.Publish(b.dispatcher, e)
	case MergeCompletedEvent:
		event.Publish(b.dispatcher, e)
	case MergeFailedEvent:
		event.Publish(b.dispatcher, e)
	case SettingsChangedEvent:
		event.Publish(b.dispatcher, e)
	case ParamChangedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e SegmentOpenedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SegmentOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SegmentClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecordingIndicatorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ManualRecordingEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MotionStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SinkStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MergeCompletedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MergeFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SettingsChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ParamChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeAll delivers every domain event except log entries to handler.
// Used by bridges that forward the whole stream (NATS, SSE).
func (b *Bus) SubscribeAll(handler func(Event)) func() {
	unsubs := []func(){
		event.Subscribe(b.dispatcher, func(e SessionStartedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e SessionClosedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e SegmentOpenedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e SegmentClosedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e RecordingIndicatorEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e ManualRecordingEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e MotionStateEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e SinkStateEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e MergeCompletedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e MergeFailedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e SettingsChangedEvent) { handler(e) }),
		event.Subscribe(b.dispatcher, func(e ParamChangedEvent) { handler(e) }),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
