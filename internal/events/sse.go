package events

import (
	"sync/atomic"

	"github.com/kelindar/event"
)

// Stream delivers bus events to one slow consumer, such as an SSE client,
// through a bounded channel. Publishing never blocks: events that arrive
// while the channel is full are dropped and counted.
type Stream[T Event] struct {
	ch      chan T
	dropped atomic.Uint64
	unsub   func()
}

func newStream[T Event](size int) *Stream[T] {
	if size < 1 {
		size = 1
	}
	return &Stream[T]{ch: make(chan T, size)}
}

func (s *Stream[T]) offer(e T) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// C returns the receive side of the stream.
func (s *Stream[T]) C() <-chan T { return s.ch }

// Dropped is the number of events lost because the consumer fell behind.
func (s *Stream[T]) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes from the bus. The channel is left open so a pending
// receive never sees a zero event.
func (s *Stream[T]) Close() { s.unsub() }

// StreamOf subscribes a stream to events of type T only.
func StreamOf[T Event](bus *Bus, size int) *Stream[T] {
	s := newStream[T](size)
	s.unsub = event.Subscribe(bus.dispatcher, s.offer)
	return s
}

// StreamAll subscribes a stream to every event except log entries.
func StreamAll(bus *Bus, size int) *Stream[Event] {
	s := newStream[Event](size)
	s.unsub = bus.SubscribeAll(s.offer)
	return s
}
