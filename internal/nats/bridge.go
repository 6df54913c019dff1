package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Bridge republishes bus events on NATS.
type Bridge struct {
	url    string
	thing  string
	bus    *events.Bus
	logger logging.Logger

	mu    sync.Mutex
	conn  *nats.Conn
	unsub func()
}

// NewBridge creates a bus-to-NATS bridge for thing.
func NewBridge(url, thing string, bus *events.Bus, logger logging.Logger) *Bridge {
	return &Bridge{url: url, thing: thing, bus: bus, logger: logger}
}

// Start connects and begins forwarding.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("camkeeper-events-"+b.thing),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn
	b.unsub = b.bus.SubscribeAll(b.forward)
	b.logger.Info("NATS bridge forwarding events", "subject", SubjectEvent(b.thing, ">"))
	return nil
}

func (b *Bridge) forward(ev events.Event) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return
	}

	msg, err := NewEventMessage(b.thing, ev)
	if err != nil {
		b.logger.Warn("Failed to encode event", "type", events.Name(ev), "error", err)
		return
	}
	data, err := msg.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal event", "type", msg.Type, "error", err)
		return
	}
	if err := conn.Publish(SubjectEvent(b.thing, msg.Type), data); err != nil {
		b.logger.Debug("Failed to publish event", "type", msg.Type, "error", err)
	}
}

// Stop detaches from the bus and closes the connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.logger.Info("NATS bridge stopped")
}

// IsConnected reports whether the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
