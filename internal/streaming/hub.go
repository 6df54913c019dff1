package streaming

import (
	"errors"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"

	"github.com/smazurov/camkeeper/internal/logging"
)

// ErrStreamNotFound is returned when a requested stream doesn't exist.
var ErrStreamNotFound = errors.New("stream not found")

// Hub routes RTSP viewers (DESCRIBE) to the encoder publishing the same path
// (ANNOUNCE). The live sink is the only producer in practice.
type Hub struct {
	mu        sync.RWMutex
	producers map[string]*rtsp.Conn
	viewers   map[string]int
	logger    logging.Logger
	onChange  func(path string, live bool)
}

// NewHub creates a new stream hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		producers: make(map[string]*rtsp.Conn),
		viewers:   make(map[string]int),
		logger:    logger,
	}
}

// OnProducerChange registers a callback for producers appearing and leaving.
// It runs without the hub lock held.
func (h *Hub) OnProducerChange(fn func(path string, live bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// AddProducer registers a publishing connection, replacing any previous one.
func (h *Hub) AddProducer(path string, conn *rtsp.Conn) {
	h.mu.Lock()
	if existing, ok := h.producers[path]; ok && existing != conn {
		h.logger.Info("Replacing existing producer", "path", path)
		_ = existing.Stop()
	}
	h.producers[path] = conn
	cb := h.onChange
	h.mu.Unlock()

	if cb != nil {
		cb(path, true)
	}
}

// RemoveProducer drops the producer of path if it is still conn.
func (h *Hub) RemoveProducer(path string, conn *rtsp.Conn) {
	h.mu.Lock()
	current, ok := h.producers[path]
	if !ok || (conn != nil && current != conn) {
		h.mu.Unlock()
		return
	}
	_ = current.Stop()
	delete(h.producers, path)
	cb := h.onChange
	h.mu.Unlock()

	h.logger.Info("Producer removed", "path", path)
	if cb != nil {
		cb(path, false)
	}
}

// HasProducer checks if a producer exists for path.
func (h *Hub) HasProducer(path string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.producers[path]
	return ok
}

// Viewers returns the number of connected viewers of path.
func (h *Hub) Viewers(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.viewers[path]
}

// WireConsumer attaches every producer track to a viewer.
func (h *Hub) WireConsumer(path string, cons core.Consumer) error {
	h.mu.Lock()
	prod := h.producers[path]
	if prod == nil {
		h.mu.Unlock()
		return ErrStreamNotFound
	}
	h.viewers[path]++
	h.mu.Unlock()

	for _, receiver := range prod.Receivers {
		media := &core.Media{
			Kind:      core.GetKind(receiver.Codec.Name),
			Direction: core.DirectionRecvonly,
			Codecs:    []*core.Codec{receiver.Codec},
		}
		if err := cons.AddTrack(media, receiver.Codec, receiver); err != nil {
			h.logger.Warn("Failed to add track", "path", path, "error", err)
		}
	}
	return nil
}

// ConsumerGone records a viewer disconnect.
func (h *Hub) ConsumerGone(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.viewers[path] > 0 {
		h.viewers[path]--
	}
}

// Stop closes all producers.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for path, conn := range h.producers {
		_ = conn.Stop()
		delete(h.producers, path)
	}
	h.logger.Info("Hub stopped")
}
