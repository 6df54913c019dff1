package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// LogCallback is called when a new log entry is written.
// Used to publish log events without creating import cycles.
type LogCallback func(entry LogEntry)

// BufferHandler is a slog.Handler that writes to the package ring buffer
// and calls the registered callback for each log entry. Both are looked up
// on every record so handlers created before Initialize still deliver.
type BufferHandler struct {
	state attrState
}

// NewBufferHandler creates a buffer handler gated by level.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{state: attrState{level: level}}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.state.enabled(level)
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	module := h.state.each(r, func(groups []string, a slog.Attr) {
		flattenAttr(attrs, groups, a)
	})

	entry := LogEntry{
		Timestamp:  r.Time,
		Level:      levelName(r.Level),
		Module:     module,
		Message:    r.Message,
		Attributes: attrs,
	}
	if len(entry.Attributes) == 0 {
		entry.Attributes = nil
	}

	buffer, callback := currentSink()
	if buffer != nil {
		buffer.Write(entry)
	}
	if callback != nil {
		callback(entry)
	}
	return nil
}

// flattenAttr stores a under a dotted key so session.id and merge.inputs
// stay addressable in the JSON log stream.
func flattenAttr(attrs map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		nested := append(append([]string(nil), groups...), a.Key)
		for _, ga := range v.Group() {
			flattenAttr(attrs, nested, ga)
		}
	case slog.KindTime:
		attrs[key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = v.Any()
		}
	default:
		attrs[key] = v.Any()
	}
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferHandler{state: h.state.withAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	return &BufferHandler{state: h.state.withGroup(name)}
}
