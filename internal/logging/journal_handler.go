package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const journalIdentifier = "camkeeper"

// JournalHandler is a slog.Handler that sends logs to systemd journal.
type JournalHandler struct {
	state attrState
}

// NewJournalHandler creates a new journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{state: attrState{level: level}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.state.enabled(level)
}

// Handle sends the log record to systemd journal. The module is sent as
// CAMKEEPER_MODULE so journalctl can filter on it.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := journalPriority(r.Level)

	fields := map[string]string{
		"SYSLOG_IDENTIFIER": journalIdentifier,
	}
	module := h.state.each(r, func(groups []string, a slog.Attr) {
		addJournalField(fields, groups, a)
	})
	fields["CAMKEEPER_MODULE"] = module

	if err := journal.Send(r.Message, priority, fields); err != nil {
		fmt.Fprintf(os.Stderr, "journal send failed: %v\n", err)
		return err
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{state: h.state.withAttrs(attrs)}
}

// WithGroup returns a new handler with a group prefix.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	return &JournalHandler{state: h.state.withGroup(name)}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// addJournalField flattens a into fields under a valid journal field name.
func addJournalField(fields map[string]string, groups []string, a slog.Attr) {
	parts := append(append([]string(nil), groups...), a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addJournalField(fields, parts, ga)
		}
		return
	}

	key := journalFieldName(strings.Join(parts, "_"))
	if key == "" {
		return
	}
	switch v.Kind() {
	case slog.KindInt64:
		fields[key] = strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		fields[key] = strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		fields[key] = strconv.FormatBool(v.Bool())
	case slog.KindTime:
		fields[key] = v.Time().Format(time.RFC3339Nano)
	default:
		fields[key] = v.String()
	}
}

// journalFieldName maps a key onto the journal's field alphabet: upper
// case letters, digits and underscores, not starting with an underscore or
// digit. Keys that would collide with trusted journal fields get a prefix.
func journalFieldName(key string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	name := strings.TrimLeft(sb.String(), "_")
	if name == "" {
		return ""
	}
	switch {
	case name[0] >= '0' && name[0] <= '9',
		name == "MESSAGE", name == "PRIORITY", name == "SYSLOG_IDENTIFIER", name == "CAMKEEPER_MODULE":
		name = "ATTR_" + name
	}
	return name
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
