package logging

import (
	"log/slog"
	"slices"
)

// attrState is the WithAttrs/WithGroup state shared by the buffer and
// journal handlers. Attrs added through WithAttrs carry the groups that were
// open at the time they were added.
type attrState struct {
	level  slog.Leveler
	attrs  []scopedAttr
	groups []string
}

type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

func (s attrState) enabled(level slog.Level) bool {
	return level >= s.level.Level()
}

func (s attrState) withAttrs(attrs []slog.Attr) attrState {
	next := s
	next.attrs = slices.Clip(s.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, scopedAttr{groups: s.groups, attr: a})
	}
	return next
}

func (s attrState) withGroup(name string) attrState {
	if name == "" {
		return s
	}
	next := s
	next.groups = append(slices.Clip(s.groups), name)
	return next
}

// each visits handler attrs then record attrs with their group path. The
// module attr is reported separately and never visited.
func (s attrState) each(r slog.Record, fn func(groups []string, a slog.Attr)) (module string) {
	module = "app"
	visit := func(groups []string, a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		if a.Key == "module" && len(groups) == 0 {
			module = a.Value.String()
			return
		}
		fn(groups, a)
	}
	for _, sa := range s.attrs {
		visit(sa.groups, sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		visit(s.groups, a)
		return true
	})
	return module
}

// levelName converts slog.Level to a lowercase string.
func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
