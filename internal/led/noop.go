package led

import "github.com/smazurov/camkeeper/internal/logging"

// noop is used when no LED is available.
type noop struct {
	logger logging.Logger
}

func newNoop(logger logging.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(name string, enabled bool, pattern string) error {
	n.logger.Debug("LED control not available (no-op)",
		"led", name,
		"enabled", enabled,
		"pattern", pattern)
	return nil
}

func (n *noop) Available() []string { return []string{} }

func (n *noop) Patterns() []string { return []string{} }

func (n *noop) Close() error { return nil }
