package status

import "sync"

// Links reports the connection state of the control transports. Probes are
// registered after the transports are built and read on every report.
type Links struct {
	mu     sync.RWMutex
	probes map[string]func() bool
}

// Add registers a probe under name, replacing any earlier one.
func (l *Links) Add(name string, probe func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.probes == nil {
		l.probes = make(map[string]func() bool)
	}
	l.probes[name] = probe
}

// Snapshot returns the current state of every probe, or nil when none are
// registered.
func (l *Links) Snapshot() map[string]bool {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.probes) == 0 {
		return nil
	}
	out := make(map[string]bool, len(l.probes))
	for name, probe := range l.probes {
		out[name] = probe()
	}
	return out
}
