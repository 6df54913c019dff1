package led

import (
	"sync"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Manager keeps the indicator LED lit while any segment or manual
// recording file is open. A failed merge blinks the LED until the next
// recording starts.
type Manager struct {
	controller Controller
	bus        *events.Bus
	logger     logging.Logger

	mu      sync.Mutex
	sources map[string]bool
	alert   bool
	unsubs  []func()
}

// NewManager creates a manager driving controller from bus events.
func NewManager(controller Controller, bus *events.Bus, logger logging.Logger) *Manager {
	return &Manager{
		controller: controller,
		bus:        bus,
		logger:     logger,
		sources:    make(map[string]bool),
	}
}

// Start subscribes to recording events and switches the LED off.
func (m *Manager) Start() {
	m.mu.Lock()
	m.unsubs = append(m.unsubs,
		m.bus.Subscribe(m.handleIndicator),
		m.bus.Subscribe(m.handleMergeFailed),
	)
	m.apply()
	m.mu.Unlock()
	m.logger.Info("LED manager started", "leds", m.controller.Available())
}

// Stop unsubscribes and turns the LED off.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
	if err := m.controller.Close(); err != nil {
		m.logger.Warn("Failed to release LED", "error", err)
	}
	m.logger.Info("LED manager stopped")
}

// Recording reports the aggregated indicator state.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording()
}

func (m *Manager) handleIndicator(e events.RecordingIndicatorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[e.Source] = e.Recording
	if e.Recording {
		m.alert = false
	}
	m.logger.Debug("Recording indicator changed", "source", e.Source, "recording", e.Recording)
	m.apply()
}

func (m *Manager) handleMergeFailed(e events.MergeFailedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alert = true
	m.apply()
}

func (m *Manager) recording() bool {
	for _, on := range m.sources {
		if on {
			return true
		}
	}
	return false
}

// apply must be called with mu held.
func (m *Manager) apply() {
	var err error
	switch {
	case m.recording():
		err = m.controller.Set(Indicator, true, PatternSolid)
	case m.alert:
		err = m.controller.Set(Indicator, true, PatternBlink)
	default:
		err = m.controller.Set(Indicator, false, "")
	}
	if err != nil {
		m.logger.Warn("Failed to set recording LED", "error", err)
	}
}
