package led

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

const blinkInterval = 500 * time.Millisecond

// gpioLED drives LEDs wired to GPIO output pins.
type gpioLED struct {
	mu    sync.Mutex
	pins  map[string]gpio.PinOut
	blink map[string]chan struct{}
}

// newGPIO initializes the host drivers and resolves pins, a map from LED
// name to a pin name such as "GPIO17".
func newGPIO(pins map[string]string) (*gpioLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}
	g := &gpioLED{
		pins:  make(map[string]gpio.PinOut, len(pins)),
		blink: make(map[string]chan struct{}),
	}
	for name, pinName := range pins {
		pin := gpioreg.ByName(pinName)
		if pin == nil {
			return nil, fmt.Errorf("gpio pin %q not found", pinName)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("configure %s: %w", pinName, err)
		}
		g.pins[name] = pin
	}
	return g, nil
}

func (g *gpioLED) Set(name string, enabled bool, pattern string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pin, ok := g.pins[name]
	if !ok {
		return fmt.Errorf("LED %q not configured", name)
	}
	if stop, running := g.blink[name]; running {
		close(stop)
		delete(g.blink, name)
	}

	if enabled && pattern == PatternBlink {
		stop := make(chan struct{})
		g.blink[name] = stop
		go toggle(pin, stop)
		return nil
	}
	return pin.Out(gpio.Level(enabled))
}

func toggle(pin gpio.PinOut, stop <-chan struct{}) {
	ticker := time.NewTicker(blinkInterval)
	defer ticker.Stop()
	level := gpio.High
	for {
		_ = pin.Out(level)
		select {
		case <-stop:
			return
		case <-ticker.C:
			level = !level
		}
	}
}

func (g *gpioLED) Available() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.pins))
	for name := range g.pins {
		names = append(names, name)
	}
	return names
}

func (g *gpioLED) Patterns() []string {
	return []string{PatternSolid, PatternBlink}
}

func (g *gpioLED) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, stop := range g.blink {
		close(stop)
		delete(g.blink, name)
	}
	var first error
	for _, pin := range g.pins {
		if err := pin.Out(gpio.Low); err != nil && first == nil {
			first = err
		}
	}
	return first
}
