package led

import (
	"fmt"
	"os"
	"path/filepath"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller using the Linux LED class interface.
type sysfs struct {
	root string
	leds map[string]string // LED name -> sysfs directory name
}

func newSysfs(leds map[string]string) *sysfs {
	return &sysfs{root: sysfsLEDPath, leds: leds}
}

func (s *sysfs) Set(name string, enabled bool, pattern string) error {
	dir, ok := s.leds[name]
	if !ok {
		return fmt.Errorf("LED %q not supported on this board", name)
	}
	ledPath := filepath.Join(s.root, dir)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", name, ledPath, err)
	}

	// the kernel trigger owns the LED unless it is "none"
	trigger := "none"
	if enabled && pattern == PatternBlink {
		trigger = "timer"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "trigger"), []byte(trigger), 0o644); err != nil {
		return fmt.Errorf("set LED trigger: %w", err)
	}
	if trigger != "none" {
		return nil
	}

	brightness := "0"
	if enabled {
		brightness = "1"
	}
	if err := os.WriteFile(filepath.Join(ledPath, "brightness"), []byte(brightness), 0o644); err != nil {
		return fmt.Errorf("set LED brightness: %w", err)
	}
	return nil
}

func (s *sysfs) Available() []string {
	names := make([]string, 0, len(s.leds))
	for name := range s.leds {
		names = append(names, name)
	}
	return names
}

func (s *sysfs) Patterns() []string {
	return []string{PatternSolid, PatternBlink}
}

func (s *sysfs) Close() error {
	var first error
	for name := range s.leds {
		if err := s.Set(name, false, ""); err != nil && first == nil {
			first = err
		}
	}
	return first
}
