package led

import (
	"os"
	"strings"

	"github.com/smazurov/camkeeper/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// Options selects the indicator hardware. GPIOPin wins over SysfsName;
// with neither set the board's activity LED is used when known.
type Options struct {
	GPIOPin   string
	SysfsName string
}

// New returns a controller exposing the Indicator LED. It falls back to a
// no-op controller when no LED can be driven.
func New(opts Options, logger logging.Logger) Controller {
	if opts.GPIOPin != "" {
		ctrl, err := newGPIO(map[string]string{Indicator: opts.GPIOPin})
		if err == nil {
			logger.Info("Using GPIO recording LED", "pin", opts.GPIOPin)
			return ctrl
		}
		logger.Warn("GPIO LED unavailable", "pin", opts.GPIOPin, "error", err)
	}

	if opts.SysfsName != "" {
		logger.Info("Using sysfs recording LED", "led", opts.SysfsName)
		return newSysfs(map[string]string{Indicator: opts.SysfsName})
	}

	model := detectBoard()
	if name := boardLED(model); name != "" {
		logger.Info("Using board LED for recording indicator", "board_model", model, "led", name)
		return newSysfs(map[string]string{Indicator: name})
	}

	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger)
}

// boardLED maps a device tree model to its user-controllable LED.
func boardLED(model string) string {
	switch {
	case strings.Contains(model, "Raspberry Pi"):
		return "ACT"
	case strings.Contains(model, "NanoPC-T6"):
		return "usr_led"
	case strings.Contains(model, "Orange Pi"):
		return "green_led"
	default:
		return ""
	}
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	// device tree strings are NUL terminated
	return strings.TrimRight(string(data), "\x00")
}
