// Package status samples host health and assembles the device status
// report answered on status requests.
package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/smazurov/camkeeper/internal/logging"
)

// ThermalZone is the SoC temperature on Raspberry Pi class boards.
const ThermalZone = "/sys/class/thermal/thermal_zone0/temp"

// System is one host sample.
type System struct {
	CPUTemperature *float64 `json:"cpu_temperature" doc:"SoC temperature in Celsius, null when unavailable"`
	CPUUsage       float64  `json:"cpu_usage" doc:"CPU usage percent"`
	RAMUsage       float64  `json:"ram_usage" doc:"RAM usage percent"`
	DiskFree       uint64   `json:"disk_free_bytes" doc:"Free bytes on the recordings volume"`
	DiskUsage      float64  `json:"disk_usage" doc:"Used percent of the recordings volume"`
	Uptime         uint64   `json:"uptime_seconds" doc:"Host uptime"`
	SampledAt      string   `json:"sampled_at" doc:"Sample time"`
}

// ReadTemperature reads a sysfs thermal zone in millidegrees.
func ReadTemperature(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return float64(milli) / 1000, nil
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithThermalZone overrides the temperature file.
func WithThermalZone(path string) SamplerOption {
	return func(s *Sampler) { s.thermal = path }
}

// WithTemperatureHook is called with every temperature read, e.g. to
// export it as a metric.
func WithTemperatureHook(fn func(float64)) SamplerOption {
	return func(s *Sampler) { s.onTemp = fn }
}

// Sampler keeps the latest host sample.
type Sampler struct {
	dir      string
	thermal  string
	interval time.Duration
	onTemp   func(float64)
	logger   logging.Logger

	mu     sync.RWMutex
	latest System
}

// NewSampler samples the host and the volume holding dir.
func NewSampler(dir string, logger logging.Logger, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		dir:      dir,
		thermal:  ThermalZone,
		interval: 30 * time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample takes a fresh sample. CPU usage is measured over one second.
// Partial results are returned together with the joined errors.
func (s *Sampler) Sample(ctx context.Context) (System, error) {
	var (
		out  = System{SampledAt: time.Now().Format(time.RFC3339)}
		errs []error
	)

	if t, err := ReadTemperature(s.thermal); err == nil {
		out.CPUTemperature = &t
		if s.onTemp != nil {
			s.onTemp(t)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	if pct, err := cpu.PercentWithContext(ctx, time.Second, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(pct) > 0 {
		out.CPUUsage = round1(pct[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		out.RAMUsage = round1(vm.UsedPercent)
	}

	if s.dir != "" {
		if du, err := disk.UsageWithContext(ctx, s.dir); err != nil {
			errs = append(errs, fmt.Errorf("disk %s: %w", s.dir, err))
		} else {
			out.DiskFree = du.Free
			out.DiskUsage = round1(du.UsedPercent)
		}
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		out.Uptime = up
	}

	s.mu.Lock()
	s.latest = out
	s.mu.Unlock()
	return out, errors.Join(errs...)
}

// Latest returns the last sample without blocking.
func (s *Sampler) Latest() System {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run samples every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sample(ctx); err != nil && ctx.Err() == nil {
			s.logger.Debug("Host sample incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
