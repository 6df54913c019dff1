package status

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestReadTemperature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(path, []byte("48312\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadTemperature(path)
	if err != nil || got != 48.312 {
		t.Errorf("ReadTemperature() = %v, %v", got, err)
	}

	os.WriteFile(path, []byte("hot"), 0o644)
	if _, err := ReadTemperature(path); err == nil {
		t.Error("garbage accepted")
	}
}

func TestSampleWithoutThermalZone(t *testing.T) {
	dir := t.TempDir()
	var hooked []float64
	s := NewSampler(dir, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithThermalZone(filepath.Join(dir, "missing")),
		WithTemperatureHook(func(c float64) { hooked = append(hooked, c) }))

	got, _ := s.Sample(context.Background())
	if got.CPUTemperature != nil || len(hooked) != 0 {
		t.Errorf("temperature = %v, want none", got.CPUTemperature)
	}
	if got.SampledAt == "" || s.Latest().SampledAt != got.SampledAt {
		t.Errorf("latest = %+v", s.Latest())
	}
}

func TestSampleReadsTemperature(t *testing.T) {
	dir := t.TempDir()
	zone := filepath.Join(dir, "temp")
	os.WriteFile(zone, []byte("51000"), 0o644)
	var hooked float64
	s := NewSampler("", slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithThermalZone(zone), WithTemperatureHook(func(c float64) { hooked = c }))

	got, _ := s.Sample(context.Background())
	if got.CPUTemperature == nil || *got.CPUTemperature != 51 || hooked != 51 {
		t.Errorf("temperature = %v, hook %v", got.CPUTemperature, hooked)
	}
}
