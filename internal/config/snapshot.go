package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// snapshotFile is the on-disk form of Settings.
type snapshotFile struct {
	Policy           string    `toml:"camera_mode"`
	ColorMode        string    `toml:"color_mode"`
	WhiteBalance     string    `toml:"wb"`
	Frame            string    `toml:"frame"`
	FPS              int       `toml:"fps"`
	Gamma            float64   `toml:"gamma"`
	Bitrate          int       `toml:"bitrate"`
	ROI              []int     `toml:"roi"`
	ScheduleTime     string    `toml:"schedule_time"`
	ScheduleDays     []string  `toml:"schedule_days"`
	ScheduleDuration int       `toml:"schedule_duration_sec"`
	SegmentLength    int       `toml:"segment_length_sec"`
	MotionTime       string    `toml:"motion_time"`
	MotionDays       []string  `toml:"motion_days"`
	IdleTimeout      string    `toml:"idle_timeout"`
	TimeZone         string    `toml:"time_zone"`
	UpdatedAt        time.Time `toml:"updated_at"`
}

func toSnapshot(s Settings) snapshotFile {
	return snapshotFile{
		Policy:           string(s.Policy),
		ColorMode:        string(s.ColorMode),
		WhiteBalance:     string(s.WhiteBalance),
		Frame:            s.Frame.String(),
		FPS:              s.FPS,
		Gamma:            s.Gamma,
		Bitrate:          s.Bitrate,
		ROI:              []int{s.ROI.X, s.ROI.Y, s.ROI.W, s.ROI.H},
		ScheduleTime:     s.Schedule.At.String(),
		ScheduleDays:     s.Schedule.Days.Names(),
		ScheduleDuration: int(s.ScheduleDuration / time.Second),
		SegmentLength:    int(s.SegmentLength / time.Second),
		MotionTime:       s.Checkpoint.At.String(),
		MotionDays:       s.Checkpoint.Days.Names(),
		IdleTimeout:      s.IdleTimeout.String(),
		TimeZone:         s.TimeZone,
		UpdatedAt:        s.UpdatedAt,
	}
}

// fieldPatches converts each present field of the file into its own patch
// so one bad field cannot discard the rest.
func (f snapshotFile) fieldPatches() ([]Patch, []error) {
	var patches []Patch
	var errs []error
	add := func(p Patch, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		patches = append(patches, p)
	}

	if f.Policy != "" {
		v, err := ParsePolicy(f.Policy)
		add(Patch{Policy: &v}, err)
	}
	if f.ColorMode != "" {
		v, err := ParseColorMode(f.ColorMode)
		add(Patch{ColorMode: &v}, err)
	}
	if f.WhiteBalance != "" {
		v, err := ParseWhiteBalance(f.WhiteBalance)
		add(Patch{WhiteBalance: &v}, err)
	}
	if f.Frame != "" {
		v, err := ParseSize(f.Frame)
		add(Patch{Frame: &v}, err)
	}
	if f.FPS != 0 {
		add(Patch{FPS: Ptr(f.FPS)}, nil)
	}
	if f.Gamma != 0 {
		add(Patch{Gamma: Ptr(f.Gamma)}, nil)
	}
	if f.Bitrate != 0 {
		add(Patch{Bitrate: Ptr(f.Bitrate)}, nil)
	}
	if len(f.ROI) > 0 {
		v, err := RectFromSlice(f.ROI)
		add(Patch{ROI: &v}, err)
	}
	if f.ScheduleTime != "" {
		v, err := ParseClock(f.ScheduleTime)
		add(Patch{ScheduleTime: &v}, err)
	}
	if len(f.ScheduleDays) > 0 {
		v, err := ParseDayList(f.ScheduleDays)
		add(Patch{ScheduleDays: &v}, err)
	}
	if f.ScheduleDuration != 0 {
		add(Patch{ScheduleDuration: Ptr(time.Duration(f.ScheduleDuration) * time.Second)}, nil)
	}
	if f.SegmentLength != 0 {
		add(Patch{SegmentLength: Ptr(time.Duration(f.SegmentLength) * time.Second)}, nil)
	}
	if f.MotionTime != "" {
		v, err := ParseClock(f.MotionTime)
		add(Patch{CheckpointTime: &v}, err)
	}
	if len(f.MotionDays) > 0 {
		v, err := ParseDayList(f.MotionDays)
		add(Patch{CheckpointDays: &v}, err)
	}
	if f.IdleTimeout != "" {
		v, err := time.ParseDuration(f.IdleTimeout)
		if err != nil {
			err = fmt.Errorf("%w: idle_timeout %q", ErrInvalidDuration, f.IdleTimeout)
		}
		add(Patch{IdleTimeout: &v}, err)
	}
	if f.TimeZone != "" {
		add(Patch{TimeZone: Ptr(f.TimeZone)}, nil)
	}
	return patches, errs
}

// ReadSnapshot loads a settings file on top of the defaults. Fields that
// fail to parse or validate keep their default and are reported in the
// returned error list. A missing file yields the defaults and fs.ErrNotExist.
func ReadSnapshot(path string) (Settings, []error, error) {
	return readSnapshot(path, Defaults())
}

func readSnapshot(path string, base Settings) (Settings, []error, error) {
	settings := base

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, nil, err
	}

	var file snapshotFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return settings, nil, NewSettingsError(ErrCodeLoad, "failed to parse "+path, err)
	}

	patches, errs := file.fieldPatches()
	// fields are validated together (the roi must sit inside the frame), so
	// a field rejected early is retried once later fields have landed
	for len(patches) > 0 {
		var rejected []Patch
		var verrs []error
		for _, p := range patches {
			next, _ := p.Apply(settings)
			if verr := next.Validate(); verr != nil {
				rejected = append(rejected, p)
				verrs = append(verrs, verr)
				continue
			}
			settings = next
		}
		if len(rejected) == len(patches) {
			errs = append(errs, verrs...)
			break
		}
		patches = rejected
	}
	settings.UpdatedAt = file.UpdatedAt
	return settings, errs, nil
}

// WriteSnapshot persists settings atomically: the file is written next to
// the target and renamed over it.
func WriteSnapshot(path string, s Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := toml.Marshal(toSnapshot(s))
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
