package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Change describes one accepted settings update.
type Change struct {
	Old    Settings
	New    Settings
	Fields Field
}

// Store owns the runtime settings. Readers take immutable snapshots;
// writers go through Update, which validates, persists and notifies.
type Store struct {
	path    string
	logger  *slog.Logger
	now     func() time.Time
	current atomic.Pointer[Settings]

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]subscription
	nextID int

	watcher *Watcher[Settings]
}

type subscription struct {
	mask Field
	ch   chan Change
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore loads settings from path, falling back to defaults for a missing
// file or invalid fields. An empty path keeps settings in memory only.
func NewStore(path string, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}

	settings := Defaults()
	if path != "" {
		loaded, fieldErrs, err := ReadSnapshot(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("No settings snapshot, using defaults", "path", path)
			settings.UpdatedAt = s.now()
			if werr := WriteSnapshot(path, settings); werr != nil {
				return nil, NewSettingsError(ErrCodePersist, "failed to write initial settings", werr)
			}
		case err != nil:
			return nil, err
		default:
			settings = loaded
			for _, ferr := range fieldErrs {
				logger.Warn("Ignoring invalid stored setting", "path", path, "error", ferr)
			}
		}
	}

	settings.Version = 1
	s.current.Store(&settings)
	return s, nil
}

// Snapshot returns the current settings. The value is a copy.
func (s *Store) Snapshot() Settings {
	return *s.current.Load()
}

// Update applies p. Invalid patches are rejected with the store unchanged.
// A patch that changes nothing is accepted without persisting or notifying.
func (s *Store) Update(p Patch) (Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.Snapshot()
	next, changed := p.Apply(old)
	if err := next.Validate(); err != nil {
		return old, NewSettingsError(ErrCodeValidation, "settings update rejected", err)
	}
	if changed == 0 {
		return old, nil
	}

	next.Version = old.Version + 1
	next.UpdatedAt = s.now()

	if s.path != "" {
		if err := WriteSnapshot(s.path, next); err != nil {
			return old, NewSettingsError(ErrCodePersist, "failed to persist settings", err)
		}
	}

	s.current.Store(&next)
	s.logger.Info("Settings updated", "fields", changed.String(), "version", next.Version)
	s.notify(Change{Old: old, New: next, Fields: changed})
	return next, nil
}

// Subscribe returns a channel receiving changes that touch any field in
// mask (0 means all fields). Delivery never blocks the writer: when the
// buffer is full the change is dropped, so consumers should re-read the
// snapshot rather than rely on every Change value.
func (s *Store) Subscribe(mask Field, buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{mask: mask, ch: ch}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		if sub.mask != 0 && !c.Fields.Has(sub.mask) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			s.logger.Debug("Settings subscriber lagging, change coalesced", "fields", c.Fields.String())
		}
	}
}

// Reload re-reads the settings file and applies it as an update.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	loaded, err := s.loadEdited(s.path)
	if err != nil {
		return err
	}
	_, err = s.Update(PatchFrom(loaded))
	return err
}

// loadEdited reads an externally edited settings file over the current
// snapshot, keeping current values for fields that fail validation.
func (s *Store) loadEdited(path string) (Settings, error) {
	loaded, fieldErrs, err := readSnapshot(path, s.Snapshot())
	for _, ferr := range fieldErrs {
		s.logger.Warn("Ignoring invalid setting in edited file", "path", path, "error", ferr)
	}
	return loaded, err
}

// Watch applies external edits of the settings file. The store's own
// writes reload to identical values and are therefore no-ops.
func (s *Store) Watch(debounce time.Duration) error {
	if s.path == "" {
		return nil
	}
	s.watcher = NewWatcher(s.path, s.loadEdited, s.logger, WithDebounce[Settings](debounce))
	s.watcher.OnReload(func(loaded Settings) {
		if _, err := s.Update(PatchFrom(loaded)); err != nil {
			s.logger.Warn("Rejected edited settings file", "path", s.path, "error", err)
		}
	})
	return s.watcher.Start()
}

// Close stops the file watcher and closes every subscription.
func (s *Store) Close() error {
	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	return err
}

// PatchFrom builds a patch that sets every field to the values in s.
func PatchFrom(s Settings) Patch {
	return Patch{
		Frame:            Ptr(s.Frame),
		FPS:              Ptr(s.FPS),
		Bitrate:          Ptr(s.Bitrate),
		Gamma:            Ptr(s.Gamma),
		WhiteBalance:     Ptr(s.WhiteBalance),
		ColorMode:        Ptr(s.ColorMode),
		ROI:              Ptr(s.ROI),
		Policy:           Ptr(s.Policy),
		ScheduleTime:     Ptr(s.Schedule.At),
		ScheduleDays:     Ptr(s.Schedule.Days),
		ScheduleDuration: Ptr(s.ScheduleDuration),
		SegmentLength:    Ptr(s.SegmentLength),
		CheckpointTime:   Ptr(s.Checkpoint.At),
		CheckpointDays:   Ptr(s.Checkpoint.Days),
		IdleTimeout:      Ptr(s.IdleTimeout),
		TimeZone:         Ptr(s.TimeZone),
	}
}
