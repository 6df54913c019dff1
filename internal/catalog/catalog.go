// Package catalog records sessions, segments, parameter changes and merges
// in a local SQLite database. It is written from bus events, so every write
// is an upsert that tolerates events arriving out of order.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/logging"
)

// ErrNotFound is returned for unknown sessions.
var ErrNotFound = errors.New("not found")

// Catalog is the recording database.
type Catalog struct {
	db     *gorm.DB
	logger logging.Logger
}

// Open opens (and migrates) the database at path. ":memory:" is accepted.
func Open(path string, logger logging.Logger) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	// sqlite allows one writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&Session{}, &Segment{}, &ParamEvent{}, &Merge{}); err != nil {
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return &Catalog{db: db, logger: logger}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SessionStarted records a new session.
func (c *Catalog) SessionStarted(ctx context.Context, id, policy string, at time.Time) error {
	s := Session{ID: id, Policy: policy, StartedAt: at}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"policy", "started_at"}),
	}).Create(&s).Error
}

// SessionClosed stamps the end of a session. Sessions with segments become
// pending merges.
func (c *Catalog) SessionClosed(ctx context.Context, id, policy, cause string, segments int, at time.Time) error {
	status := MergeNone
	if segments > 0 {
		status = MergePending
	}
	s := Session{ID: id, Policy: policy, StartedAt: at, EndedAt: &at, Cause: cause, MergeStatus: status}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ended_at", "cause", "merge_status"}),
	}).Create(&s).Error
}

// SegmentOpened records an open segment.
func (c *Catalog) SegmentOpened(ctx context.Context, sessionID string, seq int, path, geometry string) error {
	seg := Segment{SessionID: sessionID, Seq: seq, Path: path, Geometry: geometry}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"path", "geometry"}),
	}).Create(&seg).Error
}

// SegmentClosed stamps the offsets and frame count of a segment.
func (c *Catalog) SegmentClosed(ctx context.Context, sessionID string, seq int, path string, start, end float64, frames int) error {
	seg := Segment{SessionID: sessionID, Seq: seq, Path: path, Start: start, End: &end, Frames: frames}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"path", "start_offset", "end_offset", "frames"}),
	}).Create(&seg).Error
}

// AddParamEvent appends to a session's parameter timeline.
func (c *Catalog) AddParamEvent(ctx context.Context, ev ParamEvent) error {
	ev.ID = 0
	return c.db.WithContext(ctx).Create(&ev).Error
}

// MergeFinished records a merge outcome and updates the session status.
func (c *Catalog) MergeFinished(ctx context.Context, m Merge) error {
	status := MergeDone
	if m.Error != "" {
		status = MergeFailed
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error; err != nil {
			return err
		}
		updates := map[string]any{"merge_status": status}
		if status == MergeDone {
			updates["merged_path"] = m.Output
		}
		return tx.Model(&Session{}).Where("id = ?", m.SessionID).Updates(updates).Error
	})
}

// Session loads a session with its segments and parameter timeline.
func (c *Catalog) Session(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := c.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Params", func(db *gorm.DB) *gorm.DB { return db.Order("offset_seconds ASC") }).
		First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return &s, err
}

// Sessions lists the most recent sessions, newest first.
func (c *Catalog) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Session
	err := c.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("started_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Unmerged lists sessions whose segments were never merged: pending,
// failed, or never closed because the process died. Excludes exclude.
func (c *Catalog) Unmerged(ctx context.Context, exclude string) ([]Session, error) {
	var out []Session
	err := c.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("merge_status IN ?", []string{MergeNone, MergePending, MergeFailed}).
		Where("id <> ?", exclude).
		Order("started_at ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	filtered := out[:0]
	for _, s := range out {
		if len(s.Segments) > 0 {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// Attach writes bus events into the catalog until the returned function is
// called.
func (c *Catalog) Attach(bus *events.Bus) func() {
	ctx := context.Background()
	report := func(what string, err error) {
		if err != nil {
			c.logger.Error("Catalog write failed", "what", what, "error", err)
		}
	}
	unsubs := []func(){
		bus.Subscribe(func(e events.SessionStartedEvent) {
			report("session started", c.SessionStarted(ctx, e.SessionID, e.Policy, parseTime(e.Timestamp)))
		}),
		bus.Subscribe(func(e events.SessionClosedEvent) {
			report("session closed", c.SessionClosed(ctx, e.SessionID, e.Policy, e.Cause, e.Segments, parseTime(e.Timestamp)))
		}),
		bus.Subscribe(func(e events.SegmentOpenedEvent) {
			report("segment opened", c.SegmentOpened(ctx, e.SessionID, e.Index, e.Path, e.Geometry))
		}),
		bus.Subscribe(func(e events.SegmentClosedEvent) {
			report("segment closed", c.SegmentClosed(ctx, e.SessionID, e.Index, e.Path, e.Start, e.End, e.Frames))
		}),
		bus.Subscribe(func(e events.ParamChangedEvent) {
			report("param event", c.AddParamEvent(ctx, ParamEvent{
				SessionID:    e.SessionID,
				Offset:       e.Offset,
				Gamma:        e.Gamma,
				WhiteBalance: e.WhiteBalance,
				ColorMode:    e.ColorMode,
			}))
		}),
		bus.Subscribe(func(e events.MergeCompletedEvent) {
			report("merge completed", c.MergeFinished(ctx, Merge{
				ID: e.JobID, SessionID: e.SessionID, Output: e.Output, Path: e.Path,
				Inputs: e.Inputs, Seconds: e.Seconds, FinishedAt: parseTime(e.Timestamp),
			}))
		}),
		bus.Subscribe(func(e events.MergeFailedEvent) {
			report("merge failed", c.MergeFinished(ctx, Merge{
				ID: e.JobID, SessionID: e.SessionID, Error: e.Error, FinishedAt: parseTime(e.Timestamp),
			}))
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Now()
}
