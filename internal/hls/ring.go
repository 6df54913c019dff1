// Package hls keeps the rolling live playlist: a fixed number of short
// mpegts segments on disk, oldest deleted first.
package hls

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/grafov/m3u8"

	"github.com/smazurov/camkeeper/internal/logging"
)

// PlaylistName is the file name of the live playlist inside the ring directory.
const PlaylistName = "index.m3u8"

type entry struct {
	name          string
	duration      float64
	discontinuity bool
}

// Ring tracks the segments an encoder produces and rewrites the playlist
// after each one.
type Ring struct {
	dir    string
	size   int
	target float64
	logger logging.Logger

	mu          sync.Mutex
	entries     []entry
	seq         uint64 // media sequence of entries[0]
	epoch       int
	discontinue bool
}

// NewRing creates dir and removes leftovers of a previous run.
func NewRing(dir string, size int, targetSeconds float64, logger logging.Logger) (*Ring, error) {
	if size <= 0 || targetSeconds <= 0 {
		return nil, fmt.Errorf("hls: invalid ring size %d or target %g", size, targetSeconds)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hls: %w", err)
	}
	r := &Ring{dir: dir, size: size, target: targetSeconds, logger: logger}
	r.removeStale()
	return r, nil
}

// Dir returns the ring directory.
func (r *Ring) Dir() string {
	return r.dir
}

func (r *Ring) removeStale() {
	matches, _ := filepath.Glob(filepath.Join(r.dir, "live*.ts"))
	matches = append(matches, filepath.Join(r.dir, PlaylistName))
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Removing stale HLS file failed", "path", m, "error", err)
		}
	}
}

// NextPattern returns the segment filename pattern for a new encoder. Each
// encoder gets its own prefix so restarted numbering never overwrites
// listed segments, and the first segment it writes is marked as a
// discontinuity.
func (r *Ring) NextPattern() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	if len(r.entries) > 0 {
		r.discontinue = true
	}
	return filepath.Join(r.dir, fmt.Sprintf("live%04d_%%06d.ts", r.epoch))
}

// HandleLine consumes one line of ffmpeg's CSV segment list
// ("name,start,end").
func (r *Ring) HandleLine(line string) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 3 {
		return
	}
	start, err1 := strconv.ParseFloat(parts[len(parts)-2], 64)
	end, err2 := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err1 != nil || err2 != nil {
		r.logger.Debug("Ignoring segment list line", "line", line)
		return
	}
	name := strings.Join(parts[:len(parts)-2], ",")
	if err := r.Add(filepath.Base(name), end-start); err != nil {
		r.logger.Warn("Updating HLS playlist failed", "error", err)
	}
}

// Add appends a finished segment, evicts beyond the ring size and rewrites
// the playlist.
func (r *Ring) Add(name string, duration float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry{name: name, duration: duration, discontinuity: r.discontinue})
	r.discontinue = false
	for len(r.entries) > r.size {
		old := r.entries[0]
		r.entries = r.entries[1:]
		r.seq++
		if err := os.Remove(filepath.Join(r.dir, old.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Evicting HLS segment failed", "segment", old.name, "error", err)
		}
	}
	return r.writeLocked()
}

// Segments returns the listed segment names, oldest first.
func (r *Ring) Segments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Playlist renders the current playlist.
func (r *Ring) Playlist() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderLocked()
}

func (r *Ring) renderLocked() (string, error) {
	pl, err := m3u8.NewMediaPlaylist(0, uint(max(len(r.entries), 1)))
	if err != nil {
		return "", err
	}
	pl.SeqNo = r.seq
	target := r.target
	for _, e := range r.entries {
		if err := pl.Append(e.name, e.duration, ""); err != nil {
			return "", err
		}
		if e.discontinuity {
			if err := pl.SetDiscontinuity(); err != nil {
				return "", err
			}
		}
		target = math.Max(target, e.duration)
	}
	pl.TargetDuration = math.Ceil(target)
	return pl.String(), nil
}

func (r *Ring) writeLocked() error {
	body, err := r.renderLocked()
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, PlaylistName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
