package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/recorder"
)

// Pending lists catalog sessions whose segments were never merged.
// *catalog.Catalog implements it.
type Pending interface {
	Unmerged(ctx context.Context, exclude string) ([]catalog.Session, error)
}

type orphan struct {
	index int
	path  string
}

// Scan groups the segment files in dir by session id, each ordered by
// sequence number.
func Scan(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	groups := make(map[string][]orphan)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, index, ok := recorder.ParseSegmentName(entry.Name())
		if !ok {
			continue
		}
		groups[id] = append(groups[id], orphan{index: index, path: filepath.Join(dir, entry.Name())})
	}
	out := make(map[string][]string, len(groups))
	for id, segs := range groups {
		sort.Slice(segs, func(i, j int) bool { return segs[i].index < segs[j].index })
		paths := make([]string, len(segs))
		for i, s := range segs {
			paths[i] = s.path
		}
		out[id] = paths
	}
	return out, nil
}

// Recover finds sessions left unmerged by a previous run: catalog entries
// still pending and segment files on disk. Each session yields one job,
// ordered by session id. exclude is the active session, if any. pending may
// be nil.
func Recover(ctx context.Context, dir string, pending Pending, exclude string, logger logging.Logger) ([]Job, error) {
	cleanStale(dir, logger)

	sessions, err := Scan(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if sessions == nil {
		sessions = make(map[string][]string)
	}

	if pending != nil {
		unmerged, err := pending.Unmerged(ctx, exclude)
		if err != nil {
			logger.Warn("Reading pending merges from catalog failed, using file scan only", "error", err)
		}
		for _, s := range unmerged {
			for _, seg := range s.Segments {
				if _, err := os.Stat(seg.Path); err != nil {
					continue
				}
				sessions[s.ID] = appendUnique(sessions[s.ID], seg.Path)
			}
		}
	}
	delete(sessions, exclude)

	ids := make([]string, 0, len(sessions))
	for id, paths := range sessions {
		if len(paths) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		paths := sessions[id]
		sort.SliceStable(paths, func(i, j int) bool { return segmentIndex(paths[i]) < segmentIndex(paths[j]) })
		job := NewJob(id, paths)
		job.Recovered = true
		jobs = append(jobs, job)
		logger.Info("Orphaned segments found", "session", id, "segments", len(paths))
	}
	return jobs, nil
}

// cleanStale removes partial outputs and concat lists of interrupted merges.
func cleanStale(dir string, logger logging.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, "_merged.part.mp4") && !strings.HasSuffix(name, "_merged.concat.txt") {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn("Removing stale merge file failed", "path", path, "error", err)
			continue
		}
		logger.Info("Removed stale merge file", "path", path)
	}
}

func segmentIndex(path string) int {
	_, index, ok := recorder.ParseSegmentName(path)
	if !ok {
		return -1
	}
	return index
}

func appendUnique(paths []string, p string) []string {
	for _, existing := range paths {
		if filepath.Clean(existing) == filepath.Clean(p) {
			return paths
		}
	}
	return append(paths, p)
}
