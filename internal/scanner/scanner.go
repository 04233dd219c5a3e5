// Package scanner walks a source tree into a flat list of file entities,
// classifies them into large/small by a size threshold, and optionally
// reorders them shortest-job-first so a run completes more files sooner.
package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

// Scan walks root, skipping any directory whose name ends in "_chunks"
// (our own chunk-output artifacts; re-descending into them would mix
// outputs back into the input set), and returns every regular file found.
func Scan(root string) ([]plan.FileEntry, error) {
	var entries []plan.FileEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walking %s: %v", xerrors.ErrIO, path, err)
		}
		if d.IsDir() {
			if d.Name() != "." && strings.HasSuffix(d.Name(), "_chunks") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", xerrors.ErrIO, path, err)
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}

		entries = append(entries, plan.FileEntry{
			AbsPath: path,
			RelPath: filepath.ToSlash(relPath),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Classify splits entries into large (> threshold) and small (<= threshold).
func Classify(entries []plan.FileEntry, threshold int64) (large, small []plan.FileEntry) {
	for _, e := range entries {
		if e.Size > threshold {
			large = append(large, e)
		} else {
			small = append(small, e)
		}
	}
	return
}

// ScheduleSJF returns entries sorted ascending by size (Shortest-Job-First),
// so a run completes more files sooner. It does not reduce total wall time;
// it only changes the order work becomes visible as done. The sort is
// stable so files of equal size keep their scan order.
func ScheduleSJF(entries []plan.FileEntry) []plan.FileEntry {
	sorted := make([]plan.FileEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })
	return sorted
}
