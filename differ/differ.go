package differ

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"fimcheck/snapshot"
)

// ErrAlgorithmMismatch is returned when the snapshots were hashed differently.
var ErrAlgorithmMismatch = errors.New("snapshots use different hash algorithms")

// Change kinds.
const (
	KindAdded   = "added"
	KindRemoved = "removed"
	KindChanged = "changed"
)

// Result partitions composite paths (folderKey/fileName) into added, removed
// and changed. Each slice is sorted and a path appears in at most one.
type Result struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// FolderSummary counts changes under one folder key.
type FolderSummary struct {
	Folder  string `json:"folder"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Changed int    `json:"changed"`
}

// Diff compares current against baseline. Changed entries are detected only
// in the baseline to current direction; the reverse pass reports removals.
func Diff(baseline, current *snapshot.Snapshot) (*Result, error) {
	if baseline == nil || current == nil {
		return nil, fmt.Errorf("%w: nil snapshot", snapshot.ErrMalformedSnapshot)
	}
	if baseline.Algorithm() != current.Algorithm() {
		return nil, fmt.Errorf("%w: %s and %s", ErrAlgorithmMismatch, baseline.Algorithm(), current.Algorithm())
	}
	base := baseline.Folders()
	curr := current.Folders()

	res := &Result{Added: []string{}, Removed: []string{}, Changed: []string{}}

	for folder, files := range curr {
		baseFiles, ok := base[folder]
		for name, entry := range files {
			path := snapshot.JoinPath(folder, name)
			if !ok {
				res.Added = append(res.Added, path)
				continue
			}
			prev, found := baseFiles[name]
			switch {
			case !found:
				res.Added = append(res.Added, path)
			case !prev.Equal(entry):
				res.Changed = append(res.Changed, path)
			}
		}
	}

	for folder, files := range base {
		currFiles, ok := curr[folder]
		for name := range files {
			if ok {
				if _, found := currFiles[name]; found {
					continue
				}
			}
			res.Removed = append(res.Removed, snapshot.JoinPath(folder, name))
		}
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Strings(res.Changed)
	return res, nil
}

// Empty reports whether nothing was added, removed or changed.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0)
}

// Total returns the number of reported paths.
func (r *Result) Total() int {
	if r == nil {
		return 0
	}
	return len(r.Added) + len(r.Removed) + len(r.Changed)
}

// Each calls fn for every path with its kind, added first, then removed,
// then changed.
func (r *Result) Each(fn func(kind, path string)) {
	if r == nil {
		return
	}
	for _, p := range r.Added {
		fn(KindAdded, p)
	}
	for _, p := range r.Removed {
		fn(KindRemoved, p)
	}
	for _, p := range r.Changed {
		fn(KindChanged, p)
	}
}

// Folders groups the result by the folder part of each composite path,
// sorted by folder. Paths without a folder part group under "".
func (r *Result) Folders() []FolderSummary {
	byFolder := map[string]*FolderSummary{}
	r.Each(func(kind, path string) {
		folder := ""
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			folder = path[:idx]
		}
		summary, ok := byFolder[folder]
		if !ok {
			summary = &FolderSummary{Folder: folder}
			byFolder[folder] = summary
		}
		switch kind {
		case KindAdded:
			summary.Added++
		case KindRemoved:
			summary.Removed++
		case KindChanged:
			summary.Changed++
		}
	})

	out := make([]FolderSummary, 0, len(byFolder))
	for _, summary := range byFolder {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Folder < out[j].Folder })
	return out
}
