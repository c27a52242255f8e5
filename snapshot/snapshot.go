package snapshot

import (
	"errors"
	"path/filepath"
	"slices"
	"time"

	"fimcheck/hasher"
)

// Root folder keying modes.
const (
	RootKeyName     = "name"
	RootKeySentinel = "sentinel"
)

// ErrMalformedSnapshot marks input that does not have the snapshot shape.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Folders maps folder key to file name to entry.
type Folders map[string]map[string]Entry

// Snapshot is the immutable result of one scan. Accessors never expose the
// internal maps.
type Snapshot struct {
	root        string
	takenAt     time.Time
	algorithm   string
	rootKeyMode string
	include     []string
	exclude     []string
	entries     Folders
}

// New builds a snapshot from entries, copying them.
func New(root string, takenAt time.Time, algorithm, rootKeyMode string, entries Folders) *Snapshot {
	return &Snapshot{
		root:        root,
		takenAt:     takenAt,
		algorithm:   hasher.Normalize(algorithm),
		rootKeyMode: NormalizeRootKeyMode(rootKeyMode),
		entries:     cloneFolders(entries),
	}
}

// NormalizeRootKeyMode maps the empty string to RootKeyName.
func NormalizeRootKeyMode(mode string) string {
	if mode == "" {
		return RootKeyName
	}
	return mode
}

// RootKeyFor returns the folder key used for root itself. The filesystem root
// has no name and always maps to "".
func RootKeyFor(root, mode string) string {
	if NormalizeRootKeyMode(mode) == RootKeySentinel {
		return ""
	}
	base := filepath.Base(root)
	if base == string(filepath.Separator) || base == "." {
		return ""
	}
	return base
}

// JoinPath builds the composite path for a file inside a folder.
func JoinPath(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// WithFilters returns a snapshot sharing s's entries that records the
// include and exclude patterns the scan applied.
func (s *Snapshot) WithFilters(include, exclude []string) *Snapshot {
	out := *s
	out.include = slices.Clone(include)
	out.exclude = slices.Clone(exclude)
	return &out
}

// IncludePatterns returns the include patterns the scan applied.
func (s *Snapshot) IncludePatterns() []string { return slices.Clone(s.include) }

// ExcludePatterns returns the exclude patterns the scan applied.
func (s *Snapshot) ExcludePatterns() []string { return slices.Clone(s.exclude) }

func (s *Snapshot) Root() string        { return s.root }
func (s *Snapshot) TakenAt() time.Time  { return s.takenAt }
func (s *Snapshot) Algorithm() string   { return s.algorithm }
func (s *Snapshot) RootKeyMode() string { return s.rootKeyMode }
func (s *Snapshot) RootKey() string     { return RootKeyFor(s.root, s.rootKeyMode) }

// Folders returns a copy of the full folder mapping.
func (s *Snapshot) Folders() Folders {
	return cloneFolders(s.entries)
}

// FolderKeys returns the folder keys in no particular order.
func (s *Snapshot) FolderKeys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// HasFolder reports whether folder was visited.
func (s *Snapshot) HasFolder(folder string) bool {
	_, ok := s.entries[folder]
	return ok
}

// Files returns a copy of one folder's file mapping, or nil when absent.
func (s *Snapshot) Files(folder string) map[string]Entry {
	files, ok := s.entries[folder]
	if !ok {
		return nil
	}
	out := make(map[string]Entry, len(files))
	for name, entry := range files {
		out[name] = entry
	}
	return out
}

// Lookup returns the entry for a file within a folder.
func (s *Snapshot) Lookup(folder, name string) (Entry, bool) {
	files, ok := s.entries[folder]
	if !ok {
		return Entry{}, false
	}
	entry, ok := files[name]
	return entry, ok
}

// Len returns the number of files across all folders.
func (s *Snapshot) Len() int {
	total := 0
	for _, files := range s.entries {
		total += len(files)
	}
	return total
}

// Failures returns the number of entries holding an error.
func (s *Snapshot) Failures() int {
	total := 0
	for _, files := range s.entries {
		for _, entry := range files {
			if entry.IsError() {
				total++
			}
		}
	}
	return total
}

func cloneFolders(src Folders) Folders {
	dst := make(Folders, len(src))
	for folder, files := range src {
		copied := make(map[string]Entry, len(files))
		for name, entry := range files {
			copied[name] = entry
		}
		dst[folder] = copied
	}
	return dst
}
