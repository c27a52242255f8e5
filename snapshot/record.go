package snapshot

import (
	"fmt"
	"math"
	"slices"
	"time"

	"fimcheck/hasher"
)

// Record is the persisted baseline shape. Field order follows sorted key
// order so the written file is stable.
type Record struct {
	Algorithm   string                       `json:"algorithm,omitempty"`
	Data        map[string]map[string]string `json:"data"`
	Exclude     []string                     `json:"exclude_patterns,omitempty"`
	Include     []string                     `json:"include_patterns,omitempty"`
	Root        string                       `json:"root"`
	RootKeyMode string                       `json:"root_key_mode,omitempty"`
	ScannedAt   float64                      `json:"scanned_at"`
}

// Record converts the snapshot to its persisted shape. Defaults are omitted so
// baselines stay in the plain root/scanned_at/data form.
func (s *Snapshot) Record() Record {
	data := make(map[string]map[string]string, len(s.entries))
	for folder, files := range s.entries {
		values := make(map[string]string, len(files))
		for name, entry := range files {
			values[name] = entry.String()
		}
		data[folder] = values
	}
	rec := Record{
		Data:      data,
		Exclude:   slices.Clone(s.exclude),
		Include:   slices.Clone(s.include),
		Root:      s.root,
		ScannedAt: epochSeconds(s.takenAt),
	}
	if s.algorithm != hasher.DefaultAlgorithm {
		rec.Algorithm = s.algorithm
	}
	if s.rootKeyMode != RootKeyName {
		rec.RootKeyMode = s.rootKeyMode
	}
	return rec
}

// FromRecord rebuilds a snapshot from its persisted shape.
func FromRecord(rec Record) (*Snapshot, error) {
	if rec.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedSnapshot)
	}
	if rec.Root == "" {
		return nil, fmt.Errorf("%w: missing root", ErrMalformedSnapshot)
	}
	mode := NormalizeRootKeyMode(rec.RootKeyMode)
	if mode != RootKeyName && mode != RootKeySentinel {
		return nil, fmt.Errorf("%w: unknown root_key_mode %q", ErrMalformedSnapshot, rec.RootKeyMode)
	}
	if !hasher.Supported(rec.Algorithm) {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedSnapshot, rec.Algorithm)
	}

	entries := make(Folders, len(rec.Data))
	for folder, files := range rec.Data {
		parsed := make(map[string]Entry, len(files))
		for name, value := range files {
			parsed[name] = ParseEntry(value)
		}
		entries[folder] = parsed
	}
	return &Snapshot{
		root:        rec.Root,
		takenAt:     fromEpochSeconds(rec.ScannedAt),
		algorithm:   hasher.Normalize(rec.Algorithm),
		rootKeyMode: mode,
		include:     slices.Clone(rec.Include),
		exclude:     slices.Clone(rec.Exclude),
		entries:     entries,
	}, nil
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromEpochSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9)))
}
