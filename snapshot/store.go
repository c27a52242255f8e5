package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBaselineUnavailable is returned when a stored baseline cannot be used.
var ErrBaselineUnavailable = errors.New("baseline unavailable")

// Marshal renders the persisted form of s as indented JSON.
func Marshal(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, ErrMalformedSnapshot
	}
	data, err := jsonMarshalIndent(s.Record(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Unmarshal parses the persisted form.
func Unmarshal(data []byte) (*Snapshot, error) {
	var rec Record
	if err := jsonUnmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}
	return FromRecord(rec)
}

// Save writes s to path atomically: the data goes to a temp file in the same
// directory which then replaces path.
func Save(path string, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".baseline-*.json")
	if err != nil {
		return fmt.Errorf("create temp baseline: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close baseline: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod baseline: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load reads a baseline. Every failure wraps ErrBaselineUnavailable.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaselineUnavailable, err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBaselineUnavailable, path, err)
	}
	return s, nil
}
