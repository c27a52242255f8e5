package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

type walker interface {
	Walk(ctx context.Context, startPath string, fn fs.WalkDirFunc) error
}

// stackWalker visits directories depth first with an explicit stack. fn is
// called once for each entry with a nil error, and a second time for a
// directory whose listing failed.
type stackWalker struct{}

func (w stackWalker) Walk(ctx context.Context, startPath string, fn fs.WalkDirFunc) error {
	info, err := os.Stat(startPath)
	if err != nil {
		return fn(startPath, nil, err)
	}
	type item struct {
		path  string
		entry fs.DirEntry
	}
	stack := []item{{path: startPath, entry: fs.FileInfoToDirEntry(info)}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(current.path, current.entry, nil); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
		if !current.entry.IsDir() {
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			if ferr := fn(current.path, current.entry, err); ferr != nil && !errors.Is(ferr, fs.SkipDir) {
				return ferr
			}
			continue
		}
		// Push in reverse so siblings are visited in name order.
		for i := len(entries) - 1; i >= 0; i-- {
			stack = append(stack, item{
				path:  filepath.Join(current.path, entries[i].Name()),
				entry: entries[i],
			})
		}
	}
	return nil
}

// entryKind classifies a listed entry, following symlinks one level.
type entryKind int

const (
	kindSkip entryKind = iota
	kindDir
	kindFile
)

// classify decides how the scan treats a listed entry. Symlinked directories
// are not descended; dangling symlinks count as files so the failure is
// recorded against them.
func classify(path string, d fs.DirEntry) entryKind {
	switch {
	case d.IsDir():
		return kindDir
	case d.Type().IsRegular():
		return kindFile
	case d.Type()&fs.ModeSymlink != 0:
		target, err := os.Stat(path)
		if err != nil {
			return kindFile
		}
		if target.Mode().IsRegular() {
			return kindFile
		}
		return kindSkip
	default:
		return kindSkip
	}
}
