package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fimcheck/hasher"
	"fimcheck/logger"
	"fimcheck/snapshot"
	"fimcheck/tracing"
	"fimcheck/utils"

	"github.com/cespare/xxhash/v2"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

// ErrRootUnavailable is returned when the scan root cannot be resolved,
// is not a directory, or cannot be listed.
var ErrRootUnavailable = errors.New("scan root unavailable")

const lockStripes = 64

type Options struct {
	Algorithm       string
	RootKeyMode     string
	Concurrency     int
	MaxIOPerSecond  int
	ReadMode        string
	IncludePatterns []string
	ExcludePatterns []string
	ShowProgress    bool
	// Progress, when set, is incremented as each file finishes hashing.
	Progress *atomic.Int64
	// Stats, when set, receives counters for the finished scan.
	Stats *Stats
}

type Stats struct {
	Folders  int
	Files    int
	Failures int
	Duration time.Duration
}

type fileTask struct {
	folder string
	files  map[string]snapshot.Entry
	name   string
	path   string
}

// merger guards per-folder file maps with a fixed table of mutexes picked by
// folder key hash.
type merger struct {
	locks [lockStripes]sync.Mutex
}

func (m *merger) put(task fileTask, entry snapshot.Entry) {
	mu := &m.locks[xxhash.Sum64String(task.folder)%lockStripes]
	mu.Lock()
	task.files[task.name] = entry
	mu.Unlock()
}

// Scan walks rootPath and returns a snapshot of every visited folder and the
// digest (or read error) of every regular file in it.
func Scan(ctx context.Context, rootPath string, opts Options) (*snapshot.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, endTask := tracing.StartTask(ctx, "scan")
	defer endTask()

	algorithm := hasher.Normalize(opts.Algorithm)
	if !hasher.Supported(algorithm) {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", opts.Algorithm)
	}
	mode := snapshot.NormalizeRootKeyMode(opts.RootKeyMode)
	if mode != snapshot.RootKeyName && mode != snapshot.RootKeySentinel {
		return nil, fmt.Errorf("invalid root key mode: %s", opts.RootKeyMode)
	}
	if !hasher.ValidReadMode(opts.ReadMode) {
		return nil, fmt.Errorf("invalid read mode: %s", opts.ReadMode)
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	root, err := utils.CanonicalPath(rootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, root)
	}
	tracing.Log(ctx, "root", root)
	logger.Debugf("Scanning %s with %d workers (%s)", root, workers, algorithm)

	started := time.Now()
	rootKey := snapshot.RootKeyFor(root, mode)
	matcher := utils.NewPatternMatcher(opts.IncludePatterns, opts.ExcludePatterns)

	var ioLimiter *rate.Limiter
	if opts.MaxIOPerSecond > 0 {
		ioLimiter = rate.NewLimiter(rate.Limit(opts.MaxIOPerSecond), opts.MaxIOPerSecond)
	}

	bar := newProgressBar(opts.ShowProgress)
	progressCh := make(chan int, workers*4)
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		for delta := range progressCh {
			_ = bar.Add(delta)
		}
	}()

	folders := make(snapshot.Folders)
	tasks := make(chan fileTask, workers)
	walkErr := make(chan error, 1)
	var failures atomic.Int64
	var files atomic.Int64
	m := &merger{}
	var w walker = stackWalker{}
	// owners records the directory that created each folder key.
	owners := make(map[string]string)
	// shadow holds files of a subfolder whose key collides with the root key.
	// They are merged after hashing so root entries always take precedence.
	shadow := make(map[string]snapshot.Entry)

	go func() {
		defer close(tasks)
		walkErr <- w.Walk(ctx, root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
				}
				if d != nil && d.IsDir() {
					if key, kerr := folderKey(root, rootKey, path); kerr == nil && owners[key] == path {
						delete(folders, key)
						delete(owners, key)
					}
				}
				logger.Warnf("Failed to list %s: %v", path, err)
				return nil
			}

			rel, err := utils.RelativeKey(root, path)
			if err != nil {
				logger.Warnf("Skipping %s: %v", path, err)
				return nil
			}

			switch classify(path, d) {
			case kindDir:
				if path != root && matcher.Excluded(rel) {
					logger.Debugf("Skipping excluded directory %s", path)
					return fs.SkipDir
				}
				key := rootKey
				if path != root {
					key = rel
					if key == rootKey {
						logger.Warnf("Folder %s shares the root folder key %q; entries are merged and root files take precedence", path, key)
					}
				}
				if _, ok := folders[key]; !ok {
					folders[key] = make(map[string]snapshot.Entry)
					owners[key] = path
				}
				return nil
			case kindFile:
				if !matcher.ShouldInclude(rel) {
					return nil
				}
				dir := filepath.Dir(path)
				parent, err := folderKey(root, rootKey, dir)
				if err != nil {
					return nil
				}
				target := folders[parent]
				if parent == rootKey && dir != root {
					target = shadow
				}
				if ioLimiter != nil {
					if err := ioLimiter.Wait(ctx); err != nil {
						return err
					}
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case tasks <- fileTask{folder: parent, files: target, name: d.Name(), path: path}:
				}
				return nil
			default:
				logger.Debugf("Skipping non-regular file %s", path)
				return nil
			}
		})
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if ctx.Err() != nil {
					continue
				}
				entry := hashFile(ctx, task.path, algorithm, opts.ReadMode)
				if entry.IsError() {
					failures.Add(1)
				}
				files.Add(1)
				m.put(task, entry)
				if opts.Progress != nil {
					opts.Progress.Add(1)
				}
				progressCh <- 1
			}
		}()
	}

	wg.Wait()
	close(progressCh)
	progressWG.Wait()
	_ = bar.Finish()

	if err := <-walkErr; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(shadow) > 0 {
		rootFiles := folders[rootKey]
		for name, entry := range shadow {
			if _, ok := rootFiles[name]; ok {
				logger.Warnf("Ignoring %s: root folder already has %q", filepath.Join(root, rootKey, name), name)
				files.Add(-1)
				if entry.IsError() {
					failures.Add(-1)
				}
				continue
			}
			rootFiles[name] = entry
		}
	}

	takenAt := time.Now()
	if opts.Stats != nil {
		*opts.Stats = Stats{
			Folders:  len(folders),
			Files:    int(files.Load()),
			Failures: int(failures.Load()),
			Duration: takenAt.Sub(started),
		}
	}
	logger.Debugf("Scanned %d files in %d folders under %s", files.Load(), len(folders), root)
	return snapshot.New(root, takenAt, algorithm, mode, folders).WithFilters(opts.IncludePatterns, opts.ExcludePatterns), nil
}

func hashFile(ctx context.Context, path, algorithm, readMode string) snapshot.Entry {
	endRegion := tracing.StartRegion(ctx, "hash_file")
	defer endRegion()

	digest, err := hasher.DigestFile(path, algorithm, readMode)
	if err != nil {
		logger.Warnf("Failed to hash %s: %v", path, err)
		return snapshot.ScanError(err.Error())
	}
	return snapshot.Digest(digest)
}

func folderKey(root, rootKey, dir string) (string, error) {
	rel, err := utils.RelativeKey(root, dir)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return rootKey, nil
	}
	return rel, nil
}

func newProgressBar(show bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Hashing files"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetVisibility(show && progressVisible()),
		progressbar.OptionFullWidth(),
		progressbar.OptionClearOnFinish(),
	)
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("FIMCHECK_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}
