// Package diag watches a running scan and captures diagnostics when hashing
// stops making progress.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"fimcheck/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold enables the watchdog when positive.
	StallThreshold time.Duration
	Dir            string
	Root           string
	// GoroutineProfile writes a goroutine profile on Close.
	GoroutineProfile   bool
	Progress           func() int64
	DumpFlightRecorder func(path string) error
	Now                func() time.Time
	LookupProfile      func(name string) profileWriter
}

// Watchdog polls a progress counter and writes a stall event, plus an
// optional flight recorder window, once the counter has not moved for
// StallThreshold. Further dumps are spaced by the same threshold.
type Watchdog struct {
	threshold          time.Duration
	dir                string
	root               string
	goroutineProfile   bool
	progress           func() int64
	dumpFlightRecorder func(path string) error
	now                func() time.Time
	lookupProfile      func(name string) profileWriter

	mu           sync.Mutex
	lastCount    int64
	lastChangeAt time.Time
	lastDumpAt   time.Time
	dumps        int

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(opts Options) *Watchdog {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lookup := opts.LookupProfile
	if lookup == nil {
		lookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Watchdog{
		threshold:          opts.StallThreshold,
		dir:                dir,
		root:               opts.Root,
		goroutineProfile:   opts.GoroutineProfile,
		progress:           opts.Progress,
		dumpFlightRecorder: opts.DumpFlightRecorder,
		now:                now,
		lookupProfile:      lookup,
	}
}

// Start begins polling in the background. It is a no-op when no threshold or
// progress source is configured, or when already started.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progress == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastCount = w.progress()
	w.lastChangeAt = w.now()
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := min(max(w.threshold/2, 250*time.Millisecond), 2*time.Second)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.check(w.now())
			}
		}
	}()
}

// Close stops polling and writes the goroutine profile if requested.
func (w *Watchdog) Close() {
	if w == nil {
		return
	}
	if w.stopCh != nil {
		close(w.stopCh)
		<-w.doneCh
		w.stopCh = nil
		w.doneCh = nil
	}
	if w.goroutineProfile {
		if _, err := w.writeProfile("goroutine", 2); err != nil {
			logger.Warnf("Goroutine profile dump failed: %v", err)
		}
	}
}

// Dumps returns how many stall events were written.
func (w *Watchdog) Dumps() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dumps
}

func (w *Watchdog) check(now time.Time) {
	if w.progress == nil || w.threshold <= 0 {
		return
	}
	count := w.progress()

	w.mu.Lock()
	if count != w.lastCount || w.lastChangeAt.IsZero() {
		w.lastCount = count
		w.lastChangeAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastChangeAt)
	dump := stalledFor >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if dump {
		w.lastDumpAt = now
		w.dumps++
	}
	w.mu.Unlock()

	if !dump {
		return
	}
	logger.WithField("stalled_for", stalledFor.Round(time.Millisecond)).
		Warnf("Scan of %s made no progress after %d files", w.root, count)
	if err := w.writeStallEvent(now, count, stalledFor); err != nil {
		logger.Warnf("Stall diagnostics dump failed: %v", err)
	}
}

func (w *Watchdog) writeStallEvent(now time.Time, count int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event := map[string]interface{}{
		"event":        "scan_stalled",
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"root":         w.root,
		"files_hashed": count,
		"threshold_ms": w.threshold.Milliseconds(),
		"stalled_ms":   stalledFor.Milliseconds(),
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("fimcheck-stall-%s.json", ts)), b, 0600); err != nil {
		return err
	}

	if w.dumpFlightRecorder != nil {
		tracePath := filepath.Join(w.dir, fmt.Sprintf("fimcheck-flight-%s.out", ts))
		if err := w.dumpFlightRecorder(tracePath); err != nil {
			logger.Warnf("Flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (w *Watchdog) writeProfile(name string, debug int) (string, error) {
	profile := w.lookupProfile(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", err
	}
	ts := w.now().UTC().Format("20060102-150405.000")
	path := filepath.Join(w.dir, fmt.Sprintf("fimcheck-%s-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
