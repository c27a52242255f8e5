package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"fimcheck/config"
	"fimcheck/diag"
	"fimcheck/differ"
	"fimcheck/logger"
	"fimcheck/report"
	"fimcheck/scanner"
	"fimcheck/snapshot"
	"fimcheck/systeminfo"
	"fimcheck/tracing"
)

// Process exit codes.
const (
	exitOK      = 0
	exitChanges = 1
	exitFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := tracing.Start(""); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return exitFailure
	}

	logger.Init(cfg.LogLevel)

	if cfg.TraceFlight {
		if err := tracing.StartFlightRecorder(cfg.TraceFlightMaxBytes, cfg.TraceFlightMinAge); err != nil {
			logger.Warnf("Failed to start flight recorder: %v", err)
		} else {
			defer func() {
				if err := tracing.WriteFlightRecorder(cfg.TraceFlightFile); err != nil {
					logger.Warnf("Failed to write flight recorder: %v", err)
				}
				tracing.StopFlightRecorder()
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go handleSignalEvent(ctx, cancel, cfg.TraceFlight, cfg.TraceFlightFile, sigChan)

	return execute(ctx, cfg, os.Stdout)
}

// execute runs the configured command and returns the process exit code.
func execute(ctx context.Context, cfg *config.Config, out io.Writer) (code int) {
	metrics := &report.Metrics{StartTime: time.Now().Format(time.RFC3339)}
	if cfg.HostInfo {
		metrics.Host = systeminfo.GetHost()
	}
	w, err := report.New(cfg, out, metrics)
	if err != nil {
		logger.Errorf("Failed to initialize report: %v", err)
		return exitFailure
	}
	defer func() {
		metrics.EndTime = time.Now().Format(time.RFC3339)
		if err := w.Close(); err != nil {
			logger.Errorf("Failed to write report: %v", err)
			code = exitFailure
		}
	}()

	switch cfg.Command {
	case config.CommandInit:
		return runInit(ctx, cfg, w, metrics)
	case config.CommandVerify:
		return runVerify(ctx, cfg, w, metrics)
	case config.CommandShow:
		return runShow(cfg, w)
	default:
		logger.Errorf("Unknown command: %s", cfg.Command)
		return exitFailure
	}
}

func runInit(ctx context.Context, cfg *config.Config, w *report.Writer, metrics *report.Metrics) int {
	snap, ok := scan(ctx, cfg, scanTarget{
		root:        cfg.Path,
		algorithm:   cfg.Algorithm,
		rootKeyMode: cfg.RootKeyMode,
		include:     cfg.IncludePatterns,
		exclude:     cfg.ExcludePatterns,
	}, metrics)
	if !ok {
		return exitFailure
	}
	if err := snapshot.Save(cfg.BaselineFile, snap); err != nil {
		logger.Errorf("Failed to save baseline: %v", err)
		return exitFailure
	}
	logger.WithField("baseline", cfg.BaselineFile).Info("Baseline written.")
	w.Printf("Baseline created at %s\n", cfg.BaselineFile)
	if cfg.ShowStructure {
		if err := w.WriteSnapshot(snap); err != nil {
			logger.Errorf("Failed to write structure: %v", err)
			return exitFailure
		}
	}
	return exitOK
}

func runVerify(ctx context.Context, cfg *config.Config, w *report.Writer, metrics *report.Metrics) int {
	baseline, ok := loadBaseline(cfg.BaselineFile)
	if !ok {
		return exitFailure
	}
	target := scanTarget{
		root:        baseline.Root(),
		algorithm:   baseline.Algorithm(),
		rootKeyMode: baseline.RootKeyMode(),
		include:     baseline.IncludePatterns(),
		exclude:     baseline.ExcludePatterns(),
	}
	if (len(cfg.IncludePatterns) > 0 && !slices.Equal(cfg.IncludePatterns, target.include)) ||
		(len(cfg.ExcludePatterns) > 0 && !slices.Equal(cfg.ExcludePatterns, target.exclude)) {
		logger.Warnf("Ignoring --include/--exclude; verify uses the patterns stored in %s", cfg.BaselineFile)
	}
	current, ok := scan(ctx, cfg, target, metrics)
	if !ok {
		return exitFailure
	}

	result, err := differ.Diff(baseline, current)
	if err != nil {
		logger.Errorf("Failed to compare snapshots: %v", err)
		return exitFailure
	}
	for _, summary := range result.Folders() {
		logger.WithField("folder", summary.Folder).Debugf("added=%d removed=%d changed=%d", summary.Added, summary.Removed, summary.Changed)
	}
	if err := w.WriteDiff(result); err != nil {
		logger.Errorf("Failed to write diff: %v", err)
		return exitFailure
	}
	if cfg.ShowStructure {
		w.Printf("\nCurrent structure:\n")
		if err := w.WriteSnapshot(current); err != nil {
			logger.Errorf("Failed to write structure: %v", err)
			return exitFailure
		}
	}

	if result.Empty() {
		logger.Info("Verification completed: no changes.")
		return exitOK
	}
	logger.Warnf("Verification completed: %d added, %d removed, %d changed.", len(result.Added), len(result.Removed), len(result.Changed))
	return exitChanges
}

func runShow(cfg *config.Config, w *report.Writer) int {
	baseline, ok := loadBaseline(cfg.BaselineFile)
	if !ok {
		return exitFailure
	}
	if err := w.WriteSnapshot(baseline); err != nil {
		logger.Errorf("Failed to write baseline: %v", err)
		return exitFailure
	}
	return exitOK
}

func loadBaseline(path string) (*snapshot.Snapshot, bool) {
	baseline, err := snapshot.Load(path)
	if err != nil {
		if errors.Is(err, snapshot.ErrBaselineUnavailable) {
			logger.Errorf("Baseline not found or unreadable: %s (%v)", path, err)
		} else {
			logger.Errorf("Failed to load baseline: %v", err)
		}
		return nil, false
	}
	return baseline, true
}

// scanTarget names what to scan and how entries are keyed and filtered.
type scanTarget struct {
	root        string
	algorithm   string
	rootKeyMode string
	include     []string
	exclude     []string
}

func scan(ctx context.Context, cfg *config.Config, target scanTarget, metrics *report.Metrics) (*snapshot.Snapshot, bool) {
	root := target.root
	var stats scanner.Stats
	var progress atomic.Int64
	watchdog := diag.New(diag.Options{
		StallThreshold:     cfg.StallThreshold,
		Dir:                cfg.DiagDir,
		Root:               root,
		GoroutineProfile:   cfg.DiagGoroutine,
		Progress:           progress.Load,
		DumpFlightRecorder: tracing.WriteFlightRecorder,
	})
	watchdog.Start(ctx)
	snap, err := scanner.Scan(ctx, root, scanner.Options{
		Algorithm:       target.algorithm,
		RootKeyMode:     target.rootKeyMode,
		Concurrency:     cfg.ConcurrencyLevel,
		MaxIOPerSecond:  cfg.MaxIOPerSecond,
		ReadMode:        cfg.ReadMode,
		IncludePatterns: target.include,
		ExcludePatterns: target.exclude,
		ShowProgress:    !cfg.DisableProgress,
		Progress:        &progress,
		Stats:           &stats,
	})
	watchdog.Close()
	switch {
	case err == nil:
	case errors.Is(err, scanner.ErrRootUnavailable):
		logger.Errorf("Cannot scan %s: %v", root, err)
		return nil, false
	case errors.Is(err, context.Canceled):
		logger.Warn("Scan interrupted.")
		return nil, false
	default:
		logger.Errorf("Scanning failed: %v", err)
		return nil, false
	}

	metrics.Root = snap.Root()
	metrics.Folders = stats.Folders
	metrics.Files = stats.Files
	metrics.Failures = stats.Failures
	logger.Infof("Scanned %d files in %d folders under %s in %s (%d unreadable).",
		stats.Files, stats.Folders, snap.Root(), stats.Duration.Round(time.Millisecond), stats.Failures)
	return snap, true
}

// handleSignalEvent cancels the run on the first signal. It returns when a
// signal arrives or ctx is done.
func handleSignalEvent(ctx context.Context, cancelFunc context.CancelFunc, traceFlight bool, traceFlightFile string, sigChan <-chan os.Signal) {
	select {
	case <-ctx.Done():
		return
	case <-sigChan:
	}
	logger.Info("Interrupt signal received. Shutting down...")

	if traceFlight {
		if err := tracing.WriteFlightRecorder(traceFlightFile); err != nil {
			logger.Warnf("Failed to write flight recorder: %v", err)
		}
	}
	cancelFunc()
}
