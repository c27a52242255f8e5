//go:build trace

// Package tracing annotates scans for runtime/trace. With the trace build tag
// Start writes an execution trace covering scan tasks and hash regions.
package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

var traceFile *os.File

// Start enables runtime tracing and writes trace data to path, or trace.out
// when path is empty.
func Start(path string) error {
	if path == "" {
		path = "trace.out"
	}
	var err error
	traceFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	return trace.Start(traceFile)
}

// Stop stops runtime tracing and closes the trace file.
func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
	}
}

// StartTask begins a trace task and returns the derived context and a function
// to end the task.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

// StartRegion marks the beginning of a region in the trace and returns a
// function that ends the region when invoked.
func StartRegion(ctx context.Context, name string) func() {
	region := trace.StartRegion(ctx, name)
	return region.End
}

// Log adds a trace event with the provided category and message.
func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
