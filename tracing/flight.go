package tracing

import (
	"os"
	"runtime/trace"
	"sync"
	"time"
)

// The flight recorder is available in every build so stall and signal dumps
// work without the trace tag.
var (
	flightMu       sync.Mutex
	flightRecorder *trace.FlightRecorder
)

// StartFlightRecorder enables the in-memory flight recorder.
func StartFlightRecorder(maxBytes uint64, minAge time.Duration) error {
	flightMu.Lock()
	defer flightMu.Unlock()
	if flightRecorder != nil {
		return nil
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MaxBytes: maxBytes,
		MinAge:   minAge,
	})
	if err := fr.Start(); err != nil {
		return err
	}
	flightRecorder = fr
	return nil
}

// StopFlightRecorder stops the flight recorder if it is running.
func StopFlightRecorder() {
	flightMu.Lock()
	defer flightMu.Unlock()
	if flightRecorder != nil {
		flightRecorder.Stop()
		flightRecorder = nil
	}
}

// WriteFlightRecorder writes the current window to path. It does nothing
// when the recorder is not running.
func WriteFlightRecorder(path string) error {
	flightMu.Lock()
	defer flightMu.Unlock()
	if flightRecorder == nil || !flightRecorder.Enabled() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := flightRecorder.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
