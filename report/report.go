package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"fimcheck/config"
	"fimcheck/differ"
	"fimcheck/logger"
	"fimcheck/snapshot"
	"fimcheck/systeminfo"

	"golang.org/x/exp/maps"
)

// SchemaVersion tags JSON reports and exported OTEL records.
const SchemaVersion = "1.0"

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Metrics struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Root      string `json:"root,omitempty"`
	Folders   int    `json:"folders"`
	Files     int    `json:"files"`
	Failures  int    `json:"failures"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	Changed   int    `json:"changed"`

	Host *systeminfo.Host `json:"host,omitempty"`
}

type diffDocument struct {
	Added   []string               `json:"added"`
	Removed []string               `json:"removed"`
	Changed []string               `json:"changed"`
	Folders []differ.FolderSummary `json:"folders"`
}

type document struct {
	SchemaVersion string           `json:"schema_version"`
	Snapshot      *snapshot.Record `json:"snapshot,omitempty"`
	Diff          *diffDocument    `json:"diff,omitempty"`
	Metrics       *Metrics         `json:"metrics,omitempty"`
}

// Writer renders snapshots and diffs as text or as a single JSON document
// written on Close.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	format  string
	metrics *Metrics
	doc     document
	otel    *otelLogger
	closed  bool
}

// New returns a Writer targeting cfg.ReportFile, or out when no report file
// is configured. m may be nil.
func New(cfg *config.Config, out io.Writer, m *Metrics) (*Writer, error) {
	format := FormatText
	reportFile := ""
	if cfg != nil {
		if f := strings.ToLower(strings.TrimSpace(cfg.ReportFormat)); f != "" {
			format = f
		}
		reportFile = cfg.ReportFile
	}
	if format != FormatText && format != FormatJSON {
		return nil, fmt.Errorf("invalid report format: %s", format)
	}

	w := &Writer{
		format:  format,
		metrics: m,
		doc:     document{SchemaVersion: SchemaVersion},
	}
	if reportFile != "" {
		f, err := os.OpenFile(reportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, err
		}
		w.file = f
		out = f
	}
	if out == nil {
		out = os.Stdout
	}
	w.buf = bufio.NewWriterSize(out, 64*1024)

	if cfg != nil {
		otel, err := newOtelLogger(cfg)
		if err != nil {
			logger.Warnf("OTEL export disabled: %v", err)
		} else {
			w.otel = otel
		}
	}
	return w, nil
}

// Format returns the output format in use.
func (w *Writer) Format() string {
	return w.format
}

// Printf writes a free-form line in text mode. JSON reports ignore it.
func (w *Writer) Printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.format != FormatText {
		return
	}
	fmt.Fprintf(w.buf, format, args...)
}

// WriteSnapshot renders every folder and file of s in sorted order.
func (w *Writer) WriteSnapshot(s *snapshot.Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", snapshot.ErrMalformedSnapshot)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.Root = s.Root()
		w.metrics.Folders = len(s.FolderKeys())
		w.metrics.Files = s.Len()
		w.metrics.Failures = s.Failures()
	}

	if w.format == FormatJSON {
		rec := s.Record()
		w.doc.Snapshot = &rec
		return nil
	}

	fmt.Fprintf(w.buf, "ROOT: %s\n", s.Root())
	fmt.Fprintf(w.buf, "SCANNED_AT: %s\n\n", formatScanTime(s.TakenAt()))
	folders := s.Folders()
	for _, folder := range sortedKeys(folders) {
		fmt.Fprintf(w.buf, "Folder: %s\n", folder)
		files := folders[folder]
		for _, name := range sortedKeys(files) {
			fmt.Fprintf(w.buf, "  %s → %s\n", name, files[name])
		}
		w.buf.WriteString("\n")
	}
	return w.buf.Flush()
}

// WriteDiff renders a diff result and exports one change record per path.
func (w *Writer) WriteDiff(r *differ.Result) error {
	if r == nil {
		r = &differ.Result{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.Added = len(r.Added)
		w.metrics.Removed = len(r.Removed)
		w.metrics.Changed = len(r.Changed)
	}
	r.Each(func(kind, path string) {
		w.emitRecordLocked("change", changePayload(kind, path))
	})

	if w.format == FormatJSON {
		w.doc.Diff = &diffDocument{
			Added:   nonNil(r.Added),
			Removed: nonNil(r.Removed),
			Changed: nonNil(r.Changed),
			Folders: r.Folders(),
		}
		return nil
	}

	if r.Empty() {
		w.buf.WriteString("No changes found.\n")
		return w.buf.Flush()
	}
	w.buf.WriteString("Changes detected:\n")
	sections := []struct {
		title string
		paths []string
	}{
		{"ADDED", r.Added},
		{"REMOVED", r.Removed},
		{"CHANGED", r.Changed},
	}
	for _, section := range sections {
		if len(section.paths) == 0 {
			continue
		}
		fmt.Fprintf(w.buf, "%s:\n", section.title)
		for _, p := range section.paths {
			fmt.Fprintf(w.buf, "  %s\n", p)
		}
		w.buf.WriteString("\n")
	}
	return w.buf.Flush()
}

// Close writes the JSON document (JSON mode), flushes, closes the report
// file and shuts down OTEL export. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if w.metrics != nil && w.metrics.EndTime == "" {
		w.metrics.EndTime = time.Now().Format(time.RFC3339)
	}
	w.emitMetricsLocked()

	var err error
	if w.format == FormatJSON {
		w.doc.Metrics = w.metrics
		var data []byte
		data, err = jsonMarshalIndent(w.doc, "", "  ")
		if err == nil {
			w.buf.Write(data)
			w.buf.WriteString("\n")
		}
	}
	if ferr := w.buf.Flush(); err == nil {
		err = ferr
	}
	if w.file != nil {
		_ = w.file.Sync()
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	if w.otel != nil {
		w.otel.Shutdown()
	}
	return err
}

func (w *Writer) emitMetricsLocked() {
	if w.metrics == nil {
		return
	}
	w.emitRecordLocked("metrics", w.metrics)
}

func (w *Writer) emitRecordLocked(recordType string, payload interface{}) {
	if w.otel == nil {
		return
	}
	w.otel.Emit(recordType, payload)
}

func changePayload(kind, path string) map[string]interface{} {
	folder, name := "", path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		folder, name = path[:idx], path[idx+1:]
	}
	return map[string]interface{}{
		"kind":   kind,
		"path":   path,
		"folder": folder,
		"name":   name,
	}
}

func formatScanTime(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05.000000")
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
