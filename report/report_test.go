package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fimcheck/config"
	"fimcheck/differ"
	"fimcheck/logger"
	"fimcheck/snapshot"
)

func init() {
	logger.Init("error")
}

func sampleSnapshot() *snapshot.Snapshot {
	return snapshot.New("/srv/app", time.Date(2026, 2, 18, 10, 30, 0, 0, time.UTC), "", "", snapshot.Folders{
		"app": {
			"z.txt": snapshot.Digest("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"),
			"a.txt": snapshot.ScanError("permission denied"),
		},
		"app/empty": {},
	})
}

func TestWriteSnapshotText(t *testing.T) {
	var out bytes.Buffer
	metrics := &Metrics{}
	w, err := New(&config.Config{ReportFormat: "text"}, &out, metrics)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.WriteSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	text := out.String()
	if !strings.HasPrefix(text, "ROOT: /srv/app\nSCANNED_AT: ") {
		t.Fatalf("unexpected header:\n%s", text)
	}
	aIdx := strings.Index(text, "  a.txt → permission denied")
	zIdx := strings.Index(text, "  z.txt → 2cf24dba")
	if aIdx < 0 || zIdx < 0 || aIdx > zIdx {
		t.Fatalf("files missing or unsorted:\n%s", text)
	}
	if strings.Index(text, "Folder: app\n") > strings.Index(text, "Folder: app/empty\n") {
		t.Fatalf("folders unsorted:\n%s", text)
	}
	if metrics.Files != 2 || metrics.Failures != 1 || metrics.Folders != 2 || metrics.Root != "/srv/app" {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
	if metrics.EndTime == "" {
		t.Fatal("expected end time to be set on close")
	}
}

func TestWriteDiffText(t *testing.T) {
	var out bytes.Buffer
	w, err := New(nil, &out, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.Printf("Baseline created at %s\n", "b.json")
	if err := w.WriteDiff(&differ.Result{
		Added:   []string{"dirB/g.txt"},
		Changed: []string{"dirA/f.txt"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	want := "Baseline created at b.json\nChanges detected:\nADDED:\n  dirB/g.txt\n\nCHANGED:\n  dirA/f.txt\n\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", out.String(), want)
	}
}

func TestWriteDiffNoChanges(t *testing.T) {
	var out bytes.Buffer
	w, _ := New(nil, &out, nil)
	if err := w.WriteDiff(&differ.Result{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()
	if out.String() != "No changes found.\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestJSONReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	cfg := &config.Config{ReportFormat: "json", ReportFile: path}
	metrics := &Metrics{StartTime: "2026-02-18T10:29:00Z"}
	w, err := New(cfg, nil, metrics)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.Printf("ignored in json mode\n")
	if err := w.WriteSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := w.WriteDiff(&differ.Result{Removed: []string{"app/gone.txt"}}); err != nil {
		t.Fatalf("diff: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected 0600 report, got %v", info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		SchemaVersion string          `json:"schema_version"`
		Snapshot      snapshot.Record `json:"snapshot"`
		Diff          struct {
			Added   []string               `json:"added"`
			Removed []string               `json:"removed"`
			Folders []differ.FolderSummary `json:"folders"`
		} `json:"diff"`
		Metrics Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	if doc.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version %q", doc.SchemaVersion)
	}
	if doc.Snapshot.Root != "/srv/app" || len(doc.Snapshot.Data["app"]) != 2 {
		t.Fatalf("unexpected snapshot %+v", doc.Snapshot)
	}
	if doc.Diff.Added == nil || len(doc.Diff.Added) != 0 {
		t.Fatalf("expected empty added list, got %v", doc.Diff.Added)
	}
	if len(doc.Diff.Removed) != 1 || len(doc.Diff.Folders) != 1 || doc.Diff.Folders[0].Folder != "app" {
		t.Fatalf("unexpected diff %+v", doc.Diff)
	}
	if doc.Metrics.Removed != 1 || doc.Metrics.Files != 2 {
		t.Fatalf("unexpected metrics %+v", doc.Metrics)
	}
	if strings.Contains(string(data), "ignored in json mode") {
		t.Fatal("text output leaked into json report")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&config.Config{ReportFormat: "csv"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWriteSnapshotNil(t *testing.T) {
	w, _ := New(nil, &bytes.Buffer{}, nil)
	if err := w.WriteSnapshot(nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
}

func TestChangePayloadSplitsPath(t *testing.T) {
	p := changePayload("added", "a/b/c.txt")
	if p["folder"] != "a/b" || p["name"] != "c.txt" {
		t.Fatalf("unexpected payload %v", p)
	}
	p = changePayload("added", "top.txt")
	if p["folder"] != "" || p["name"] != "top.txt" {
		t.Fatalf("unexpected payload %v", p)
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]int{"b/c": 1, "": 2, "a": 3, "b": 4})
	want := []string{"", "a", "b", "b/c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("sortedKeys = %q, want %q", got, want)
	}
	if got := sortedKeys(map[string]snapshot.Entry{}); len(got) != 0 {
		t.Fatalf("expected no keys, got %q", got)
	}
}
