package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func sampleSnapshot() *Snapshot {
	return New("/srv/app", time.Unix(1700000000, 250000000), "", "", Folders{
		"app":      {"report.txt": Digest(helloSHA256), "locked.key": ScanError("open /srv/app/locked.key: permission denied")},
		"conf":     {"nginx.conf": Digest(strings.Repeat("a", 64))},
		"conf/tmp": {},
	})
}

func TestParseEntry(t *testing.T) {
	if e := ParseEntry(helloSHA256); e.IsError() || e.String() != helloSHA256 {
		t.Fatalf("expected digest entry, got %+v", e)
	}
	if e := ParseEntry("open x: permission denied"); !e.IsError() {
		t.Fatal("expected error entry")
	}
	if e := ParseEntry(strings.ToUpper(helloSHA256)); !e.IsError() {
		t.Fatal("uppercase hex is not a digest we produce")
	}
	if !Digest("x").Equal(Digest("x")) || Digest("x").Equal(ScanError("x")) {
		t.Fatal("equality must consider kind and value")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	folders := Folders{"app": {"a.txt": Digest(helloSHA256)}}
	s := New("/srv/app", time.Now(), "", "", folders)

	folders["app"]["a.txt"] = ScanError("mutated")
	files := s.Files("app")
	files["b.txt"] = Digest(helloSHA256)
	all := s.Folders()
	delete(all, "app")

	if e, ok := s.Lookup("app", "a.txt"); !ok || e.IsError() {
		t.Fatalf("snapshot changed through caller map: %+v", e)
	}
	if _, ok := s.Lookup("app", "b.txt"); ok {
		t.Fatal("snapshot changed through Files copy")
	}
	if !s.HasFolder("app") {
		t.Fatal("snapshot changed through Folders copy")
	}
}

func TestCounts(t *testing.T) {
	s := sampleSnapshot()
	if s.Len() != 3 {
		t.Fatalf("expected 3 files, got %d", s.Len())
	}
	if s.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", s.Failures())
	}
	if len(s.FolderKeys()) != 3 {
		t.Fatalf("expected 3 folders, got %v", s.FolderKeys())
	}
	if s.Files("missing") != nil {
		t.Fatal("expected nil for missing folder")
	}
}

func TestRootKey(t *testing.T) {
	if got := RootKeyFor("/srv/app", ""); got != "app" {
		t.Fatalf("name mode: %q", got)
	}
	if got := RootKeyFor("/srv/app", RootKeySentinel); got != "" {
		t.Fatalf("sentinel mode: %q", got)
	}
	if got := RootKeyFor(string(filepath.Separator), RootKeyName); got != "" {
		t.Fatalf("filesystem root: %q", got)
	}
	if got := JoinPath(RootKeyFor(string(filepath.Separator), ""), "etc"); got != "etc" {
		t.Fatalf("filesystem root path: %q", got)
	}
	if JoinPath("", "f.txt") != "f.txt" || JoinPath("dirA", "f.txt") != "dirA/f.txt" {
		t.Fatal("unexpected composite path")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	orig := sampleSnapshot()
	rec := orig.Record()
	if rec.Algorithm != "" || rec.RootKeyMode != "" {
		t.Fatalf("defaults should be omitted: %+v", rec)
	}
	if rec.ScannedAt != 1700000000.25 {
		t.Fatalf("unexpected scanned_at: %v", rec.ScannedAt)
	}

	back, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if back.Root() != orig.Root() || !back.TakenAt().Equal(orig.TakenAt()) {
		t.Fatalf("root/time mismatch: %s %v", back.Root(), back.TakenAt())
	}
	e, ok := back.Lookup("app", "locked.key")
	if !ok || !e.IsError() {
		t.Fatalf("error entry not preserved: %+v", e)
	}
	if !back.HasFolder("conf/tmp") {
		t.Fatal("empty folder lost in round trip")
	}
}

func TestFromRecordRejectsMalformed(t *testing.T) {
	cases := []Record{
		{Root: "/srv/app"},
		{Data: map[string]map[string]string{}},
		{Root: "/srv/app", Data: map[string]map[string]string{}, RootKeyMode: "other"},
		{Root: "/srv/app", Data: map[string]map[string]string{}, Algorithm: "md5"},
	}
	for i, rec := range cases {
		if _, err := FromRecord(rec); !errors.Is(err, ErrMalformedSnapshot) {
			t.Fatalf("case %d: expected malformed error, got %v", i, err)
		}
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	orig := sampleSnapshot()
	if err := Save(path, orig); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	raw, _ := os.ReadFile(path)
	text := string(raw)
	if strings.Index(text, `"data"`) > strings.Index(text, `"root"`) || strings.Index(text, `"root"`) > strings.Index(text, `"scanned_at"`) {
		t.Fatalf("keys not in sorted order:\n%s", text)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != orig.Len() || loaded.Root() != orig.Root() {
		t.Fatalf("loaded snapshot differs: %d files root %s", loaded.Len(), loaded.Root())
	}
}

func TestLoadBaselineUnavailable(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrBaselineUnavailable) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected unavailable/not-exist, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.json")
	os.WriteFile(garbage, []byte("{not json"), 0o600)
	if _, err := Load(garbage); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("expected unavailable for garbage, got %v", err)
	}

	noData := filepath.Join(dir, "nodata.json")
	os.WriteFile(noData, []byte(`{"root":"/srv/app","scanned_at":1}`), 0o600)
	_, err := Load(noData)
	if !errors.Is(err, ErrBaselineUnavailable) || !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("expected unavailable+malformed, got %v", err)
	}
}

func TestUnmarshalLegacyBaseline(t *testing.T) {
	legacy := `{
  "data": {
    "app": {"report.txt": "` + helloSHA256 + `"},
    "logs": {}
  },
  "root": "/srv/app",
  "scanned_at": 1700000000.5
}`
	s, err := Unmarshal([]byte(legacy))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Algorithm() != "sha256" || s.RootKeyMode() != RootKeyName || s.RootKey() != "app" {
		t.Fatalf("unexpected defaults: %s %s %s", s.Algorithm(), s.RootKeyMode(), s.RootKey())
	}
	if e, ok := s.Lookup("app", "report.txt"); !ok || e.String() != helloSHA256 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestFiltersRoundTrip(t *testing.T) {
	orig := sampleSnapshot().WithFilters([]string{"*.conf"}, []string{"tmp"})
	rec := orig.Record()
	if len(rec.Include) != 1 || len(rec.Exclude) != 1 {
		t.Fatalf("patterns missing from record: %+v", rec)
	}
	if plain := sampleSnapshot().Record(); plain.Include != nil || plain.Exclude != nil {
		t.Fatalf("unfiltered snapshot should omit patterns: %+v", plain)
	}

	data, err := Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if inc := back.IncludePatterns(); len(inc) != 1 || inc[0] != "*.conf" {
		t.Fatalf("include patterns = %q", inc)
	}
	if exc := back.ExcludePatterns(); len(exc) != 1 || exc[0] != "tmp" {
		t.Fatalf("exclude patterns = %q", exc)
	}
	if back.Len() != orig.Len() {
		t.Fatalf("entries lost: %d vs %d", back.Len(), orig.Len())
	}

	inc := back.IncludePatterns()
	inc[0] = "mutated"
	if back.IncludePatterns()[0] != "*.conf" {
		t.Fatal("accessor exposed internal slice")
	}
}
