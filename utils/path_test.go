package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandHome("~")
	if err != nil || got != home {
		t.Fatalf("expand ~: %q %v", got, err)
	}
	got, err = ExpandHome("~/configs")
	if err != nil || got != filepath.Join(home, "configs") {
		t.Fatalf("expand ~/configs: %q %v", got, err)
	}
	got, err = ExpandHome("/etc/~backup")
	if err != nil || got != "/etc/~backup" {
		t.Fatalf("unexpected expansion: %q %v", got, err)
	}
}

func TestCanonicalPathResolvesSymlinks(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	target := filepath.Join(base, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := CanonicalPath(link + string(filepath.Separator) + ".")
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if got != target {
		t.Fatalf("expected %s, got %s", target, got)
	}
}

func TestCanonicalPathMissing(t *testing.T) {
	if _, err := CanonicalPath(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestRelativeKey(t *testing.T) {
	root := filepath.Join("/", "srv", "app")
	cases := map[string]string{
		root:                                 ".",
		filepath.Join(root, "conf"):          "conf",
		filepath.Join(root, "conf", "nginx"): "conf/nginx",
	}
	for dir, want := range cases {
		got, err := RelativeKey(root, dir)
		if err != nil || got != want {
			t.Fatalf("RelativeKey(%s) = %q, %v; want %q", dir, got, err, want)
		}
	}
	if _, err := RelativeKey(root, filepath.Join("/", "srv")); err == nil {
		t.Fatal("expected error for path outside root")
	}
}
