package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	if err := fs.Save(ctx, "projects/demo/project.json", []byte(`{"name":"demo"}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := fs.Load(ctx, "projects/demo/project.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"name":"demo"}` {
		t.Errorf("Load = %q", data)
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileSystem(dir)
	ctx := context.Background()

	if err := fs.Save(ctx, "p.json", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Save(ctx, "p.json", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	data, _ := fs.Load(ctx, "p.json")
	if string(data) != "v2" {
		t.Errorf("content = %q, want v2", data)
	}

	// No temp files may be left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "p.json" {
			t.Errorf("leftover file %q", e.Name())
		}
	}
}

func TestAppend(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	if err := fs.Append(ctx, "log.jsonl", []byte("line1\n")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Append(ctx, "log.jsonl", []byte("line2\n")); err != nil {
		t.Fatal(err)
	}

	data, err := fs.Load(ctx, "log.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line1\nline2\n" {
		t.Errorf("log = %q", data)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	for _, path := range []string{"../escape.json", "/etc/passwd", "a/../../b"} {
		if err := fs.Save(ctx, path, []byte("x")); err == nil {
			t.Errorf("Save(%q) should be rejected", path)
		}
		if _, err := fs.Load(ctx, path); err == nil {
			t.Errorf("Load(%q) should be rejected", path)
		}
	}
}

func TestList(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		if err := fs.Save(ctx, filepath.Join("projects", name, "project.json"), []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := fs.List(ctx, "projects/*/project.json")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("matches = %v, want 2 entries", matches)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"The Hollow City", "the-hollow-city"},
		{"  spaced  out  ", "spaced-out"},
		{"weird!@#chars", "weirdchars"},
		{"", "project"},
		{"---", "project"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
