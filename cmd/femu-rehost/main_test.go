package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFirmwareTargetsSingleFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	targets, err := firmwareTargets(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0] != f {
		t.Fatalf("targets = %#v", targets)
	}
}

func TestFirmwareTargetsDirectorySkipsSubdirs(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.bin"), []byte("a"), 0644)
	os.WriteFile(filepath.Join(dir, "b.bin"), []byte("b"), 0644)
	os.MkdirAll(filepath.Join(dir, "subdir"), 0755)

	targets, err := firmwareTargets(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %#v, want 2 regular files and no subdir", targets)
	}
}

func TestFirmwareTargetsMissingPath(t *testing.T) {
	if _, err := firmwareTargets("/nonexistent/path/for/test"); err == nil {
		t.Fatal("expected an error for a missing input path")
	}
}
