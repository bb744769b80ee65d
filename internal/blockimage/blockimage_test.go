package blockimage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestZeroFillCreatesExactSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.img")
	const size = 8192

	if err := zeroFill(path, size); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != size {
		t.Errorf("size = %d, want %d", info.Size(), size)
	}
}

func TestCreateRawImgRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.img")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	err := CreateRawImg(context.Background(), path, 4096)
	if err == nil {
		t.Fatal("expected error for pre-existing raw image path")
	}
}
