package rootfsmat

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
)

func buildTarball(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tw := tar.NewWriter(f)
	defer tw.Close()

	if err := tw.WriteHeader(&tar.Header{Name: "./etc", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatal(err)
	}
	content := []byte("127.0.0.1 localhost\n")
	if err := tw.WriteHeader(&tar.Header{Name: "./etc/hosts", Mode: 0644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:     "./bin/sh",
		Typeflag: tar.TypeSymlink,
		Linkname: "/bin/busybox",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestMaterialise(t *testing.T) {
	dir := t.TempDir()
	tb := filepath.Join(dir, "rootfs.tar")
	buildTarball(t, tb)

	dest := filepath.Join(dir, "mnt")
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}

	if err := Materialise(tb, dest); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "etc", "hosts"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "127.0.0.1 localhost\n" {
		t.Errorf("etc/hosts content = %q", data)
	}

	link, err := os.Readlink(filepath.Join(dest, "bin", "sh"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "/bin/busybox" {
		t.Errorf("bin/sh symlink target = %q, want /bin/busybox", link)
	}
}

func TestMaterialiseNeutralisesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	tb := filepath.Join(dir, "evil.tar")

	f, err := os.Create(tb)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(f)
	content := []byte("pwned")
	if err := tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	tw.Write(content)
	tw.Close()
	f.Close()

	dest := filepath.Join(dir, "mnt")
	os.MkdirAll(dest, 0755)
	if err := Materialise(tb, dest); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "etc", "passwd")); err == nil {
		t.Fatal("traversal entry must not land outside the destination root")
	}
	if _, err := os.Stat(filepath.Join(dest, "etc", "passwd")); err != nil {
		t.Errorf("expected traversal entry to be contained under dest/etc/passwd: %v", err)
	}
}
