package pathalgebra

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGuestHostRoundTrip(t *testing.T) {
	cases := []struct {
		root, guest string
	}{
		{"/mnt/img1", "/etc/passwd"},
		{"/mnt/img1/", "/"},
		{"/a/b/c", "/firmadyne/init"},
	}
	for _, c := range cases {
		host, err := GuestToHost(c.root, c.guest)
		if err != nil {
			t.Fatalf("GuestToHost(%q,%q): %v", c.root, c.guest, err)
		}
		back, err := HostToGuest(c.root, host)
		if err != nil {
			t.Fatalf("HostToGuest(%q,%q): %v", c.root, host, err)
		}
		if back != c.guest {
			t.Errorf("round trip mismatch: got %q want %q", back, c.guest)
		}
	}
}

func TestGuestToHostRejectsUnrooted(t *testing.T) {
	if _, err := GuestToHost("mnt", "/etc"); err == nil {
		t.Fatal("expected error for unrooted root path")
	}
	if _, err := GuestToHost("/mnt", "etc"); err == nil {
		t.Fatal("expected error for unrooted guest path")
	}
}

func TestExistsInGuestFollowsChain(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "bin"))
	realFile := filepath.Join(root, "bin", "busybox")
	if err := os.WriteFile(realFile, []byte("x"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/bin/busybox", filepath.Join(root, "sbin-init-link")); err != nil {
		t.Skip("symlinks unsupported in this environment")
	}

	if !ExistsInGuest(root, "/sbin-init-link") {
		t.Error("expected symlink chain to resolve to an existing file")
	}
	if !IsFileInGuest(root, "/sbin-init-link") {
		t.Error("expected symlink chain to resolve to a regular file")
	}
}

func TestExistsInGuestCyclicSymlinkBounded(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	if err := os.Symlink("/b", a); err != nil {
		t.Skip("symlinks unsupported in this environment")
	}
	if err := os.Symlink("/a", b); err != nil {
		t.Fatal(err)
	}

	if ExistsInGuest(root, "/a") {
		t.Error("cyclic symlink chain should be reported as not existing")
	}
}

func TestIsFileInGuestNotEmpty(t *testing.T) {
	root := t.TempDir()
	empty := filepath.Join(root, "empty")
	nonEmpty := filepath.Join(root, "full")
	os.WriteFile(empty, nil, 0644)
	os.WriteFile(nonEmpty, []byte("data"), 0644)

	if IsFileInGuestNotEmpty(root, "/empty") {
		t.Error("empty file should not satisfy IsFileInGuestNotEmpty")
	}
	if !IsFileInGuestNotEmpty(root, "/full") {
		t.Error("non-empty file should satisfy IsFileInGuestNotEmpty")
	}
}

func TestRecursiveGuestChmodAddPerms(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sbin")
	mustMkdir(t, dir)
	file := filepath.Join(dir, "init")
	os.WriteFile(file, []byte("x"), 0644)

	if err := RecursiveGuestChmod("/sbin", 0o111, root, true); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 != 0o111 {
		t.Errorf("expected execute bits set, got %v", info.Mode().Perm())
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
}
