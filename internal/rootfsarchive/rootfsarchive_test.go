package rootfsarchive

import (
	"archive/tar"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTestTarball(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	content := []byte("#!/bin/sh\nexec busybox \"$@\"\n")
	hdr := &tar.Header{
		Name: "./bin/busybox",
		Mode: 0755,
		Size: int64(len(content)),
		Uid:  0, Gid: 0,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}

	linkHdr := &tar.Header{
		Name:     "./sbin/init",
		Typeflag: tar.TypeSymlink,
		Linkname: "/bin/busybox",
	}
	if err := tw.WriteHeader(linkHdr); err != nil {
		t.Fatal(err)
	}
}

func TestFilesAndLinks(t *testing.T) {
	dir := t.TempDir()
	tb := filepath.Join(dir, "rootfs.tar")
	writeTestTarball(t, tb)

	files, err := Files(tb)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "/bin/busybox" {
		t.Fatalf("Files() = %#v", files)
	}
	content := []byte("#!/bin/sh\nexec busybox \"$@\"\n")
	sum := md5.Sum(content)
	if files[0].MD5 != hex.EncodeToString(sum[:]) {
		t.Errorf("MD5 mismatch: got %s", files[0].MD5)
	}

	links, err := Links(tb)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].Name != "/sbin/init" || links[0].Target != "/bin/busybox" {
		t.Fatalf("Links() = %#v", links)
	}
}

func TestExecutablePicks(t *testing.T) {
	dir := t.TempDir()
	tb := filepath.Join(dir, "rootfs.tar")
	writeTestTarball(t, tb)

	picks, err := ExecutablePicks(tb)
	if err != nil {
		t.Fatal(err)
	}
	if len(picks) != 1 || picks[0] != "/bin/busybox" {
		t.Fatalf("ExecutablePicks() = %#v", picks)
	}
}
