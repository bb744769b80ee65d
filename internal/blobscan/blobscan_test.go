package blobscan

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestMD5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	data := []byte("firmware payload bytes")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := MD5(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := md5.Sum(data)
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("MD5() = %s, want %s", got, want)
	}
}

func TestStringsMinLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	data := []byte{0x00, 'i', 'n', 'i', 't', '=', '/', 's', 'b', 'i', 'n', '/', 'i', 'n', 'i', 't', 0x00, 'h', 'i', 0x00}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Strings(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "init=/sbin/init" {
		t.Errorf("Strings() = %#v, want single run %q", got, "init=/sbin/init")
	}
}

func TestContainsString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "httpd")
	os.WriteFile(path, []byte("junk\x00rip_multicast\x00more"), 0644)

	found, err := ContainsString(path, "rip_multicast")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("expected rip_multicast to be found")
	}

	found, err = ContainsString(path, "nonexistent_token")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("did not expect nonexistent_token to be found")
	}
}
