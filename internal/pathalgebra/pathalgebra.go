// Package pathalgebra implements the bidirectional guest<->host path
// translation and symlink-chain resolution described in spec.md §4.1.
// It is a direct Go translation of the original prototype's
// guestUtils.py, which spec.md §9 Design Note (iv) calls out as the
// authoritative variant.
package pathalgebra

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotRooted is returned when a path handed to GuestToHost/HostToGuest
// does not start with '/'.
var ErrNotRooted = errors.New("path does not start with '/'")

// maxSymlinkDepth bounds the chain walker so a cyclic symlink cannot hang
// the pipeline. spec.md §4.1 requires "at least 40".
const maxSymlinkDepth = 40

// GuestToHost translates a guest-rooted path (leading '/') into its
// corresponding path under the mounted root rootHost.
func GuestToHost(rootHost, guestPath string) (string, error) {
	if !strings.HasPrefix(rootHost, "/") || !strings.HasPrefix(guestPath, "/") {
		return "", errors.Wrapf(ErrNotRooted, "root=%q path=%q", rootHost, guestPath)
	}
	root := strings.TrimSuffix(rootHost, "/")
	return filepath.Join(root, guestPath), nil
}

// HostToGuest is the inverse of GuestToHost: it strips a rootHost prefix
// from a host path, yielding a guest-rooted path.
func HostToGuest(rootHost, hostPath string) (string, error) {
	if !strings.HasPrefix(rootHost, "/") || !strings.HasPrefix(hostPath, "/") {
		return "", errors.Wrapf(ErrNotRooted, "root=%q path=%q", rootHost, hostPath)
	}
	root := strings.TrimSuffix(rootHost, "/")
	if !strings.HasPrefix(hostPath, root) {
		return hostPath, nil
	}
	rest := strings.Replace(hostPath, root, "", 1)
	if rest == "" {
		return "/", nil
	}
	return rest, nil
}

// toHost normalizes a path that may be either guest- or host-rooted into
// a host path, matching the Python prototype's "if not path.startswith(
// imagePath)" heuristic.
func toHost(rootHost, path string) (string, error) {
	if strings.HasPrefix(path, rootHost) {
		return path, nil
	}
	return GuestToHost(rootHost, path)
}

// resolveChain follows a (possibly chained) symlink starting at a host
// path, re-translating each raw target as guest-rooted, until it reaches
// a non-symlink, the bound is exceeded, or a path fails to exist. It
// returns the final host path and whether the chain terminated within
// the bound (false means "treat as does not exist" per spec.md §7
// PathError policy).
func resolveChain(rootHost, hostPath string) (string, bool) {
	current := hostPath
	for i := 0; i < maxSymlinkDepth; i++ {
		info, err := os.Lstat(current)
		if err != nil {
			return current, false
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return current, true
		}
		target, err := os.Readlink(current)
		if err != nil {
			return current, false
		}
		next, err := GuestToHost(rootHost, target)
		if err != nil {
			return current, false
		}
		current = next
	}
	return current, false
}

// ExistsInGuest reports whether path (guest- or host-rooted) exists,
// following any symlink chain.
func ExistsInGuest(rootHost, path string) bool {
	host, err := toHost(rootHost, path)
	if err != nil {
		return false
	}
	resolved, ok := resolveChain(rootHost, host)
	if !ok {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// IsFileInGuest reports whether path resolves to a regular file.
func IsFileInGuest(rootHost, path string) bool {
	host, err := toHost(rootHost, path)
	if err != nil {
		return false
	}
	resolved, ok := resolveChain(rootHost, host)
	if !ok {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && info.Mode().IsRegular()
}

// IsDirInGuest reports whether path resolves to a directory.
func IsDirInGuest(rootHost, path string) bool {
	host, err := toHost(rootHost, path)
	if err != nil {
		return false
	}
	resolved, ok := resolveChain(rootHost, host)
	if !ok {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && info.IsDir()
}

// IsFileInGuestNotEmpty reports whether path resolves to a non-empty
// regular file.
func IsFileInGuestNotEmpty(rootHost, path string) bool {
	host, err := toHost(rootHost, path)
	if err != nil {
		return false
	}
	resolved, ok := resolveChain(rootHost, host)
	if !ok {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// ReadGuestLink reads the symlink at hostPath (a host path), optionally
// translating its raw target back to a host path via rootHost. If
// hostPath does not exist or is not a symlink, it is returned unchanged.
func ReadGuestLink(hostPath, rootHost string, translateToHost bool) string {
	info, err := os.Lstat(hostPath)
	if err != nil {
		return hostPath
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return hostPath
	}
	target, err := os.Readlink(hostPath)
	if err != nil {
		return hostPath
	}
	if !translateToHost {
		return target
	}
	root := rootHost
	if root == "" {
		root, _ = os.Getwd()
	}
	translated, err := GuestToHost(root, target)
	if err != nil {
		return target
	}
	return translated
}

// RecursiveGuestChmod changes the permissions of path if it is not a
// directory, or, if it is, of every file and subdirectory beneath it
// (the directory itself is left unchanged), without following
// symlinks encountered during the walk -- except when path itself is a
// symlink, in which case the chain is resolved once and the walk starts
// from the resolved target. When addPerms is true, mode is OR-ed onto
// the existing permission bits; otherwise the mode replaces them.
func RecursiveGuestChmod(path string, mode os.FileMode, rootHost string, addPerms bool) error {
	if rootHost != "" && !strings.HasPrefix(path, rootHost) {
		translated, err := GuestToHost(rootHost, path)
		if err != nil {
			return err
		}
		path = translated
	}

	if _, err := os.Lstat(path); err != nil {
		return nil // warning-only per spec.md §7: non-existent chmod targets are not errors
	}

	resolved, ok := resolveChain(rootHost, path)
	if !ok {
		return nil
	}
	path = resolved

	if _, err := os.Stat(path); err != nil {
		return nil
	}

	change := func(p string) error {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if addPerms {
			return os.Chmod(p, info.Mode().Perm()|mode)
		}
		return os.Chmod(p, mode)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		return change(path)
	}

	return filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == path {
			return nil
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return change(p)
	})
}
