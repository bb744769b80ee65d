// Package rootfsmat unpacks a recovered root-filesystem tarball into a
// mounted image directory, preserving permissions, ownership, and
// symlinks exactly.
//
// Grounded on original_source/src/emulator.py's extractFs (which
// delegates to Python's shutil.unpack_archive) and the teacher's
// system/targen/tar.go for the archive/tar idiom. Unlike
// shutil.unpack_archive, this implementation restores uid/gid on every
// extracted entry, since spec.md §4.7 calls for ownership preservation
// and the Python original silently drops it.
package rootfsmat

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var mlog = log.WithField("component", "rootfsmat")

// Materialise unpacks the tarball at tarballPath into destRoot, which
// must already be a mounted, writable directory (the mounted ext2
// image). Regular files, directories, symlinks, and hard links are
// supported; other tar entry types are skipped with a warning.
func Materialise(tarballPath, destRoot string) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return errors.Wrapf(err, "opening tarball %s", tarballPath)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var count int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "reading tarball %s", tarballPath)
		}

		target := safeJoin(destRoot, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode&0o7777)); err != nil {
				return errors.Wrapf(err, "creating directory %s", target)
			}
			os.Chown(target, hdr.Uid, hdr.Gid)
		case tar.TypeReg, tar.TypeRegA:
			if err := extractRegular(tr, target, hdr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.Wrapf(err, "creating symlink %s -> %s", target, hdr.Linkname)
			}
			chownNoFollow(target, hdr.Uid, hdr.Gid)
		case tar.TypeLink:
			hardTarget := safeJoin(destRoot, hdr.Linkname)
			if err := os.Link(hardTarget, target); err != nil {
				return errors.Wrapf(err, "creating hard link %s -> %s", target, hardTarget)
			}
		default:
			mlog.WithField("name", hdr.Name).WithField("type", hdr.Typeflag).Warn("skipping unsupported tar entry type")
			continue
		}
		count++
	}

	mlog.WithField("tarball", tarballPath).WithField("dest", destRoot).WithField("count", count).Info("materialised root filesystem")
	return nil
}

// safeJoin joins destRoot with the tarball member name. Rooting the
// member name at "/" before cleaning neutralises ".." traversal: any
// leading ".." components collapse against the synthetic root instead
// of escaping destRoot.
func safeJoin(destRoot, name string) string {
	cleanName := strings.TrimPrefix(filepath.Clean("/"+name), "/")
	return filepath.Join(destRoot, cleanName)
}

func extractRegular(tr *tar.Reader, target string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, "creating parent directory for %s", target)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o7777))
	if err != nil {
		return errors.Wrapf(err, "creating file %s", target)
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return errors.Wrapf(err, "writing file %s", target)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "closing file %s", target)
	}
	if err := os.Chmod(target, os.FileMode(hdr.Mode&0o7777)); err != nil {
		return errors.Wrapf(err, "chmod %s", target)
	}
	os.Chown(target, hdr.Uid, hdr.Gid)
	return nil
}

// chownNoFollow best-effort chowns a symlink's own ownership (not its
// target); failures are logged, not fatal, since many sandboxes
// disallow lchown for non-root processes.
func chownNoFollow(path string, uid, gid int) {
	if err := os.Lchown(path, uid, gid); err != nil {
		mlog.WithError(err).WithField("path", path).Debug("lchown failed (non-fatal)")
	}
}
