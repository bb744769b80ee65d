// Package rootfsarchive reads the recovered root-filesystem tarball
// produced by the external firmware extractor, enumerating its regular
// files and symlinks for the catalog and for arch/kernel inference.
//
// Grounded on original_source/src/util.py's getFilesInfo/getLinksInfo,
// in the archive/tar idiom of the teacher's system/targen/tar.go
// (package-scoped logger, explicit header handling).
package rootfsarchive

import (
	"archive/tar"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var plog = log.WithField("component", "rootfsarchive")

// FileRecord describes one regular file recovered from the tarball,
// guest-rooted (leading '/').
type FileRecord struct {
	Name string
	MD5  string
	UID  int
	GID  int
	Mode int64
}

// LinkRecord describes one symlink recovered from the tarball.
type LinkRecord struct {
	Name   string
	Target string
}

// execPickerNeedles are the substrings the C4 executable picker looks
// for in member names, per spec.md §4.3.
var execPickerNeedles = []string{"busybox", "alphapd", "boa", "http", "hydra", "helia", "webs"}

// guestName strips the tar archive's leading "." (tar members are
// typically stored as "./etc/passwd") so the result begins with '/'.
func guestName(name string) string {
	if strings.HasPrefix(name, ".") {
		name = strings.TrimPrefix(name, ".")
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

// Files enumerates every regular file in the tarball at tarballPath.
func Files(tarballPath string) ([]FileRecord, error) {
	f, err := os.Open(tarballPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening tarball %s", tarballPath)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var out []FileRecord
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading tarball %s", tarballPath)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		h := md5.New()
		if _, err := io.Copy(h, tr); err != nil {
			return nil, errors.Wrapf(err, "hashing tarball member %s", hdr.Name)
		}
		out = append(out, FileRecord{
			Name: guestName(hdr.Name),
			MD5:  hex.EncodeToString(h.Sum(nil)),
			UID:  hdr.Uid,
			GID:  hdr.Gid,
			Mode: hdr.Mode,
		})
	}
	plog.WithField("tarball", tarballPath).WithField("count", len(out)).Debug("enumerated regular files")
	return out, nil
}

// Links enumerates every symlink in the tarball at tarballPath.
func Links(tarballPath string) ([]LinkRecord, error) {
	f, err := os.Open(tarballPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening tarball %s", tarballPath)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	var out []LinkRecord
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading tarball %s", tarballPath)
		}
		if hdr.Typeflag != tar.TypeSymlink {
			continue
		}
		out = append(out, LinkRecord{Name: guestName(hdr.Name), Target: hdr.Linkname})
	}
	plog.WithField("tarball", tarballPath).WithField("count", len(out)).Debug("enumerated symlinks")
	return out, nil
}

// ExecutablePicks returns the guest-rooted names of tarball members
// likely to be useful for arch/endianness inference: those whose name
// contains one of the known webserver/busybox needles, or that live
// under /bin/ or /sbin/.
func ExecutablePicks(tarballPath string) ([]string, error) {
	files, err := Files(tarballPath)
	if err != nil {
		return nil, err
	}
	var picks []string
	for _, fr := range files {
		if matchesNeedle(fr.Name) || strings.Contains(fr.Name, "/bin/") || strings.Contains(fr.Name, "/sbin/") {
			picks = append(picks, fr.Name)
		}
	}
	return picks, nil
}

func matchesNeedle(name string) bool {
	for _, n := range execPickerNeedles {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

// ExtractMatching extracts every regular-file member whose guest name is
// in want to destDir, named by its basename, and invokes onExtracted with
// the guest name and the host path it was written to. Members not in
// want are skipped without reading their content.
func ExtractMatching(tarballPath string, want map[string]bool, onExtracted func(name, hostDest string), destDir string) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return errors.Wrapf(err, "opening tarball %s", tarballPath)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "reading tarball %s", tarballPath)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := guestName(hdr.Name)
		if !want[name] {
			continue
		}

		dest := filepath.Join(destDir, filepath.Base(name))
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
		if err != nil {
			return errors.Wrapf(err, "creating extracted copy of %s", name)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return errors.Wrapf(err, "extracting %s", name)
		}
		if err := out.Close(); err != nil {
			return errors.Wrapf(err, "closing extracted copy of %s", name)
		}
		onExtracted(name, dest)
	}
	return nil
}
