package rehost

import (
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/firmadyne/femu-rehost/internal/blobscan"
	"github.com/firmadyne/femu-rehost/internal/pathalgebra"
)

// fixedDirs is the fixed set of guest directories created if missing in
// step (d), following any existing symlink at the path.
var fixedDirs = []string{
	"/proc", "/dev/pts", "/etc_ro", "/tmp", "/var", "/run", "/sys", "/root",
	"/tmp/var", "/tmp/media", "/tmp/etc", "/tmp/var/run", "/tmp/home/root",
	"/tmp/mnt", "/tmp/opt", "/tmp/www", "/var/run", "/var/lock",
	"/usr/bin", "/usr/sbin",
}

// binSbinDirs are searched recursively for referenced-directory
// synthesis.
var binSbinDirs = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin"}

// referencedDirPattern matches strings like "/etc/foo/bar", capturing
// the trailing path prefix a binary references on disk.
var referencedDirPattern = regexp.MustCompile(`^(/var|/etc|/tmp)(.+)/([^/]+)$`)

// rejectedDirSubstrings disqualify an otherwise-matching referenced-dir
// candidate.
var rejectedDirSubstrings = []string{"%s", "%d", "%c", "/tmp/services"}

// FixupFilesystem runs step (d) in full: bin/sh repair, fixed directory
// bootstrap, recursive bin/sbin chmod 0111, and referenced-directory
// synthesis from binary string scans. Returns the deduplicated,
// sorted-by-discovery list of referenced directories written to
// /firmadyne/dir_log.
func FixupFilesystem(root string) ([]string, error) {
	if err := fixBinSh(root); err != nil {
		return nil, errors.Wrap(err, "repairing /bin/sh")
	}

	for _, d := range fixedDirs {
		if pathalgebra.ExistsInGuest(root, d) {
			continue
		}
		host, err := pathalgebra.GuestToHost(root, d)
		if err != nil {
			return nil, err
		}
		host = pathalgebra.ReadGuestLink(host, root, true)
		if err := os.MkdirAll(host, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating fixed directory %s", d)
		}
	}

	if err := chmodBinSbinDirs(root); err != nil {
		return nil, errors.Wrap(err, "chmod-ing bin/sbin directories")
	}

	dirLog, err := synthesizeReferencedDirs(root)
	if err != nil {
		return nil, errors.Wrap(err, "synthesising referenced directories")
	}

	if err := writeGuestLines(root, "/firmadyne/dir_log", dirLog); err != nil {
		return nil, errors.Wrap(err, "writing /firmadyne/dir_log")
	}
	return dirLog, nil
}

// fixBinSh ensures /bin/sh resolves to something, and that
// /firmadyne/sh always exists, both pointing at /firmadyne/busybox.
func fixBinSh(root string) error {
	if !pathalgebra.ExistsInGuest(root, "/bin/sh") {
		host, err := pathalgebra.GuestToHost(root, "/bin/sh")
		if err != nil {
			return err
		}
		if info, err := os.Lstat(host); err == nil && info.Mode()&os.ModeSymlink != 0 {
			os.Remove(host)
		}
		if err := os.MkdirAll(dirOf(host), 0755); err != nil {
			return err
		}
		if err := os.Symlink("/firmadyne/busybox", host); err != nil {
			return errors.Wrap(err, "creating /bin/sh -> /firmadyne/busybox")
		}
	}

	shimHost, err := pathalgebra.GuestToHost(root, "/firmadyne/sh")
	if err != nil {
		return err
	}
	os.Remove(shimHost)
	if err := os.Symlink("/firmadyne/busybox", shimHost); err != nil {
		return errors.Wrap(err, "creating /firmadyne/sh -> /firmadyne/busybox")
	}
	return nil
}

func dirOf(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// chmodBinSbinDirs locates every directory named bin or sbin anywhere
// under root and ORs in mode 0111, without following symlinks.
func chmodBinSbinDirs(root string) error {
	var dirs []string
	err := walkDirsNamed(root, func(name string) bool {
		return name == "bin" || name == "sbin"
	}, &dirs)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := pathalgebra.RecursiveGuestChmod(d, 0o111, root, true); err != nil {
			return err
		}
	}
	return nil
}

func walkDirsNamed(root string, match func(string) bool, out *[]string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil // best-effort: unreadable subtree
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		full := root + "/" + e.Name()
		if match(e.Name()) {
			*out = append(*out, full)
		}
		if err := walkDirsNamed(full, match, out); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeReferencedDirs scans the printable strings of every
// user-executable file under binSbinDirs for paths the binary might
// expect to exist, creating each (with parents) and returning the
// deduplicated, discovery-ordered list.
func synthesizeReferencedDirs(root string) ([]string, error) {
	var ordered []string
	seen := make(map[string]bool)

	for _, dir := range binSbinDirs {
		host, err := pathalgebra.GuestToHost(root, dir)
		if err != nil {
			continue
		}
		var executables []string
		if err := walkExecutables(host, &executables); err != nil {
			continue
		}
		for _, filePath := range executables {
			found, err := blobscan.Strings(filePath, 4)
			if err != nil {
				continue
			}
			for _, s := range found {
				refDir, ok := matchReferencedDir(s)
				if !ok || seen[refDir] {
					continue
				}
				seen[refDir] = true
				ordered = append(ordered, refDir)

				dirHost, err := pathalgebra.GuestToHost(root, refDir)
				if err != nil {
					continue
				}
				dirHost = pathalgebra.ReadGuestLink(dirHost, root, true)
				os.MkdirAll(dirHost, 0755)
			}
		}
	}
	return ordered, nil
}

// walkExecutables recursively collects every regular, user-executable
// file under root, following the same best-effort (skip unreadable
// subtrees) policy as walkDirsNamed.
func walkExecutables(root string, out *[]string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil // best-effort: unreadable subtree
	}
	for _, e := range entries {
		full := root + "/" + e.Name()
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if e.IsDir() {
			if err := walkExecutables(full, out); err != nil {
				return err
			}
			continue
		}
		if info.Mode()&0o100 == 0 {
			continue
		}
		*out = append(*out, full)
	}
	return nil
}

func matchReferencedDir(s string) (string, bool) {
	m := referencedDirPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	candidate := m[1] + m[2]
	for _, bad := range rejectedDirSubstrings {
		if strings.Contains(candidate, bad) {
			return "", false
		}
	}
	return candidate, true
}
