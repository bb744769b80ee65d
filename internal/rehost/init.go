package rehost

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/firmadyne/femu-rehost/internal/pathalgebra"
)

// initSearchFallbackNames are the filenames step (b.2) recursively
// locates under the mounted root and adds to the candidate list.
var initSearchFallbackNames = []string{"rcS", "preinit", "preinitMT"}

// initRepairSearchDirs are tried in order when a candidate init doesn't
// resolve and needs its basename relocated.
var initRepairSearchDirs = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin"}

// preInitFallback is always appended as the final init candidate.
const preInitFallback = "/firmadyne/preInit.sh"

// ValidateInits builds the candidate init list from the C4-inferred
// commands plus a filesystem search, repairs broken symlinks where
// possible, drops unrecoverable candidates, appends the fixed fallback,
// and writes the result one path per line to /firmadyne/init.
func ValidateInits(root string, inferred []string) ([]string, error) {
	candidates := append([]string{}, inferred...)

	if pathalgebra.ExistsInGuest(root, "/init") && !pathalgebra.IsDirInGuest(root, "/init") {
		candidates = append(candidates, "/init")
	}

	for _, name := range initSearchFallbackNames {
		hits, err := findByBasename(root, name)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, hits...)
	}

	candidates = dedupePreserveOrder(candidates)

	var verified []string
	for _, c := range candidates {
		kept, err := resolveInitCandidate(root, c)
		if err != nil {
			return nil, err
		}
		if kept != "" {
			verified = append(verified, kept)
		}
	}

	verified = append(verified, preInitFallback)

	if err := writeGuestLines(root, "/firmadyne/init", verified); err != nil {
		return nil, errors.Wrap(err, "writing /firmadyne/init")
	}
	return verified, nil
}

// resolveInitCandidate applies step (b.4) to a single candidate,
// returning the (possibly repaired) guest path to keep, or "" if it
// must be dropped.
func resolveInitCandidate(root, c string) (string, error) {
	if pathalgebra.IsDirInGuest(root, c) {
		return "", nil
	}
	if pathalgebra.IsFileInGuest(root, c) {
		return c, nil
	}

	if match, ok := searchRepairDirs(root, guestBasename(c)); ok {
		if err := repairBrokenSymlink(root, c, match); err != nil {
			return "", err
		}
		return c, nil
	}

	host, err := pathalgebra.GuestToHost(root, c)
	if err != nil {
		return "", nil
	}
	info, err := os.Lstat(host)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return "", nil
	}
	rawTarget, err := os.Readlink(host)
	if err != nil {
		return "", nil
	}
	if match, ok := searchRepairDirs(root, guestBasename(rawTarget)); ok {
		if err := repairBrokenSymlink(root, c, match); err != nil {
			return "", err
		}
		return c, nil
	}

	return "", nil
}

// searchRepairDirs looks for a regular file named name under each of
// initRepairSearchDirs, in order, returning the first match.
func searchRepairDirs(root, name string) (string, bool) {
	for _, dir := range initRepairSearchDirs {
		candidate := dir + "/" + name
		if pathalgebra.IsFileInGuest(root, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// repairBrokenSymlink removes c (if it is currently a broken symlink)
// and recreates it pointing at target.
func repairBrokenSymlink(root, c, target string) error {
	host, err := pathalgebra.GuestToHost(root, c)
	if err != nil {
		return errors.Wrapf(err, "translating %s", c)
	}
	if info, err := os.Lstat(host); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(host); err != nil {
			return errors.Wrapf(err, "removing broken symlink %s", c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(host), 0755); err != nil {
		return errors.Wrapf(err, "creating parent directory for %s", c)
	}
	if err := os.Symlink(target, host); err != nil {
		return errors.Wrapf(err, "creating symlink %s -> %s", c, target)
	}
	return nil
}

func dedupePreserveOrder(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// writeGuestLines writes lines, one per line with a trailing LF on
// each, to the file at the guest path dst under root.
func writeGuestLines(root, dst string, lines []string) error {
	host, err := pathalgebra.GuestToHost(root, dst)
	if err != nil {
		return err
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	return os.WriteFile(host, []byte(content), 0644)
}
