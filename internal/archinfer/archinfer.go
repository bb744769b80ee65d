// Package archinfer infers CPU architecture, byte order, kernel version,
// and init candidates from the binaries recovered out of a firmware
// image: an external file-type oracle classifies representative
// executables, and a kernel blob is scanned for version and init=
// tokens.
//
// Grounded on original_source/src/util.py's checkArch and
// original_source/src/emulator.py's inferArchitecture/inferKernelVersion,
// using the teacher's system/exec wrapper to shell out to `file` the way
// platform/machine/qemu/disk.go shells out to losetup.
package archinfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firmadyne/femu-rehost/internal/blobscan"
	"github.com/firmadyne/femu-rehost/internal/common"
	execwrap "github.com/firmadyne/femu-rehost/system/exec"
)

var alog = log.WithField("component", "archinfer")

// Result is the outcome of an arch/endianness classification pass over
// one image's executable picks.
type Result struct {
	Arch    common.Architecture
	Endian  common.Endianness
	Sampled string // the pick whose oracle output resolved the result, if any
}

// ErrUnresolved is wrapped into the returned error when either axis
// never leaves UNKNOWN after scanning every pick.
var ErrUnresolved = errors.New("arch/endianness could not be resolved from any sample")

// fileOracle abstracts the external `file` classifier so tests can
// substitute a fake without invoking a real binary.
type fileOracle func(ctx context.Context, path string) (string, error)

// runFileOracle shells out to `file` and returns its stdout, matching
// util.py's checkArch (the exit code is ignored; only stdout is
// parsed). Only a failure to start the process (e.g. file(1) missing
// from PATH) is surfaced as an error.
func runFileOracle(ctx context.Context, path string) (string, error) {
	cmd := execwrap.CommandContext(ctx, "file", path)
	out, err := cmd.Output()
	if err != nil && execwrap.IsCmdNotFound(err) {
		return "", errors.Wrapf(err, "invoking file-type oracle on %s", path)
	}
	return string(out), nil
}

// ClassifyArch extracts each of picks (already-relative tarball member
// names) into scratchDir/<basename> ahead of time is the caller's job;
// ClassifyArch itself only needs the already-extracted host paths. For
// each sample path, in order, it queries the file-type oracle and scans
// the output for the canonical identifier of each Architecture and
// Endianness value in declaration order. The first non-UNKNOWN match on
// each axis wins; the scan stops early once both axes resolve.
func ClassifyArch(ctx context.Context, samplePaths []string) (Result, error) {
	return classifyArch(ctx, samplePaths, runFileOracle)
}

func classifyArch(ctx context.Context, samplePaths []string, oracle fileOracle) (Result, error) {
	res := Result{Arch: common.ArchUnknown, Endian: common.EndianUnknown}

	for _, path := range samplePaths {
		out, err := oracle(ctx, path)
		if err != nil {
			alog.WithError(err).WithField("path", path).Warn("file-type oracle invocation failed")
			continue
		}

		if res.Arch.Equal(common.ArchUnknown) {
			for _, candidate := range common.Architectures {
				if candidate.Equal(common.ArchUnknown) {
					continue
				}
				if strings.Contains(out, candidate.Identifier()) {
					res.Arch = candidate
					res.Sampled = path
					break
				}
			}
		}
		if res.Endian.Equal(common.EndianUnknown) {
			for _, candidate := range common.Endiannesses {
				if candidate.Equal(common.EndianUnknown) {
					continue
				}
				if strings.Contains(out, candidate.Identifier()) {
					res.Endian = candidate
					break
				}
			}
		}

		if !res.Arch.Equal(common.ArchUnknown) && !res.Endian.Equal(common.EndianUnknown) {
			break
		}
	}

	if res.Arch.Equal(common.ArchUnknown) || res.Endian.Equal(common.EndianUnknown) {
		return res, errors.Wrapf(ErrUnresolved, "arch=%s endian=%s after %d samples", res.Arch, res.Endian, len(samplePaths))
	}
	return res, nil
}

// ScratchDir creates, and returns the path of, a scratch directory named
// after imageID under baseDir for extracting executable picks prior to
// oracle classification. The caller must remove it on exit; callers
// typically `defer os.RemoveAll(dir)` immediately after this returns.
func ScratchDir(baseDir, imageID string) (string, error) {
	dir := filepath.Join(baseDir, imageID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating scratch dir %s", dir)
	}
	return dir, nil
}

// KernelInfo is the result of scanning a kernel blob's printable strings
// for version and init= tokens.
type KernelInfo struct {
	Version         string
	VersionString   string
	InferredInits   []string
	InferredInitStr []string
}

const (
	linuxVersionNeedle = "Linux version "
	initEqualsNeedle   = "init="
)

// ScanKernel streams the printable strings of kernelPath and extracts
// the kernel version (only the last matching "Linux version " string
// survives) and every "init=" candidate (all of which accumulate, in
// encounter order).
func ScanKernel(kernelPath string) (KernelInfo, error) {
	found, err := blobscan.Strings(kernelPath, 4)
	if err != nil {
		return KernelInfo{}, errors.Wrapf(err, "scanning kernel blob %s", kernelPath)
	}

	var info KernelInfo
	for _, s := range found {
		if idx := strings.Index(s, linuxVersionNeedle); idx >= 0 {
			rest := s[idx+len(linuxVersionNeedle):]
			info.Version = firstToken(rest)
			info.VersionString = s
		}
		if idx := strings.Index(s, initEqualsNeedle); idx >= 0 {
			rest := s[idx+len(initEqualsNeedle):]
			info.InferredInits = append(info.InferredInits, firstToken(rest))
			info.InferredInitStr = append(info.InferredInitStr, s)
		}
	}

	if info.Version == "" {
		alog.WithField("kernel", kernelPath).Warn("kernel version could not be inferred")
	}
	return info, nil
}

// firstToken returns s up to (not including) the next space, or all of
// s if it contains no space.
func firstToken(s string) string {
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx]
	}
	return s
}

// CompareKernelVersions best-effort-parses two "Linux version" tokens as
// semver and returns their ordering. Kernel version strings are usually
// but not always strict major.minor.patch (some vendor kernels carry a
// fourth field or a non-numeric suffix); unparseable inputs fall back to
// a lexicographic comparison so the comparison never errors out.
func CompareKernelVersions(a, b string) int {
	va, errA := semver.NewVersion(normalizeKernelVersion(a))
	vb, errB := semver.NewVersion(normalizeKernelVersion(b))
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(*vb)
}

// normalizeKernelVersion truncates a kernel version string to its first
// three dot-separated fields so that e.g. "2.6.31.42" parses as valid
// semver "2.6.31".
func normalizeKernelVersion(v string) string {
	parts := strings.SplitN(v, ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, ".")
}
