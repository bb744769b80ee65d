// Package blockimage builds and tears down the raw, loop-mounted ext2
// disk image that the rewritten root filesystem lives in: raw file
// creation, DOS partitioning, ext2 formatting, loop attach/detach,
// mount/unmount, and fsck.
//
// Grounded on original_source/src/util.py's createRawImg/dd/addPartition/
// mountImage/removePartition/unmountImage/runFsck/runAsRoot, using the
// teacher's system/exec wrapper for privileged external tools (the
// losetup attach/detach idiom mirrors platform/machine/qemu/disk.go's
// MakeDiskTemplate) and the adapted system.Mount/Unmount for the actual
// mount(2)/umount(2) syscalls.
package blockimage

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firmadyne/femu-rehost/system"
	execwrap "github.com/firmadyne/femu-rehost/system/exec"
)

var blog = log.WithField("component", "blockimage")

// loopMu serialises the process-wide loop-device critical sections
// (attach->derive pN node->mount, and umount->detach) per spec.md §5.
var loopMu sync.Mutex

const (
	// ext2FormatOffset is the 1 MiB partition offset passed to mke2fs.
	ext2FormatOffset = 1048576
	// rootOwner is the uid:gid stamped onto the formatted filesystem's
	// root inode.
	rootOwner = "1000:1000"
	// zeroBlockSize matches util.py's dd block size for the raw-image
	// zero-fill pass.
	zeroBlockSize = 1 << 20
)

// runAsRoot runs name with args under sudo, returning combined output on
// failure for diagnostics. All C6 privileged steps funnel through this,
// matching util.py's runAsRoot.
func runAsRoot(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	full := append([]string{name}, args...)
	cmd := execwrap.CommandContext(ctx, "sudo", full...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, errors.Wrapf(err, "sudo %s failed: %s", shellquote.Join(full...), string(out))
	}
	return out, nil
}

// CreateRawImg creates a new zero-filled raw image of sizeBytes at path,
// writes a single DOS type-0x83 partition spanning the image, and
// formats it as ext2 at a 1 MiB offset with root_owner=1000:1000. Fails
// if path already exists.
func CreateRawImg(ctx context.Context, path string, sizeBytes int64) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("raw image %s already exists", path)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "stat %s", path)
	}

	if err := zeroFill(path, sizeBytes); err != nil {
		return errors.Wrapf(err, "zero-filling %s", path)
	}

	if _, err := runAsRoot(ctx, "label: dos\ntype=83", "sfdisk", path, "--no-reread", "--force"); err != nil {
		return errors.Wrap(err, "partitioning raw image")
	}

	offsetArg := "root_owner=" + rootOwner + ",offset=" + strconv.Itoa(ext2FormatOffset)
	if _, err := runAsRoot(ctx, "", "mke2fs", "-E", offsetArg, path); err != nil {
		return errors.Wrap(err, "formatting raw image as ext2")
	}

	blog.WithField("path", path).WithField("size", sizeBytes).Info("raw image created and formatted")
	return nil
}

func zeroFill(path string, sizeBytes int64) error {
	zero, err := os.Open("/dev/zero")
	if err != nil {
		return errors.Wrap(err, "opening /dev/zero")
	}
	defer zero.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, zeroBlockSize)
	if _, err := io.CopyN(w, zero, sizeBytes); err != nil {
		return errors.Wrap(err, "copying zero bytes")
	}
	return w.Flush()
}

// Mounted describes a successfully mounted raw image, retained so
// UnmountImage can reverse exactly what MountImage did.
type Mounted struct {
	RawPath   string
	LoopNode  string // e.g. /dev/loop0
	PartNode  string // e.g. /dev/loop0p1
	MountPath string
}

// MountImage loop-attaches rawPath (with partition scanning), locates
// the p1 partition node, and mounts it at mnt, syncing before return.
// The attach->locate->mount sequence is one serialised critical section.
func MountImage(ctx context.Context, rawPath, mnt string) (*Mounted, error) {
	loopMu.Lock()
	defer loopMu.Unlock()

	out, err := runAsRoot(ctx, "", "losetup", "-Pf", "--show", rawPath)
	if err != nil {
		return nil, errors.Wrap(err, "loop-attaching raw image")
	}
	loopNode := strings.TrimSpace(string(out))
	if loopNode == "" {
		return nil, errors.New("losetup returned no loop device node")
	}
	partNode := loopNode + "p1"

	if err := os.MkdirAll(mnt, 0755); err != nil {
		detachLoop(ctx, loopNode)
		return nil, errors.Wrapf(err, "creating mount point %s", mnt)
	}

	if err := system.Mount(partNode, mnt, "ext2", ""); err != nil {
		detachLoop(ctx, loopNode)
		return nil, errors.Wrapf(err, "mounting %s at %s", partNode, mnt)
	}

	if f, err := os.Open(mnt); err == nil {
		f.Sync()
		f.Close()
	}

	blog.WithField("raw", rawPath).WithField("mnt", mnt).WithField("loop", loopNode).Info("image mounted")
	return &Mounted{RawPath: rawPath, LoopNode: loopNode, PartNode: partNode, MountPath: mnt}, nil
}

// UnmountImage unmounts m.MountPath and detaches its loop device. Both
// steps are attempted even if the first fails, so a partial failure
// doesn't leave the loop device attached forever.
func UnmountImage(ctx context.Context, m *Mounted) error {
	loopMu.Lock()
	defer loopMu.Unlock()

	umountErr := system.Unmount(m.MountPath)
	if umountErr != nil && errors.Is(umountErr, syscall.EBUSY) {
		blog.WithField("mnt", m.MountPath).Warn("unmount busy, retrying with a lazy detach")
		umountErr = system.ForceUnmount(m.MountPath)
	}
	detachErr := detachLoop(ctx, m.LoopNode)

	if umountErr != nil {
		return errors.Wrapf(umountErr, "unmounting %s", m.MountPath)
	}
	if detachErr != nil {
		return errors.Wrapf(detachErr, "detaching loop device %s", m.LoopNode)
	}
	blog.WithField("mnt", m.MountPath).WithField("loop", m.LoopNode).Info("image unmounted")
	return nil
}

func detachLoop(ctx context.Context, loopNode string) error {
	_, err := runAsRoot(ctx, "", "losetup", "-d", loopNode)
	return err
}

// isLoopAttached reports whether rawPath is currently backing some loop
// device, via `losetup -j rawPath`.
func isLoopAttached(ctx context.Context, rawPath string) (bool, error) {
	cmd := execwrap.CommandContext(ctx, "losetup", "-j", rawPath)
	out, err := cmd.Output()
	if err != nil {
		return false, errors.Wrap(err, "querying loop association")
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// RunFsck loop-attaches rawPath, runs e2fsck -y on its p1 partition, and
// always detaches on the way out. Fails immediately if rawPath is
// already loop-attached, per spec.md §4.6's pre-check.
func RunFsck(ctx context.Context, rawPath string) error {
	loopMu.Lock()
	defer loopMu.Unlock()

	attached, err := isLoopAttached(ctx, rawPath)
	if err != nil {
		return err
	}
	if attached {
		return errors.Errorf("%s is already loop-attached; refusing to fsck", rawPath)
	}

	out, err := runAsRoot(ctx, "", "losetup", "-Pf", "--show", rawPath)
	if err != nil {
		return errors.Wrap(err, "loop-attaching raw image for fsck")
	}
	loopNode := strings.TrimSpace(string(out))
	partNode := loopNode + "p1"

	_, fsckErr := runAsRoot(ctx, "", "e2fsck", "-y", partNode)
	if _, err := runAsRoot(ctx, "", "losetup", "-d", loopNode); err != nil {
		blog.WithError(err).WithField("loop", loopNode).Warn("failed to detach loop device after fsck")
	}
	if fsckErr != nil {
		return errors.Wrap(fsckErr, "running e2fsck")
	}
	return nil
}
