package pipeline

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/firmadyne/femu-rehost/internal/common"
)

// FirmwareImage is the runtime object threaded through every pipeline
// stage, identified by the MD5 of the input blob. Fields fill
// monotonically as stages complete; a stage may only run once its
// declared prerequisite fields are non-empty (spec.md §3).
type FirmwareImage struct {
	InputPath  string
	OutputPath string
	ImagesDir  string
	WorkDir    string

	Brand string
	IID   int64 // catalog id, 0 when no catalog is configured

	KernelPath        string
	RootfsTarballPath string

	Arch                common.Architecture
	Endianness          common.Endianness
	KernelVersion       string
	KernelVersionString string

	InferredInits       []string
	InferredInitStrings []string
	VerifiedInits       []string

	State Stage
}

// NewFirmwareImage constructs a FirmwareImage for one input blob and
// eagerly creates its images/ and workDir/<md5> directories, following
// emulator.py's createDirectories (SUPPLEMENTED FEATURES item 5: this
// is done at construction time, not lazily on first use).
func NewFirmwareImage(inputPath, outputPath, md5 string) (*FirmwareImage, error) {
	fi := &FirmwareImage{
		InputPath:  inputPath,
		OutputPath: outputPath,
		ImagesDir:  filepath.Join(outputPath, "images"),
		WorkDir:    filepath.Join(outputPath, "workDir", md5),
		Brand:      "unknown",
		State:      StageInit,
	}
	if err := os.MkdirAll(fi.ImagesDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating images directory %s", fi.ImagesDir)
	}
	if err := os.MkdirAll(fi.WorkDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating work directory %s", fi.WorkDir)
	}
	return fi, nil
}

// RawImagePath is the raw disk image file for this image's work dir.
func (fi *FirmwareImage) RawImagePath() string {
	return filepath.Join(fi.WorkDir, "raw.img")
}

// MountPath is the mount point this image's raw disk image is mounted
// at during C6/C7/C8.
func (fi *FirmwareImage) MountPath() string {
	return filepath.Join(fi.WorkDir, "mnt")
}

// requirePrereq enforces the "stage may only run if its declared
// prerequisite fields are non-empty" invariant of spec.md §3.
func requirePrereq(ok bool, stage Stage, what string) error {
	if !ok {
		return newStageError(KindConfigError, stage, errors.Errorf("missing prerequisite: %s", what))
	}
	return nil
}
