// Package pipeline is the C9 orchestrator: the state machine that runs
// the external extractor to recover the rootfs tarball and then
// sequences C3 (Archive Reader) through C4-C8 over it, owns
// the FirmwareImage runtime object, and implements the error taxonomy
// and cleanup policy of spec.md §7.
//
// Grounded on original_source/src/emulator.py's Emulator.run/collectInfo/
// dumpObjectsToDB and original_source/src/main.py's directory-of-firmware
// iteration and argument validation.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firmadyne/femu-rehost/internal/archinfer"
	"github.com/firmadyne/femu-rehost/internal/blobscan"
	"github.com/firmadyne/femu-rehost/internal/blockimage"
	"github.com/firmadyne/femu-rehost/internal/catalog"
	"github.com/firmadyne/femu-rehost/internal/common"
	"github.com/firmadyne/femu-rehost/internal/rehost"
	"github.com/firmadyne/femu-rehost/internal/rootfsarchive"
	"github.com/firmadyne/femu-rehost/internal/rootfsmat"
)

// Extractor produces a kernel blob and a recovered root-filesystem
// tarball from an opaque firmware input. It is the narrow interface to
// the external firmware extractor spec.md §1 explicitly places out of
// scope; modeling it as a function type keeps the orchestrator testable
// without a real extractor binary on PATH.
type Extractor func(ctx context.Context, inputPath, workDir string) (kernelPath, rootfsTarballPath string, err error)

// RawImageSize is the fixed size of the raw disk image C6 creates.
// 64 MiB comfortably fits the small embedded-device root filesystems
// this pipeline targets.
const RawImageSize = 64 * 1 << 20

// PipelineContext carries everything every stage needs: paths already
// live on FirmwareImage, so this is the genuinely cross-cutting state —
// the catalog client (optional), the extractor, and a tracing sink, per
// spec.md §9 Design Note "Global state" (replacing the original's
// module-scope logger/config with an explicit threaded value).
type PipelineContext struct {
	Catalog   *catalog.Client
	Extractor Extractor
	Log       *log.Entry
	Mode      common.RunningMode
}

// Run drives one FirmwareImage through the full state machine. On
// failure it returns a *StageError and performs the cleanup policy of
// spec.md §7/§9 for whatever stage failed.
func (pc *PipelineContext) Run(ctx context.Context, fi *FirmwareImage) error {
	logger := pc.Log
	if logger == nil {
		logger = log.WithField("component", "pipeline")
	}

	if err := pc.detectBrand(ctx, fi); err != nil {
		return err
	}

	if err := pc.extract(ctx, fi); err != nil {
		return pc.failAndCleanup(ctx, fi, err)
	}

	if err := pc.infer(ctx, fi); err != nil {
		return pc.failAndCleanup(ctx, fi, err)
	}

	if err := pc.checkCompatibility(fi); err != nil {
		return pc.failAndCleanup(ctx, fi, err)
	}

	if err := pc.catalogue(ctx, fi); err != nil {
		return pc.failAndCleanup(ctx, fi, err)
	}

	if pc.Mode == common.ModeAnalyze {
		logger.WithField("iid", fi.IID).Info("analyze mode: stopping before image build")
		return nil
	}

	mounted, err := pc.buildAndMount(ctx, fi)
	if err != nil {
		return pc.failAndCleanup(ctx, fi, err)
	}

	if err := pc.materialise(fi); err != nil {
		pc.cleanupMount(ctx, mounted)
		return pc.failAndCleanup(ctx, fi, err)
	}

	if err := pc.rewrite(fi); err != nil {
		// spec.md §7 RewriteError policy: leave the mount attached for
		// inspection rather than tearing it down.
		fi.State = Stage("failed(" + string(StageRewritten) + ")")
		return err
	}

	fi.State = StageDone
	logger.WithField("iid", fi.IID).Info("rehosting preparation complete")

	if pc.Mode != common.ModeDebug {
		pc.cleanupMount(ctx, mounted)
	}
	return nil
}

// detectBrand is the first stage: resolve the brand via the catalog (if
// configured) before extraction so the extractor can be keyed, falling
// back to "unknown" with a warning when pc.Catalog is nil (SUPPLEMENTED
// FEATURES 4). An unconfigured catalog.Client resolves to "unknown"
// through LookupBrand, without that warning.
// When a catalog is configured it also registers this input's image row
// and records the catalog-assigned id on fi.IID, mirroring emulator.py's
// self.iid (there sourced from the external extractor's registration
// result) so every later UpdateImage/InsertObjectsToImage/
// InsertLinksToImage call lands on the right row instead of id 0.
func (pc *PipelineContext) detectBrand(ctx context.Context, fi *FirmwareImage) error {
	if pc.Catalog == nil {
		if fi.Brand == "" || fi.Brand == "auto" {
			fi.Brand = catalog.UnknownBrand
			log.Warn("no catalog configured; defaulting brand to unknown")
		}
		return nil
	}

	hash, err := blobscan.MD5(fi.InputPath)
	if err != nil {
		return newStageError(KindConfigError, StageInit, err)
	}

	if fi.Brand == "" || fi.Brand == "auto" {
		brand, err := pc.Catalog.LookupBrand(ctx, hash)
		if err != nil {
			return newStageError(KindCatalogError, StageInit, err)
		}
		fi.Brand = brand
	}

	iid, err := pc.Catalog.RegisterImage(ctx, hash)
	if err != nil {
		return newStageError(KindCatalogError, StageInit, err)
	}
	fi.IID = iid
	return nil
}

func (pc *PipelineContext) extract(ctx context.Context, fi *FirmwareImage) error {
	if pc.Extractor == nil {
		return newStageError(KindConfigError, StageInit, errors.New("no extractor configured"))
	}
	kernelPath, tarballPath, err := pc.Extractor(ctx, fi.InputPath, fi.WorkDir)
	if err != nil {
		return newStageError(KindExtractionError, StageInit, err)
	}
	fi.KernelPath = kernelPath
	fi.RootfsTarballPath = tarballPath
	fi.State = StageExtracted
	return nil
}

func (pc *PipelineContext) infer(ctx context.Context, fi *FirmwareImage) error {
	if err := requirePrereq(fi.RootfsTarballPath != "", StageExtracted, "RootfsTarballPath"); err != nil {
		return err
	}

	scratch, err := archinfer.ScratchDir(fi.WorkDir, filepath.Base(fi.WorkDir))
	if err != nil {
		return newStageError(KindInferenceError, StageExtracted, err)
	}
	defer os.RemoveAll(scratch)

	picks, err := rootfsarchive.ExecutablePicks(fi.RootfsTarballPath)
	if err != nil {
		return newStageError(KindInferenceError, StageExtracted, err)
	}

	samplePaths, err := extractPicksTo(fi.RootfsTarballPath, picks, scratch)
	if err != nil {
		return newStageError(KindInferenceError, StageExtracted, err)
	}

	res, err := archinfer.ClassifyArch(ctx, samplePaths)
	if err != nil {
		return newStageError(KindInferenceError, StageExtracted, err)
	}
	fi.Arch = res.Arch
	fi.Endianness = res.Endian

	if fi.KernelPath != "" {
		kinfo, err := archinfer.ScanKernel(fi.KernelPath)
		if err != nil {
			return newStageError(KindInferenceError, StageExtracted, err)
		}
		fi.KernelVersion = kinfo.Version
		fi.KernelVersionString = kinfo.VersionString
		fi.InferredInits = kinfo.InferredInits
		fi.InferredInitStrings = kinfo.InferredInitStr
	}

	fi.State = StageInspected
	return nil
}

// extractPicksTo pulls just the executable-pick members out of the
// tarball into scratch, for the file-type oracle to inspect; paths not
// found in the tarball are skipped.
func extractPicksTo(tarballPath string, picks []string, scratch string) ([]string, error) {
	want := make(map[string]bool, len(picks))
	for _, p := range picks {
		want[p] = true
	}

	var out []string
	err := rootfsarchive.ExtractMatching(tarballPath, want, func(name, hostDest string) {
		out = append(out, hostDest)
	}, scratch)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (pc *PipelineContext) checkCompatibility(fi *FirmwareImage) error {
	if err := requirePrereq(!fi.Arch.Equal(common.ArchUnknown), StageInspected, "Arch"); err != nil {
		return err
	}
	if !common.CheckCompatibility(fi.Arch, fi.Endianness) {
		return newStageError(KindIncompatibleTarget, StageInspected,
			errors.Errorf("(%s, %s) is not a supported target", fi.Arch, fi.Endianness))
	}
	fi.State = StageCompatible
	return nil
}

func (pc *PipelineContext) catalogue(ctx context.Context, fi *FirmwareImage) error {
	if pc.Catalog == nil {
		fi.State = StageCatalogued
		return nil
	}

	if _, err := pc.Catalog.UpdateImage(ctx, fi.IID, "arch", fi.Arch.String()+fi.Endianness.String()); err != nil {
		return newStageError(KindCatalogError, StageCompatible, err)
	}
	if fi.KernelVersion != "" {
		if _, err := pc.Catalog.UpdateImage(ctx, fi.IID, "kernel_version", fi.KernelVersion); err != nil {
			return newStageError(KindCatalogError, StageCompatible, err)
		}
	}

	files, err := rootfsarchive.Files(fi.RootfsTarballPath)
	if err != nil {
		return newStageError(KindCatalogError, StageCompatible, err)
	}
	links, err := rootfsarchive.Links(fi.RootfsTarballPath)
	if err != nil {
		return newStageError(KindCatalogError, StageCompatible, err)
	}

	refs := make([]catalog.FileRef, len(files))
	for i, f := range files {
		refs[i] = catalog.FileRef{Hash: f.MD5, Name: f.Name, UID: f.UID, GID: f.GID, Mode: f.Mode}
	}
	idByHash, _, err := pc.Catalog.EnsureObjects(ctx, refs, true)
	if err != nil {
		return newStageError(KindCatalogError, StageCompatible, err)
	}
	if err := pc.Catalog.InsertObjectsToImage(ctx, fi.IID, idByHash, files); err != nil {
		return newStageError(KindCatalogError, StageCompatible, err)
	}
	if err := pc.Catalog.InsertLinksToImage(ctx, fi.IID, links); err != nil {
		return newStageError(KindCatalogError, StageCompatible, err)
	}

	fi.State = StageCatalogued
	return nil
}

func (pc *PipelineContext) buildAndMount(ctx context.Context, fi *FirmwareImage) (*blockimage.Mounted, error) {
	if err := blockimage.CreateRawImg(ctx, fi.RawImagePath(), RawImageSize); err != nil {
		return nil, newStageError(KindImageBuildError, StageCatalogued, err)
	}
	mounted, err := blockimage.MountImage(ctx, fi.RawImagePath(), fi.MountPath())
	if err != nil {
		return nil, newStageError(KindImageBuildError, StageCatalogued, err)
	}
	fi.State = StageMaterialised
	return mounted, nil
}

func (pc *PipelineContext) materialise(fi *FirmwareImage) error {
	if err := rootfsmat.Materialise(fi.RootfsTarballPath, fi.MountPath()); err != nil {
		return newStageError(KindImageBuildError, StageMaterialised, err)
	}
	return nil
}

func (pc *PipelineContext) rewrite(fi *FirmwareImage) error {
	result, err := rehost.Rewrite(fi.MountPath(), fi.InferredInits)
	if err != nil {
		return newStageError(KindRewriteError, StageMaterialised, err)
	}
	fi.VerifiedInits = result.VerifiedInits
	fi.State = StageRewritten
	return nil
}

// failAndCleanup applies spec.md §7/§9's cleanup policy: remove the
// extracted rootfs work dir if we never reached C6, or unmount/remove
// the raw image if we did.
func (pc *PipelineContext) failAndCleanup(ctx context.Context, fi *FirmwareImage, cause error) error {
	reachedCatalogued := fi.State.Reached(StageCatalogued)
	fi.State = Stage("failed(" + string(fi.State) + ")")

	if pc.Mode == common.ModeDebug {
		return cause
	}

	if !reachedCatalogued {
		os.RemoveAll(fi.WorkDir)
	} else {
		if _, err := os.Stat(fi.MountPath()); err == nil {
			blockimage.UnmountImage(ctx, &blockimage.Mounted{
				RawPath:   fi.RawImagePath(),
				MountPath: fi.MountPath(),
			})
		}
		os.Remove(fi.RawImagePath())
	}
	return cause
}

func (pc *PipelineContext) cleanupMount(ctx context.Context, mounted *blockimage.Mounted) {
	if mounted == nil || pc.Mode == common.ModeDebug {
		return
	}
	if err := blockimage.UnmountImage(ctx, mounted); err != nil {
		log.WithError(err).Warn("failed to unmount image during cleanup")
	}
}
