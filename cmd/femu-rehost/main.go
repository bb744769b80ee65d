// Definition of the femu-rehost command: prepares an extracted firmware
// image for Firmadyne-style rehosting (arch/kernel inference, catalog
// bookkeeping, raw image construction, and the filesystem rewrite).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	femuCLI "github.com/firmadyne/femu-rehost/cli"
	"github.com/firmadyne/femu-rehost/internal/blobscan"
	"github.com/firmadyne/femu-rehost/internal/catalog"
	"github.com/firmadyne/femu-rehost/internal/common"
	"github.com/firmadyne/femu-rehost/internal/pipeline"
	"github.com/firmadyne/femu-rehost/pkg/builds"
	execwrap "github.com/firmadyne/femu-rehost/system/exec"
)

var version = "devel"

var (
	ctx, cancel = context.WithCancel(context.Background())

	inputPath  string
	outputPath string
	brand      string
	modeFlag   string
	sqlHost    string
	sqlPort    int
	sqlDB      string
	sqlUser    string
	sqlPass    string
	extractCmd string

	cmdRoot = &cobra.Command{
		Use:   "femu-rehost",
		Short: "Firmware rehosting preparation engine",
		Long: `Prepares an extracted embedded-firmware image for Firmadyne-style
rehosting: arch/endianness/kernel inference, catalog bookkeeping, raw
disk image construction, and the filesystem rewrite that boots under
an emulated kernel.`,
		PersistentPreRun: preRun,
		RunE:             runRehost,
	}

	cmdVersion = &cobra.Command{
		Use:   "version",
		Short: "Print the version number and exit",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("femu-rehost version %s\n", version)
		},
	}

	cmdModes = &cobra.Command{
		Use:   "modes",
		Short: "List the supported running modes",
		Run: func(cmd *cobra.Command, args []string) {
			femuCLI.PrintModesTable(os.Stdout)
		},
	}
)

func init() {
	log.SetOutput(os.Stdout)

	cmdRoot.PersistentFlags().StringVarP(&inputPath, "input", "i", "", "path to the extracted firmware input (required)")
	cmdRoot.PersistentFlags().StringVarP(&outputPath, "output", "o", "./output", "output directory for images/work dirs")
	cmdRoot.PersistentFlags().StringVarP(&brand, "brand", "b", "auto", "device brand, or \"auto\" to detect via the catalog")
	cmdRoot.PersistentFlags().StringVarP(&modeFlag, "mode", "m", string(common.ModeRun), "running mode: run, check, analyze, or debug")
	cmdRoot.PersistentFlags().StringVar(&sqlHost, "sql", "", "catalog Postgres host (omit to run without a catalog)")
	cmdRoot.PersistentFlags().IntVarP(&sqlPort, "port", "p", 5432, "catalog Postgres port")
	cmdRoot.PersistentFlags().StringVar(&sqlDB, "sql-db", "", "catalog database name")
	cmdRoot.PersistentFlags().StringVar(&sqlUser, "sql-user", "", "catalog user")
	cmdRoot.PersistentFlags().StringVar(&sqlPass, "sql-pass", "", "catalog password")
	cmdRoot.PersistentFlags().StringVar(&extractCmd, "extractor", "binwalk-extract", "external extractor binary invoked to recover the kernel and root filesystem")

	cmdRoot.AddCommand(cmdVersion)
	cmdRoot.AddCommand(cmdModes)
}

func preRun(c *cobra.Command, args []string) {
	mode := common.RunningMode(modeFlag)
	if !mode.Valid() {
		log.Fatalf("invalid mode %q: must be one of run, check, analyze, debug", modeFlag)
	}
	if mode == common.ModeDebug {
		log.SetLevel(log.DebugLevel)
	}
}

func main() {
	defer cancel()
	log.Infof("femu-rehost %s starting", version)
	if err := cmdRoot.Execute(); err != nil {
		log.WithError(err).Error("run failed")
		os.Exit(1)
	}
	os.Exit(0)
}

// runRehost drives one or many firmware inputs through the pipeline,
// mirroring main.py's directory-of-firmware iteration: if inputPath is
// a directory, every regular file directly inside it is treated as one
// firmware image; otherwise inputPath itself is the one image.
func runRehost(c *cobra.Command, args []string) error {
	if inputPath == "" {
		return errors.New("--input is required")
	}
	mode := common.RunningMode(modeFlag)

	cat, err := catalog.Connect(ctx, catalog.Config{
		Host: sqlHost, Port: sqlPort, DB: sqlDB, User: sqlUser, Pass: sqlPass,
	})
	if err != nil {
		return errors.Wrap(err, "connecting to catalog")
	}
	defer cat.Close()

	if mode == common.ModeCheck {
		return runCheck(cat)
	}

	targets, err := firmwareTargets(inputPath)
	if err != nil {
		return err
	}

	pc := &pipeline.PipelineContext{
		Catalog:   cat,
		Extractor: shellExtractor(extractCmd),
		Mode:      mode,
		Log:       log.WithField("component", "femu-rehost"),
	}

	var failures int
	for _, target := range targets {
		pc.Log = log.WithField("component", "femu-rehost").WithField("run_id", uuid.New().String())
		if err := runOne(pc, target, mode); err != nil {
			log.WithError(err).WithField("input", target).Error("rehosting preparation failed")
			failures++
		}
	}

	if failures > 0 {
		return errors.Errorf("%d of %d firmware image(s) failed", failures, len(targets))
	}
	return nil
}

func runOne(pc *pipeline.PipelineContext, target string, mode common.RunningMode) error {
	hash, err := blobscan.MD5(target)
	if err != nil {
		return errors.Wrapf(err, "hashing %s", target)
	}

	fi, err := pipeline.NewFirmwareImage(target, outputPath, hash)
	if err != nil {
		return errors.Wrapf(err, "bootstrapping work directories for %s", target)
	}
	if brand != "" {
		fi.Brand = brand
	}

	if err := pc.Run(ctx, fi); err != nil {
		return err
	}

	if mode == common.ModeAnalyze {
		return printAnalyzeReport(fi)
	}
	return nil
}

// runCheck implements the check mode (SUPPLEMENTED FEATURES 1): brand
// detection, catalog connectivity, and input existence, nothing more.
func runCheck(cat *catalog.Client) error {
	if _, err := os.Stat(inputPath); err != nil {
		return errors.Wrapf(err, "input %s is not accessible", inputPath)
	}
	if err := cat.CheckConnection(ctx); err != nil {
		return errors.Wrap(err, "catalog connectivity check failed")
	}

	resolvedBrand := brand
	if resolvedBrand == "" || resolvedBrand == "auto" {
		hash, err := blobscan.MD5(inputPath)
		if err != nil {
			return errors.Wrapf(err, "hashing %s", inputPath)
		}
		resolvedBrand, err = cat.LookupBrand(ctx, hash)
		if err != nil {
			return errors.Wrap(err, "looking up brand")
		}
	}

	fmt.Printf("input: %s\nbrand: %s\ncatalog: reachable\n", inputPath, resolvedBrand)
	return nil
}

func printAnalyzeReport(fi *pipeline.FirmwareImage) error {
	if violations := builds.Validate(fi); len(violations) > 0 {
		for _, v := range violations {
			log.WithField("input", fi.InputPath).Warnf("report schema violation: %v", v)
		}
	}

	out, err := yaml.Marshal(fi)
	if err != nil {
		return errors.Wrap(err, "rendering analyze report")
	}
	fmt.Print(string(out))
	return nil
}

// firmwareTargets resolves inputPath to the list of firmware files to
// process: every regular file directly inside it if it's a directory,
// or the path itself otherwise.
func firmwareTargets(inputPath string) ([]string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", inputPath)
	}
	if !info.IsDir() {
		return []string{inputPath}, nil
	}

	entries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", inputPath)
	}
	var targets []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		targets = append(targets, filepath.Join(inputPath, e.Name()))
	}
	return targets, nil
}

// shellExtractor builds a pipeline.Extractor that shells out to name,
// passing the firmware input and a work directory; by convention name
// is expected to leave "kernel" and "rootfs.tar" files in workDir.
func shellExtractor(name string) pipeline.Extractor {
	return func(ctx context.Context, inputPath, workDir string) (string, string, error) {
		cmd := execwrap.CommandContext(ctx, name, inputPath, workDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", "", errors.Wrapf(err, "extractor %s failed: %s", shellquote.Join(name, inputPath, workDir), string(out))
		}
		kernelPath := filepath.Join(workDir, "kernel")
		rootfsPath := filepath.Join(workDir, "rootfs.tar")
		if _, err := os.Stat(rootfsPath); err != nil {
			return "", "", errors.Wrapf(err, "extractor did not produce %s", rootfsPath)
		}
		if _, err := os.Stat(kernelPath); err != nil {
			kernelPath = ""
		}
		return kernelPath, rootfsPath, nil
	}
}
