package archinfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/firmadyne/femu-rehost/internal/common"
)

func fakeOracle(outputs map[string]string) fileOracle {
	return func(_ context.Context, path string) (string, error) {
		return outputs[path], nil
	}
}

func TestClassifyArchFirstMatchWins(t *testing.T) {
	outputs := map[string]string{
		"/scratch/busybox": "ELF 32-bit LSB executable, MIPS, MIPS-I version 1 (SYSV), dynamically linked",
	}
	res, err := classifyArch(context.Background(), []string{"/scratch/busybox"}, fakeOracle(outputs))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Arch.Equal(common.ArchMIPS) {
		t.Errorf("Arch = %v, want MIPS", res.Arch)
	}
	if !res.Endian.Equal(common.EndianLittle) {
		t.Errorf("Endian = %v, want LITTLE", res.Endian)
	}
}

func TestClassifyArchAccumulatesAcrossSamples(t *testing.T) {
	outputs := map[string]string{
		"/scratch/a": "data",
		"/scratch/b": "ELF 32-bit MSB executable, ARM",
	}
	res, err := classifyArch(context.Background(), []string{"/scratch/a", "/scratch/b"}, fakeOracle(outputs))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Arch.Equal(common.ArchARM) || !res.Endian.Equal(common.EndianBig) {
		t.Errorf("got arch=%v endian=%v", res.Arch, res.Endian)
	}
}

func TestClassifyArchUnresolved(t *testing.T) {
	outputs := map[string]string{"/scratch/x": "ASCII text"}
	_, err := classifyArch(context.Background(), []string{"/scratch/x"}, fakeOracle(outputs))
	if err == nil {
		t.Fatal("expected unresolved error")
	}
}

func TestScanKernelVersionAndInits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmlinux")
	blob := "junk\x00Linux version 2.6.31 (builder@host) (gcc version 4.2.3) #1\x00more\x00init=/sbin/init noinitrd\x00init=/bin/preinit\x00"
	if err := os.WriteFile(path, []byte(blob), 0644); err != nil {
		t.Fatal(err)
	}

	info, err := ScanKernel(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "2.6.31" {
		t.Errorf("Version = %q, want 2.6.31", info.Version)
	}
	if len(info.InferredInits) != 2 || info.InferredInits[0] != "/sbin/init" || info.InferredInits[1] != "/bin/preinit" {
		t.Errorf("InferredInits = %#v", info.InferredInits)
	}
}

func TestScratchDirCreatesNamedDir(t *testing.T) {
	base := t.TempDir()
	dir, err := ScratchDir(base, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dir) != "abc123" {
		t.Errorf("ScratchDir basename = %q, want abc123", filepath.Base(dir))
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("expected %s to be a directory", dir)
	}
}

func TestCompareKernelVersions(t *testing.T) {
	if CompareKernelVersions("2.6.31", "2.6.36") >= 0 {
		t.Error("expected 2.6.31 < 2.6.36")
	}
	if CompareKernelVersions("2.6.36", "2.6.31") <= 0 {
		t.Error("expected 2.6.36 > 2.6.31")
	}
	if CompareKernelVersions("2.6.31", "2.6.31") != 0 {
		t.Error("expected equal versions to compare equal")
	}
}
