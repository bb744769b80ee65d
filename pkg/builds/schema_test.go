package builds

import (
	"testing"

	"github.com/firmadyne/femu-rehost/internal/pipeline"
)

func TestValidateAcceptsWellFormedReport(t *testing.T) {
	fi, err := pipeline.NewFirmwareImage(t.TempDir()+"/in.bin", t.TempDir(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	fi.Brand = "netgear"

	if violations := Validate(fi); len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
}

func TestValidateRejectsMissingBrand(t *testing.T) {
	fi, err := pipeline.NewFirmwareImage(t.TempDir()+"/in.bin", t.TempDir(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	fi.Brand = ""

	if violations := Validate(fi); len(violations) == 0 {
		t.Fatal("expected a violation for an empty brand")
	}
}

func TestSetSchemaFromFileRejectsNilReader(t *testing.T) {
	if err := SetSchemaFromFile(nil); err == nil {
		t.Fatal("expected an error for a nil reader")
	}
}
