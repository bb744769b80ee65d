// Package builds validates the analyze-mode report against a JSON
// Schema document, the way the teacher validates its build metadata
// before publishing it.
package builds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	schema "github.com/xeipuuv/gojsonschema"

	"github.com/firmadyne/femu-rehost/internal/pipeline"
)

// reportSchemaJSON is the default JSON Schema for a FirmwareImage
// analyze-mode report.
const reportSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "FirmwareImage report",
  "type": "object",
  "required": ["InputPath", "OutputPath", "Brand", "State"],
  "properties": {
    "InputPath":           {"type": "string", "minLength": 1},
    "OutputPath":          {"type": "string", "minLength": 1},
    "ImagesDir":           {"type": "string"},
    "WorkDir":             {"type": "string"},
    "Brand":               {"type": "string", "minLength": 1},
    "IID":                 {"type": "integer"},
    "KernelPath":          {"type": "string"},
    "RootfsTarballPath":   {"type": "string"},
    "Arch":                {"type": "object"},
    "Endianness":          {"type": "object"},
    "KernelVersion":       {"type": "string"},
    "KernelVersionString": {"type": "string"},
    "InferredInits":       {"type": ["array", "null"], "items": {"type": "string"}},
    "InferredInitStrings": {"type": ["array", "null"], "items": {"type": "string"}},
    "VerifiedInits":       {"type": ["array", "null"], "items": {"type": "string"}},
    "State":               {"type": "string", "minLength": 1}
  }
}`

// SchemaJSON is the active schema document; overridable via
// SetSchemaFromFile or the FEMU_REHOST_REPORT_SCHEMA environment
// variable so a downstream deployment can tighten or relax it without
// a rebuild.
var SchemaJSON = reportSchemaJSON

func init() {
	path := os.Getenv("FEMU_REHOST_REPORT_SCHEMA")
	if strings.ToLower(path) == "none" || path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		panic(errors.Wrapf(err, "failed to open report schema file %s", path))
	}
	defer f.Close()

	if err := SetSchemaFromFile(f); err != nil {
		panic(errors.Wrapf(err, "failed to read report schema file %s", path))
	}
}

// SetSchemaFromFile replaces the active schema document.
func SetSchemaFromFile(r io.Reader) error {
	if r == nil {
		return errors.New("schema input is invalid")
	}
	in, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	SchemaJSON = string(in)
	return nil
}

// Validate checks a FirmwareImage analyze-mode report against
// SchemaJSON, returning every violation found.
func Validate(fi *pipeline.FirmwareImage) []error {
	var errs []error

	data, err := json.Marshal(fi)
	if err != nil {
		return append(errs, err)
	}
	if len(data) == 0 {
		return append(errs, errors.New("report data is empty"))
	}

	result, err := schema.Validate(
		schema.NewStringLoader(SchemaJSON),
		schema.NewStringLoader(string(data)),
	)
	if err != nil {
		return append(errs, errors.Wrap(err, "evaluating report schema"))
	}
	if result.Valid() {
		return nil
	}

	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Errorf("invalid: %s", desc))
	}
	return errs
}
