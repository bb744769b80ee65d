package pipeline

import "fmt"

// Stage names a point in the orchestrator state machine, used both for
// FirmwareImage.State and for tagging errors with where they occurred.
type Stage string

const (
	StageInit         Stage = "init"
	StageExtracted    Stage = "extracted"
	StageInspected    Stage = "inspected"
	StageCompatible   Stage = "compatible"
	StageCatalogued   Stage = "catalogued"
	StageMaterialised Stage = "materialised"
	StageRewritten    Stage = "rewritten"
	StageDone         Stage = "done"
)

// stageOrder gives each Stage its position in the state machine. The
// Stage values themselves are not lexicographically ordered the same
// way (e.g. "catalogued" < "compatible" as strings, though catalogued
// is the later stage), so any code
// needing "did we reach stage X yet" must compare ordinals, not the
// Stage strings directly.
var stageOrder = map[Stage]int{
	StageInit:         0,
	StageExtracted:    1,
	StageInspected:    2,
	StageCompatible:   3,
	StageCatalogued:   4,
	StageMaterialised: 5,
	StageRewritten:    6,
	StageDone:         7,
}

// Reached reports whether this stage is at or past target in state-machine
// order.
func (s Stage) Reached(target Stage) bool {
	return stageOrder[s] >= stageOrder[target]
}

// Kind is the error taxonomy of spec.md §7.
type Kind string

const (
	KindConfigError        Kind = "ConfigError"
	KindExtractionError    Kind = "ExtractionError"
	KindInferenceError     Kind = "InferenceError"
	KindIncompatibleTarget Kind = "IncompatibleTarget"
	KindCatalogError       Kind = "CatalogError"
	KindImageBuildError    Kind = "ImageBuildError"
	KindRewriteError       Kind = "RewriteError"
	KindPathError          Kind = "PathError"
)

// StageError is the typed error every pipeline stage returns on
// failure: it carries which taxonomy Kind applies, which Stage it
// happened in, and the underlying cause.
type StageError struct {
	Kind  Kind
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s at stage %s: %v", e.Kind, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s at stage %s", e.Kind, e.Stage)
}

func (e *StageError) Unwrap() error { return e.Cause }

// newStageError is the constructor every orchestrator step funnels
// through so every failure carries a Kind and Stage.
func newStageError(kind Kind, stage Stage, cause error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Cause: cause}
}

// Fatal reports whether a Kind must abort startup entirely rather than
// just this one image, per spec.md §7's policy column.
func (k Kind) Fatal() bool {
	return k == KindConfigError
}
