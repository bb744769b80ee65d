// Package cli is a small registry of the running modes the rehosting
// CLI supports, adapted from the teacher's flag-dispatch command
// registry into a description table consumed by the `modes` cobra
// subcommand (see cmd/femu-rehost).
package cli

import "github.com/firmadyne/femu-rehost/internal/common"

// ModeInfo documents one RunningMode for the `modes` subcommand: what it
// does and how it differs from a plain run.
type ModeInfo struct {
	Name        common.RunningMode
	Summary     string
	Description string
}

var registry []ModeInfo

// Register adds a mode to the registry. Called from this package's
// init() for each of the four supported modes.
func Register(m ModeInfo) {
	registry = append(registry, m)
}

// All returns every registered mode, in registration order.
func All() []ModeInfo {
	return registry
}

// Lookup finds the ModeInfo for name, if registered.
func Lookup(name common.RunningMode) (ModeInfo, bool) {
	for _, m := range registry {
		if m.Name == name {
			return m, true
		}
	}
	return ModeInfo{}, false
}

func init() {
	Register(ModeInfo{
		Name:        common.ModeRun,
		Summary:     "Extract, infer, catalogue, build, and rewrite the image",
		Description: "Runs the full pipeline end to end and cleans up its mount/loop device on success and on failure, except after a failed rewrite, which leaves the mount attached for inspection.",
	})
	Register(ModeInfo{
		Name:        common.ModeCheck,
		Summary:     "Dry run: brand detection, catalog connectivity, input existence",
		Description: "Performs brand detection and a catalog connectivity check without extracting or mutating anything.",
	})
	Register(ModeInfo{
		Name:        common.ModeAnalyze,
		Summary:     "Extract, infer, and catalogue; stop before the image is built",
		Description: "Runs through compatibility checking and the catalog dump, then emits a YAML report of the FirmwareImage state and stops before the raw image is built.",
	})
	Register(ModeInfo{
		Name:        common.ModeDebug,
		Summary:     "Like run, but leaves mounts and work directories behind for inspection",
		Description: "Identical to run except that no cleanup is done, on failure or on success, so the mount/loop device/work dir can be inspected; logs at debug level.",
	})
}
