// Package rehost implements the rehosting rewrite (C8): the fixed-order
// sequence of filesystem surgeries that turn a freshly materialised
// root filesystem into something the Firmadyne runtime can boot —
// an init launcher with symlink repair, service discovery, filesystem
// fixups, essential files, device nodes, NVRAM pre-seeding, and reboot
// neutralisation.
//
// Grounded in full on original_source/src/prepareImage.py.
package rehost

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firmadyne/femu-rehost/internal/pathalgebra"
)

var rlog = log.WithField("component", "rehost")

// firmadyneDirs are created in step (a); any already existing aborts
// the whole rewrite, since the rewriter is meant to run at most once
// per materialised image.
var firmadyneDirs = []string{
	"/firmadyne",
	"/firmadyne/libnvram",
	"/firmadyne/libnvram.override",
}

// ErrAlreadyRewritten is returned by Skeleton (and therefore Rewrite)
// when any of the firmadyne directories already exists.
var ErrAlreadyRewritten = errors.New("firmadyne skeleton already exists; image was already rewritten")

// Skeleton creates the firmadyne helper directories. It is step (a) and
// is non-idempotent by design: a pre-existing skeleton means this image
// has already been rewritten once, which the orchestrator must never
// allow.
func Skeleton(root string) error {
	for _, d := range firmadyneDirs {
		host, err := pathalgebra.GuestToHost(root, d)
		if err != nil {
			return errors.Wrapf(err, "translating %s", d)
		}
		if _, err := os.Stat(host); err == nil {
			return errors.Wrapf(ErrAlreadyRewritten, "%s exists", d)
		}
	}
	for _, d := range firmadyneDirs {
		host, err := pathalgebra.GuestToHost(root, d)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(host, 0755); err != nil {
			return errors.Wrapf(err, "creating %s", d)
		}
	}
	rlog.WithField("root", root).Debug("firmadyne skeleton created")
	return nil
}

// Rewrite runs the full C8 sequence (a)->(h) against the mounted root
// in order, stopping at the first failing step.
func Rewrite(root string, candidateInits []string) (*RewriteResult, error) {
	if err := Skeleton(root); err != nil {
		return nil, err
	}

	inits, err := ValidateInits(root, candidateInits)
	if err != nil {
		return nil, errors.Wrap(err, "validating init candidates")
	}

	services, primary, err := DiscoverServices(root)
	if err != nil {
		return nil, errors.Wrap(err, "discovering services")
	}

	dirLog, err := FixupFilesystem(root)
	if err != nil {
		return nil, errors.Wrap(err, "running filesystem fixups")
	}

	if err := EssentialFiles(root); err != nil {
		return nil, errors.Wrap(err, "writing essential files")
	}

	if err := PopulateDevNodes(root); err != nil {
		return nil, errors.Wrap(err, "populating device nodes")
	}

	if err := SeedNvram(root); err != nil {
		return nil, errors.Wrap(err, "seeding nvram overrides")
	}

	if err := PreventReboot(root); err != nil {
		return nil, errors.Wrap(err, "neutralising reboot")
	}

	return &RewriteResult{
		VerifiedInits:  inits,
		Services:       services,
		PrimaryService: primary,
		ReferencedDirs: dirLog,
	}, nil
}

// RewriteResult summarises the artifacts a full Rewrite pass produced,
// for the orchestrator to fold back into the FirmwareImage runtime
// object.
type RewriteResult struct {
	VerifiedInits  []string
	Services       map[string]ServiceEntry
	PrimaryService ServiceEntry
	ReferencedDirs []string
}

// guestBasename mirrors filepath.Base but operates on guest-rooted
// paths, which are always '/'-separated regardless of host OS.
func guestBasename(p string) string {
	p = strings.TrimRight(p, "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// findByBasename walks the mounted root looking for any regular file
// or symlink whose basename equals name, returning guest-rooted paths
// in walk order.
func findByBasename(root, name string) ([]string, error) {
	var hits []string
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable subtrees
		}
		if fi.IsDir() {
			return nil
		}
		if filepath.Base(p) != name {
			return nil
		}
		guest, gerr := pathalgebra.HostToGuest(root, p)
		if gerr != nil {
			return nil
		}
		hits = append(hits, guest)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s for %s", root, name)
	}
	return hits, nil
}
