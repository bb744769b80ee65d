package rehost

import (
	"os"

	"github.com/pkg/errors"

	"github.com/firmadyne/femu-rehost/internal/pathalgebra"
)

// essentialFiles lists the /etc files step (e) creates verbatim if
// absent or present-but-empty.
var essentialFiles = []struct {
	path    string
	content string
}{
	{"/etc/TZ", "EST5EDT\n"},
	{"/etc/hosts", "127.0.0.1 localhost\n"},
	{"/etc/passwd", "root::0:0:root:/root:/bin/sh\n"},
}

// EssentialFiles writes each fixed /etc file when it is missing or
// exists but is empty.
func EssentialFiles(root string) error {
	for _, ef := range essentialFiles {
		if pathalgebra.IsFileInGuestNotEmpty(root, ef.path) {
			continue
		}
		host, err := pathalgebra.GuestToHost(root, ef.path)
		if err != nil {
			return errors.Wrapf(err, "translating %s", ef.path)
		}
		host = pathalgebra.ReadGuestLink(host, root, true)
		if err := os.MkdirAll(dirOf(host), 0755); err != nil {
			return errors.Wrapf(err, "creating parent directory for %s", ef.path)
		}
		if err := os.WriteFile(host, []byte(ef.content), 0644); err != nil {
			return errors.Wrapf(err, "writing %s", ef.path)
		}
	}
	return nil
}

// rebootTargets are removed, if present, by PreventReboot.
var rebootTargets = []string{"/sbin/reboot", "/etc/scripts/sys_resetbutton"}

// PreventReboot removes the fixed set of reboot triggers from the
// image, step (h).
func PreventReboot(root string) error {
	for _, t := range rebootTargets {
		host, err := pathalgebra.GuestToHost(root, t)
		if err != nil {
			return err
		}
		if _, err := os.Lstat(host); err != nil {
			continue
		}
		if err := os.Remove(host); err != nil {
			return errors.Wrapf(err, "removing %s", t)
		}
	}
	return nil
}
