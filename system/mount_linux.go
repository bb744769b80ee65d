// Copyright 2015 CoreOS, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package system wraps the mount(2)/umount(2) syscalls used to attach a
// loop-backed ext2 partition at a work directory's mount point (spec.md
// §4.6). Propagation-type and bind-mount support from the ancestor of
// this file is gone: a rehosting preparation engine only ever mounts
// one ext2 image at a time and tears it back down, it never shares or
// moves a mount tree.
package system

import (
	"fmt"
	"strings"
	"syscall"
)

// mountFlags maps the subset of mount(8)-style option names relevant to
// mounting a loop-backed rootfs image to their syscall flag values.
var mountFlags = map[string]uintptr{
	"ro":       syscall.MS_RDONLY,
	"noexec":   syscall.MS_NOEXEC,
	"nosuid":   syscall.MS_NOSUID,
	"nodev":    syscall.MS_NODEV,
	"noatime":  syscall.MS_NOATIME,
	"sync":     syscall.MS_SYNCHRONOUS,
	"remount":  syscall.MS_REMOUNT,
	"dirsync":  syscall.MS_DIRSYNC,
	"relatime": syscall.MS_RELATIME,
}

// MountError records a mount or unmount failure, similar to os.PathError.
type MountError struct {
	Source string
	Target string
	FsType string
	Flags  uintptr
	Extra  string
	Err    error
}

func (e *MountError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("umount %s failed: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("mount %s (%s) on %s failed: %v", e.Source, e.FsType, e.Target, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

func splitFlags(options string) (uintptr, string) {
	if options == "" {
		return 0, ""
	}
	var flags uintptr
	var extra []string
	for _, opt := range strings.Split(options, ",") {
		if flag, ok := mountFlags[opt]; ok {
			flags |= flag
		} else {
			extra = append(extra, opt)
		}
	}
	return flags, strings.Join(extra, ",")
}

// Mount wraps mount(2), accepting both recognized flag names and raw
// filesystem-specific options as a single comma-separated string (any
// token not found in mountFlags is passed through as an option).
func Mount(source, target, fstype, options string) error {
	if source == "" {
		source = fstype
	}
	flags, extra := splitFlags(options)
	if err := syscall.Mount(source, target, fstype, flags, extra); err != nil {
		return &MountError{Source: source, Target: target, FsType: fstype, Flags: flags, Extra: extra, Err: err}
	}
	return nil
}
