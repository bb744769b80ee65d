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

package system

import "syscall"

// Unmount detaches the filesystem mounted at target, returning a
// MountError on failure so callers get the same diagnostic shape as
// Mount.
func Unmount(target string) error {
	if err := syscall.Unmount(target, 0); err != nil {
		return &MountError{Target: target, Err: err}
	}
	return nil
}

// ForceUnmount performs a lazy, detached unmount: the mount point is
// removed from the namespace immediately but the underlying loop
// device isn't released until no process still has it open. Used as a
// fallback when a rehosting run's own unmount fails because something
// still holds the work directory's mount busy.
func ForceUnmount(target string) error {
	if err := syscall.Unmount(target, syscall.MNT_DETACH); err != nil {
		return &MountError{Target: target, Err: err}
	}
	return nil
}
