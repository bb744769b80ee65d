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

// Package exec is a thin, context-cancellable wrapper around os/exec,
// used for every external tool the rehosting pipeline shells out to:
// the arch-inference `file` oracle, the firmware extractor, and the
// privileged disk-image tools (sfdisk, mke2fs, losetup, e2fsck).
package exec

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
)

// ErrNotFound mirrors os/exec.ErrNotFound for callers that want to
// compare against it without importing os/exec themselves.
var ErrNotFound = exec.ErrNotFound

// ExecCmd wraps exec.Cmd with a cancel func tied to the context the
// command was built with and Once-guarded Wait, so Wait and Kill can be
// called more than once safely. Output and CombinedOutput are the
// embedded exec.Cmd's own methods and do not go through that guard.
type ExecCmd struct {
	*exec.Cmd
	cancel  context.CancelFunc
	wait    sync.Once
	waitErr error
}

// Command builds an ExecCmd with no deadline of its own.
func Command(name string, arg ...string) *ExecCmd {
	return CommandContext(context.Background(), name, arg...)
}

// CommandContext builds an ExecCmd whose process is killed if ctx is
// cancelled before it exits, the way every long-running external tool
// in this pipeline (losetup, e2fsck, the extractor) is run.
func CommandContext(ctx context.Context, name string, arg ...string) *ExecCmd {
	ctx, cancel := context.WithCancel(ctx)
	return &ExecCmd{
		Cmd:    exec.CommandContext(ctx, name, arg...),
		cancel: cancel,
	}
}

func (cmd *ExecCmd) Wait() error {
	cmd.wait.Do(func() {
		cmd.waitErr = cmd.Cmd.Wait()
	})
	return cmd.waitErr
}

// Kill cancels the command's context and waits for it to exit; safe to
// call even if the process has already finished. A process that dies
// from the resulting SIGKILL is reported as success.
func (cmd *ExecCmd) Kill() error {
	cmd.cancel()
	err := cmd.Wait()
	if eerr, ok := err.(*exec.ExitError); ok {
		if status, ok := eerr.Sys().(syscall.WaitStatus); ok && status.Signaled() && status.Signal() == syscall.SIGKILL {
			return nil
		}
	}
	return err
}

// IsCmdNotFound reports whether err is the "executable not found in
// $PATH" error os/exec returns, used to tell a genuinely missing
// external tool apart from one that ran and failed.
func IsCmdNotFound(err error) bool {
	eerr, ok := err.(*exec.Error)
	return ok && eerr.Err == ErrNotFound
}
