// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup spawns external commands in their own process group and
// kills the whole group, so shell-script children never outlive the worker.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

var ErrKillFailed = errors.New("kill operation failed")

// Terminate gracefully stops a process group: SIGTERM, wait up to grace via
// the provided wait channel, then SIGKILL and drain. Safe on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Kill(cmd, syscall.SIGKILL)
	return <-waitCh
}
