// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle owns process-level concerns: the PID file, signal
// handling, and the teardown sequence that every exit path funnels
// through.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// DefaultPIDPath is where the daemon advertises its PID.
const DefaultPIDPath = "/var/run/jibri/jibri-xmpp.pid"

// WritePIDFile atomically writes the current PID to path.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := renameio.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the PID file, but only when it still names this
// process. A restarted daemon must not delete its successor's file.
func RemovePIDFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}
