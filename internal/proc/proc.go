// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package proc supervises the two media subprocesses, the Encoder (ffmpeg)
// and the Gateway (pjsua). The processes themselves are forked by external
// scripts; this package owns liveness probing through their PID files,
// graceful kills, and terminal-state mapping from the gateway result file.
package proc

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/log"
)

// Fixed deployment paths. Tests override them through Paths.
const (
	DefaultEncoderPIDFile    = "/var/run/jibri/ffmpeg.pid"
	DefaultEncoderOutputFile = "/tmp/jibri-ffmpeg.out"
	DefaultGatewayPIDFile    = "/var/run/jibri/pjsua.pid"
	DefaultGatewayResultFile = "/tmp/jibri-pjsua.result"
)

// Startup probing policy.
const (
	EncoderWaitAttempts = 15
	GatewayWaitAttempts = 3
	WaitInterval        = time.Second
)

// Paths locates the files the external scripts maintain.
type Paths struct {
	EncoderPID    string
	EncoderOutput string
	GatewayPID    string
	GatewayResult string
}

// DefaultPaths returns the fixed OS paths used in production.
func DefaultPaths() Paths {
	return Paths{
		EncoderPID:    DefaultEncoderPIDFile,
		EncoderOutput: DefaultEncoderOutputFile,
		GatewayPID:    DefaultGatewayPIDFile,
		GatewayResult: DefaultGatewayResultFile,
	}
}

// GatewayOutcome classifies why the gateway terminated, read from its
// result file.
type GatewayOutcome int

const (
	// GatewayNoResult means the result file is absent or unreadable.
	GatewayNoResult GatewayOutcome = iota
	// GatewayHangup is a clean remote hangup (code 0).
	GatewayHangup
	// GatewayBusy means the SIP peer rejected the call (code 2).
	GatewayBusy
	// GatewayUnknown is any other terminal code.
	GatewayUnknown
)

// Scripts is the subset of script effects the supervisor drives.
type Scripts interface {
	LaunchEncoder(ctx context.Context, url, recordingPath, token, streamID string, backup bool) (int, error)
	LaunchGateway(ctx context.Context, sipAddress, displayName string) (int, error)
	CheckEncoderProgress(ctx context.Context) (int, error)
	StopRecording(ctx context.Context) (int, error)
	StopSelenium(ctx context.Context) (int, error)
	FinalizeRecording(ctx context.Context, dir string) (int, error)
}

// Supervisor owns the lifecycle of the Encoder and Gateway subprocesses.
type Supervisor struct {
	paths   Paths
	scripts Scripts
	logger  zerolog.Logger
}

// New returns a Supervisor reading the given paths and driving the given
// scripts.
func New(scripts Scripts, paths Paths) *Supervisor {
	return &Supervisor{
		paths:   paths,
		scripts: scripts,
		logger:  log.WithComponent("proc"),
	}
}

// StartEncoder forks the encoder via its launch script. A zero exit code
// means the fork happened; callers must follow up with WaitEncoderRunning.
func (s *Supervisor) StartEncoder(ctx context.Context, url, recordingPath, token, streamID string, backup bool) (int, error) {
	return s.scripts.LaunchEncoder(ctx, url, recordingPath, token, streamID, backup)
}

// StartGateway forks the SIP gateway via its launch script.
func (s *Supervisor) StartGateway(ctx context.Context, sipAddress, displayName string) (int, error) {
	return s.scripts.LaunchGateway(ctx, sipAddress, displayName)
}

// EncoderRunning reports whether the encoder is alive. With
// includeProgressCheck set, the PID probe is backed by the
// streaming-progress script; the watchdog's steady-state polls leave the
// flag unset so the probe script only runs during startup.
func (s *Supervisor) EncoderRunning(ctx context.Context, includeProgressCheck bool) bool {
	if !pidAlive(s.paths.EncoderPID) {
		return false
	}
	if !includeProgressCheck {
		return true
	}
	code, err := s.scripts.CheckEncoderProgress(ctx)
	if err != nil || code != 0 {
		s.logger.Debug().Int("exit_code", code).Err(err).Msg("encoder progress check failed")
		return false
	}
	return true
}

// GatewayRunning reports whether the gateway PID is alive.
func (s *Supervisor) GatewayRunning() bool {
	return pidAlive(s.paths.GatewayPID)
}

// WaitEncoderRunning polls EncoderRunning up to attempts times at the wait
// interval. Returns true as soon as a probe succeeds.
func (s *Supervisor) WaitEncoderRunning(ctx context.Context, attempts int, includeProgressCheck bool) bool {
	return s.waitRunning(ctx, attempts, func() bool {
		return s.EncoderRunning(ctx, includeProgressCheck)
	})
}

// WaitGatewayRunning polls GatewayRunning up to attempts times.
func (s *Supervisor) WaitGatewayRunning(ctx context.Context, attempts int) bool {
	return s.waitRunning(ctx, attempts, s.GatewayRunning)
}

func (s *Supervisor) waitRunning(ctx context.Context, attempts int, probe func() bool) bool {
	for i := 0; i < attempts; i++ {
		if probe() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(WaitInterval):
		}
	}
	return false
}

// KillEncoder sends a graceful terminate to the encoder through its PID
// file. Returns whether a PID file was present. SIGTERM lets ffmpeg flush
// its output before exiting.
func (s *Supervisor) KillEncoder() bool {
	return s.killPIDFile(s.paths.EncoderPID, "encoder")
}

// KillGateway sends a graceful terminate to the gateway through its PID file.
func (s *Supervisor) KillGateway() bool {
	return s.killPIDFile(s.paths.GatewayPID, "gateway")
}

func (s *Supervisor) killPIDFile(path, name string) bool {
	pid, ok := readPID(path)
	if !ok {
		return false
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err != syscall.ESRCH {
			s.logger.Warn().Str("process", name).Int("pid", pid).Err(err).Msg("terminate failed")
		}
		return true
	}
	s.logger.Debug().Str("process", name).Int("pid", pid).Msg("sent SIGTERM")
	return true
}

// HardStop invokes the process-name-based cleanup script. Used when
// graceful kills cannot be trusted to have worked.
func (s *Supervisor) HardStop(ctx context.Context) {
	if code, err := s.scripts.StopRecording(ctx); err != nil || code != 0 {
		s.logger.Warn().Int("exit_code", code).Err(err).Msg("stop_recording script failed")
	}
}

// HardStopBrowser kills chrome by process name. Fired by the deadline
// timers guarding browser launch and shutdown.
func (s *Supervisor) HardStopBrowser(ctx context.Context) {
	if code, err := s.scripts.StopSelenium(ctx); err != nil || code != 0 {
		s.logger.Warn().Int("exit_code", code).Err(err).Msg("stop_selenium script failed")
	}
}

// FinalizeRecording runs the post-session hook. File mode only.
func (s *Supervisor) FinalizeRecording(ctx context.Context, dir string) error {
	code, err := s.scripts.FinalizeRecording(ctx, dir)
	if err != nil {
		return err
	}
	if code != 0 {
		s.logger.Warn().Int("exit_code", code).Str("dir", dir).Msg("finalize script returned non-zero")
	}
	return nil
}

// GatewayResult reads the gateway's terminal code from its result file.
func (s *Supervisor) GatewayResult() GatewayOutcome {
	data, err := os.ReadFile(s.paths.GatewayResult)
	if err != nil {
		return GatewayNoResult
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return GatewayNoResult
	}
	switch code {
	case 0:
		return GatewayHangup
	case 2:
		return GatewayBusy
	default:
		return GatewayUnknown
	}
}

// readPID parses a PID file. Missing or malformed files mean "no process";
// PID files are advisory.
func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// pidAlive reports whether the PID named by the file exists. Signal 0
// probes existence without touching the process; EPERM still means alive.
func pidAlive(path string) bool {
	pid, ok := readPID(path)
	if !ok {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
