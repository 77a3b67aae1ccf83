// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package script invokes the external shell scripts that own the media
// subprocesses. Each script is a narrow contract: arguments in, exit code
// out. The scripts' bodies (ffmpeg invocation, pjsua flags, process-name
// cleanup) are deployment-owned and never reimplemented here.
package script

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/config"
	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/metrics"
	"github.com/ManuGH/jibrid/internal/procgroup"
)

// Script file names, relative to the runner's directory.
const (
	launchRecording = "launch_recording.sh"
	launchGateway   = "launch_pjsua.sh"
	checkFFmpeg     = "check_ffmpeg_running.sh"
	stopRecording   = "stop_recording.sh"
	stopSelenium    = "stop_selenium.sh"
	finalize        = "finalize_recording.sh"
	checkAudio      = "check_audio.sh"
)

// DefaultTimeout bounds a single script invocation. Scripts that daemonize
// their payload (launch_recording.sh) return quickly; the timeout only
// guards against a wedged shell. SCRIPT_TIMEOUT overrides it.
const DefaultTimeout = 60 * time.Second

// Runner executes the deployment's scripts from a fixed directory.
type Runner struct {
	dir     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRunner returns a Runner for the scripts in dir.
func NewRunner(dir string) *Runner {
	return &Runner{
		dir:     dir,
		timeout: config.ParseDuration("SCRIPT_TIMEOUT", DefaultTimeout),
		logger:  log.WithComponent("script"),
	}
}

// LaunchEncoder starts the media capture process. The script forks ffmpeg,
// writes its PID file, and exits; a zero exit code means the fork happened,
// not that streaming works.
func (r *Runner) LaunchEncoder(ctx context.Context, url, recordingPath, token, streamID string, backup bool) (int, error) {
	backupArg := ""
	if backup {
		backupArg = "backup"
	}
	return r.run(ctx, launchRecording, url, recordingPath, token, streamID, backupArg)
}

// LaunchGateway starts the SIP bridge process.
func (r *Runner) LaunchGateway(ctx context.Context, sipAddress, displayName string) (int, error) {
	return r.run(ctx, launchGateway, sipAddress, displayName)
}

// CheckEncoderProgress probes the encoder output file for streaming
// progress. Zero exit means frames are flowing.
func (r *Runner) CheckEncoderProgress(ctx context.Context) (int, error) {
	return r.run(ctx, checkFFmpeg)
}

// StopRecording performs process-name-based cleanup of the media pipeline
// and the browser. It is the forceful backstop behind every graceful kill.
func (r *Runner) StopRecording(ctx context.Context) (int, error) {
	return r.run(ctx, stopRecording)
}

// StopSelenium kills chrome and its driver by process name. The backstop
// behind every graceful browser shutdown deadline.
func (r *Runner) StopSelenium(ctx context.Context) (int, error) {
	return r.run(ctx, stopSelenium)
}

// FinalizeRecording runs the post-session hook over a finished recording
// directory. File mode only.
func (r *Runner) FinalizeRecording(ctx context.Context, dir string) (int, error) {
	return r.run(ctx, finalize, dir)
}

// CheckAudio verifies the loopback/capture device pairing while the probe
// clip plays. Non-zero exit fails the session start.
func (r *Runner) CheckAudio(ctx context.Context) (int, error) {
	return r.run(ctx, checkAudio)
}

func (r *Runner) run(ctx context.Context, name string, args ...string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, filepath.Join(r.dir, name), args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	code := 0
	result := "ok"
	switch {
	case err == nil:
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			result = "nonzero"
			err = nil
		} else {
			code = -1
			result = "error"
		}
	}
	metrics.ScriptInvocationTotal.WithLabelValues(name, result).Inc()

	evt := r.logger.Debug()
	if code != 0 {
		evt = r.logger.Warn()
	}
	evt.Str("script", name).
		Str("exit_code", strconv.Itoa(code)).
		Dur("elapsed", elapsed).
		Err(err).
		Msg("script finished")
	return code, err
}
