// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package watchdog polls subprocess and browser liveness during an active
// session. One long-lived task consumes a command channel: Armed starts
// polling, Reset abandons the current session, Poison exits the task.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/metrics"
	"github.com/ManuGH/jibrid/internal/selenium"
)

// Polling policy.
const (
	PollInterval = 5 * time.Second
	// browser probes that report failure are confirmed by re-probes before
	// being believed
	browserReprobes       = 2
	browserReprobeDelay   = time.Second
	browserProbeDeadline  = 10 * time.Second
	reasonSeleniumStuck   = "selenium_stuck"
	reasonSeleniumDied    = "selenium_died"
	reasonSeleniumHangup  = "selenium_hangup"
	reasonEncoderDied     = "ffmpeg_died"
	reasonGatewayDied     = "pjsua_died"
	reasonTimeLimit       = "timelimit"
)

// Payload carries what the watchdog needs to supervise a session and to
// relaunch the encoder after a transient death.
type Payload struct {
	SIPMode       bool
	SIPAddress    string
	RoomName      string
	URL           string
	RecordingPath string
	Token         string
	StreamID      string
	Backup        bool
	// Timeout is the wall-clock recording limit. Zero disables it.
	Timeout time.Duration
}

// Prober is the liveness surface the watchdog polls. Implemented by the
// session controller over the subprocess supervisor and browser driver.
type Prober interface {
	// EncoderAlive probes the encoder PID without the progress check.
	EncoderAlive(ctx context.Context) bool
	// GatewayAlive probes the gateway PID. On death it returns the
	// terminal-code-derived reason (pjsua_busy, pjsua_hangup) or empty when
	// no result file explains it.
	GatewayAlive(ctx context.Context) (bool, string)
	// BrowserState probes the in-page conference client.
	BrowserState(ctx context.Context) selenium.State
	// RestartEncoder relaunches the encoder from the payload. Reports
	// whether the session may resume.
	RestartEncoder(ctx context.Context, p Payload) bool
	// RestartBrowser relaunches the browser without the audio probe.
	RestartBrowser(ctx context.Context) bool
}

type cmdKind int

const (
	cmdPoison cmdKind = iota
	cmdReset
	cmdArmed
)

type command struct {
	kind    cmdKind
	payload Payload
}

// Watchdog is the single long-lived supervisor task.
type Watchdog struct {
	cmds     chan command
	prober   Prober
	finished func(reason string)
	logger   zerolog.Logger

	// test hooks
	pollInterval  time.Duration
	reprobeDelay  time.Duration
	probeDeadline time.Duration
}

// New creates a watchdog. finished is invoked with the termination reason;
// it must be safe to call from the watchdog goroutine.
func New(prober Prober, finished func(reason string)) *Watchdog {
	return &Watchdog{
		cmds:          make(chan command, 8),
		prober:        prober,
		finished:      finished,
		logger:        log.WithComponent("watchdog"),
		pollInterval:  PollInterval,
		reprobeDelay:  browserReprobeDelay,
		probeDeadline: browserProbeDeadline,
	}
}

// Arm starts polling the given session.
func (w *Watchdog) Arm(p Payload) {
	w.cmds <- command{kind: cmdArmed, payload: p}
}

// Reset abandons the current session and returns the watchdog to its wait
// state. Safe to call when nothing is armed.
func (w *Watchdog) Reset() {
	w.cmds <- command{kind: cmdReset}
}

// Poison makes the watchdog task exit.
func (w *Watchdog) Poison() {
	w.cmds <- command{kind: cmdPoison}
}

// Run consumes the command channel until poisoned or the context ends.
func (w *Watchdog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.cmds:
			switch cmd.kind {
			case cmdPoison:
				w.logger.Debug().Msg("poisoned, exiting")
				return
			case cmdReset:
				// nothing armed, ignore
			case cmdArmed:
				if !w.watch(ctx, cmd.payload) {
					return
				}
			}
		}
	}
}

// watch polls one session until it ends. Returns false when the watchdog
// itself must exit.
func (w *Watchdog) watch(ctx context.Context, p Payload) bool {
	w.logger.Info().
		Bool("sip", p.SIPMode).
		Dur("timeout", p.Timeout).
		Msg("session armed, watching")

	started := time.Now()
	encoderRestarted := false
	browserRestarted := false

	for {
		// drain any new command without blocking
		select {
		case cmd := <-w.cmds:
			switch cmd.kind {
			case cmdPoison:
				w.logger.Debug().Msg("poisoned while armed, exiting")
				return false
			case cmdReset:
				w.logger.Debug().Msg("reset, returning to wait state")
				return true
			case cmdArmed:
				// re-arm with the new payload
				p = cmd.payload
				started = time.Now()
			}
		default:
		}

		if p.Timeout > 0 && time.Since(started) >= p.Timeout {
			w.logger.Info().Dur("timeout", p.Timeout).Msg("recording time limit reached")
			w.finished(reasonTimeLimit)
			return true
		}

		if reason, ok := w.probeMedia(ctx, p, &encoderRestarted); !ok {
			w.finished(reason)
			return true
		}

		if reason, ok := w.probeBrowser(ctx, &browserRestarted); !ok {
			w.finished(reason)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.pollInterval):
		}
	}
}

// probeMedia checks the encoder (or gateway in SIP mode). A dead encoder is
// given one relaunch from the payload before the session is failed.
func (w *Watchdog) probeMedia(ctx context.Context, p Payload, restarted *bool) (string, bool) {
	if p.SIPMode {
		alive, reason := w.prober.GatewayAlive(ctx)
		if alive {
			return "", true
		}
		if reason == "" {
			reason = reasonGatewayDied
		}
		return reason, false
	}

	if w.prober.EncoderAlive(ctx) {
		return "", true
	}
	if *restarted {
		return reasonEncoderDied, false
	}
	*restarted = true
	w.logger.Warn().Msg("encoder no longer running, attempting a relaunch")
	if w.prober.RestartEncoder(ctx, p) {
		w.logger.Info().Msg("encoder relaunched successfully")
		metrics.WatchdogRestartTotal.WithLabelValues("encoder", "ok").Inc()
		return "", true
	}
	metrics.WatchdogRestartTotal.WithLabelValues("encoder", "failed").Inc()
	return reasonEncoderDied, false
}

// probeBrowser checks the in-page client. A failure verdict is confirmed by
// re-probes; a confirmed death gets one browser restart before the session
// is failed. A probe that does not answer within its deadline fails the
// session as stuck.
func (w *Watchdog) probeBrowser(ctx context.Context, restarted *bool) (string, bool) {
	state, ok := w.probeOnce(ctx)
	if !ok {
		return reasonSeleniumStuck, false
	}
	if state == selenium.StateRunning {
		return "", true
	}

	for i := 0; i < browserReprobes; i++ {
		select {
		case <-ctx.Done():
			return "", true
		case <-time.After(w.reprobeDelay):
		}
		state, ok = w.probeOnce(ctx)
		if !ok {
			return reasonSeleniumStuck, false
		}
		if state == selenium.StateRunning {
			return "", true
		}
	}

	if state == selenium.StateHangup {
		return reasonSeleniumHangup, false
	}

	if !*restarted {
		*restarted = true
		w.logger.Warn().Msg("browser confirmed dead, attempting a restart")
		if w.prober.RestartBrowser(ctx) {
			w.logger.Info().Msg("browser restarted successfully")
			metrics.WatchdogRestartTotal.WithLabelValues("browser", "ok").Inc()
			return "", true
		}
		metrics.WatchdogRestartTotal.WithLabelValues("browser", "failed").Inc()
	}
	return reasonSeleniumDied, false
}

// probeOnce runs a single browser probe under the probe deadline. ok is
// false when the probe did not answer in time.
func (w *Watchdog) probeOnce(ctx context.Context) (selenium.State, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, w.probeDeadline)
	defer cancel()

	result := make(chan selenium.State, 1)
	go func() {
		result <- w.prober.BrowserState(probeCtx)
	}()

	select {
	case state := <-result:
		return state, true
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			// worker shutdown, not a stuck browser
			return selenium.StateRunning, true
		}
		w.logger.Error().Msg("browser probe exceeded deadline")
		return selenium.StateDead, false
	}
}
