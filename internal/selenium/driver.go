// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package selenium drives the headless browser that joins the conference.
// The core never talks to the browser directly; it depends on the Driver
// contract, backed here by the DevTools protocol.
package selenium

import (
	"context"
	"errors"
	"strings"
	"time"
)

// State is the tri-state liveness verdict for the in-page conference client.
type State int

const (
	// StateRunning means the page is alive and joined to the conference.
	StateRunning State = iota
	// StateDead means the browser or the conference app is gone.
	StateDead
	// StateHangup means the page is alive but has left the conference.
	StateHangup
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	case StateHangup:
		return "hangup"
	default:
		return "unknown"
	}
}

// ErrAudioCheckFailed is returned by Launch when the loopback probe script
// reports a broken capture device pairing.
var ErrAudioCheckFailed = errors.New("audio loopback check failed")

// Defaults for the pre-session audio probe.
const (
	DefaultAudioURL   = "https://cdn-recordings.jitsi.net/test/piano2.wav"
	DefaultAudioDelay = time.Second
)

// LaunchOptions carries the per-session browser parameters.
type LaunchOptions struct {
	URL         string // final conference URL, already decorated
	SIPMode     bool   // adds the alsa capture device switch
	DisplayName string
	Email       string

	// Conference-override credentials stored in localStorage before joining.
	XMPPLogin    string
	XMPPPassword string

	// Optional federated-identity credentials.
	GoogleAccount  string
	GooglePassword string

	// SkipAudioCheck bypasses the loopback probe. Set on watchdog-initiated
	// relaunches, where audio was already proven at session start.
	SkipAudioCheck bool
}

// Driver is the surface the session controller and watchdog depend on.
type Driver interface {
	// Launch opens a blank page, runs the audio probe, stores the local
	// identifiers, and navigates to the conference URL.
	Launch(ctx context.Context, opts LaunchOptions) error
	// WaitSignalingConnected reports whether the in-page client joined the
	// conference within the timeout.
	WaitSignalingConnected(ctx context.Context, timeout time.Duration) bool
	// WaitDownloadBitrate reports whether incoming media bitrate became
	// strictly positive within the timeout.
	WaitDownloadBitrate(ctx context.Context, timeout time.Duration) bool
	// CheckRunning probes the page state. Used by the watchdog.
	CheckRunning(ctx context.Context) State
	// Quit requests a graceful conference leave and shuts the browser down.
	Quit(ctx context.Context) error
}

// DecorateURL appends the conference-client configuration fragment to the
// conference URL. Encode/file sessions announce themselves as a recorder
// and may override the BOSH domain; SIP sessions announce themselves as a
// gateway.
func DecorateURL(base string, sipMode bool, boshDomain string) string {
	var b strings.Builder
	b.WriteString(base)
	if sipMode {
		b.WriteString("#config.iAmRecorder=true&config.iAmSipGateway=true&config.ignoreStartMuted=true")
		return b.String()
	}
	b.WriteString("#config.iAmRecorder=true&config.externalConnectUrl=null")
	if boshDomain != "" {
		b.WriteString(`&config.hosts.domain="` + boshDomain + `"`)
	}
	return b.String()
}
