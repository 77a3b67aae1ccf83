// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package session implements the session controller: the mutual-exclusion
// gate over the single recording slot, the multi-stage start state machine,
// the idempotent stop/reset orchestrator, and the status fan-out to the
// signaling clients.
package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/config"
	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/metrics"
	"github.com/ManuGH/jibrid/internal/proc"
	"github.com/ManuGH/jibrid/internal/selenium"
	"github.com/ManuGH/jibrid/internal/watchdog"
)

// Media is the subprocess supervisor surface the controller drives.
// Implemented by proc.Supervisor.
type Media interface {
	StartEncoder(ctx context.Context, url, recordingPath, token, streamID string, backup bool) (int, error)
	StartGateway(ctx context.Context, sipAddress, displayName string) (int, error)
	EncoderRunning(ctx context.Context, includeProgressCheck bool) bool
	GatewayRunning() bool
	WaitEncoderRunning(ctx context.Context, attempts int, includeProgressCheck bool) bool
	WaitGatewayRunning(ctx context.Context, attempts int) bool
	KillEncoder() bool
	KillGateway() bool
	HardStop(ctx context.Context)
	HardStopBrowser(ctx context.Context)
	FinalizeRecording(ctx context.Context, dir string) error
	GatewayResult() proc.GatewayOutcome
}

// Timings bounds every stage of the start and stop sequences. Tests shrink
// them; production uses DefaultTimings.
type Timings struct {
	BrowserStartDeadline time.Duration
	BrowserStopDeadline  time.Duration
	BrowserAttempts      int
	EncoderAttempts      int
	EncoderWaitAttempts  int
	GatewayWaitAttempts  int
	HealthPollInterval   time.Duration
	HealthPollRetries    int
}

// DefaultTimings returns the production stage bounds.
func DefaultTimings() Timings {
	return Timings{
		BrowserStartDeadline: 30 * time.Second,
		BrowserStopDeadline:  5 * time.Second,
		BrowserAttempts:      3,
		EncoderAttempts:      3,
		EncoderWaitAttempts:  proc.EncoderWaitAttempts,
		GatewayWaitAttempts:  proc.GatewayWaitAttempts,
		HealthPollInterval:   3 * time.Second,
		HealthPollRetries:    5,
	}
}

type stopCmd struct {
	reason Reason
	done   chan struct{}
}

type startCmd struct {
	req  Request
	done chan Reason
}

type command struct {
	start *startCmd
	stop  *stopCmd
}

// active is the session context: it lives from a successful slot acquire
// until the reset completes.
type active struct {
	id            string
	req           Request
	cfg           config.ClientConfig
	mode          Mode
	url           string // resolved, undecorated
	decoratedURL  string
	roomName      string
	recordingPath string
	displayName   string
	email         string
	sip           string
	startedAt     time.Time
	browserOK     bool
}

func (a *active) launchOptions(skipAudio bool) selenium.LaunchOptions {
	// pjsua_flag workers always carry the alsa capture device, matching the
	// gateway's audio wiring even for plain recording sessions.
	return selenium.LaunchOptions{
		URL:            a.decoratedURL,
		SIPMode:        a.mode == ModeSIP || a.cfg.SIPMode,
		DisplayName:    a.displayName,
		Email:          a.email,
		XMPPLogin:      a.cfg.BrowserLogin,
		XMPPPassword:   a.cfg.BrowserPassword,
		GoogleAccount:  a.cfg.GoogleAccount,
		GooglePassword: a.cfg.GooglePassword,
		SkipAudioCheck: skipAudio,
	}
}

// Worker owns the recording slot and serializes all start/stop sequencing
// on its Run loop; signaling clients, REST handlers, and the signal handler
// only post commands.
type Worker struct {
	slot    *Slot
	health  *Slot
	media   Media
	driver  selenium.Driver
	dog     *watchdog.Watchdog
	timings Timings
	logger  zerolog.Logger

	cmds chan command

	// driverMu serializes browser access between the run loop and the
	// watchdog's probes.
	driverMu sync.Mutex

	mu        sync.Mutex
	clients   map[string]Notifier
	configs   map[string]config.ClientConfig
	fallback  config.ClientConfig
	connected map[string]bool
	act       *active
}

// NewWorker creates the controller. fallback is the client configuration
// used for sessions without a signaling origin (REST).
func NewWorker(media Media, driver selenium.Driver, fallback config.ClientConfig, timings Timings) *Worker {
	w := &Worker{
		slot:      NewSlot(),
		health:    NewSlot(),
		media:     media,
		driver:    driver,
		timings:   timings,
		logger:    log.WithComponent("session"),
		cmds:      make(chan command, 16),
		clients:   make(map[string]Notifier),
		configs:   make(map[string]config.ClientConfig),
		fallback:  fallback,
		connected: make(map[string]bool),
	}
	w.dog = watchdog.New(prober{w}, w.watchdogFinished)
	return w
}

// Watchdog exposes the supervisor task so the daemon can run and poison it.
func (w *Worker) Watchdog() *watchdog.Watchdog {
	return w.dog
}

// RegisterClient adds a signaling client to the fan-out set.
func (w *Worker) RegisterClient(n Notifier, cfg config.ClientConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[n.Hostname()] = n
	w.configs[n.Hostname()] = cfg
}

// TryAcquire takes the recording slot without blocking. Callers that fail
// validation after acquiring must call ReleaseSlot.
func (w *Worker) TryAcquire(origin string) bool {
	if !w.slot.TryAcquire() {
		metrics.SlotBusyRejectTotal.WithLabelValues(origin).Inc()
		return false
	}
	metrics.SessionActive.Set(1)
	return true
}

// ReleaseSlot frees the slot after a validation failure.
func (w *Worker) ReleaseSlot() {
	w.slot.Release()
	metrics.SessionActive.Set(0)
}

// Slot exposes the recording slot for the graceful-drain wait.
func (w *Worker) Slot() *Slot {
	return w.slot
}

// Recording reports whether the slot is held.
func (w *Worker) Recording() bool {
	return w.slot.Held()
}

// Start posts a start request. The caller must hold the slot via a
// successful TryAcquire.
func (w *Worker) Start(req Request) {
	w.cmds <- command{start: &startCmd{req: req}}
}

// StartAndWait posts a start request and waits for the start sequence to
// finish. An empty reason means the session is up; otherwise it names the
// startup failure after the reset completed.
func (w *Worker) StartAndWait(ctx context.Context, req Request) (Reason, error) {
	done := make(chan Reason, 1)
	select {
	case w.cmds <- command{start: &startCmd{req: req, done: done}}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case reason := <-done:
		return reason, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop posts an asynchronous stop with the given reason.
func (w *Worker) Stop(reason Reason) {
	w.cmds <- command{stop: &stopCmd{reason: reason}}
}

// StopAndWait posts a stop and waits for the reset to complete.
func (w *Worker) StopAndWait(ctx context.Context, reason Reason) error {
	done := make(chan struct{})
	select {
	case w.cmds <- command{stop: &stopCmd{reason: reason, done: done}}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes commands until the context ends. Start and stop sequencing
// is strictly serial here so concurrent requesters always observe a
// consistent slot state.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-w.cmds:
			switch {
			case cmd.start != nil:
				outcome := w.runStart(ctx, cmd.start.req)
				if cmd.start.done != nil {
					cmd.start.done <- outcome
				}
			case cmd.stop != nil:
				w.runStop(ctx, cmd.stop.reason)
				if cmd.stop.done != nil {
					close(cmd.stop.done)
				}
			}
		}
	}
}

func (w *Worker) watchdogFinished(reason string) {
	w.Stop(Reason(reason))
}

// BroadcastBusy fans a busy presence to every client. Diagnostic probe.
func (w *Worker) BroadcastBusy() {
	w.fanOut(StatusMessage{Kind: StatusBusy}, "")
}

// PoisonClients shuts every signaling client's queue down.
func (w *Worker) PoisonClients() {
	w.fanOut(StatusMessage{Kind: StatusPoison}, "")
}

// Cleanup kills leftover media and browser processes by name. Runs during
// teardown whether or not a session was active.
func (w *Worker) Cleanup(ctx context.Context) {
	w.media.HardStop(ctx)
}

// SetClientConnected records a client's connection state for health
// reporting.
func (w *Worker) SetClientConnected(host string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected[host] = ok
	n := 0
	for _, c := range w.connected {
		if c {
			n++
		}
	}
	metrics.XMPPConnectedClients.Set(float64(n))
}

// XMPPConnected reports whether any signaling client is connected.
func (w *Worker) XMPPConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ok := range w.connected {
		if ok {
			return true
		}
	}
	return false
}

// SeleniumHealthy reports the browser's state for the health endpoint:
// true while idle, and while a session's browser has come up and not been
// declared dead.
func (w *Worker) SeleniumHealthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.act == nil {
		return true
	}
	return w.act.browserOK
}

// Environment returns the active session's environment label, if any.
func (w *Worker) Environment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.act == nil {
		return ""
	}
	return w.act.cfg.Environment
}

// SignalHealthy is called by a signaling client when it drains a Health
// message; it releases the health lock the checker is polling.
func (w *Worker) SignalHealthy() {
	w.health.Release()
}

// CheckSignaling probes whether any signaling client is draining its
// queue: it takes the health lock, fans out a Health message, and
// sleep-polls for a client to release the lock. A timeout means signaling
// is unhealthy.
func (w *Worker) CheckSignaling(ctx context.Context) bool {
	if !w.health.TryAcquire() {
		w.logger.Info().Msg("health lock already held, check in progress")
		return false
	}
	w.fanOut(StatusMessage{Kind: StatusHealth}, "")
	for i := 0; i < w.timings.HealthPollRetries; i++ {
		select {
		case <-ctx.Done():
			w.health.Release()
			return false
		case <-time.After(w.timings.HealthPollInterval):
		}
		if !w.health.Held() {
			return true
		}
	}
	w.logger.Warn().Msg("health probe never acknowledged, signaling unhealthy")
	w.health.Release()
	return false
}

// fanOut appends the message to every client's outbound queue, skipping
// the excluded host.
func (w *Worker) fanOut(msg StatusMessage, exclude string) {
	w.mu.Lock()
	targets := make([]Notifier, 0, len(w.clients))
	for host, n := range w.clients {
		if exclude != "" && host == exclude {
			continue
		}
		targets = append(targets, n)
	}
	w.mu.Unlock()
	for _, n := range targets {
		if !n.Enqueue(msg) {
			w.logger.Warn().Str("host", n.Hostname()).Str("status", msg.Kind.String()).Msg("outbound queue full, dropping status")
		}
	}
}

func (w *Worker) enqueueTo(host string, msg StatusMessage) {
	w.mu.Lock()
	n := w.clients[host]
	w.mu.Unlock()
	if n != nil && !n.Enqueue(msg) {
		w.logger.Warn().Str("host", host).Str("status", msg.Kind.String()).Msg("outbound queue full, dropping status")
	}
}

func (w *Worker) setActive(a *active) {
	w.mu.Lock()
	w.act = a
	w.mu.Unlock()
}

func (w *Worker) takeActive() *active {
	w.mu.Lock()
	a := w.act
	w.act = nil
	w.mu.Unlock()
	return a
}

func (w *Worker) snapshotActive() *active {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.act == nil {
		return nil
	}
	cp := *w.act
	return &cp
}

// runStart drives the start sequence. The slot is already held by the
// requester. Returns the failure reason, empty on success.
func (w *Worker) runStart(ctx context.Context, req Request) Reason {
	id := uuid.NewString()
	logger := w.logger.With().Str("session_id", id).Str("mode", string(req.Mode)).Logger()
	logger.Info().Str("room", req.Room).Str("origin", origin(req)).Msg("session start")

	// everyone except the requester's channel learns we are busy
	w.fanOut(StatusMessage{Kind: StatusBusy}, req.OriginHost)

	cfg := w.resolveConfig(req.OriginHost)
	act, reason := w.buildSession(id, req, cfg)
	if reason != "" {
		metrics.SessionStartTotal.WithLabelValues(string(req.Mode), "failed").Inc()
		w.setActive(act)
		w.runStop(ctx, reason)
		return reason
	}
	w.setActive(act)

	if reason := w.startBrowser(ctx, act, false); reason != "" {
		logger.Error().Str("reason", string(reason)).Msg("browser startup failed")
		metrics.SessionStartTotal.WithLabelValues(string(req.Mode), "failed").Inc()
		w.runStop(ctx, reason)
		return reason
	}
	w.mu.Lock()
	if w.act != nil {
		w.act.browserOK = true
	}
	act.browserOK = true
	w.mu.Unlock()

	if act.mode == ModeSIP {
		reason = w.startGateway(ctx, act)
	} else {
		reason = w.launchEncoder(ctx, act.url, act.recordingPath, act.req.Token, act.req.StreamID, act.req.Backup)
	}
	if reason != "" {
		logger.Error().Str("reason", string(reason)).Msg("media startup failed")
		metrics.SessionStartTotal.WithLabelValues(string(req.Mode), "failed").Inc()
		w.runStop(ctx, reason)
		return reason
	}

	w.fanOut(StatusMessage{Kind: StatusStarted, SIPAddress: act.sip}, "")
	w.dog.Arm(watchdog.Payload{
		SIPMode:       act.mode == ModeSIP,
		SIPAddress:    act.sip,
		RoomName:      act.roomName,
		URL:           act.url,
		RecordingPath: act.recordingPath,
		Token:         act.req.Token,
		StreamID:      act.req.StreamID,
		Backup:        act.req.Backup,
		Timeout:       act.cfg.UsageTimeout,
	})
	metrics.SessionStartTotal.WithLabelValues(string(req.Mode), "ok").Inc()
	logger.Info().Str("url", act.url).Msg("session started, watchdog armed")
	return ""
}

func origin(req Request) string {
	if req.OriginHost == "" {
		return "rest"
	}
	return req.OriginHost
}

func (w *Worker) resolveConfig(originHost string) config.ClientConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cfg, ok := w.configs[originHost]; ok {
		return cfg
	}
	return w.fallback
}

// buildSession resolves the room name, subdomain, final URL, display
// identity, and recording path.
func (w *Worker) buildSession(id string, req Request, cfg config.ClientConfig) (*active, Reason) {
	roomName := req.Room
	subdomain := ""
	if req.Room != "" {
		name, host := SplitRoom(req.Room)
		roomName = name
		subdomain = DeriveSubdomain(host, cfg.MUCPrefix, cfg.XMPPDomain)
	}

	url := req.URL
	if url == "" {
		url = cfg.URLTemplate
	}
	url = ResolveURL(url, roomName, subdomain)

	displayName := cfg.DisplayName
	email := cfg.Email
	if displayName == "" {
		if req.Mode == ModeStream {
			displayName = config.DefaultDisplayName
		} else {
			displayName = config.DefaultFileDisplayName
		}
	}
	if email == "" {
		email = config.DefaultEmail
	}
	sip := ""
	if req.Mode == ModeSIP {
		displayName = req.DisplayName
		email = req.SIPAddress
		sip = req.SIPAddress
	}

	recName := req.RecordingName
	if recName == "" {
		recName = strings.TrimPrefix(url, "https://")
	}
	recPath := filepath.Join(cfg.RecordingDirectory, recName)

	act := &active{
		id:            id,
		req:           req,
		cfg:           cfg,
		mode:          req.Mode,
		url:           url,
		decoratedURL:  selenium.DecorateURL(url, req.Mode == ModeSIP, cfg.BoshDomain),
		roomName:      roomName,
		recordingPath: recPath,
		displayName:   displayName,
		email:         email,
		sip:           sip,
		startedAt:     time.Now(),
	}

	if req.Mode == ModeFile {
		if err := os.MkdirAll(recPath, 0o755); err != nil {
			w.logger.Error().Err(err).Str("path", recPath).Msg("cannot create recording directory")
			return act, ReasonStartupException
		}
	}
	return act, ""
}

// startBrowser runs the bounded browser launch: up to BrowserAttempts
// attempts, each covering the launch and both readiness waits under one
// start deadline whose expiry hard-kills the browser by process name.
func (w *Worker) startBrowser(ctx context.Context, act *active, skipAudio bool) Reason {
	opts := act.launchOptions(skipAudio)
	for attempt := 1; attempt <= w.timings.BrowserAttempts; attempt++ {
		if ctx.Err() != nil {
			return ReasonStartupSelenium
		}
		w.logger.Info().Int("attempt", attempt).Int("max", w.timings.BrowserAttempts).Msg("launching browser")

		connected := false
		err := w.browserAttempt(ctx, func(pctx context.Context) error {
			w.driverMu.Lock()
			defer w.driverMu.Unlock()
			if err := w.driver.Launch(pctx, opts); err != nil {
				return err
			}
			if !w.driver.WaitSignalingConnected(pctx, w.timings.BrowserStartDeadline) {
				return nil
			}
			if !w.driver.WaitDownloadBitrate(pctx, w.timings.BrowserStartDeadline) {
				return nil
			}
			connected = true
			return nil
		})
		if err != nil {
			if err == selenium.ErrAudioCheckFailed {
				metrics.BrowserLaunchTotal.WithLabelValues("error").Inc()
				return ReasonAudioCheckFailed
			}
			w.logger.Warn().Err(err).Int("attempt", attempt).Msg("browser launch failed")
			metrics.BrowserLaunchTotal.WithLabelValues("error").Inc()
			w.quitBrowser(ctx)
			continue
		}
		if connected {
			metrics.BrowserLaunchTotal.WithLabelValues("ok").Inc()
			return ""
		}
		metrics.BrowserLaunchTotal.WithLabelValues("timeout").Inc()
		w.quitBrowser(ctx)
	}
	return ReasonStartupSelenium
}

// browserAttempt bounds one full launch attempt with the start deadline;
// expiry fires the process-name kill so a wedged browser cannot hold the
// attempt open. Cancelling the timer on success is mandatory.
func (w *Worker) browserAttempt(ctx context.Context, fn func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(ctx, w.timings.BrowserStartDeadline)
	defer cancel()
	timer := time.AfterFunc(w.timings.BrowserStartDeadline, func() {
		w.media.HardStopBrowser(context.Background())
	})
	defer timer.Stop()
	return fn(pctx)
}

// quitBrowser shuts the browser down gracefully, with the stop deadline
// falling back to the process-name kill.
func (w *Worker) quitBrowser(ctx context.Context) {
	timer := time.AfterFunc(w.timings.BrowserStopDeadline, func() {
		w.media.HardStopBrowser(context.Background())
	})
	defer timer.Stop()
	w.driverMu.Lock()
	defer w.driverMu.Unlock()
	if err := w.driver.Quit(ctx); err != nil {
		w.logger.Debug().Err(err).Msg("browser quit returned error")
	}
}

// launchEncoder starts the encoder with bounded attempts, each verified by
// the startup liveness poll including the streaming-progress check. Also
// the watchdog's relaunch path.
func (w *Worker) launchEncoder(ctx context.Context, url, recordingPath, token, streamID string, backup bool) Reason {
	recordingFile := filepath.Join(recordingPath, time.Now().Format("20060102150405")+".mp4")
	for attempt := 1; attempt <= w.timings.EncoderAttempts; attempt++ {
		w.logger.Info().Int("attempt", attempt).Int("max", w.timings.EncoderAttempts).Msg("starting encoder")
		code, err := w.media.StartEncoder(ctx, url, recordingFile, token, streamID, backup)
		if err != nil {
			w.logger.Error().Err(err).Msg("encoder launch script failed")
			return ReasonFFmpegStartupException
		}
		if code != 0 {
			w.logger.Error().Int("exit_code", code).Msg("encoder launch script returned non-zero")
			return ReasonStartupFFmpegError
		}
		if w.media.WaitEncoderRunning(ctx, w.timings.EncoderWaitAttempts, true) {
			return ""
		}
		// forked but never streamed; kill and retry
		w.media.KillEncoder()
	}
	return ReasonStartupFFmpegStreaming
}

// startGateway starts the SIP bridge and maps its terminal state to a
// reason on failure.
func (w *Worker) startGateway(ctx context.Context, act *active) Reason {
	code, err := w.media.StartGateway(ctx, act.sip, act.roomName)
	if err != nil {
		w.logger.Error().Err(err).Msg("gateway launch script failed")
		return ReasonGatewayStartupException
	}
	if code != 0 {
		return w.gatewayFailureReason()
	}
	if !w.media.WaitGatewayRunning(ctx, w.timings.GatewayWaitAttempts) {
		w.media.KillGateway()
		return w.gatewayFailureReason()
	}
	return ""
}

func (w *Worker) gatewayFailureReason() Reason {
	switch w.media.GatewayResult() {
	case proc.GatewayBusy:
		return ReasonGatewayBusy
	case proc.GatewayHangup:
		return ReasonGatewayHangup
	default:
		return ReasonGatewayStartupError
	}
}

// runStop is the idempotent stop/reset sequence. Every termination path
// converges here; the slot is released only after the reset completes.
func (w *Worker) runStop(ctx context.Context, reason Reason) {
	act := w.takeActive()
	if act == nil && !w.slot.Held() {
		w.logger.Debug().Str("reason", string(reason)).Msg("stop with no active session, nothing to do")
		return
	}
	logger := w.logger.With().Str("reason", string(reason)).Logger()
	if act != nil {
		logger = logger.With().Str("session_id", act.id).Logger()
	}
	logger.Info().Msg("session stop")

	// media first so streaming ends before anything else
	w.media.KillEncoder()
	w.media.KillGateway()

	w.dog.Reset()

	w.quitBrowser(ctx)
	w.media.HardStop(ctx)

	if act != nil && act.mode == ModeFile {
		if err := w.media.FinalizeRecording(ctx, act.cfg.RecordingDirectory); err != nil {
			logger.Warn().Err(err).Msg("finalize recording failed")
		}
	}

	sip := ""
	originHost := ""
	if act != nil {
		sip = act.sip
		originHost = act.req.OriginHost
	}
	if reason.Clean() {
		w.fanOut(StatusMessage{Kind: StatusStopped, SIPAddress: sip}, "")
	} else {
		w.fanOut(StatusMessage{Kind: StatusStopped, SIPAddress: sip}, originHost)
		if originHost != "" {
			w.enqueueTo(originHost, StatusMessage{Kind: StatusError, Reason: reason, SIPAddress: sip})
		}
	}
	w.fanOut(StatusMessage{Kind: StatusIdle}, "")

	metrics.SessionStopTotal.WithLabelValues(string(reason)).Inc()
	if act != nil {
		metrics.SessionDuration.Observe(time.Since(act.startedAt).Seconds())
	}
	metrics.SessionActive.Set(0)
	w.slot.Release()
	logger.Info().Msg("session reset complete, slot free")
}

// prober adapts the worker to the watchdog's liveness surface.
type prober struct {
	w *Worker
}

func (p prober) EncoderAlive(ctx context.Context) bool {
	return p.w.media.EncoderRunning(ctx, false)
}

func (p prober) GatewayAlive(ctx context.Context) (bool, string) {
	if p.w.media.GatewayRunning() {
		return true, ""
	}
	switch p.w.media.GatewayResult() {
	case proc.GatewayBusy:
		return false, string(ReasonGatewayBusy)
	case proc.GatewayHangup:
		return false, string(ReasonGatewayHangup)
	default:
		return false, ""
	}
}

func (p prober) BrowserState(ctx context.Context) selenium.State {
	p.w.driverMu.Lock()
	defer p.w.driverMu.Unlock()
	return p.w.driver.CheckRunning(ctx)
}

func (p prober) RestartEncoder(ctx context.Context, pl watchdog.Payload) bool {
	if reason := p.w.launchEncoder(ctx, pl.URL, pl.RecordingPath, pl.Token, pl.StreamID, pl.Backup); reason != "" {
		return false
	}
	return p.w.media.EncoderRunning(ctx, false)
}

func (p prober) RestartBrowser(ctx context.Context) bool {
	act := p.w.snapshotActive()
	if act == nil {
		return false
	}
	p.w.quitBrowser(ctx)
	// audio was proven at session start, skip the probe on relaunch
	return p.w.startBrowser(ctx, act, true) == ""
}
