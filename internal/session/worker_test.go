// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/jibrid/internal/config"
	"github.com/ManuGH/jibrid/internal/proc"
	"github.com/ManuGH/jibrid/internal/selenium"
)

type fakeNotifier struct {
	host string

	mu   sync.Mutex
	msgs []StatusMessage
}

func (n *fakeNotifier) Hostname() string { return n.host }

func (n *fakeNotifier) Enqueue(msg StatusMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return true
}

func (n *fakeNotifier) has(kind StatusKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if m.Kind == kind {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) find(kind StatusKind) (StatusMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if m.Kind == kind {
			return m, true
		}
	}
	return StatusMessage{}, false
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fakeMedia struct {
	mu sync.Mutex

	encoderCode   int
	encoderErr    error
	encoderRuns   bool
	encoderStarts int
	encoderPaths  []string

	gatewayCode   int
	gatewayErr    error
	gatewayRuns   bool
	gatewayStarts int
	outcome       proc.GatewayOutcome

	encoderKills int
	gatewayKills int
	hardStops    int
	browserStops int
	finalized    []string
}

func (m *fakeMedia) StartEncoder(_ context.Context, _, recordingPath, _, _ string, _ bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoderStarts++
	m.encoderPaths = append(m.encoderPaths, recordingPath)
	return m.encoderCode, m.encoderErr
}

func (m *fakeMedia) StartGateway(_ context.Context, _, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayStarts++
	return m.gatewayCode, m.gatewayErr
}

func (m *fakeMedia) EncoderRunning(context.Context, bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoderRuns
}

func (m *fakeMedia) GatewayRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gatewayRuns
}

func (m *fakeMedia) WaitEncoderRunning(ctx context.Context, _ int, _ bool) bool {
	return m.EncoderRunning(ctx, false)
}

func (m *fakeMedia) WaitGatewayRunning(context.Context, int) bool {
	return m.GatewayRunning()
}

func (m *fakeMedia) KillEncoder() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoderKills++
	return true
}

func (m *fakeMedia) KillGateway() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayKills++
	return true
}

func (m *fakeMedia) HardStop(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hardStops++
}

func (m *fakeMedia) HardStopBrowser(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.browserStops++
}

func (m *fakeMedia) FinalizeRecording(_ context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, dir)
	return nil
}

func (m *fakeMedia) GatewayResult() proc.GatewayOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

type fakeDriver struct {
	mu          sync.Mutex
	launchErrs  []error
	launchDelay time.Duration
	launches    int
	connected   bool
	waitBlocks  bool
	state       selenium.State
	quits       int
}

func (d *fakeDriver) Launch(ctx context.Context, _ selenium.LaunchOptions) error {
	d.mu.Lock()
	d.launches++
	delay := d.launchDelay
	var err error
	if len(d.launchErrs) > 0 {
		err = d.launchErrs[0]
		d.launchErrs = d.launchErrs[1:]
	}
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	return err
}

func (d *fakeDriver) wait(ctx context.Context) bool {
	d.mu.Lock()
	block := d.waitBlocks
	connected := d.connected
	d.mu.Unlock()
	if block {
		<-ctx.Done()
		return false
	}
	return connected
}

func (d *fakeDriver) WaitSignalingConnected(ctx context.Context, _ time.Duration) bool {
	return d.wait(ctx)
}

func (d *fakeDriver) WaitDownloadBitrate(ctx context.Context, _ time.Duration) bool {
	return d.wait(ctx)
}

func (d *fakeDriver) CheckRunning(context.Context) selenium.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDriver) Quit(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quits++
	return nil
}

func (d *fakeDriver) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func testTimings() Timings {
	return Timings{
		BrowserStartDeadline: 200 * time.Millisecond,
		BrowserStopDeadline:  50 * time.Millisecond,
		BrowserAttempts:      3,
		EncoderAttempts:      3,
		EncoderWaitAttempts:  2,
		GatewayWaitAttempts:  2,
		HealthPollInterval:   10 * time.Millisecond,
		HealthPollRetries:    3,
	}
}

func testConfig(t *testing.T) config.ClientConfig {
	t.Helper()
	return config.ClientConfig{
		XMPPDomain:         "example.com",
		MUCPrefix:          "conference.",
		URLTemplate:        "https://example.com/%SUBDOMAIN%%ROOM%",
		RecordingDirectory: t.TempDir(),
	}
}

func newTestWorker(t *testing.T) (*Worker, *fakeMedia, *fakeDriver, *fakeNotifier, *fakeNotifier) {
	t.Helper()
	media := &fakeMedia{encoderRuns: true, gatewayRuns: true}
	driver := &fakeDriver{connected: true}
	w := NewWorker(media, driver, testConfig(t), testTimings())

	origin := &fakeNotifier{host: "origin.example.com"}
	other := &fakeNotifier{host: "other.example.com"}
	w.RegisterClient(origin, testConfig(t))
	w.RegisterClient(other, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, media, driver, origin, other
}

func streamRequest() Request {
	req := Request{
		StreamID:   "yt-key",
		Room:       "myroom@conference.example.com",
		OriginHost: "origin.example.com",
	}
	req.Normalize()
	return req
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerStreamLifecycle(t *testing.T) {
	w, media, driver, origin, other := newTestWorker(t)

	require.True(t, w.TryAcquire("rest"))
	w.Start(streamRequest())

	waitFor(t, func() bool { return origin.has(StatusStarted) })
	assert.True(t, other.has(StatusBusy))
	assert.False(t, origin.has(StatusBusy), "requester must not get the busy echo")
	assert.True(t, other.has(StatusStarted))
	assert.True(t, w.Recording())
	assert.Equal(t, 1, driver.launchCount())

	media.mu.Lock()
	require.Len(t, media.encoderPaths, 1)
	path := media.encoderPaths[0]
	media.mu.Unlock()
	assert.True(t, strings.HasSuffix(path, ".mp4"))
	assert.Contains(t, path, filepath.Join("example.com", "myroom"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.StopAndWait(ctx, ReasonXMPPStop))

	assert.False(t, w.Recording())
	assert.True(t, origin.has(StatusStopped))
	assert.True(t, other.has(StatusStopped))
	assert.True(t, origin.has(StatusIdle))
	assert.False(t, origin.has(StatusError), "clean stop reports no error")

	media.mu.Lock()
	assert.Equal(t, 1, media.encoderKills)
	assert.Equal(t, 1, media.hardStops)
	assert.Empty(t, media.finalized, "stream sessions are not finalized")
	media.mu.Unlock()
}

func TestWorkerStartAndWaitReportsOutcome(t *testing.T) {
	w, media, _, _, _ := newTestWorker(t)

	require.True(t, w.TryAcquire("rest"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reason, err := w.StartAndWait(ctx, streamRequest())
	require.NoError(t, err)
	assert.Empty(t, reason)
	require.NoError(t, w.StopAndWait(ctx, ReasonXMPPStop))

	media.mu.Lock()
	media.encoderRuns = false
	media.mu.Unlock()
	require.True(t, w.TryAcquire("rest"))
	reason, err = w.StartAndWait(ctx, streamRequest())
	require.NoError(t, err)
	assert.Equal(t, ReasonStartupFFmpegStreaming, reason)
	assert.False(t, w.Recording(), "failed start must release the slot")
}

func TestWorkerSlotContention(t *testing.T) {
	w, _, _, _, _ := newTestWorker(t)

	require.True(t, w.TryAcquire("xmpp"))
	assert.False(t, w.TryAcquire("rest"))
	w.ReleaseSlot()
	assert.True(t, w.TryAcquire("rest"))
	w.ReleaseSlot()
}

func TestWorkerBrowserFailureExhaustsAttempts(t *testing.T) {
	w, _, driver, origin, other := newTestWorker(t)
	driver.mu.Lock()
	driver.connected = false
	driver.mu.Unlock()

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(streamRequest())

	waitFor(t, func() bool { return !w.Recording() })
	assert.Equal(t, 3, driver.launchCount())

	msg, ok := origin.find(StatusError)
	require.True(t, ok)
	assert.Equal(t, ReasonStartupSelenium, msg.Reason)
	assert.False(t, other.has(StatusError), "only the origin gets the error")
	assert.True(t, other.has(StatusStopped))
}

func TestWorkerBrowserDeadlineCoversWholeAttempt(t *testing.T) {
	media := &fakeMedia{encoderRuns: true}
	driver := &fakeDriver{launchDelay: 150 * time.Millisecond, waitBlocks: true}
	timings := testTimings()
	timings.BrowserStartDeadline = 200 * time.Millisecond
	timings.BrowserAttempts = 1
	w := NewWorker(media, driver, testConfig(t), timings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.True(t, w.TryAcquire("xmpp"))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	start := time.Now()
	reason, err := w.StartAndWait(waitCtx, streamRequest())
	require.NoError(t, err)
	assert.Equal(t, ReasonStartupSelenium, reason)
	assert.Less(t, time.Since(start), 320*time.Millisecond,
		"launch and readiness waits must share one deadline")
}

func TestWorkerAudioCheckFailureShortCircuits(t *testing.T) {
	w, _, driver, origin, _ := newTestWorker(t)
	driver.mu.Lock()
	driver.launchErrs = []error{selenium.ErrAudioCheckFailed}
	driver.mu.Unlock()

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(streamRequest())

	waitFor(t, func() bool { return !w.Recording() })
	assert.Equal(t, 1, driver.launchCount(), "audio failure must not be retried")

	msg, ok := origin.find(StatusError)
	require.True(t, ok)
	assert.Equal(t, ReasonAudioCheckFailed, msg.Reason)
}

func TestWorkerEncoderNeverStreams(t *testing.T) {
	w, media, _, origin, _ := newTestWorker(t)
	media.mu.Lock()
	media.encoderRuns = false
	media.mu.Unlock()

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(streamRequest())

	waitFor(t, func() bool { return !w.Recording() })

	media.mu.Lock()
	assert.Equal(t, 3, media.encoderStarts)
	assert.GreaterOrEqual(t, media.encoderKills, 3)
	media.mu.Unlock()

	msg, ok := origin.find(StatusError)
	require.True(t, ok)
	assert.Equal(t, ReasonStartupFFmpegStreaming, msg.Reason)
}

func TestWorkerEncoderScriptError(t *testing.T) {
	w, media, _, origin, _ := newTestWorker(t)
	media.mu.Lock()
	media.encoderErr = context.DeadlineExceeded
	media.mu.Unlock()

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(streamRequest())

	waitFor(t, func() bool { return !w.Recording() })

	media.mu.Lock()
	assert.Equal(t, 1, media.encoderStarts, "script error aborts the retry loop")
	media.mu.Unlock()

	msg, ok := origin.find(StatusError)
	require.True(t, ok)
	assert.Equal(t, ReasonFFmpegStartupException, msg.Reason)
}

func TestWorkerSIPGatewayBusy(t *testing.T) {
	w, media, _, origin, _ := newTestWorker(t)
	media.mu.Lock()
	media.gatewayCode = 1
	media.outcome = proc.GatewayBusy
	media.mu.Unlock()

	req := Request{
		SIPAddress: "alice@sip.example.com",
		Room:       "myroom@conference.example.com",
		OriginHost: "origin.example.com",
	}
	req.Normalize()

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(req)

	waitFor(t, func() bool { return !w.Recording() })

	msg, ok := origin.find(StatusError)
	require.True(t, ok)
	assert.Equal(t, ReasonGatewayBusy, msg.Reason)
	assert.Equal(t, "alice@sip.example.com", msg.SIPAddress)

	media.mu.Lock()
	assert.Zero(t, media.encoderStarts, "sip sessions must not start the encoder")
	media.mu.Unlock()
}

func TestWorkerSIPFileFinalizeSkipped(t *testing.T) {
	w, media, _, origin, _ := newTestWorker(t)

	req := Request{
		SIPAddress: "alice@sip.example.com",
		Room:       "myroom@conference.example.com",
		OriginHost: "origin.example.com",
	}
	req.Normalize()

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(req)
	waitFor(t, func() bool { return origin.has(StatusStarted) })

	started, _ := origin.find(StatusStarted)
	assert.Equal(t, "alice@sip.example.com", started.SIPAddress)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.StopAndWait(ctx, ReasonXMPPStop))

	media.mu.Lock()
	assert.Equal(t, 1, media.gatewayKills)
	assert.Empty(t, media.finalized)
	media.mu.Unlock()
}

func TestWorkerFileModeFinalizes(t *testing.T) {
	w, media, _, origin, _ := newTestWorker(t)

	req := Request{
		Mode:       ModeFile,
		Room:       "myroom@conference.example.com",
		OriginHost: "origin.example.com",
	}
	req.Normalize()
	require.Equal(t, ModeFile, req.Mode)

	require.True(t, w.TryAcquire("xmpp"))
	w.Start(req)
	waitFor(t, func() bool { return origin.has(StatusStarted) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.StopAndWait(ctx, ReasonXMPPStop))

	media.mu.Lock()
	require.Len(t, media.finalized, 1)
	media.mu.Unlock()
}

func TestWorkerStopWithoutSessionIsNoop(t *testing.T) {
	w, media, _, origin, other := newTestWorker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.StopAndWait(ctx, ReasonXMPPStop))
	require.NoError(t, w.StopAndWait(ctx, ReasonXMPPStop))

	assert.Zero(t, origin.count())
	assert.Zero(t, other.count())
	media.mu.Lock()
	assert.Zero(t, media.hardStops)
	media.mu.Unlock()
}

func TestWorkerCleanupKillsLeftovers(t *testing.T) {
	w, media, _, origin, _ := newTestWorker(t)

	w.Cleanup(context.Background())

	media.mu.Lock()
	assert.Equal(t, 1, media.hardStops)
	media.mu.Unlock()
	assert.Zero(t, origin.count(), "cleanup sends no status traffic")
}

func TestWorkerHealthCheckAcknowledged(t *testing.T) {
	w, _, _, origin, _ := newTestWorker(t)

	go func() {
		for !origin.has(StatusHealth) {
			time.Sleep(time.Millisecond)
		}
		w.SignalHealthy()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(t, w.CheckSignaling(ctx))
	assert.False(t, w.health.Held())
}

func TestWorkerHealthCheckTimesOut(t *testing.T) {
	w, _, _, origin, _ := newTestWorker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.False(t, w.CheckSignaling(ctx))
	assert.True(t, origin.has(StatusHealth))
	assert.False(t, w.health.Held(), "lock must be released after a failed check")
}

func TestWorkerBroadcastBusy(t *testing.T) {
	w, _, _, origin, other := newTestWorker(t)
	w.BroadcastBusy()
	assert.True(t, origin.has(StatusBusy))
	assert.True(t, other.has(StatusBusy))
}

func TestWorkerConnectedTracking(t *testing.T) {
	w, _, _, _, _ := newTestWorker(t)
	assert.False(t, w.XMPPConnected())
	w.SetClientConnected("origin.example.com", true)
	assert.True(t, w.XMPPConnected())
	w.SetClientConnected("origin.example.com", false)
	assert.False(t, w.XMPPConnected())
}

func TestSlot(t *testing.T) {
	s := NewSlot()
	assert.False(t, s.Held())
	require.True(t, s.TryAcquire())
	assert.True(t, s.Held())
	assert.False(t, s.TryAcquire())
	s.Release()
	s.Release() // idempotent
	assert.False(t, s.Held())

	require.True(t, s.TryAcquire())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Wait(ctx))
	s.Release()
	require.NoError(t, s.Wait(context.Background()))
}
