// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/jibrid/internal/selenium"
)

type fakeProber struct {
	mu             sync.Mutex
	encoderAlive   bool
	gatewayAlive   bool
	gatewayReason  string
	browserState   selenium.State
	restartEncOK   bool
	restartBrOK    bool
	encRestarts    int
	browserProbes  int
	browserRestart int
	probeHang      bool
}

func (f *fakeProber) EncoderAlive(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoderAlive
}

func (f *fakeProber) GatewayAlive(ctx context.Context) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gatewayAlive, f.gatewayReason
}

func (f *fakeProber) BrowserState(ctx context.Context) selenium.State {
	f.mu.Lock()
	hang := f.probeHang
	f.browserProbes++
	state := f.browserState
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
	}
	return state
}

func (f *fakeProber) RestartEncoder(ctx context.Context, p Payload) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encRestarts++
	if f.restartEncOK {
		f.encoderAlive = true
	}
	return f.restartEncOK
}

func (f *fakeProber) RestartBrowser(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browserRestart++
	if f.restartBrOK {
		f.browserState = selenium.StateRunning
	}
	return f.restartBrOK
}

func (f *fakeProber) set(fn func(*fakeProber)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// newTestWatchdog runs a watchdog with short intervals and collects emitted
// reasons.
func newTestWatchdog(t *testing.T, p Prober) (*Watchdog, <-chan string) {
	t.Helper()
	reasons := make(chan string, 4)
	w := New(p, func(reason string) { reasons <- reason })
	w.pollInterval = 20 * time.Millisecond
	w.reprobeDelay = 5 * time.Millisecond
	w.probeDeadline = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watchdog did not exit")
		}
	})
	return w, reasons
}

func waitReason(t *testing.T, reasons <-chan string) string {
	t.Helper()
	select {
	case r := <-reasons:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reason emitted")
		return ""
	}
}

func TestPoisonExitsTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &fakeProber{encoderAlive: true, browserState: selenium.StateRunning}
	reasons := make(chan string, 1)
	w := New(p, func(reason string) { reasons <- reason })

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	w.Poison()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poison did not stop the watchdog")
	}
	assert.Empty(t, reasons)
}

func TestResetReturnsToWaitState(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateRunning}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	time.Sleep(50 * time.Millisecond)
	w.Reset()

	// after reset, a dead encoder must not be reported
	p.set(func(f *fakeProber) { f.encoderAlive = false })
	select {
	case r := <-reasons:
		t.Fatalf("unexpected reason after reset: %s", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimeLimit(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateRunning}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{Timeout: 30 * time.Millisecond})
	assert.Equal(t, "timelimit", waitReason(t, reasons))
}

func TestZeroTimeoutDisablesLimit(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateRunning}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{Timeout: 0})
	select {
	case r := <-reasons:
		t.Fatalf("unexpected reason: %s", r)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestEncoderDeathWithSuccessfulRestart(t *testing.T) {
	p := &fakeProber{encoderAlive: false, browserState: selenium.StateRunning, restartEncOK: true}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{StreamID: "KEY"})
	time.Sleep(100 * time.Millisecond)

	p.mu.Lock()
	restarts := p.encRestarts
	p.mu.Unlock()
	assert.Equal(t, 1, restarts, "exactly one relaunch attempt")
	assert.Empty(t, reasons, "successful relaunch must not fail the session")
}

func TestEncoderDeathWithFailedRestart(t *testing.T) {
	p := &fakeProber{encoderAlive: false, browserState: selenium.StateRunning, restartEncOK: false}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	assert.Equal(t, "ffmpeg_died", waitReason(t, reasons))
}

func TestGatewayDeathUsesTerminalReason(t *testing.T) {
	p := &fakeProber{gatewayAlive: false, gatewayReason: "pjsua_busy", browserState: selenium.StateRunning}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{SIPMode: true})
	assert.Equal(t, "pjsua_busy", waitReason(t, reasons))
}

func TestGatewayDeathWithoutResultFile(t *testing.T) {
	p := &fakeProber{gatewayAlive: false, browserState: selenium.StateRunning}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{SIPMode: true})
	assert.Equal(t, "pjsua_died", waitReason(t, reasons))
}

func TestBrowserHangup(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateHangup}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	assert.Equal(t, "selenium_hangup", waitReason(t, reasons))

	p.mu.Lock()
	probes := p.browserProbes
	p.mu.Unlock()
	assert.GreaterOrEqual(t, probes, 3, "failure verdict requires re-probes")
}

func TestBrowserDeadRestartsOnce(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateDead, restartBrOK: true}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	time.Sleep(150 * time.Millisecond)

	p.mu.Lock()
	restarts := p.browserRestart
	p.mu.Unlock()
	assert.Equal(t, 1, restarts)
	assert.Empty(t, reasons)
}

func TestBrowserDeadRestartFails(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateDead, restartBrOK: false}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	assert.Equal(t, "selenium_died", waitReason(t, reasons))
}

func TestBrowserProbeStuck(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateRunning, probeHang: true}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	assert.Equal(t, "selenium_stuck", waitReason(t, reasons))
}

func TestRecoveryAfterTransientBrowserFailure(t *testing.T) {
	p := &fakeProber{encoderAlive: true, browserState: selenium.StateDead}
	w, reasons := newTestWatchdog(t, p)

	w.Arm(Payload{})
	// recover before the re-probes give up
	time.Sleep(2 * time.Millisecond)
	p.set(func(f *fakeProber) { f.browserState = selenium.StateRunning })

	select {
	case r := <-reasons:
		// timing-dependent: if the re-probes lost the race the restart path
		// already failed the session
		require.Contains(t, []string{"selenium_died"}, r)
	case <-time.After(100 * time.Millisecond):
	}
}
