// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package selenium

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/log"
)

// AudioChecker runs the external loopback probe script and returns its exit
// code.
type AudioChecker interface {
	CheckAudio(ctx context.Context) (int, error)
}

// Config parameterises the DevTools-backed driver.
type Config struct {
	Binary     string // chrome binary path, empty for the launcher default
	AudioURL   string
	AudioDelay time.Duration
	Audio      AudioChecker
}

// RodDriver implements Driver over the Chrome DevTools protocol.
type RodDriver struct {
	cfg      Config
	logger   zerolog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewRodDriver returns an unlaunched driver. Each Launch/Quit pair owns one
// browser process.
func NewRodDriver(cfg Config) *RodDriver {
	if cfg.AudioURL == "" {
		cfg.AudioURL = DefaultAudioURL
	}
	if cfg.AudioDelay == 0 {
		cfg.AudioDelay = DefaultAudioDelay
	}
	return &RodDriver{
		cfg:    cfg,
		logger: log.WithComponent("selenium"),
	}
}

// Launch starts the browser, runs the audio probe, stores the local
// identifiers, and opens the conference URL.
func (d *RodDriver) Launch(ctx context.Context, opts LaunchOptions) error {
	l := launcher.New().
		Set("use-fake-ui-for-media-stream").
		Set("start-maximized").
		Set("kiosk").
		Set("enabled").
		Set("enable-logging").
		Set("vmodule", "*=3").
		Set("alsa-output-device", "plug:jibri_input")
	if opts.SIPMode {
		l.Set("alsa-input-device", "plughw:1,1")
	}
	if d.cfg.Binary != "" {
		l.Bin(d.cfg.Binary)
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	d.launcher = l

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		d.teardown()
		return fmt.Errorf("connect browser: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		d.teardown()
		return fmt.Errorf("open page: %w", err)
	}
	d.page = page

	if !opts.SkipAudioCheck && d.cfg.Audio != nil {
		if err := d.probeAudio(ctx); err != nil {
			d.teardown()
			return err
		}
	}

	if err := d.storeIdentifiers(ctx, opts); err != nil {
		d.teardown()
		return fmt.Errorf("store identifiers: %w", err)
	}

	d.logger.Info().Str("url", opts.URL).Msg("opening conference")
	if err := page.Context(ctx).Navigate(opts.URL); err != nil {
		d.teardown()
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// probeAudio plays the loopback clip and asks the external script whether
// the capture device hears it.
func (d *RodDriver) probeAudio(ctx context.Context) error {
	if err := d.page.Context(ctx).Navigate(d.cfg.AudioURL); err != nil {
		return fmt.Errorf("open audio probe: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.cfg.AudioDelay):
	}
	code, err := d.cfg.Audio.CheckAudio(ctx)
	if err != nil {
		return fmt.Errorf("audio check script: %w", err)
	}
	if code != 0 {
		d.logger.Error().Int("exit_code", code).Msg("audio loopback check failed")
		return ErrAudioCheckFailed
	}
	return nil
}

func (d *RodDriver) storeIdentifiers(ctx context.Context, opts LaunchOptions) error {
	items := map[string]string{
		"displayname": opts.DisplayName,
		"email":       opts.Email,
	}
	if opts.XMPPLogin != "" {
		items["xmpp_username_override"] = opts.XMPPLogin
		items["xmpp_password_override"] = opts.XMPPPassword
	}
	if opts.GoogleAccount != "" {
		items["google_account"] = opts.GoogleAccount
		items["google_account_password"] = opts.GooglePassword
	}
	page := d.page.Context(ctx)
	for k, v := range items {
		if _, err := page.Eval(`(k, v) => localStorage.setItem(k, v)`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// WaitSignalingConnected polls the in-page client's joined state once per
// second until it reports true or the timeout elapses.
func (d *RodDriver) WaitSignalingConnected(ctx context.Context, timeout time.Duration) bool {
	return d.pollBool(ctx, timeout,
		`() => { try { return APP.conference.isJoined() === true } catch (e) { return false } }`)
}

// WaitDownloadBitrate polls the incoming bitrate until it is strictly
// positive or the timeout elapses.
func (d *RodDriver) WaitDownloadBitrate(ctx context.Context, timeout time.Duration) bool {
	return d.pollBool(ctx, timeout,
		`() => { try { return APP.conference.getStats().bitrate.download > 0 } catch (e) { return false } }`)
}

func (d *RodDriver) pollBool(ctx context.Context, timeout time.Duration, js string) bool {
	if d.page == nil {
		return false
	}
	deadline := time.Now().Add(timeout)
	for {
		evalCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		res, err := d.page.Context(evalCtx).Eval(js)
		cancel()
		if err == nil && res.Value.Bool() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
}

// CheckRunning probes the page once. An evaluation failure means the
// browser is gone; a page that left the conference is a hangup.
func (d *RodDriver) CheckRunning(ctx context.Context) State {
	if d.page == nil {
		return StateDead
	}
	res, err := d.page.Context(ctx).Eval(
		`() => { try { return APP.conference.isJoined() ? "joined" : "left" } catch (e) { return "gone" } }`)
	if err != nil {
		return StateDead
	}
	switch res.Value.Str() {
	case "joined":
		return StateRunning
	case "left":
		return StateHangup
	default:
		return StateDead
	}
}

// Quit asks the in-page client to hang up, waits briefly for the leave to
// propagate, then closes the browser.
func (d *RodDriver) Quit(ctx context.Context) error {
	if d.page != nil {
		evalCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, _ = d.page.Context(evalCtx).Eval(`() => { try { APP.conference.hangup() } catch (e) {} }`)
		cancel()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	d.teardown()
	return nil
}

func (d *RodDriver) teardown() {
	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher = nil
	}
	d.page = nil
}
