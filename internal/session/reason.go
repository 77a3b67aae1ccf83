// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

// Reason is the closed set of session termination causes. The zero value is
// not a valid reason.
type Reason string

const (
	// Startup browser failures.
	ReasonSeleniumStartStuck Reason = "selenium_start_stuck"
	ReasonStartupException   Reason = "startup_exception"
	ReasonStartupSelenium    Reason = "startup_selenium_error"
	ReasonAudioCheckFailed   Reason = "audio_check_failed"

	// Startup media failures.
	ReasonFFmpegStartupException Reason = "ffmpeg_startup_exception"
	ReasonStartupFFmpegError     Reason = "startup_ffmpeg_error"
	ReasonStartupFFmpegStreaming Reason = "startup_ffmpeg_streaming_error"

	// Runtime browser failures.
	ReasonSeleniumStuck  Reason = "selenium_stuck"
	ReasonSeleniumDied   Reason = "selenium_died"
	ReasonSeleniumHangup Reason = "selenium_hangup"

	// Runtime media failure.
	ReasonFFmpegDied Reason = "ffmpeg_died"

	// Gateway failures.
	ReasonGatewayBusy             Reason = "pjsua_busy"
	ReasonGatewayHangup           Reason = "pjsua_hangup"
	ReasonGatewayDied             Reason = "pjsua_died"
	ReasonGatewayStartupError     Reason = "pjsua_startup_error"
	ReasonGatewayStartupException Reason = "pjsua_startup_exception"

	// Policy.
	ReasonTimeLimit Reason = "timelimit"
	ReasonXMPPStop  Reason = "xmpp_stop"
)

// humanTexts maps each reason to the text carried in the failure IQ sent to
// the controller. Unknown reasons fall back to "Unknown error".
var humanTexts = map[Reason]string{
	ReasonSeleniumStartStuck:      "Startup error: Selenium stuck",
	ReasonStartupException:        "Startup error: Startup exception",
	ReasonStartupSelenium:         "Startup error: Selenium error",
	ReasonAudioCheckFailed:        "Startup error: Audio check failed",
	ReasonFFmpegStartupException:  "Startup error: FFMPEG fatal exception",
	ReasonStartupFFmpegError:      "Startup error: FFMPEG fatal error",
	ReasonStartupFFmpegStreaming:  "Youtube request timeout",
	ReasonSeleniumStuck:           "Streaming Error: Selenium stuck",
	ReasonSeleniumDied:            "Streaming Error: Selenium died",
	ReasonFFmpegDied:              "Streaming Error: ffmpeg died",
	ReasonSeleniumHangup:          "Conference Ended, no data received within timelimit",
	ReasonTimeLimit:               "Streaming Time Limited Reached",
	ReasonGatewayDied:             "Gateway Error: pjsua died",
	ReasonGatewayBusy:             "Gateway Error: pjsua returned busy",
	ReasonGatewayHangup:           "Gateway Error: pjsua returned hangup",
	ReasonGatewayStartupError:     "Gateway Startup Error: pjsua startup failed",
	ReasonGatewayStartupException: "Gateway Startup Error: pjsua startup exception",
}

// retryHinted names the reasons whose failure IQ carries the retry element,
// telling the controller that rescheduling on another worker is meaningful.
var retryHinted = map[Reason]bool{
	ReasonSeleniumStartStuck: true,
	ReasonStartupException:   true,
	ReasonStartupSelenium:    true,
	ReasonSeleniumStuck:      true,
	ReasonSeleniumDied:       true,
	ReasonFFmpegDied:         true,
}

// HumanText returns the controller-facing error text for the reason.
func (r Reason) HumanText() string {
	if text, ok := humanTexts[r]; ok {
		return text
	}
	return "Unknown error"
}

// RetryHint reports whether the failure IQ should include the retry element.
func (r Reason) RetryHint() bool {
	return retryHinted[r]
}

// ReportedStatus returns the jibri status attribute for the failure IQ.
// Benign session ends (hangups, time limit) report "off" rather than
// "failed" and carry no error extension.
func (r Reason) ReportedStatus() string {
	switch r {
	case ReasonSeleniumHangup, ReasonTimeLimit, ReasonGatewayHangup:
		return "off"
	default:
		return "failed"
	}
}

// Clean reports whether the stop was controller-initiated, in which case no
// error is reported to signaling.
func (r Reason) Clean() bool {
	return r == ReasonXMPPStop
}
