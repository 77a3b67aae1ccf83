// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the recording worker.
// No cardinality explosion: labels are closed sets (mode, reason, result),
// never session IDs or room names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionStartTotal counts start attempts by mode and result.
	SessionStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jibrid_session_start_total",
		Help: "Total number of session start attempts, by mode and result (ok/failed/busy).",
	}, []string{"mode", "result"})

	// SessionStopTotal counts session terminations by reason kind.
	SessionStopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jibrid_session_stop_total",
		Help: "Total number of session stops, by reason.",
	}, []string{"reason"})

	// SlotBusyRejectTotal counts start requests rejected because the slot was held.
	SlotBusyRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jibrid_slot_busy_reject_total",
		Help: "Total number of start requests rejected while a session was active, by origin.",
	}, []string{"origin"})

	// WatchdogRestartTotal counts in-session subprocess relaunches by the watchdog.
	WatchdogRestartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jibrid_watchdog_restart_total",
		Help: "Total number of watchdog-initiated subprocess restarts, by target and result.",
	}, []string{"target", "result"})

	// BrowserLaunchTotal counts browser launch attempts by result.
	BrowserLaunchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jibrid_browser_launch_total",
		Help: "Total number of browser launch attempts, by result (ok/timeout/error).",
	}, []string{"result"})

	// ScriptInvocationTotal counts external script runs by script name and exit class.
	ScriptInvocationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jibrid_script_invocation_total",
		Help: "Total number of external script invocations, by script and exit class (ok/nonzero/error).",
	}, []string{"script", "result"})

	// XMPPConnectedClients tracks how many signaling clients are currently connected.
	XMPPConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jibrid_xmpp_connected_clients",
		Help: "Current number of connected signaling clients.",
	})

	// SessionActive is 1 while the recording slot is held.
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jibrid_session_active",
		Help: "1 while the recording slot is held, 0 otherwise.",
	})

	// SessionDuration observes completed session lengths in seconds.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jibrid_session_duration_seconds",
		Help:    "Duration of completed sessions in seconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	})
)
