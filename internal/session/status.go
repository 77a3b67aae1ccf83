// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

// StatusKind tags a StatusMessage on a client's outbound queue.
type StatusKind int

const (
	// StatusPoison shuts the client down.
	StatusPoison StatusKind = iota
	// StatusIdle and StatusBusy are published as room presence.
	StatusIdle
	StatusBusy
	// StatusOff/On/Stopped/Started become status IQs to the controller.
	StatusOff
	StatusOn
	StatusStopped
	StatusStarted
	// StatusHealth asks the client to acknowledge the health probe.
	StatusHealth
	// StatusError becomes a failure IQ with the reason's mapped text.
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusPoison:
		return "poison"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusOff:
		return "off"
	case StatusOn:
		return "on"
	case StatusStopped:
		return "stopped"
	case StatusStarted:
		return "started"
	case StatusHealth:
		return "health"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusMessage is one entry on a signaling client's outbound queue.
type StatusMessage struct {
	Kind   StatusKind
	Reason Reason // set for StatusError
	// SIPAddress decorates status updates during SIP sessions.
	SIPAddress string
}

// Notifier is a signaling client's inbound surface as seen by the session
// controller. Enqueue must be safe for concurrent use and must not block;
// it reports whether the message was accepted.
type Notifier interface {
	Hostname() string
	Enqueue(msg StatusMessage) bool
}
