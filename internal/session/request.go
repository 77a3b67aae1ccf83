// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"errors"
	"strings"
)

// Mode selects what the session produces.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeFile   Mode = "file"
	ModeSIP    Mode = "sip"
)

// Request is an immutable, validated start request from signaling or REST.
type Request struct {
	Mode          Mode
	URL           string // template with %ROOM% and %SUBDOMAIN% placeholders, or final URL
	Room          string // room JID, local@host
	StreamID      string
	SIPAddress    string
	DisplayName   string
	Token         string
	Backup        bool
	RecordingName string
	// OriginHost names the signaling client the request arrived on; empty
	// for REST.
	OriginHost string
}

var (
	ErrNoMode     = errors.New("no streamid or sipaddress specified and no recording mode set")
	ErrNoLocation = errors.New("no URL or room specified")
)

// Normalize trims whitespace and infers the mode: a stream ID forces stream
// mode, a SIP address selects SIP. File mode is never inferred and must be
// requested explicitly. File mode discards any stream ID.
func (r *Request) Normalize() {
	r.URL = strings.TrimSpace(r.URL)
	r.Room = strings.TrimSpace(r.Room)
	r.StreamID = strings.TrimSpace(r.StreamID)
	r.SIPAddress = strings.TrimSpace(r.SIPAddress)

	if r.StreamID != "" {
		r.Mode = ModeStream
	} else if r.Mode == "" && r.SIPAddress != "" {
		r.Mode = ModeSIP
	}
	if r.Mode == ModeFile {
		r.StreamID = ""
	}
	if r.Mode == ModeSIP && r.DisplayName == "" {
		r.DisplayName = r.SIPAddress
	}
}

// Validate checks the normalized request. The returned errors map onto the
// signaling 501 replies.
func (r Request) Validate() error {
	switch r.Mode {
	case ModeStream:
		if r.StreamID == "" {
			return ErrNoMode
		}
	case ModeSIP:
		if r.SIPAddress == "" {
			return ErrNoMode
		}
	case ModeFile:
	default:
		return ErrNoMode
	}
	if r.URL == "" && r.Room == "" {
		return ErrNoLocation
	}
	return nil
}

// SplitRoom splits a room JID into its local part and host. A JID without a
// host returns the input as the name with an empty host.
func SplitRoom(room string) (name, host string) {
	if i := strings.LastIndex(room, "@"); i > 0 {
		return room[:i], room[i+1:]
	}
	return room, ""
}

// DeriveSubdomain extracts the tenant label from a conference room host.
// When the host starts with the MUC prefix, ends with the XMPP domain, and
// carries a label between them, the label is returned with a trailing
// slash; otherwise the subdomain is empty.
func DeriveSubdomain(roomHost, mucPrefix, xmppDomain string) string {
	if roomHost == "" || mucPrefix == "" || xmppDomain == "" {
		return ""
	}
	if !strings.HasPrefix(roomHost, mucPrefix) || !strings.HasSuffix(roomHost, xmppDomain) {
		return ""
	}
	if roomHost == mucPrefix+xmppDomain {
		return ""
	}
	label := strings.TrimSuffix(strings.TrimPrefix(roomHost, mucPrefix), xmppDomain)
	label = strings.Trim(label, ".")
	if label == "" {
		return ""
	}
	return label + "/"
}

// ResolveURL substitutes the %SUBDOMAIN% and %ROOM% placeholders.
func ResolveURL(template, roomName, subdomain string) string {
	url := strings.ReplaceAll(template, "%SUBDOMAIN%", subdomain)
	return strings.ReplaceAll(url, "%ROOM%", roomName)
}
