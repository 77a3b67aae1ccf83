// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package xmppclient speaks the jibri signaling protocol: one client per
// configured server, joined to the control room, accepting start/stop IQs
// and reporting session status back to the controller.
package xmppclient

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/stanza"

	"github.com/ManuGH/jibrid/internal/session"
)

// NSJibri is the jibri signaling namespace used by both the command IQs
// and the status extensions.
const NSJibri = "http://jitsi.org/protocol/jibri"

const nsStanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"

// commandIQ is the decoded payload of an inbound jibri IQ.
type commandIQ struct {
	XMLName       xml.Name `xml:"http://jitsi.org/protocol/jibri jibri"`
	Action        string   `xml:"action,attr"`
	StreamID      string   `xml:"streamid,attr"`
	SIPAddress    string   `xml:"sipaddress,attr"`
	DisplayName   string   `xml:"displayname,attr"`
	RecordingMode string   `xml:"recording_mode,attr"`
	RecordingName string   `xml:"recording_name,attr"`
	BackupStream  string   `xml:"backup_stream,attr"`
	Room          string   `xml:"room,attr"`
	URL           string   `xml:"url,attr"`
	Token         string   `xml:"token,attr"`
}

// buildRequest maps a start command onto a session request. The URL is
// usually absent; the session controller then falls back to the client's
// configured template.
func buildRequest(cmd commandIQ, originHost string) session.Request {
	req := session.Request{
		URL:           cmd.URL,
		Room:          cmd.Room,
		StreamID:      cmd.StreamID,
		SIPAddress:    cmd.SIPAddress,
		DisplayName:   cmd.DisplayName,
		Token:         cmd.Token,
		Backup:        cmd.BackupStream == "true",
		RecordingName: cmd.RecordingName,
		OriginHost:    originHost,
	}
	if cmd.RecordingMode == "file" {
		req.Mode = session.ModeFile
	}
	req.Normalize()
	return req
}

// failureError is the error extension carried inside a failed status IQ.
type failureError struct {
	XMLName xml.Name `xml:"error"`
	Type    string   `xml:"type,attr"`
	Code    string   `xml:"code,attr"`
	Timeout struct{} `xml:"remote-server-timeout"`
	Text    string   `xml:"text,omitempty"`
}

// retryMarker asks the controller to reschedule the session elsewhere.
type retryMarker struct {
	XMLName xml.Name `xml:"retry"`
}

// jibriStatus is the outbound status extension sent to the controller.
type jibriStatus struct {
	XMLName    xml.Name      `xml:"http://jitsi.org/protocol/jibri jibri"`
	Status     string        `xml:"status,attr"`
	SIPAddress string        `xml:"sipaddress,attr,omitempty"`
	Error      *failureError
	Retry      *retryMarker
}

// statusIQ is a full status IQ addressed to the controller.
type statusIQ struct {
	stanza.IQ
	Payload jibriStatus
}

// presenceStatus is the jibri-status presence extension published to the
// control room.
type presenceStatus struct {
	XMLName xml.Name `xml:"http://jitsi.org/protocol/jibri jibri-status"`
	Status  string   `xml:"status,attr"`
}

// roomPresence is a room presence carrying the worker's availability.
type roomPresence struct {
	stanza.Presence
	Status presenceStatus
}

// resultPayload builds the <jibri state='...'/> element carried by the
// result replies to start and stop commands.
func resultPayload(state string) xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSJibri, Local: "jibri"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "state"}, Value: state}},
	})
}

// stanzaError builds a standard stanza error element with a legacy code
// attribute, a defined condition, and a human-readable text.
func stanzaError(code, typ, condition, text string) xml.TokenReader {
	inner := xmlstream.MultiReader(
		xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: nsStanzas, Local: condition},
		}),
		xmlstream.Wrap(xmlstream.Token(xml.CharData(text)), xml.StartElement{
			Name: xml.Name{Space: nsStanzas, Local: "text"},
		}),
	)
	return xmlstream.Wrap(inner, xml.StartElement{
		Name: xml.Name{Local: "error"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "code"}, Value: code},
			{Name: xml.Name{Local: "type"}, Value: typ},
		},
	})
}

// errorReply wraps a stanza error into an error-typed reply to the given
// IQ.
func errorReply(iq stanza.IQ, code, typ, condition, text string) xml.TokenReader {
	reply := stanza.IQ{
		ID:   iq.ID,
		To:   iq.From,
		From: iq.To,
		Type: stanza.ErrorIQ,
	}
	return reply.Wrap(stanzaError(code, typ, condition, text))
}
