// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package xmppclient

import (
	"bytes"
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/stanza"

	"github.com/ManuGH/jibrid/internal/session"
)

func renderTokens(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	for {
		tok, err := r.Token()
		if tok != nil {
			require.NoError(t, e.EncodeToken(tok))
		}
		if err != nil {
			break
		}
	}
	require.NoError(t, e.Flush())
	return buf.String()
}

func TestDecodeStartCommand(t *testing.T) {
	raw := `<jibri xmlns="http://jitsi.org/protocol/jibri" action="start"` +
		` streamid="yt-key" room="myroom@conference.example.com" token="tok"/>`
	var cmd commandIQ
	require.NoError(t, xml.Unmarshal([]byte(raw), &cmd))
	assert.Equal(t, "start", cmd.Action)
	assert.Equal(t, "yt-key", cmd.StreamID)
	assert.Equal(t, "myroom@conference.example.com", cmd.Room)
	assert.Equal(t, "tok", cmd.Token)
}

func TestBuildRequest(t *testing.T) {
	req := buildRequest(commandIQ{
		Action:   "start",
		StreamID: "yt-key",
		Room:     "myroom@conference.example.com",
	}, "xmpp.example.com")
	assert.Equal(t, session.ModeStream, req.Mode)
	assert.Equal(t, "xmpp.example.com", req.OriginHost)
	require.NoError(t, req.Validate())

	req = buildRequest(commandIQ{
		Action:        "start",
		RecordingMode: "file",
		Room:          "myroom@conference.example.com",
	}, "xmpp.example.com")
	assert.Equal(t, session.ModeFile, req.Mode)
	require.NoError(t, req.Validate())

	req = buildRequest(commandIQ{Action: "start"}, "xmpp.example.com")
	assert.ErrorIs(t, req.Validate(), session.ErrNoMode)
}

func TestResultPayload(t *testing.T) {
	out := renderTokens(t, resultPayload("pending"))
	assert.Contains(t, out, `state="pending"`)
	assert.NotContains(t, out, `status=`)
	assert.Contains(t, out, "http://jitsi.org/protocol/jibri")
}

func TestStanzaError(t *testing.T) {
	out := renderTokens(t, stanzaError("503", "cancel", "service-unavailable", "Instance already in use."))
	assert.Contains(t, out, `code="503"`)
	assert.Contains(t, out, `type="cancel"`)
	assert.Contains(t, out, "service-unavailable")
	assert.Contains(t, out, "Instance already in use.")
}

func TestMissingFieldReplyCondition(t *testing.T) {
	iq := stanza.IQ{ID: "42", Type: stanza.SetIQ}
	out := renderTokens(t, errorReply(iq, "501", "cancel", "service-unavailable",
		"No streamid or sipaddress specified and no recording mode set."))
	assert.Contains(t, out, `code="501"`)
	assert.Contains(t, out, "service-unavailable")
	assert.NotContains(t, out, "feature-not-implemented")
}

func TestStatusIQMarshalling(t *testing.T) {
	payload := jibriStatus{
		Status:     "failed",
		SIPAddress: "alice@sip.example.com",
		Error: &failureError{
			Type: "wait",
			Code: "504",
			Text: session.ReasonSeleniumDied.HumanText(),
		},
		Retry: &retryMarker{},
	}
	out, err := xml.Marshal(payload)
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, `status="failed"`)
	assert.Contains(t, s, `sipaddress="alice@sip.example.com"`)
	assert.Contains(t, s, `code="504"`)
	assert.Contains(t, s, "Streaming Error: Selenium died")
	assert.Contains(t, s, "<retry>")
}

func TestStatusIQOmitsErrorWhenClean(t *testing.T) {
	out, err := xml.Marshal(jibriStatus{Status: "off"})
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, `status="off"`)
	assert.NotContains(t, s, "error")
	assert.NotContains(t, s, "retry")
	assert.NotContains(t, s, "sipaddress")
}

func TestPresenceStatusMarshalling(t *testing.T) {
	out, err := xml.Marshal(presenceStatus{Status: "idle"})
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "jibri-status")
	assert.Contains(t, s, `status="idle"`)
}

func TestDispatchQueueNeverBlocks(t *testing.T) {
	c := &Client{queue: make(chan session.StatusMessage, 2)}
	assert.True(t, c.Enqueue(session.StatusMessage{Kind: session.StatusIdle}))
	assert.True(t, c.Enqueue(session.StatusMessage{Kind: session.StatusBusy}))
	assert.False(t, c.Enqueue(session.StatusMessage{Kind: session.StatusIdle}), "full queue must drop")
}
