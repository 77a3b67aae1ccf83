// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package xmppclient

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/muc"
	"mellium.im/xmpp/mux"
	"mellium.im/xmpp/stanza"

	"github.com/ManuGH/jibrid/internal/config"
	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/metrics"
	"github.com/ManuGH/jibrid/internal/session"
)

const (
	defaultPort    = "5222"
	dialTimeout    = 10 * time.Second
	joinTimeout    = 30 * time.Second
	sendTimeout    = 5 * time.Second
	reconnectDelay = 2 * time.Second
	drainInterval  = time.Second
	queueDepth     = 64
)

// Client is one signaling connection: it joins the control room, accepts
// jibri command IQs, and drains its status queue into presence and status
// stanzas.
type Client struct {
	cfg    config.ClientConfig
	worker *session.Worker
	logger zerolog.Logger
	queue  chan session.StatusMessage

	mu         sync.Mutex
	controller jid.JID
	hasCtrl    bool
	reconnect  bool
}

// New creates a client for one configured server. The caller registers it
// with the session controller and runs it.
func New(cfg config.ClientConfig, worker *session.Worker) *Client {
	return &Client{
		cfg:       cfg,
		worker:    worker,
		logger:    log.WithComponent("xmpp").With().Str("host", cfg.Host).Logger(),
		queue:     make(chan session.StatusMessage, queueDepth),
		reconnect: true,
	}
}

// Hostname implements session.Notifier.
func (c *Client) Hostname() string {
	return c.cfg.Host
}

// Enqueue implements session.Notifier. It never blocks; a full queue drops
// the message.
func (c *Client) Enqueue(msg session.StatusMessage) bool {
	select {
	case c.queue <- msg:
		return true
	default:
		return false
	}
}

// Run connects and serves until the context ends or the client is
// poisoned, reconnecting on transient failures.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		c.worker.SetClientConnected(c.cfg.Host, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.reconnectEnabled() {
			c.logger.Info().Msg("client poisoned, not reconnecting")
			return nil
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("xmpp session ended, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) reconnectEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect
}

func (c *Client) disableReconnect() {
	c.mu.Lock()
	c.reconnect = false
	c.mu.Unlock()
}

func (c *Client) setController(j jid.JID) {
	c.mu.Lock()
	c.controller = j
	c.hasCtrl = true
	c.mu.Unlock()
}

func (c *Client) controllerJID() (jid.JID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller, c.hasCtrl
}

func (c *Client) addr() string {
	if strings.Contains(c.cfg.Host, ":") {
		return c.cfg.Host
	}
	return net.JoinHostPort(c.cfg.Host, defaultPort)
}

func (c *Client) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	origin, err := jid.Parse(c.cfg.JID)
	if err != nil {
		c.disableReconnect()
		return err
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return err
	}
	defer conn.Close()

	serverName := c.cfg.XMPPDomain
	if serverName == "" {
		serverName, _, _ = net.SplitHostPort(c.addr())
	}
	sess, err := xmpp.NewClientSession(ctx, origin, conn,
		xmpp.StartTLS(&tls.Config{ServerName: serverName}),
		xmpp.SASL("", c.cfg.Password, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
		xmpp.BindResource(),
	)
	if err != nil {
		return err
	}
	defer sess.Close()

	c.logger.Info().Str("jid", c.cfg.JID).Msg("connected")
	c.worker.SetClientConnected(c.cfg.Host, true)

	mucClient := &muc.Client{}
	m := mux.New(stanza.NSClient,
		muc.HandleClient(mucClient),
		mux.IQFunc(stanza.SetIQ, xml.Name{Space: NSJibri, Local: "jibri"}, c.handleCommand),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- sess.Serve(m)
	}()

	room, err := c.joinControlRoom(ctx, sess, mucClient)
	if err != nil {
		return err
	}

	c.sendPresence(ctx, sess, room, "idle")

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-serveErr:
			return err
		case <-ticker.C:
			if poisoned := c.drain(ctx, sess, room); poisoned {
				c.disableReconnect()
				return nil
			}
		}
	}
}

func (c *Client) joinControlRoom(ctx context.Context, sess *xmpp.Session, mucClient *muc.Client) (jid.JID, error) {
	roomJID, err := jid.Parse(c.cfg.Room)
	if err != nil {
		c.disableReconnect()
		return jid.JID{}, err
	}
	roomJID, err = roomJID.WithResource(c.cfg.Nickname)
	if err != nil {
		c.disableReconnect()
		return jid.JID{}, err
	}

	opts := []muc.Option{muc.MaxHistory(0)}
	if c.cfg.RoomPassword != "" {
		opts = append(opts, muc.Password(c.cfg.RoomPassword))
	}
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	if _, err := mucClient.Join(joinCtx, roomJID, sess, opts...); err != nil {
		return jid.JID{}, err
	}
	c.logger.Info().Str("room", c.cfg.Room).Str("nick", c.cfg.Nickname).Msg("joined control room")
	return roomJID, nil
}

// drain moves queued status messages onto the wire. Returns true when a
// poison message was drained.
func (c *Client) drain(ctx context.Context, sess *xmpp.Session, room jid.JID) bool {
	for {
		select {
		case msg := <-c.queue:
			if c.dispatch(ctx, sess, room, msg) {
				return true
			}
		default:
			return false
		}
	}
}

func (c *Client) dispatch(ctx context.Context, sess *xmpp.Session, room jid.JID, msg session.StatusMessage) (poisoned bool) {
	switch msg.Kind {
	case session.StatusPoison:
		return true
	case session.StatusIdle:
		c.sendPresence(ctx, sess, room, "idle")
	case session.StatusBusy:
		c.sendPresence(ctx, sess, room, "busy")
	case session.StatusHealth:
		// a drained health probe proves this client's loop is alive
		c.worker.SignalHealthy()
	case session.StatusStarted, session.StatusOn:
		c.sendStatus(ctx, sess, jibriStatus{Status: "on", SIPAddress: msg.SIPAddress})
	case session.StatusStopped, session.StatusOff:
		c.sendStatus(ctx, sess, jibriStatus{Status: "off", SIPAddress: msg.SIPAddress})
	case session.StatusError:
		c.sendFailure(ctx, sess, msg)
	}
	return false
}

// sendFailure reports a session failure to the controller. Benign endings
// report a plain off status; real failures carry the error extension and,
// when rescheduling makes sense, the retry marker.
func (c *Client) sendFailure(ctx context.Context, sess *xmpp.Session, msg session.StatusMessage) {
	status := msg.Reason.ReportedStatus()
	if status == "off" {
		c.sendStatus(ctx, sess, jibriStatus{Status: "off", SIPAddress: msg.SIPAddress})
		return
	}
	payload := jibriStatus{
		Status:     status,
		SIPAddress: msg.SIPAddress,
		Error: &failureError{
			Type: "wait",
			Code: "504",
			Text: msg.Reason.HumanText(),
		},
	}
	if msg.Reason.RetryHint() {
		payload.Retry = &retryMarker{}
	}
	c.sendStatus(ctx, sess, payload)
}

func (c *Client) sendStatus(ctx context.Context, sess *xmpp.Session, payload jibriStatus) {
	ctrl, ok := c.controllerJID()
	if !ok {
		c.logger.Debug().Str("status", payload.Status).Msg("no controller captured, dropping status iq")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	err := sess.Encode(sendCtx, statusIQ{
		IQ:      stanza.IQ{To: ctrl, Type: stanza.SetIQ},
		Payload: payload,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("status", payload.Status).Msg("status iq send failed")
	}
}

func (c *Client) sendPresence(ctx context.Context, sess *xmpp.Session, room jid.JID, status string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	err := sess.Encode(sendCtx, roomPresence{
		Presence: stanza.Presence{To: room},
		Status:   presenceStatus{Status: status},
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("status", status).Msg("presence send failed")
	}
}

// handleCommand dispatches an inbound jibri IQ.
func (c *Client) handleCommand(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	d := xml.NewTokenDecoder(xmlstream.MultiReader(xmlstream.Token(start.Copy()), t))
	var cmd commandIQ
	if err := d.Decode(&cmd); err != nil {
		return err
	}
	c.logger.Info().Str("action", cmd.Action).Str("from", iq.From.String()).Msg("command received")

	switch cmd.Action {
	case "start":
		return c.handleStart(iq, t, cmd)
	case "stop":
		return c.reply(t, iq.Result(resultPayload("stopping")), func() {
			c.worker.Stop(session.ReasonXMPPStop)
		})
	default:
		return c.reply(t, errorReply(iq, "501", "cancel", "feature-not-implemented", "Action not implemented."), nil)
	}
}

func (c *Client) handleStart(iq stanza.IQ, t xmlstream.TokenReadEncoder, cmd commandIQ) error {
	if !c.worker.TryAcquire(c.cfg.Host) {
		return c.reply(t, errorReply(iq, "503", "cancel", "service-unavailable", "Instance already in use."), nil)
	}

	req := buildRequest(cmd, c.cfg.Host)
	switch err := req.Validate(); err {
	case nil:
	case session.ErrNoMode:
		c.worker.ReleaseSlot()
		return c.reply(t, errorReply(iq, "501", "cancel", "service-unavailable",
			"No streamid or sipaddress specified and no recording mode set."), nil)
	default:
		c.worker.ReleaseSlot()
		return c.reply(t, errorReply(iq, "501", "cancel", "service-unavailable",
			"No URL or room specified."), nil)
	}

	c.setController(iq.From)
	metrics.SessionStartTotal.WithLabelValues(string(req.Mode), "accepted").Inc()
	return c.reply(t, iq.Result(resultPayload("pending")), func() {
		// the other clients get their busy via the controller's fan-out;
		// this client reports its own
		c.Enqueue(session.StatusMessage{Kind: session.StatusBusy})
		c.worker.Start(req)
	})
}

// reply writes the reply stanza and, when it was written cleanly, runs the
// follow-up.
func (c *Client) reply(t xmlstream.TokenReadEncoder, r xml.TokenReader, after func()) error {
	if _, err := xmlstream.Copy(t, r); err != nil {
		return err
	}
	if after != nil {
		after()
	}
	return nil
}
