// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/log"
)

func logComponent() zerolog.Logger {
	return log.WithComponent("config")
}

// ClientConfig is the resolved per-host signaling client configuration.
// All derivable fields are computed once here; hosts with insufficient
// information never produce a ClientConfig.
type ClientConfig struct {
	Host         string
	Environment  string
	JID          string
	Password     string
	Nickname     string
	Room         string // full room JID, local@host
	RoomPassword string

	XMPPDomain    string
	MUCPrefix     string
	BreweryPrefix string
	BoshDomain    string

	URLTemplate string

	BrowserLogin    string
	BrowserPassword string
	GoogleAccount   string
	GooglePassword  string

	DisplayName string
	Email       string

	SIPMode            bool
	RecordingDirectory string
	UsageTimeout       time.Duration
}

var (
	errNoJID      = errors.New("no jid and no way to derive one")
	errNoPassword = errors.New("no password")
	errNoRoom     = errors.New("no room and no way to derive one")
	errNoURL      = errors.New("no url and no xmpp_domain to derive one")
)

// BuildClients resolves one ClientConfig per host from the merged settings:
// the top-level server list uses the base defaults, and each environment
// block overlays its own keys before resolving its server list. Hosts that
// cannot be resolved are dropped with a warning.
func BuildClients(s Settings) map[string]ClientConfig {
	logger := logComponent()
	clients := make(map[string]ClientConfig)

	add := func(host, envLabel string, d ClientDefaults) {
		cc, err := resolveClient(host, envLabel, d)
		if err != nil {
			logger.Warn().
				Str("host", host).
				Str("environment", envLabel).
				Err(err).
				Msg("dropping signaling host, configuration incomplete")
			return
		}
		clients[host] = cc
	}

	for _, host := range s.Servers {
		add(host, "", s.Defaults)
	}

	for name, raw := range s.Environments {
		overlay := s.Defaults
		if err := json.Unmarshal(raw, &overlay); err != nil {
			logger.Warn().Str("environment", name).Err(err).Msg("skipping malformed environment block")
			continue
		}
		var envServers struct {
			Servers []string `json:"servers"`
		}
		if err := json.Unmarshal(raw, &envServers); err != nil || len(envServers.Servers) == 0 {
			logger.Warn().Str("environment", name).Msg("environment block has no servers")
			continue
		}
		for _, host := range envServers.Servers {
			add(host, name, overlay)
		}
	}

	return clients
}

func resolveClient(host, envLabel string, d ClientDefaults) (ClientConfig, error) {
	jid := d.JID
	if jid == "" && d.JIDUsername != "" && d.XMPPDomain != "" {
		jid = d.JIDUsername + "@" + d.JIDServerPrefix + d.XMPPDomain
	}
	if jid == "" {
		return ClientConfig{}, errNoJID
	}
	if d.Password == "" {
		return ClientConfig{}, errNoPassword
	}

	breweryPrefix := d.BreweryPrefix
	if breweryPrefix == "" {
		breweryPrefix = d.MUCServerPrefix
	}

	room := d.Room
	if room == "" && d.RoomName != "" && d.XMPPDomain != "" {
		room = d.RoomName + "@" + breweryPrefix + d.XMPPDomain
	}
	if room == "" {
		return ClientConfig{}, errNoRoom
	}

	url := d.URL
	if url == "" && d.XMPPDomain != "" {
		url = "https://" + d.XMPPDomain + "/%SUBDOMAIN%%ROOM%"
	}
	if url == "" {
		return ClientConfig{}, errNoURL
	}

	boshDomain := d.BoshDomain
	if boshDomain == "" && d.BoshDomainPrefix != "" && d.XMPPDomain != "" {
		boshDomain = d.BoshDomainPrefix + d.XMPPDomain
	}

	browserLogin := d.SeleniumXMPPLogin
	if browserLogin == "" && d.SeleniumXMPPUsername != "" && d.XMPPDomain != "" {
		browserLogin = d.SeleniumXMPPUsername + "@" + d.SeleniumXMPPPrefix + d.XMPPDomain
	}

	nick := d.Nick
	if nick == "" {
		nick = "jibri-" + strings.Split(uuid.NewString(), "-")[0]
	}

	recDir := d.RecordingDirectory
	if recDir == "" {
		recDir = DefaultRecordingDirectory
	}

	return ClientConfig{
		Host:               host,
		Environment:        envLabel,
		JID:                jid,
		Password:           d.Password,
		Nickname:           nick,
		Room:               room,
		RoomPassword:       d.RoomPassword,
		XMPPDomain:         d.XMPPDomain,
		MUCPrefix:          d.MUCServerPrefix,
		BreweryPrefix:      breweryPrefix,
		BoshDomain:         boshDomain,
		URLTemplate:        url,
		BrowserLogin:       browserLogin,
		BrowserPassword:    d.SeleniumXMPPPassword,
		GoogleAccount:      d.GoogleAccount,
		GooglePassword:     d.GoogleAccountPass,
		DisplayName:        d.DisplayName,
		Email:              d.Email,
		SIPMode:            d.SIPMode,
		RecordingDirectory: recDir,
		UsageTimeout:       d.UsageTimeout(),
	}, nil
}
