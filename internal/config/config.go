// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config merges the JSON config file, environment variables, and
// command-line flags into per-host signaling client configurations.
// Precedence is command line > environment > file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Defaults for fields the file may omit.
const (
	DefaultRecordingDirectory = "/tmp/recordings"
	DefaultDisplayName        = "Live Stream"
	DefaultFileDisplayName    = "Recorder"
	DefaultEmail              = "recorder@jitsi.org"
)

// ClientDefaults is the flat key set shared by the top-level config file,
// per-environment overrides, and the flag/env override layer. Zero values
// mean "not set".
type ClientDefaults struct {
	JID                  string `json:"jid"`
	Password             string `json:"password"`
	Nick                 string `json:"nick"`
	Room                 string `json:"room"`
	RoomPassword         string `json:"roompass"`
	RoomName             string `json:"roomname"`
	XMPPDomain           string `json:"xmpp_domain"`
	URL                  string `json:"url"`
	UsageTimeoutSeconds  int    `json:"usage_timeout"`
	ChromeBinaryPath     string `json:"chrome_binary_path"`
	SIPMode              bool   `json:"pjsua_flag"`
	GoogleAccount        string `json:"google_account"`
	GoogleAccountPass    string `json:"google_account_password"`
	SeleniumXMPPLogin    string `json:"selenium_xmpp_login"`
	SeleniumXMPPPassword string `json:"selenium_xmpp_password"`
	SeleniumXMPPPrefix   string `json:"selenium_xmpp_prefix"`
	SeleniumXMPPUsername string `json:"selenium_xmpp_username"`
	JIDUsername          string `json:"jid_username"`
	JIDServerPrefix      string `json:"jidserver_prefix"`
	MUCServerPrefix      string `json:"mucserver_prefix"`
	BreweryPrefix        string `json:"brewery_prefix"`
	BoshDomainPrefix     string `json:"boshdomain_prefix"`
	BoshDomain           string `json:"boshdomain"`
	DisplayName          string `json:"displayname"`
	Email                string `json:"email"`
	RecordingDirectory   string `json:"recording_directory"`
}

// File is the top-level structure of the JSON config file. Environments are
// kept raw so their overrides can be applied on top of the base defaults by
// a second unmarshal.
type File struct {
	ClientDefaults
	RESTToken    string                     `json:"resttoken"`
	Servers      []string                   `json:"servers"`
	Environments map[string]json.RawMessage `json:"environments"`
}

// Load reads and parses the JSON config file at path. An empty path returns
// an empty File.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config file %s: %w", path, err)
	}
	log := logComponent()
	log.Debug().Str("path", path).Int("servers", len(f.Servers)).Int("environments", len(f.Environments)).Msg("config file loaded")
	return f, nil
}

// Overrides carries the flag/env layer. String fields override when
// non-empty; UsageTimeoutSeconds overrides when >= 0.
type Overrides struct {
	JID                 string
	Password            string
	Room                string
	RoomName            string
	RoomPassword        string
	MUCServerPrefix     string
	BreweryPrefix       string
	JIDServerPrefix     string
	JIDUsername         string
	BoshDomain          string
	BoshDomainPrefix    string
	XMPPDomain          string
	Nick                string
	URL                 string
	UsageTimeoutSeconds int
	SIPMode             bool
	RESTToken           string
	ChromeBinaryPath    string
	GoogleAccount       string
	GoogleAccountPass   string
	Servers             []string
}

// Settings is the fully merged daemon configuration.
type Settings struct {
	Defaults     ClientDefaults
	RESTToken    string
	Servers      []string
	Environments map[string]json.RawMessage
}

// Merge applies the override layer on top of the file layer.
func Merge(f File, o Overrides) Settings {
	d := f.ClientDefaults
	applyString(&d.JID, o.JID)
	applyString(&d.Password, o.Password)
	applyString(&d.Room, o.Room)
	applyString(&d.RoomName, o.RoomName)
	applyString(&d.RoomPassword, o.RoomPassword)
	applyString(&d.MUCServerPrefix, o.MUCServerPrefix)
	applyString(&d.BreweryPrefix, o.BreweryPrefix)
	applyString(&d.JIDServerPrefix, o.JIDServerPrefix)
	applyString(&d.JIDUsername, o.JIDUsername)
	applyString(&d.BoshDomain, o.BoshDomain)
	applyString(&d.BoshDomainPrefix, o.BoshDomainPrefix)
	applyString(&d.XMPPDomain, o.XMPPDomain)
	applyString(&d.Nick, o.Nick)
	applyString(&d.URL, o.URL)
	applyString(&d.ChromeBinaryPath, o.ChromeBinaryPath)
	applyString(&d.GoogleAccount, o.GoogleAccount)
	applyString(&d.GoogleAccountPass, o.GoogleAccountPass)
	if o.UsageTimeoutSeconds >= 0 {
		d.UsageTimeoutSeconds = o.UsageTimeoutSeconds
	}
	if o.SIPMode {
		d.SIPMode = true
	}
	if d.RecordingDirectory == "" {
		d.RecordingDirectory = DefaultRecordingDirectory
	}

	token := f.RESTToken
	applyString(&token, o.RESTToken)

	servers := f.Servers
	if len(o.Servers) > 0 {
		servers = o.Servers
	}

	return Settings{
		Defaults:     d,
		RESTToken:    token,
		Servers:      servers,
		Environments: f.Environments,
	}
}

func applyString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// UsageTimeout returns the session wall-clock limit; zero disables it.
func (d ClientDefaults) UsageTimeout() time.Duration {
	if d.UsageTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(d.UsageTimeoutSeconds) * time.Second
}
