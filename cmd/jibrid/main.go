// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// jibrid is a single-tenant conference recording and streaming worker: it
// bridges XMPP signaling to a local media pipeline built from a headless
// browser and external encoder/gateway scripts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/jibrid/internal/api"
	"github.com/ManuGH/jibrid/internal/config"
	"github.com/ManuGH/jibrid/internal/lifecycle"
	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/proc"
	"github.com/ManuGH/jibrid/internal/script"
	"github.com/ManuGH/jibrid/internal/selenium"
	"github.com/ManuGH/jibrid/internal/session"
	"github.com/ManuGH/jibrid/internal/xmppclient"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const defaultScriptsDir = "/opt/jitsi/jibri/scripts"

func main() {
	os.Exit(run())
}

func run() int {
	quiet := flag.Bool("q", false, "log errors only")
	verbose := flag.Bool("v", false, "verbose logging")
	debug := flag.Bool("d", false, "debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")

	configPath := flag.String("config", config.ParseString("CONFIG", ""), "path to JSON config file")
	jid := flag.String("jid", config.ParseString("JID", ""), "client JID")
	password := flag.String("password", config.ParseString("PASS", ""), "client password")
	room := flag.String("room", config.ParseString("ROOM", ""), "control room JID")
	roomName := flag.String("room-name", config.ParseString("ROOMNAME", ""), "control room local part")
	roomPass := flag.String("roompass", config.ParseString("ROOMPASS", ""), "control room password")
	mucPrefix := flag.String("muc-server-prefix", "", "conference MUC host prefix")
	breweryPrefix := flag.String("brewery-prefix", "", "control room host prefix")
	jidServerPrefix := flag.String("jid-server-prefix", "", "auth host prefix for derived JIDs")
	jidUsername := flag.String("jid-username", "", "username for derived JIDs")
	boshDomain := flag.String("bosh-domain", "", "bosh domain override for the browser")
	boshDomainPrefix := flag.String("bosh-domain-prefix", "", "prefix for the derived bosh domain")
	xmppDomain := flag.String("xmpp-domain", config.ParseString("XMPP_DOMAIN", ""), "base XMPP domain")
	nick := flag.String("nick", config.ParseString("NICK", ""), "control room nickname")
	urlTemplate := flag.String("url", config.ParseString("URL", ""), "conference URL template")
	timeout := flag.Int("timeout", config.ParseInt("TIMEOUT", -1), "session time limit in seconds, 0 disables")
	pjsua := flag.Bool("pjsua", config.ParseBool("PJSUA_FLAG", false), "run as a SIP gateway worker")
	restToken := flag.String("resttoken", config.ParseString("REST_TOKEN", ""), "shared secret for the REST API")
	chromeBinary := flag.String("chrome-binary", config.ParseString("CHROME_BINARY", ""), "browser binary path")
	googleAccount := flag.String("google-account", config.ParseString("GOOGLE_ACCOUNT", ""), "google account for the browser")
	googlePassword := flag.String("google-account-password", config.ParseString("GOOGLE_ACCOUNT_PASSWORD", ""), "google account password")
	listen := flag.String("listen", config.ParseString("LISTEN", ":5000"), "REST listen address")
	scriptsDir := flag.String("scripts-dir", config.ParseString("SCRIPTS_DIR", defaultScriptsDir), "directory holding the media scripts")
	pidPath := flag.String("pidfile", config.ParseString("PIDFILE", lifecycle.DefaultPIDPath), "worker PID file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("jibrid %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	level := "warn"
	switch {
	case *quiet:
		level = "error"
	case *debug:
		level = "debug"
	case *verbose:
		level = "info"
	}
	log.Configure(log.Config{Level: level, Service: "jibrid", Version: version})
	logger := log.WithComponent("main")

	servers := flag.Args()
	if len(servers) == 0 {
		servers = strings.Fields(config.ParseString("SERVERS", ""))
	}

	file, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}
	settings := config.Merge(file, config.Overrides{
		JID:                 *jid,
		Password:            *password,
		Room:                *room,
		RoomName:            *roomName,
		RoomPassword:        *roomPass,
		MUCServerPrefix:     *mucPrefix,
		BreweryPrefix:       *breweryPrefix,
		JIDServerPrefix:     *jidServerPrefix,
		JIDUsername:         *jidUsername,
		BoshDomain:          *boshDomain,
		BoshDomainPrefix:    *boshDomainPrefix,
		XMPPDomain:          *xmppDomain,
		Nick:                *nick,
		URL:                 *urlTemplate,
		UsageTimeoutSeconds: *timeout,
		SIPMode:             *pjsua,
		RESTToken:           *restToken,
		ChromeBinaryPath:    *chromeBinary,
		GoogleAccount:       *googleAccount,
		GoogleAccountPass:   *googlePassword,
		Servers:             servers,
	})
	clientConfigs := config.BuildClients(settings)

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("starting jibrid")
	logger.Info().Msgf("→ Servers: %d configured", len(clientConfigs))
	logger.Info().Msgf("→ REST: %s (token: %v)", *listen, settings.RESTToken != "")
	logger.Info().Msgf("→ Scripts: %s", *scriptsDir)
	logger.Info().Msgf("→ Recordings: %s", settings.Defaults.RecordingDirectory)
	if settings.Defaults.UsageTimeout() > 0 {
		logger.Info().Msgf("→ Time limit: %s", settings.Defaults.UsageTimeout())
	}
	if len(clientConfigs) == 0 {
		logger.Warn().Msg("no signaling servers configured, REST only")
	}

	runner := script.NewRunner(*scriptsDir)
	supervisor := proc.New(runner, proc.DefaultPaths())
	driver := selenium.NewRodDriver(selenium.Config{
		Binary: settings.Defaults.ChromeBinaryPath,
		Audio:  runner,
	})

	worker := session.NewWorker(supervisor, driver, fallbackConfig(settings), session.DefaultTimings())

	var clients []*xmppclient.Client
	for _, cfg := range clientConfigs {
		c := xmppclient.New(cfg, worker)
		worker.RegisterClient(c, cfg)
		clients = append(clients, c)
	}

	if err := lifecycle.WritePIDFile(*pidPath); err != nil {
		logger.Warn().Err(err).Str("path", *pidPath).Msg("cannot write pid file")
	}
	defer func() {
		if err := lifecycle.RemovePIDFile(*pidPath); err != nil {
			logger.Warn().Err(err).Str("path", *pidPath).Msg("cannot remove pid file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager := lifecycle.New(worker, worker.Watchdog(), cancel)

	apiServer := api.NewServer(worker, settings.RESTToken, manager.Kill)
	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(worker.Run(gctx))
	})
	g.Go(func() error {
		worker.Watchdog().Run(gctx)
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(manager.Run(gctx))
	})
	for _, c := range clients {
		c := c
		g.Go(func() error {
			return ignoreCanceled(c.Run(gctx))
		})
	}
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()
		select {
		case <-gctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	err = g.Wait()
	if errors.Is(err, lifecycle.ErrKilled) {
		logger.Warn().Msg("terminated by signal")
		return 1
	}
	if err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	logger.Info().Msg("shutdown complete")
	return 0
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// fallbackConfig is the client configuration sessions started over REST
// use when no signaling client claims them.
func fallbackConfig(s config.Settings) config.ClientConfig {
	d := s.Defaults
	return config.ClientConfig{
		XMPPDomain:         d.XMPPDomain,
		MUCPrefix:          d.MUCServerPrefix,
		BoshDomain:         d.BoshDomain,
		URLTemplate:        d.URL,
		BrowserLogin:       d.SeleniumXMPPLogin,
		BrowserPassword:    d.SeleniumXMPPPassword,
		GoogleAccount:      d.GoogleAccount,
		GooglePassword:     d.GoogleAccountPass,
		DisplayName:        d.DisplayName,
		Email:              d.Email,
		SIPMode:            d.SIPMode,
		RecordingDirectory: d.RecordingDirectory,
		UsageTimeout:       d.UsageTimeout(),
	}
}
