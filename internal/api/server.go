// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the local REST control surface: session start/stop,
// health, the kill switch, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/jibrid/internal/auth"
	"github.com/ManuGH/jibrid/internal/log"
	"github.com/ManuGH/jibrid/internal/session"
)

const (
	startWait = 3 * time.Minute
	stopWait  = time.Minute
)

// Server handles the local REST API.
type Server struct {
	worker *session.Worker
	token  string
	logger zerolog.Logger
	// killFn tears the whole daemon down; wired to the lifecycle manager.
	killFn func()
}

// NewServer builds the REST server over the session controller. token is
// the shared secret required on mutating calls; killFn is invoked by the
// kill endpoint.
func NewServer(worker *session.Worker, token string, killFn func()) *Server {
	return &Server{
		worker: worker,
		token:  token,
		logger: log.WithComponent("api"),
		killFn: killFn,
	}
}

// Routes assembles the router. Start/stop accept both GET with query
// parameters and POST with a JSON body.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(httprate.LimitByIP(60, time.Minute))

	r.HandleFunc("/jibri/api/v1.0/start", s.handleStart)
	r.HandleFunc("/jibri/api/v1.0/sipstart", s.handleSIPStart)
	r.HandleFunc("/jibri/api/v1.0/stop", s.handleStop)
	r.Get("/jibri/health", s.handleHealth)
	r.Post("/jibri/kill", s.handleKill)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// params merges the JSON body (POST) and the query string, the body
// winning.
func params(r *http.Request) map[string]string {
	out := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	if r.Method == http.MethodPost && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			for k, v := range body {
				out[k] = v
			}
		}
	}
	return out
}

type startResponse struct {
	Success       bool   `json:"success"`
	URL           string `json:"url,omitempty"`
	Stream        string `json:"stream,omitempty"`
	Token         string `json:"token,omitempty"`
	Error         string `json:"error,omitempty"`
	SeleniumError bool   `json:"jibriseleniumerror,omitempty"`
}

type healthResponse struct {
	Recording      bool   `json:"recording"`
	Health         bool   `json:"health"`
	XMPPConnected  bool   `json:"XMPPConnected"`
	SeleniumHealth bool   `json:"selenium_health"`
	JibriXMPP      bool   `json:"jibri_xmpp"`
	Environment    string `json:"environment"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(w http.ResponseWriter, p map[string]string) bool {
	if !auth.VerifyToken(s.token, p["token"]) {
		writeJSON(w, http.StatusForbidden, startResponse{Success: false, Error: "Token does not match"})
		return false
	}
	return true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	p := params(r)
	if !s.authorize(w, p) {
		return
	}
	if p["url"] == "" || p["stream"] == "" {
		writeJSON(w, http.StatusBadRequest, startResponse{Success: false, Error: "Bad Parameters"})
		return
	}
	req := session.Request{
		URL:      p["url"],
		StreamID: p["stream"],
	}
	s.runStart(w, r, req, startResponse{Success: true, URL: p["url"], Stream: p["stream"], Token: p["token"]})
}

func (s *Server) handleSIPStart(w http.ResponseWriter, r *http.Request) {
	p := params(r)
	if !s.authorize(w, p) {
		return
	}
	if p["url"] == "" || p["sipaddress"] == "" {
		writeJSON(w, http.StatusBadRequest, startResponse{Success: false, Error: "Bad Parameters"})
		return
	}
	req := session.Request{
		URL:         p["url"],
		Room:        p["room"],
		SIPAddress:  p["sipaddress"],
		DisplayName: p["displayname"],
	}
	s.runStart(w, r, req, startResponse{Success: true, URL: p["url"], Token: p["token"]})
}

// runStart acquires the slot, runs the start sequence synchronously, and
// reports the outcome. A startup failure is surfaced as a selenium error
// the way the legacy surface did.
func (s *Server) runStart(w http.ResponseWriter, r *http.Request, req session.Request, ok startResponse) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Success: false, Error: "Bad Parameters"})
		return
	}
	if !s.worker.TryAcquire("rest") {
		writeJSON(w, http.StatusConflict, startResponse{Success: false, Error: "Already recording"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), startWait)
	defer cancel()
	reason, err := s.worker.StartAndWait(ctx, req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, startResponse{Success: false, Error: err.Error()})
		return
	}
	if reason != "" {
		writeJSON(w, http.StatusOK, startResponse{
			Success:       false,
			SeleniumError: true,
			Error:         reason.HumanText(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopWait)
	defer cancel()
	if err := s.worker.StopAndWait(ctx, session.ReasonXMPPStop); err != nil {
		s.logger.Warn().Err(err).Msg("stop timed out")
	}
	// stop always succeeds: either a session was torn down or none existed
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.worker.XMPPConnected()
	seleniumOK := s.worker.SeleniumHealthy()
	signalingOK := s.worker.CheckSignaling(r.Context())
	resp := healthResponse{
		Recording:      s.worker.Recording(),
		XMPPConnected:  connected,
		SeleniumHealth: seleniumOK,
		JibriXMPP:      signalingOK,
		Environment:    s.worker.Environment(),
	}
	resp.Health = connected && seleniumOK && signalingOK
	status := http.StatusOK
	if !resp.Health {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().Str("remote", r.RemoteAddr).Msg("kill requested")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	if s.killFn != nil {
		go s.killFn()
	}
}
