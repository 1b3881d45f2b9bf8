// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package api exposes the monitor's local HTTP surface: liveness, readiness,
// a JSON status report, prometheus metrics and the expvar dump.
package api

import (
	"context"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/DataDog/sigmon/pkg/analysis"
	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/status/health"
	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
	"github.com/DataDog/sigmon/pkg/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 5 * time.Second

// Server binds the API socket. It only reads from the components it is
// handed; all state stays owned by the pipeline.
type Server struct {
	addr       string
	bucket     *stats.Bucket
	correlator *correlation.Engine
	analyzer   *analysis.Engine

	started time.Time
	srv     *http.Server
}

// NewServer builds the API server from the bind_host/api_port configuration.
// The analyzer may be nil.
func NewServer(cfg config.Config, bucket *stats.Bucket, correlator *correlation.Engine, analyzer *analysis.Engine) *Server {
	return &Server{
		addr:       fmt.Sprintf("%s:%d", cfg.GetString("bind_host"), cfg.GetInt("api_port")),
		bucket:     bucket,
		correlator: correlator,
		analyzer:   analyzer,
	}
}

// Start binds the socket and serves in the background. A bind failure is
// returned to the caller; serve errors after that only get logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: bind %s: %w", s.addr, err)
	}
	s.started = time.Now()
	s.srv = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("API server stopped serving: %v", err) //nolint:errcheck
		}
	}()
	log.Infof("API server listening on %s", s.addr)
	return nil
}

// Stop drains in-flight requests and closes the socket.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("API server shutdown: %v", err)
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	r.Handle("/debug/vars", expvar.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := health.GetStatus()
	code := http.StatusOK
	if len(st.Unhealthy) > 0 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, st)
}

// handleReady reports whether the pipeline behind the API has been wired.
// Load balancers poll it before routing probe traffic to this instance.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.correlator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type protocolStatus struct {
	Total       uint64  `json:"total"`
	Errors      uint64  `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
}

type statusResponse struct {
	Version       string    `json:"version"`
	StartTime     time.Time `json:"start_time"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	TotalMessages uint64 `json:"total_messages"`
	Timeouts      uint64 `json:"timeouts"`
	DecodeErrors  uint64 `json:"decode_errors"`
	Unclaimed     uint64 `json:"unclaimed_payloads"`

	Protocols map[string]protocolStatus `json:"protocols"`

	ActiveSessions    int `json:"active_sessions"`
	Subscribers       int `json:"subscribers"`
	ActiveSubscribers int `json:"active_subscribers"`
	IssuesDetected    int `json:"issues_detected"`

	RecentIssues []analysis.Issue `json:"recent_issues,omitempty"`
	Health       health.Status    `json:"health"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.bucket.Snapshot()
	resp := statusResponse{
		Version:       version.MonitorVersion,
		StartTime:     s.started.UTC(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		TotalMessages: snap.TotalMessages,
		Timeouts:      snap.Timeouts,
		DecodeErrors:  snap.DecodeErrors,
		Unclaimed:     snap.Unclaimed,
		Protocols:     make(map[string]protocolStatus, len(snap.Protocols)),
		Health:        health.GetStatus(),
	}
	for name, w := range snap.Protocols {
		resp.Protocols[name] = protocolStatus{
			Total:       w.Total,
			Errors:      w.Errors,
			SuccessRate: w.SuccessRate(),
		}
	}
	if s.correlator != nil {
		resp.ActiveSessions = s.correlator.ActiveSessions()
		resp.Subscribers = s.correlator.Subscribers().Count()
		resp.ActiveSubscribers = s.correlator.Subscribers().ActiveCount()
	}
	if s.analyzer != nil {
		resp.IssuesDetected = s.analyzer.IssueCount()
		resp.RecentIssues = s.analyzer.Issues(10)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debugf("API: encoding response: %v", err)
	}
}
