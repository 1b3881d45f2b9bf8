// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/analysis"
	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
	"github.com/DataDog/sigmon/pkg/stats"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewConfig("sigmon-test", "SIGMON_TEST", strings.NewReplacer(".", "_"))
	cfg.Set("bind_host", "127.0.0.1")
	cfg.Set("api_port", 0)

	bucket := stats.New()
	snap := &config.Snapshot{
		Workers:           2,
		InputBufferSize:   16,
		SessionTimeout:    5 * time.Minute,
		SweepInterval:     30 * time.Second,
		CorrelationShards: 4,
	}
	engine := correlation.NewEngine(snap, bucket, clock.NewMock())

	kb, err := knowledge.Load("")
	require.NoError(t, err)
	analyzer := analysis.NewEngine(kb, bucket)

	s := NewServer(cfg, bucket, engine, analyzer)
	s.started = time.Now()
	return s
}

func observe(s *Server, msg *decoder.Message) {
	s.bucket.RecordMessage(msg)
	s.correlator.Observe(msg)
	s.analyzer.Analyze(msg)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	ok := decoder.NewMessage(decoder.ProtocolGTPv2, []byte{0x48}, nil)
	ok.IMSI = "001010000000001"
	ok.MessageName = "Create Session Request"
	ok.Result = decoder.ResultSuccess
	observe(s, ok)

	failed := decoder.NewMessage(decoder.ProtocolDiameter, []byte{0x01}, nil)
	failed.IMSI = "001010000000002"
	failed.MessageName = "Update-Location-Answer"
	failed.Result = decoder.ResultFailure
	failed.CauseCode = 5001
	observe(s, failed)

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, 200, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Version)
	assert.Equal(t, uint64(2), resp.TotalMessages)
	assert.Equal(t, 2, resp.ActiveSessions)
	assert.Equal(t, 2, resp.Subscribers)
	assert.Equal(t, 1, resp.IssuesDetected)
	require.Len(t, resp.RecentIssues, 1)
	assert.Equal(t, "DIAM-5001", resp.RecentIssues[0].RuleID)
	assert.Contains(t, resp.Protocols, string(decoder.ProtocolGTPv2))
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	s := newTestServer(t)
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestReadyBeforeWiring(t *testing.T) {
	s := &Server{bucket: stats.New()}

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestMetricsAndExpvarEndpoints(t *testing.T) {
	s := newTestServer(t)
	r := s.router()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/vars", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "stats")
}

func TestServerStartStop(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())
	s.Stop()
}
