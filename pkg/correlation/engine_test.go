// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package correlation

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/stats"
)

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Workers:               1,
		InputBufferSize:       16,
		WriterBufferSize:      16,
		SessionTimeout:        300 * time.Second,
		SweepInterval:         30 * time.Second,
		CorrelationShards:     32,
		PersistenceBufferSize: 16,
	}
}

func newTestEngine(t *testing.T) (*Engine, *stats.Bucket, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	bucket := stats.New()
	return NewEngine(testSnapshot(), bucket, clk), bucket, clk
}

func testMsg(protocol decoder.Protocol, ts time.Time) *decoder.Message {
	meta := &decoder.Metadata{
		CaptureTime: ts,
		SourceIP:    "10.0.0.1",
		DestIP:      "10.0.0.2",
		SourcePort:  2123,
		DestPort:    2123,
		Transport:   "udp",
	}
	return decoder.NewMessage(protocol, []byte{0x01, 0x02}, meta)
}

func TestObserveCreatesSession(t *testing.T) {
	e, _, clk := newTestEngine(t)
	ts := clk.Now()

	msg := testMsg(decoder.ProtocolDiameter, ts)
	msg.IMSI = "001010000000001"
	msg.Direction = decoder.DirectionRequest

	s := e.Observe(msg)
	require.NotNil(t, s)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, ts, s.StartTime)
	assert.Equal(t, ts, s.LastActivity)
	assert.Len(t, s.Messages, 1)
	assert.Regexp(t, `^SESS_[0-9a-f]{8}_\d+$`, s.ID)

	id, ok := e.Lookup(IdentifierIMSI, "001010000000001")
	require.True(t, ok)
	assert.Equal(t, s.ID, id)
	assert.Equal(t, 1, e.ActiveSessions())
	assert.Equal(t, 1.0, s.Identifiers[Key{IdentifierIMSI, "001010000000001"}].Confidence)
}

func TestObserveJoinsByIdentifier(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	m1 := testMsg(decoder.ProtocolDiameter, t0)
	m1.IMSI = "001010000000001"
	s1 := e.Observe(m1)

	m2 := testMsg(decoder.ProtocolDiameter, t0.Add(time.Second))
	m2.IMSI = "001010000000001"
	s2 := e.Observe(m2)

	assert.Equal(t, s1.ID, s2.ID)
	require.Len(t, s2.Messages, 2)
	// Per-session order follows arrival; timestamps never decrease.
	assert.False(t, s2.Messages[1].Timestamp.Before(s2.Messages[0].Timestamp))
	assert.Equal(t, t0.Add(time.Second), s2.LastActivity)
	assert.Equal(t, 1, e.ActiveSessions())
}

func TestObserveBridgedIdentifierConfidence(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	m1 := testMsg(decoder.ProtocolDiameter, t0)
	m1.IMSI = "001010000000001"
	e.Observe(m1)

	// A GTP message joins via the IMSI learned from Diameter: its TEID is a
	// cross-protocol bridge and gets reduced confidence.
	m2 := testMsg(decoder.ProtocolGTPv2, t0.Add(time.Second))
	m2.IMSI = "001010000000001"
	m2.TEID = 1001
	s := e.Observe(m2)
	assert.Equal(t, 0.95, s.Identifiers[Key{IdentifierTEID, "1001"}].Confidence)

	// A second GTP message matches via the GTP-learned TEID: same protocol,
	// full confidence for the newly learned MSISDN.
	m3 := testMsg(decoder.ProtocolGTPv2, t0.Add(2*time.Second))
	m3.TEID = 1001
	m3.MSISDN = "15551234567"
	s = e.Observe(m3)
	assert.Equal(t, 1.0, s.Identifiers[Key{IdentifierMSISDN, "15551234567"}].Confidence)
}

func TestObserveMergesSessions(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	m1 := testMsg(decoder.ProtocolDiameter, t0)
	m1.IMSI = "001010000000001"
	s1 := e.Observe(m1)

	m2 := testMsg(decoder.ProtocolGTPv2, t0.Add(time.Second))
	m2.TEID = 1001
	s2 := e.Observe(m2)
	require.NotEqual(t, s1.ID, s2.ID)
	require.Equal(t, 2, e.ActiveSessions())

	// A message carrying both identifiers forces the merge; the older
	// session survives.
	m3 := testMsg(decoder.ProtocolGTPv2, t0.Add(2*time.Second))
	m3.IMSI = "001010000000001"
	m3.TEID = 1001
	m3.MessageName = "Modify Bearer Request"
	survivor := e.Observe(m3)

	assert.Equal(t, s1.ID, survivor.ID)
	assert.Equal(t, 1, e.ActiveSessions())
	assert.Equal(t, []string{s2.ID}, survivor.MergedFrom)
	require.Len(t, survivor.Messages, 3)
	for i := 1; i < len(survivor.Messages); i++ {
		assert.False(t, survivor.Messages[i].Timestamp.Before(survivor.Messages[i-1].Timestamp))
	}

	// The index points every identifier at the survivor.
	id, ok := e.Lookup(IdentifierTEID, "1001")
	require.True(t, ok)
	assert.Equal(t, survivor.ID, id)
	id, ok = e.Lookup(IdentifierIMSI, "001010000000001")
	require.True(t, ok)
	assert.Equal(t, survivor.ID, id)

	_, ok = e.Session(s2.ID)
	assert.False(t, ok)
}

func TestMergeInterleavesByTimestamp(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	// Session A at t0 and t0+2s, session B at t0+1s and t0+3s.
	for i, spec := range []struct {
		imsi string
		teid uint32
		dt   time.Duration
	}{
		{"001010000000001", 0, 0},
		{"", 1001, time.Second},
		{"001010000000001", 0, 2 * time.Second},
		{"", 1001, 3 * time.Second},
	} {
		m := testMsg(decoder.ProtocolGTPv2, t0.Add(spec.dt))
		m.IMSI = spec.imsi
		m.TEID = spec.teid
		m.SequenceNum = uint32(i + 1)
		e.Observe(m)
	}

	m := testMsg(decoder.ProtocolGTPv2, t0.Add(4*time.Second))
	m.IMSI = "001010000000001"
	m.TEID = 1001
	s := e.Observe(m)

	require.Len(t, s.Messages, 5)
	for i := 1; i < len(s.Messages); i++ {
		assert.False(t, s.Messages[i].Timestamp.Before(s.Messages[i-1].Timestamp),
			"message %d out of order", i)
	}
}

func TestTerminalMessageCompletesSession(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	var completed []*Session
	e.OnComplete(func(s *Session) { completed = append(completed, s) })

	m1 := testMsg(decoder.ProtocolGTPv2, t0)
	m1.IMSI = "001010000000001"
	m1.MessageName = "Create Session Request"
	m1.Direction = decoder.DirectionRequest
	e.Observe(m1)

	m2 := testMsg(decoder.ProtocolGTPv2, t0.Add(time.Second))
	m2.IMSI = "001010000000001"
	m2.MessageName = "Delete Session Response"
	m2.Direction = decoder.DirectionResponse
	m2.Result = decoder.ResultSuccess
	s := e.Observe(m2)

	assert.Equal(t, StatusCompleted, s.Status)
	require.Len(t, completed, 1)
	assert.Equal(t, s.ID, completed[0].ID)
	assert.Equal(t, 0, e.ActiveSessions())
	_, ok := e.Lookup(IdentifierIMSI, "001010000000001")
	assert.False(t, ok)

	// A completed session is never appended to: the same IMSI starts fresh.
	m3 := testMsg(decoder.ProtocolGTPv2, t0.Add(2*time.Second))
	m3.IMSI = "001010000000001"
	s2 := e.Observe(m3)
	assert.NotEqual(t, s.ID, s2.ID)
	assert.Len(t, s2.Messages, 1)
}

func TestLatencyPairing(t *testing.T) {
	e, bucket, clk := newTestEngine(t)
	t0 := clk.Now()

	req := testMsg(decoder.ProtocolDiameter, t0)
	req.IMSI = "001010000000001"
	req.TransactionID = "e2e-42"
	req.Direction = decoder.DirectionRequest
	req.MessageName = "Update-Location-Request"
	e.Observe(req)

	resp := testMsg(decoder.ProtocolDiameter, t0.Add(200*time.Millisecond))
	resp.IMSI = "001010000000001"
	resp.TransactionID = "e2e-42"
	resp.Direction = decoder.DirectionResponse
	resp.Result = decoder.ResultSuccess
	resp.MessageName = "Update-Location-Answer"
	s := e.Observe(resp)

	assert.Equal(t, 200.0, s.AvgLatencyMs())
	snap := bucket.Snapshot()
	proc, ok := snap.Procedure("Diameter", "Update-Location-Answer")
	require.True(t, ok)
	assert.Equal(t, 1, proc.LatencySamples)
	assert.Equal(t, 200.0, proc.EMALatencyMs)
}

func TestSweeperExpiresIdleSessions(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	var completed []*Session
	e.OnComplete(func(s *Session) { completed = append(completed, s) })

	m := testMsg(decoder.ProtocolGTPv2, t0)
	m.IMSI = "001010000000001"
	e.Observe(m)

	clk.Add(10 * time.Minute)
	e.sweep()

	require.Len(t, completed, 1)
	assert.Equal(t, StatusExpired, completed[0].Status)
	assert.Equal(t, 0, e.ActiveSessions())
	_, ok := e.Lookup(IdentifierIMSI, "001010000000001")
	assert.False(t, ok)
}

func TestSweeperKeepsActiveSessions(t *testing.T) {
	e, _, clk := newTestEngine(t)

	m := testMsg(decoder.ProtocolGTPv2, clk.Now())
	m.IMSI = "001010000000001"
	e.Observe(m)

	clk.Add(time.Minute)
	e.sweep()
	assert.Equal(t, 1, e.ActiveSessions())
}

func TestFlushForceCompletes(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	var completed []*Session
	e.OnComplete(func(s *Session) { completed = append(completed, s) })

	for i, imsi := range []string{"001010000000001", "001010000000002"} {
		m := testMsg(decoder.ProtocolGTPv2, t0.Add(time.Duration(i)*time.Second))
		m.IMSI = imsi
		e.Observe(m)
	}

	assert.Equal(t, 2, e.Flush())
	assert.Len(t, completed, 2)
	assert.Equal(t, 0, e.ActiveSessions())
	for _, s := range completed {
		assert.Equal(t, StatusCompleted, s.Status)
	}
}

func TestSessionAccounting(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	m1 := testMsg(decoder.ProtocolPFCP, t0)
	m1.SEID = 7001
	m1.Details["volume_uplink_bytes"] = uint64(1000)
	m1.Details["volume_downlink_bytes"] = uint64(5000)
	m1.Result = decoder.ResultSuccess
	s := e.Observe(m1)
	assert.Equal(t, uint64(1000), s.BytesUplink)
	assert.Equal(t, uint64(5000), s.BytesDownlink)

	m2 := testMsg(decoder.ProtocolPFCP, t0.Add(time.Second))
	m2.SEID = 7001
	m2.Result = decoder.ResultFailure
	m2.CauseCode = 64
	s = e.Observe(m2)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, 0.5, s.SuccessRate())
	assert.Equal(t, decoder.ResultFailure, s.Result())
}

func TestSessionClassification(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	m := testMsg(decoder.ProtocolNAS, t0)
	m.IMSI = "001010000000001"
	m.MessageName = "Attach Request"
	s := e.Observe(m)
	assert.Equal(t, TypeRegistration, s.Type)

	// The first specific classification sticks.
	m2 := testMsg(decoder.ProtocolGTPv2, t0.Add(time.Second))
	m2.IMSI = "001010000000001"
	m2.MessageName = "Create Session Request"
	s = e.Observe(m2)
	assert.Equal(t, TypeRegistration, s.Type)
}

func TestLocationHistory(t *testing.T) {
	e, _, clk := newTestEngine(t)
	t0 := clk.Now()

	m := testMsg(decoder.ProtocolS1AP, t0)
	m.IMSI = "001010000000001"
	m.PLMN = "00101"
	m.CellID = "1234567"
	s := e.Observe(m)

	require.Len(t, s.LocationHistory, 1)
	assert.Equal(t, "001", s.LocationHistory[0].MCC)
	assert.Equal(t, "01", s.LocationHistory[0].MNC)
	assert.Equal(t, "1234567", s.LocationHistory[0].CellID)
}
