// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/decoder"
)

func recordedMsg(protocol decoder.Protocol, name string, result decoder.Result, code int) *decoder.Message {
	msg := decoder.NewMessage(protocol, []byte{0x01}, nil)
	msg.MessageName = name
	msg.Result = result
	msg.CauseCode = code
	return msg
}

func TestRecordMessageCounters(t *testing.T) {
	b := New()
	b.RecordMessage(recordedMsg(decoder.ProtocolGTPv2, "Create Session Request", decoder.ResultSuccess, 0))
	b.RecordMessage(recordedMsg(decoder.ProtocolGTPv2, "Create Session Response", decoder.ResultFailure, 64))
	b.RecordMessage(recordedMsg(decoder.ProtocolDiameter, "Update-Location-Answer", decoder.ResultTimeout, 0))

	s := b.Snapshot()
	assert.Equal(t, uint64(3), s.TotalMessages)
	assert.Equal(t, uint64(1), s.Timeouts)

	gtp := s.Protocols[string(decoder.ProtocolGTPv2)]
	assert.Equal(t, uint64(2), gtp.Total)
	assert.Equal(t, uint64(1), gtp.Errors)
	assert.InDelta(t, 0.5, gtp.SuccessRate(), 1e-9)

	assert.Equal(t, uint64(1), s.Codes[CodeKey{string(decoder.ProtocolGTPv2), 64}])
	_, hasTimeoutCode := s.Codes[CodeKey{string(decoder.ProtocolDiameter), 0}]
	assert.False(t, hasTimeoutCode, "zero cause codes should not be counted")
}

func TestSuccessRateWindowSlides(t *testing.T) {
	b := New()
	// Fill the window with failures, then push it out with successes.
	for i := 0; i < successWindowSize; i++ {
		b.RecordMessage(recordedMsg(decoder.ProtocolMAP, "UpdateLocation", decoder.ResultFailure, 34))
	}
	w := b.Snapshot().Protocols[string(decoder.ProtocolMAP)]
	assert.Zero(t, w.SuccessRate())

	for i := 0; i < successWindowSize; i++ {
		b.RecordMessage(recordedMsg(decoder.ProtocolMAP, "UpdateLocation", decoder.ResultSuccess, 0))
	}
	w = b.Snapshot().Protocols[string(decoder.ProtocolMAP)]
	assert.Equal(t, 1.0, w.SuccessRate())
	assert.Equal(t, uint64(2*successWindowSize), w.Total)
	assert.Equal(t, uint64(successWindowSize), w.Errors)
}

func TestRecordLatencyEMA(t *testing.T) {
	b := New()
	b.RecordLatency("GTPv2", "Create Session Request", 100*time.Millisecond)
	p, ok := b.Snapshot().Procedure("GTPv2", "Create Session Request")
	require.True(t, ok)
	assert.Equal(t, 100.0, p.EMALatencyMs)
	assert.Equal(t, 1, p.LatencySamples)

	b.RecordLatency("GTPv2", "Create Session Request", 200*time.Millisecond)
	p, _ = b.Snapshot().Procedure("GTPv2", "Create Session Request")
	assert.InDelta(t, emaAlpha*200+(1-emaAlpha)*100, p.EMALatencyMs, 1e-9)
	assert.Equal(t, 2, p.LatencySamples)
}

func TestProcedureFailures(t *testing.T) {
	b := New()
	b.RecordMessage(recordedMsg(decoder.ProtocolPFCP, "Session Establishment Response", decoder.ResultSuccess, 0))
	b.RecordMessage(recordedMsg(decoder.ProtocolPFCP, "Session Establishment Response", decoder.ResultFailure, 73))

	p, ok := b.Snapshot().Procedure(string(decoder.ProtocolPFCP), "Session Establishment Response")
	require.True(t, ok)
	assert.Equal(t, uint64(2), p.Total)
	assert.Equal(t, uint64(1), p.Failures)
	assert.InDelta(t, 0.5, p.SuccessRate(), 1e-9)
}

func TestRecentErrorsRingOldestFirst(t *testing.T) {
	b := New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < recentErrorsSize+10; i++ {
		msg := recordedMsg(decoder.ProtocolNAS, "Attach Reject", decoder.ResultFailure, 11)
		msg.Timestamp = base.Add(time.Duration(i) * time.Second)
		b.RecordMessage(msg)
	}

	s := b.Snapshot()
	require.Len(t, s.RecentErrors, recentErrorsSize)
	first := s.RecentErrors[0]
	last := s.RecentErrors[len(s.RecentErrors)-1]
	assert.Equal(t, base.Add(10*time.Second), first.Timestamp, "oldest surviving record first")
	assert.Equal(t, base.Add(time.Duration(recentErrorsSize+9)*time.Second), last.Timestamp)
}

func TestDecodeCounters(t *testing.T) {
	b := New()
	b.RecordDecodeError()
	b.RecordUnclaimed()
	b.RecordUnclaimed()

	s := b.Snapshot()
	assert.Equal(t, uint64(1), s.DecodeErrors)
	assert.Equal(t, uint64(2), s.Unclaimed)
}

func TestEmptyWindowSuccessRate(t *testing.T) {
	assert.Equal(t, 1.0, WindowStats{}.SuccessRate())
	assert.Equal(t, 1.0, ProcedureStats{}.SuccessRate())
}
