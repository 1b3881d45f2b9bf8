// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/output"
	"github.com/DataDog/sigmon/pkg/source"
	"github.com/DataDog/sigmon/pkg/stats"
)

// lineDecoder parses "GTP|<imsi>|<name>|<result>" test payloads. It stands in
// for the wire decoders so the dispatcher mechanics are tested in isolation.
type lineDecoder struct{}

func (lineDecoder) Protocol() decoder.Protocol { return decoder.ProtocolGTPv2 }

func (lineDecoder) CanDecode(payload []byte) bool {
	return strings.HasPrefix(string(payload), "GTP|")
}

func (lineDecoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	parts := strings.Split(string(payload), "|")
	if len(parts) != 4 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "want 4 fields, got %d", len(parts))
	}
	msg := decoder.NewMessage(decoder.ProtocolGTPv2, payload, meta)
	msg.IMSI = parts[1]
	msg.MessageName = parts[2]
	msg.Result = decoder.Result(parts[3])
	return msg, nil
}

func pipelineSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Workers:           2,
		InputBufferSize:   64,
		WriterBufferSize:  64,
		SessionTimeout:    5 * time.Minute,
		SweepInterval:     30 * time.Second,
		CorrelationShards: 16,
	}
}

func packet(payload string) *source.Packet {
	return &source.Packet{
		Payload:     []byte(payload),
		SrcIP:       "10.0.0.1",
		DstIP:       "10.0.0.2",
		SrcPort:     2123,
		DstPort:     2123,
		Transport:   source.TransportUDP,
		CaptureTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherDecodesAndFansOut(t *testing.T) {
	snap := pipelineSnapshot()
	registry := decoder.NewRegistry()
	registry.Register(lineDecoder{})

	bucket := stats.New()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine := correlation.NewEngine(snap, bucket, clk)

	fs := afero.NewMemMapFs()
	events := output.NewEventWriter(fs, "events", 30, 64, bucket, clk)
	require.NoError(t, events.Start())

	src := source.NewChannelSource(snap.InputBufferSize)
	d := NewDispatcher(snap, registry, src, bucket, engine, nil, events)
	d.Start()

	src.Send(packet("GTP|001010000000001|Create Session Request|success"))
	src.Send(packet("GTP|001010000000001|Create Session Response|success"))
	src.Stop()
	d.Stop()
	events.Stop()

	assert.Equal(t, 1, engine.ActiveSessions())
	snapStats := bucket.Snapshot()
	assert.Equal(t, uint64(2), snapStats.TotalMessages)

	data, err := afero.ReadFile(fs, "events/events_2025-06-01.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestDispatcherCountsUnclaimedAndBroken(t *testing.T) {
	snap := pipelineSnapshot()
	registry := decoder.NewRegistry()
	registry.Register(lineDecoder{})

	bucket := stats.New()
	engine := correlation.NewEngine(snap, bucket, clock.NewMock())

	src := source.NewChannelSource(snap.InputBufferSize)
	d := NewDispatcher(snap, registry, src, bucket, engine, nil, nil)
	d.Start()

	src.Send(packet("not claimed by anything"))
	src.Send(packet("GTP|broken"))
	src.Stop()
	d.Stop()

	snapStats := bucket.Snapshot()
	assert.Equal(t, uint64(1), snapStats.Unclaimed)
	assert.Equal(t, uint64(1), snapStats.DecodeErrors)
	assert.Zero(t, snapStats.TotalMessages)
	assert.Zero(t, engine.ActiveSessions())
}

func TestDispatcherPreservesPerSourceOrder(t *testing.T) {
	snap := pipelineSnapshot()
	snap.Workers = 4
	registry := decoder.NewRegistry()
	registry.Register(lineDecoder{})

	bucket := stats.New()
	engine := correlation.NewEngine(snap, bucket, clock.NewMock())

	src := source.NewChannelSource(snap.InputBufferSize)
	d := NewDispatcher(snap, registry, src, bucket, engine, nil, nil)
	d.Start()

	// All packets share one source IP, so one worker handles them in order
	// and the session sees non-decreasing timestamps.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		p := packet("GTP|001010000000002|Create Session Request|success")
		p.CaptureTime = base.Add(time.Duration(i) * time.Millisecond)
		src.Send(p)
	}
	src.Stop()
	d.Stop()

	id, ok := engine.Lookup(correlation.IdentifierIMSI, "001010000000002")
	require.True(t, ok)
	s, ok := engine.Session(id)
	require.True(t, ok)
	require.Len(t, s.Messages, 50)
	for i := 1; i < len(s.Messages); i++ {
		assert.False(t, s.Messages[i].Timestamp.Before(s.Messages[i-1].Timestamp))
	}
}
