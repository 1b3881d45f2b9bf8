// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pipeline moves packets from the source through decoding and fans
// the decoded messages out to correlation, analysis and the event stream.
// Packets from one probe are pinned to one worker so per-source ordering
// survives the parallelism.
package pipeline

import (
	"errors"
	"expvar"
	"sync"

	"github.com/twmb/murmur3"

	"github.com/DataDog/sigmon/pkg/analysis"
	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/output"
	"github.com/DataDog/sigmon/pkg/source"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
)

var (
	pipelineExpvars = expvar.NewMap("pipeline")
	expProcessed    = expvar.Int{}
	expDecodeFailed = expvar.Int{}
	expUnclaimed    = expvar.Int{}

	tlmProcessed = telemetry.NewCounter("pipeline", "packets_total",
		"Packets processed, by outcome.", "outcome")
)

func init() {
	pipelineExpvars.Set("PacketsProcessed", &expProcessed)
	pipelineExpvars.Set("DecodeFailures", &expDecodeFailed)
	pipelineExpvars.Set("UnclaimedPayloads", &expUnclaimed)
}

// Dispatcher owns the worker pool between the source and the consumers.
type Dispatcher struct {
	registry *decoder.Registry
	src      source.Source
	bucket   *stats.Bucket

	correlator *correlation.Engine
	analyzer   *analysis.Engine
	events     *output.EventWriter

	queues []chan *source.Packet
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewDispatcher wires the pipeline from the active config snapshot. Every
// consumer may be nil except the correlation engine.
func NewDispatcher(snap *config.Snapshot, registry *decoder.Registry, src source.Source,
	bucket *stats.Bucket, correlator *correlation.Engine, analyzer *analysis.Engine,
	events *output.EventWriter) *Dispatcher {

	workers := snap.Workers
	perWorker := snap.InputBufferSize / workers
	if perWorker < 1 {
		perWorker = 1
	}
	d := &Dispatcher{
		registry:   registry,
		src:        src,
		bucket:     bucket,
		correlator: correlator,
		analyzer:   analyzer,
		events:     events,
		queues:     make([]chan *source.Packet, workers),
		done:       make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan *source.Packet, perWorker)
	}
	return d
}

// Start launches the workers and the distribution loop.
func (d *Dispatcher) Start() {
	for i := range d.queues {
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
	go d.distribute()
	log.Infof("Dispatcher started with %d workers", len(d.queues))
}

// Stop waits for the source channel to drain and the workers to finish. The
// source must have been stopped first.
func (d *Dispatcher) Stop() {
	<-d.done
	d.wg.Wait()
	log.Info("Dispatcher stopped")
}

// distribute pins each packet to a worker by source address, so the messages
// of one probe are decoded and correlated in arrival order.
func (d *Dispatcher) distribute() {
	defer close(d.done)
	n := uint32(len(d.queues))
	for pkt := range d.src.Packets() {
		d.queues[murmur3.StringSum32(pkt.SrcIP)%n] <- pkt
	}
	for _, q := range d.queues {
		close(q)
	}
}

func (d *Dispatcher) worker(queue <-chan *source.Packet) {
	defer d.wg.Done()
	for pkt := range queue {
		d.process(pkt)
	}
}

func (d *Dispatcher) process(pkt *source.Packet) {
	msg, err := d.registry.Decode(pkt.Payload, pkt.Metadata())
	if err != nil {
		var noDecoder *decoder.NoDecoderError
		if errors.As(err, &noDecoder) {
			expUnclaimed.Add(1)
			tlmProcessed.WithLabelValues("unclaimed").Inc()
			d.bucket.RecordUnclaimed()
			return
		}
		expDecodeFailed.Add(1)
		tlmProcessed.WithLabelValues("decode_error").Inc()
		d.bucket.RecordDecodeError()
		log.Debugf("Decode failed for %d-byte payload from %s: %v", len(pkt.Payload), pkt.SrcIP, err)
		return
	}

	expProcessed.Add(1)
	tlmProcessed.WithLabelValues("ok").Inc()
	d.bucket.RecordMessage(msg)

	// Correlation applies backpressure; it never drops a message.
	d.correlator.Observe(msg)
	if d.analyzer != nil {
		d.analyzer.Analyze(msg)
	}
	if d.events != nil {
		d.events.Enqueue(msg)
	}
}
