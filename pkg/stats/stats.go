// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package stats keeps the rolling pipeline counters: totals, per-protocol
// success windows, per-procedure latency baselines and a bounded ring of
// recent error occurrences. Writers are the dispatcher and the correlation
// engine; readers (analysis rules, the status API) work on snapshots and
// never mutate.
package stats

import (
	"expvar"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/telemetry"
)

const (
	// successWindowSize is the per-protocol outcome window the error-rate
	// rule reads.
	successWindowSize = 1000
	// recentErrorsSize bounds the error occurrence ring.
	recentErrorsSize = 1000
	// emaAlpha is the exponential-moving-average weight for procedure
	// latencies.
	emaAlpha = 0.1
)

var (
	statsExpvars    = expvar.NewMap("stats")
	expMessages     = expvar.Int{}
	expErrors       = expvar.Int{}
	expTimeouts     = expvar.Int{}
	expDecodeErrors = expvar.Int{}
	expUnclaimed    = expvar.Int{}
	expDropped      = expvar.Int{}

	tlmMessages = telemetry.NewCounter("stats", "messages_total",
		"Decoded messages observed, by protocol and result.", "protocol", "result")
	tlmTimeouts = telemetry.NewCounter("stats", "timeouts_total",
		"Messages classified as timeouts, by protocol.", "protocol")
	tlmDropped = telemetry.NewCounter("stats", "dropped_total",
		"Pipeline drops, by cause.", "cause")
)

func init() {
	statsExpvars.Set("Messages", &expMessages)
	statsExpvars.Set("Errors", &expErrors)
	statsExpvars.Set("Timeouts", &expTimeouts)
	statsExpvars.Set("DecodeErrors", &expDecodeErrors)
	statsExpvars.Set("UnclaimedPayloads", &expUnclaimed)
	statsExpvars.Set("Dropped", &expDropped)
}

// ErrorRecord is one failure occurrence kept in the recent-errors ring.
type ErrorRecord struct {
	Timestamp   time.Time
	Protocol    string
	MessageName string
	Code        int
	IMSI        string
	Timeout     bool
}

// protocolWindow tracks outcomes of the last successWindowSize messages of
// one protocol.
type protocolWindow struct {
	outcomes [successWindowSize]bool // true = failure
	idx      int
	filled   int
	failures int
	total    uint64
	errors   uint64
}

func (w *protocolWindow) push(failure bool) {
	if w.filled == successWindowSize {
		if w.outcomes[w.idx] {
			w.failures--
		}
	} else {
		w.filled++
	}
	w.outcomes[w.idx] = failure
	if failure {
		w.failures++
	}
	w.idx = (w.idx + 1) % successWindowSize
}

// procedureStats tracks one (protocol, message name) pair.
type procedureStats struct {
	total          uint64
	failures       uint64
	emaLatencyMs   float64
	latencySamples int
}

// Bucket is the mutable statistics store.
type Bucket struct {
	totalMessages atomic.Uint64
	timeouts      atomic.Uint64
	decodeErrors  atomic.Uint64
	unclaimed     atomic.Uint64

	mu         sync.RWMutex
	protocols  map[string]*protocolWindow
	codes      map[CodeKey]uint64
	procedures map[string]*procedureStats
	recent     [recentErrorsSize]ErrorRecord
	recentIdx  int
	recentLen  int
}

// CodeKey identifies a (protocol, cause code) counter.
type CodeKey struct {
	Protocol string
	Code     int
}

// New returns an empty bucket.
func New() *Bucket {
	return &Bucket{
		protocols:  make(map[string]*protocolWindow),
		codes:      make(map[CodeKey]uint64),
		procedures: make(map[string]*procedureStats),
	}
}

func procedureKey(protocol, name string) string {
	return protocol + "/" + name
}

// RecordMessage folds one decoded message into the counters.
func (b *Bucket) RecordMessage(msg *decoder.Message) {
	b.totalMessages.Inc()
	expMessages.Add(1)
	protocol := string(msg.Protocol)
	failure := msg.Result == decoder.ResultFailure || msg.Result == decoder.ResultTimeout
	tlmMessages.WithLabelValues(protocol, string(msg.Result)).Inc()
	if msg.Result == decoder.ResultTimeout {
		b.timeouts.Inc()
		expTimeouts.Add(1)
		tlmTimeouts.WithLabelValues(protocol).Inc()
	}

	b.mu.Lock()
	w := b.protocols[protocol]
	if w == nil {
		w = &protocolWindow{}
		b.protocols[protocol] = w
	}
	w.total++
	if failure {
		w.errors++
		expErrors.Add(1)
	}
	w.push(failure)

	p := b.procedures[procedureKey(protocol, msg.MessageName)]
	if p == nil {
		p = &procedureStats{}
		b.procedures[procedureKey(protocol, msg.MessageName)] = p
	}
	p.total++
	if failure {
		p.failures++
	}

	if failure {
		if msg.CauseCode != 0 {
			b.codes[CodeKey{protocol, msg.CauseCode}]++
		}
		b.pushErrorLocked(ErrorRecord{
			Timestamp:   msg.Timestamp,
			Protocol:    protocol,
			MessageName: msg.MessageName,
			Code:        msg.CauseCode,
			IMSI:        msg.IMSI,
			Timeout:     msg.Result == decoder.ResultTimeout,
		})
	}
	b.mu.Unlock()
}

// RecordLatency folds one request/response latency into the procedure's
// moving average. The correlation engine calls it when it pairs a response.
func (b *Bucket) RecordLatency(protocol, messageName string, latency time.Duration) {
	ms := float64(latency.Milliseconds())
	b.mu.Lock()
	p := b.procedures[procedureKey(protocol, messageName)]
	if p == nil {
		p = &procedureStats{}
		b.procedures[procedureKey(protocol, messageName)] = p
	}
	if p.latencySamples == 0 {
		p.emaLatencyMs = ms
	} else {
		p.emaLatencyMs = emaAlpha*ms + (1-emaAlpha)*p.emaLatencyMs
	}
	p.latencySamples++
	b.mu.Unlock()
}

// RecordDecodeError counts a payload a decoder claimed but failed to parse.
func (b *Bucket) RecordDecodeError() {
	b.decodeErrors.Inc()
	expDecodeErrors.Add(1)
}

// RecordUnclaimed counts a payload no decoder claimed.
func (b *Bucket) RecordUnclaimed() {
	b.unclaimed.Inc()
	expUnclaimed.Add(1)
}

// RecordDrop counts a deliberate drop (writer overflow, persistence
// overflow).
func (b *Bucket) RecordDrop(cause string) {
	expDropped.Add(1)
	tlmDropped.WithLabelValues(cause).Inc()
}

func (b *Bucket) pushErrorLocked(r ErrorRecord) {
	b.recent[b.recentIdx] = r
	b.recentIdx = (b.recentIdx + 1) % recentErrorsSize
	if b.recentLen < recentErrorsSize {
		b.recentLen++
	}
}

// WindowStats is the per-protocol view in a snapshot.
type WindowStats struct {
	Total       uint64
	Errors      uint64
	WindowSize  int
	WindowFails int
}

// SuccessRate is the success fraction over the window, 1.0 when empty.
func (w WindowStats) SuccessRate() float64 {
	if w.WindowSize == 0 {
		return 1.0
	}
	return 1.0 - float64(w.WindowFails)/float64(w.WindowSize)
}

// ProcedureStats is the per-procedure view in a snapshot.
type ProcedureStats struct {
	Total          uint64
	Failures       uint64
	EMALatencyMs   float64
	LatencySamples int
}

// SuccessRate is the all-time success fraction for the procedure.
func (p ProcedureStats) SuccessRate() float64 {
	if p.Total == 0 {
		return 1.0
	}
	return 1.0 - float64(p.Failures)/float64(p.Total)
}

// Snapshot is an immutable copy handed to readers.
type Snapshot struct {
	TotalMessages uint64
	Timeouts      uint64
	DecodeErrors  uint64
	Unclaimed     uint64
	Protocols     map[string]WindowStats
	Codes         map[CodeKey]uint64
	Procedures    map[string]ProcedureStats
	RecentErrors  []ErrorRecord // oldest first
}

// Procedure looks up the snapshot stats for a (protocol, message name) pair.
func (s *Snapshot) Procedure(protocol, messageName string) (ProcedureStats, bool) {
	p, ok := s.Procedures[procedureKey(protocol, messageName)]
	return p, ok
}

// Snapshot copies the current counters.
func (b *Bucket) Snapshot() *Snapshot {
	s := &Snapshot{
		TotalMessages: b.totalMessages.Load(),
		Timeouts:      b.timeouts.Load(),
		DecodeErrors:  b.decodeErrors.Load(),
		Unclaimed:     b.unclaimed.Load(),
		Protocols:     make(map[string]WindowStats),
		Codes:         make(map[CodeKey]uint64),
		Procedures:    make(map[string]ProcedureStats),
	}
	b.mu.RLock()
	for name, w := range b.protocols {
		s.Protocols[name] = WindowStats{
			Total:       w.total,
			Errors:      w.errors,
			WindowSize:  w.filled,
			WindowFails: w.failures,
		}
	}
	for k, v := range b.codes {
		s.Codes[k] = v
	}
	for k, p := range b.procedures {
		s.Procedures[k] = ProcedureStats{
			Total:          p.total,
			Failures:       p.failures,
			EMALatencyMs:   p.emaLatencyMs,
			LatencySamples: p.latencySamples,
		}
	}
	s.RecentErrors = make([]ErrorRecord, 0, b.recentLen)
	start := b.recentIdx - b.recentLen
	if start < 0 {
		start += recentErrorsSize
	}
	for i := 0; i < b.recentLen; i++ {
		s.RecentErrors = append(s.RecentErrors, b.recent[(start+i)%recentErrorsSize])
	}
	b.mu.RUnlock()
	return s
}
