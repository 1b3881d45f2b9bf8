// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package correlation groups decoded messages into end-to-end subscriber
// sessions. The store is sharded by murmur3 over identifier values and
// session ids; Observe locks every shard an operation touches in ascending
// order, growing the lock set and retrying when a looked-up session drags in
// identifiers from shards not yet held.
package correlation

import (
	"expvar"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/twmb/murmur3"
	"go.uber.org/atomic"

	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/status/health"
	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
)

var (
	correlationExpvars = expvar.NewMap("correlation")
	expCreated         = expvar.Int{}
	expCompleted       = expvar.Int{}
	expExpired         = expvar.Int{}
	expMerged          = expvar.Int{}

	tlmActiveSessions = telemetry.NewGauge("correlation", "active_sessions",
		"Sessions currently active.")
	tlmSessionsClosed = telemetry.NewCounter("correlation", "sessions_closed_total",
		"Sessions closed, by outcome.", "outcome")
)

func init() {
	correlationExpvars.Set("SessionsCreated", &expCreated)
	correlationExpvars.Set("SessionsCompleted", &expCompleted)
	correlationExpvars.Set("SessionsExpired", &expExpired)
	correlationExpvars.Set("SessionsMerged", &expMerged)
}

// shard holds a slice of the identifier index and the session store. A
// session lives in the shard of its id; its identifier entries live in the
// shards of their values.
type shard struct {
	mu       sync.Mutex
	index    map[Key]string
	sessions map[string]*Session
}

// Engine is the correlation engine. One per process.
type Engine struct {
	shards  []*shard
	nshards uint32

	timeout       time.Duration
	sweepInterval time.Duration

	seq         atomic.Uint64
	clock       clock.Clock
	bucket      *stats.Bucket
	subscribers *SubscriberTracker

	onComplete []func(*Session)
	onLatency  []func(*decoder.Message, time.Duration)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine builds an engine from the active config snapshot. Completion
// hooks must be registered before Start.
func NewEngine(snap *config.Snapshot, bucket *stats.Bucket, clk clock.Clock) *Engine {
	n := snap.CorrelationShards
	e := &Engine{
		shards:        make([]*shard, n),
		nshards:       uint32(n),
		timeout:       snap.SessionTimeout,
		sweepInterval: snap.SweepInterval,
		clock:         clk,
		bucket:        bucket,
		subscribers:   NewSubscriberTracker(clk),
		stopCh:        make(chan struct{}),
	}
	for i := range e.shards {
		e.shards[i] = &shard{
			index:    make(map[Key]string),
			sessions: make(map[string]*Session),
		}
	}
	return e
}

// OnComplete registers a hook run for every completed or expired session,
// outside all shard locks. Hooks run in registration order.
func (e *Engine) OnComplete(fn func(*Session)) {
	e.onComplete = append(e.onComplete, fn)
}

// OnLatency registers a hook run whenever a response is paired with its
// request, outside all shard locks.
func (e *Engine) OnLatency(fn func(*decoder.Message, time.Duration)) {
	e.onLatency = append(e.onLatency, fn)
}

// Subscribers exposes the per-IMSI profile tracker.
func (e *Engine) Subscribers() *SubscriberTracker {
	return e.subscribers
}

// Start launches the expiry sweeper.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runSweeper()
	log.Infof("Correlation engine started: %d shards, timeout %s, sweep every %s",
		e.nshards, e.timeout, e.sweepInterval)
}

// Stop halts the sweeper and force-completes every remaining session so the
// writers can flush them.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	flushed := e.Flush()
	log.Infof("Correlation engine stopped, %d sessions flushed", flushed)
}

func (e *Engine) shardOfKey(k Key) int {
	return int(murmur3.StringSum32(string(k.Type)+"|"+k.Value) % e.nshards)
}

func (e *Engine) shardOfSession(id string) int {
	return int(murmur3.StringSum32(id) % e.nshards)
}

func (e *Engine) nextSessionID() (string, uint64) {
	seq := e.seq.Inc()
	u := uuid.New()
	return fmt.Sprintf("SESS_%x_%d", u[0:4], seq), seq
}

// lockOrdered locks the given shard indexes in ascending order.
func (e *Engine) lockOrdered(order []int) {
	for _, i := range order {
		e.shards[i].mu.Lock()
	}
}

func (e *Engine) unlockOrdered(order []int) {
	for i := len(order) - 1; i >= 0; i-- {
		e.shards[order[i]].mu.Unlock()
	}
}

func sortedShards(set map[int]struct{}) []int {
	order := make([]int, 0, len(set))
	for i := range set {
		order = append(order, i)
	}
	sort.Ints(order)
	return order
}

// addNeed returns true when the shard was not yet in the set.
func addNeed(set map[int]struct{}, i int) bool {
	if _, ok := set[i]; ok {
		return false
	}
	set[i] = struct{}{}
	return true
}

// Observe folds one decoded message into the session store: create when no
// identifier is known, join when exactly one session matches, merge when
// several do. It never drops a message and returns the owning session (which
// may already be completed when the message was terminal).
func (e *Engine) Observe(msg *decoder.Message) *Session {
	keys := extractKeys(msg)
	// The candidate id is generated up front so its shard can be part of the
	// initial lock set; it is only used when no session matches.
	candidateID, candidateSeq := e.nextSessionID()

	need := make(map[int]struct{})
	addNeed(need, e.shardOfSession(candidateID))
	for _, k := range keys {
		addNeed(need, e.shardOfKey(k))
	}

	var session *Session
	var flushed []*Session
	var latency time.Duration
	paired := false
	for {
		order := sortedShards(need)
		e.lockOrdered(order)

		hit := make(map[string]struct{})
		for _, k := range keys {
			if sid, ok := e.shards[e.shardOfKey(k)].index[k]; ok {
				hit[sid] = struct{}{}
			}
		}
		grown := false
		for sid := range hit {
			if addNeed(need, e.shardOfSession(sid)) {
				grown = true
			}
		}
		if !grown {
			sessions := make([]*Session, 0, len(hit))
			for sid := range hit {
				if s := e.shards[e.shardOfSession(sid)].sessions[sid]; s != nil {
					sessions = append(sessions, s)
				}
			}
			// Completion and merging reindex every identifier the involved
			// sessions own, so their shards must be held too.
			for _, s := range sessions {
				for k := range s.Identifiers {
					if addNeed(need, e.shardOfKey(k)) {
						grown = true
					}
				}
			}
			if !grown {
				session, flushed, latency, paired = e.applyLocked(msg, keys, sessions, candidateID, candidateSeq)
				e.unlockOrdered(order)
				break
			}
		}
		// The lock set grew; release and retry with the larger set.
		e.unlockOrdered(order)
	}

	e.subscribers.Observe(msg)
	if paired {
		for _, fn := range e.onLatency {
			fn(msg, latency)
		}
	}
	for _, s := range flushed {
		e.finish(s)
	}
	return session
}

// applyLocked performs the create/join/merge transition and the terminal
// check. Every shard touched is already locked.
func (e *Engine) applyLocked(msg *decoder.Message, keys []Key, sessions []*Session, candidateID string, candidateSeq uint64) (*Session, []*Session, time.Duration, bool) {
	var s *Session
	created := false
	switch len(sessions) {
	case 0:
		s = newSession(candidateID, candidateSeq, msg.Timestamp)
		e.shards[e.shardOfSession(s.ID)].sessions[s.ID] = s
		created = true
		expCreated.Add(1)
		tlmActiveSessions.WithLabelValues().Inc()
	case 1:
		s = sessions[0]
	default:
		s = e.mergeLocked(sessions)
	}

	latency, paired := e.appendLocked(s, msg, keys, created)

	if e.isTerminal(s, msg) {
		e.closeLocked(s, StatusCompleted)
		return s, []*Session{s}, latency, paired
	}
	return s, nil, latency, paired
}

// appendLocked adds the message to the session and updates identifiers,
// classification, locations and derived counters.
func (e *Engine) appendLocked(s *Session, msg *decoder.Message, keys []Key, created bool) (time.Duration, bool) {
	s.Messages = append(s.Messages, msg)
	if msg.Timestamp.After(s.LastActivity) {
		s.LastActivity = msg.Timestamp
	}
	if msg.Timestamp.Before(s.StartTime) {
		s.StartTime = msg.Timestamp
	}

	// An identifier learned by the message that matched via a key of the
	// same protocol is certain; one bridged in from another protocol is
	// slightly less so.
	sameProtocolMatch := created
	for _, k := range keys {
		if id, ok := s.Identifiers[k]; ok {
			id.LastSeen = msg.Timestamp
			if id.Protocol == string(msg.Protocol) {
				sameProtocolMatch = true
			}
		}
	}
	confidence := 0.95
	if sameProtocolMatch {
		confidence = 1.0
	}
	for _, k := range keys {
		if _, ok := s.Identifiers[k]; ok {
			continue
		}
		s.Identifiers[k] = &Identifier{
			Type:       k.Type,
			Value:      k.Value,
			Protocol:   string(msg.Protocol),
			FirstSeen:  msg.Timestamp,
			LastSeen:   msg.Timestamp,
			Confidence: confidence,
		}
		e.shards[e.shardOfKey(k)].index[k] = s.ID
	}

	if s.Type == TypeUnknown {
		s.Type = classify(msg)
	}
	if loc, ok := extractLocation(msg); ok {
		s.LocationHistory = append(s.LocationHistory, loc)
	}
	if s.Vendor == "" && msg.Vendor != "" {
		s.Vendor = msg.Vendor
	}

	e.accountLocked(s, msg)
	latency, paired := e.pairLatencyLocked(s, msg)

	if msg.Protocol == decoder.ProtocolHTTP2 && msg.Direction == decoder.DirectionRequest {
		if path, ok := msg.Details["path"].(string); ok &&
			(strings.Contains(path, "/release") || msg.Details["method"] == "DELETE") {
			s.pendingRelease = true
		}
	}
	return latency, paired
}

// accountLocked updates result counters and byte usage.
func (e *Engine) accountLocked(s *Session, msg *decoder.Message) {
	switch msg.Result {
	case decoder.ResultSuccess:
		s.resultCount++
		s.successCount++
	case decoder.ResultFailure, decoder.ResultTimeout:
		s.resultCount++
		s.ErrorCount++
	}

	if up, ok := msg.Details["volume_uplink_bytes"].(uint64); ok {
		s.BytesUplink += up
	}
	if down, ok := msg.Details["volume_downlink_bytes"].(uint64); ok {
		s.BytesDownlink += down
	}
	// Control-plane byte accounting for the tunnel protocols.
	if msg.Protocol == decoder.ProtocolGTPv1 || msg.Protocol == decoder.ProtocolGTPv2 {
		if msg.Direction == decoder.DirectionRequest {
			s.BytesUplink += uint64(msg.PayloadSize)
		} else {
			s.BytesDownlink += uint64(msg.PayloadSize)
		}
	}
}

// pairLatencyLocked matches responses to the open request of the same
// transaction and records the latency. It reports the paired latency so
// Observe can run the latency hooks after the locks drop.
func (e *Engine) pairLatencyLocked(s *Session, msg *decoder.Message) (time.Duration, bool) {
	key := ""
	if msg.TransactionID != "" {
		key = string(msg.Protocol) + ":" + msg.TransactionID
	} else if msg.SequenceNum != 0 {
		key = fmt.Sprintf("%s:seq:%d", msg.Protocol, msg.SequenceNum)
	}
	if key == "" {
		return 0, false
	}
	switch msg.Direction {
	case decoder.DirectionRequest:
		if _, open := s.pending[key]; !open {
			s.pending[key] = msg.Timestamp
		}
	case decoder.DirectionResponse:
		t0, open := s.pending[key]
		if !open {
			return 0, false
		}
		delete(s.pending, key)
		latency := msg.Timestamp.Sub(t0)
		if latency < 0 {
			return 0, false
		}
		s.latencyTotalMs += float64(latency.Milliseconds())
		s.latencyCount++
		e.bucket.RecordLatency(string(msg.Protocol), msg.MessageName, latency)
		return latency, true
	}
	return 0, false
}

// mergeLocked folds all sessions into the one with the smallest sequence
// number and returns the survivor. Losers end completed and empty; their
// messages, identifiers and counters move to the survivor.
func (e *Engine) mergeLocked(sessions []*Session) *Session {
	survivor := sessions[0]
	for _, s := range sessions[1:] {
		if s.seq < survivor.seq {
			survivor = s
		}
	}
	for _, loser := range sessions {
		if loser == survivor {
			continue
		}
		survivor.Messages = mergeByTimestamp(survivor.Messages, loser.Messages)
		for k, id := range loser.Identifiers {
			if existing, ok := survivor.Identifiers[k]; ok {
				if id.FirstSeen.Before(existing.FirstSeen) {
					existing.FirstSeen = id.FirstSeen
				}
				if id.LastSeen.After(existing.LastSeen) {
					existing.LastSeen = id.LastSeen
				}
				if id.Confidence > existing.Confidence {
					existing.Confidence = id.Confidence
				}
			} else {
				survivor.Identifiers[k] = id
			}
			e.shards[e.shardOfKey(k)].index[k] = survivor.ID
		}
		survivor.LocationHistory = mergeLocations(survivor.LocationHistory, loser.LocationHistory)
		for k, ts := range loser.pending {
			if _, ok := survivor.pending[k]; !ok {
				survivor.pending[k] = ts
			}
		}
		if loser.StartTime.Before(survivor.StartTime) {
			survivor.StartTime = loser.StartTime
		}
		if loser.LastActivity.After(survivor.LastActivity) {
			survivor.LastActivity = loser.LastActivity
		}
		if survivor.Type == TypeUnknown {
			survivor.Type = loser.Type
		}
		if survivor.Vendor == "" {
			survivor.Vendor = loser.Vendor
		}
		survivor.BytesUplink += loser.BytesUplink
		survivor.BytesDownlink += loser.BytesDownlink
		survivor.ErrorCount += loser.ErrorCount
		survivor.successCount += loser.successCount
		survivor.resultCount += loser.resultCount
		survivor.latencyTotalMs += loser.latencyTotalMs
		survivor.latencyCount += loser.latencyCount
		survivor.pendingRelease = survivor.pendingRelease || loser.pendingRelease

		loser.Status = StatusCompleted
		loser.Messages = nil
		loser.Identifiers = make(map[Key]*Identifier)
		survivor.MergedFrom = append(survivor.MergedFrom, loser.ID)
		delete(e.shards[e.shardOfSession(loser.ID)].sessions, loser.ID)

		expMerged.Add(1)
		tlmActiveSessions.WithLabelValues().Dec()
		tlmSessionsClosed.WithLabelValues("merged").Inc()
		log.Debugf("correlation: merged session %s into %s", loser.ID, survivor.ID)
	}
	return survivor
}

// mergeByTimestamp interleaves two timestamp-ordered message lists.
func mergeByTimestamp(a, b []*decoder.Message) []*decoder.Message {
	out := make([]*decoder.Message, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if !b[j].Timestamp.Before(a[i].Timestamp) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func mergeLocations(a, b []LocationUpdate) []LocationUpdate {
	out := make([]LocationUpdate, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if !b[j].Timestamp.Before(a[i].Timestamp) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// isTerminal reports whether the message closes the session's procedure.
func (e *Engine) isTerminal(s *Session, msg *decoder.Message) bool {
	switch msg.Protocol {
	case decoder.ProtocolMAP, decoder.ProtocolCAP, decoder.ProtocolINAP:
		return msg.MessageType == "TCAP_End" || msg.MessageType == "TCAP_Abort"
	case decoder.ProtocolDiameter:
		if !msg.IsResponse() {
			return false
		}
		switch msg.MessageName {
		case "Session-Termination-Answer", "Purge-UE-Answer", "Cancel-Location-Answer":
			return true
		}
	case decoder.ProtocolGTPv1:
		return msg.MessageName == "Delete PDP Context Response"
	case decoder.ProtocolGTPv2:
		return msg.MessageName == "Delete Session Response"
	case decoder.ProtocolPFCP:
		return msg.MessageName == "Session Deletion Response"
	case decoder.ProtocolNAS:
		return msg.MessageName == "Detach Accept" || msg.MessageName == "Deregistration Accept"
	case decoder.ProtocolS1AP:
		return msg.MessageType == "S1AP_SuccessfulOutcome" && msg.MessageName == "UEContextRelease"
	case decoder.ProtocolNGAP:
		return msg.MessageType == "NGAP_SuccessfulOutcome" && msg.MessageName == "UEContextRelease"
	case decoder.ProtocolHTTP2:
		return s.pendingRelease && msg.IsResponse() && msg.Result == decoder.ResultSuccess
	}
	return false
}

// closeLocked transitions the session to a terminal status and drops it from
// the store and the index. Every shard holding one of its identifiers is
// already locked.
func (e *Engine) closeLocked(s *Session, status Status) {
	s.Status = status
	for k := range s.Identifiers {
		sh := e.shards[e.shardOfKey(k)]
		if sh.index[k] == s.ID {
			delete(sh.index, k)
		}
	}
	delete(e.shards[e.shardOfSession(s.ID)].sessions, s.ID)
	tlmActiveSessions.WithLabelValues().Dec()
	switch status {
	case StatusCompleted:
		expCompleted.Add(1)
		tlmSessionsClosed.WithLabelValues("completed").Inc()
	case StatusExpired:
		expExpired.Add(1)
		tlmSessionsClosed.WithLabelValues("expired").Inc()
	}
}

// finish runs the completion hooks; the session is detached by now.
func (e *Engine) finish(s *Session) {
	for _, fn := range e.onComplete {
		fn(s)
	}
}

// ActiveSessions counts sessions currently in the store.
func (e *Engine) ActiveSessions() int {
	total := 0
	for _, sh := range e.shards {
		sh.mu.Lock()
		total += len(sh.sessions)
		sh.mu.Unlock()
	}
	return total
}

// Session looks up an active session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	sh := e.shards[e.shardOfSession(id)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Lookup resolves an identifier to its active session id.
func (e *Engine) Lookup(t IdentifierType, value string) (string, bool) {
	k := Key{Type: t, Value: value}
	sh := e.shards[e.shardOfKey(k)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	id, ok := sh.index[k]
	return id, ok
}

func (e *Engine) runSweeper() {
	defer e.wg.Done()
	healthToken := health.RegisterWithCustomTimeout("correlation-sweeper", 2*e.sweepInterval)
	defer health.Deregister(healthToken) //nolint:errcheck
	ticker := e.clock.Ticker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			health.Ping(healthToken) //nolint:errcheck
			e.sweep()
		case <-e.stopCh:
			return
		}
	}
}

// sweep collects idle sessions shard by shard, then expires each one with
// only the shards it touches locked.
func (e *Engine) sweep() {
	cutoff := e.clock.Now().Add(-e.timeout)
	var candidates []string
	for _, sh := range e.shards {
		sh.mu.Lock()
		for id, s := range sh.sessions {
			if s.LastActivity.Before(cutoff) {
				candidates = append(candidates, id)
			}
		}
		sh.mu.Unlock()
	}
	expired := 0
	for _, id := range candidates {
		if s := e.closeByID(id, StatusExpired, cutoff); s != nil {
			e.finish(s)
			expired++
		}
	}
	if expired > 0 {
		log.Infof("correlation: expired %d idle sessions", expired)
	}
}

// closeByID closes a session under the ordered-lock discipline. A zero
// cutoff closes unconditionally (shutdown flush); otherwise sessions touched
// since the cutoff are left alone.
func (e *Engine) closeByID(id string, status Status, cutoff time.Time) *Session {
	need := map[int]struct{}{e.shardOfSession(id): {}}
	for {
		order := sortedShards(need)
		e.lockOrdered(order)
		s := e.shards[e.shardOfSession(id)].sessions[id]
		if s == nil || (!cutoff.IsZero() && !s.LastActivity.Before(cutoff)) {
			e.unlockOrdered(order)
			return nil
		}
		grown := false
		for k := range s.Identifiers {
			if addNeed(need, e.shardOfKey(k)) {
				grown = true
			}
		}
		if !grown {
			e.closeLocked(s, status)
			e.unlockOrdered(order)
			return s
		}
		e.unlockOrdered(order)
	}
}

// Flush force-completes every session in the store and runs the completion
// hooks. Used at shutdown so nothing decoded is lost.
func (e *Engine) Flush() int {
	var ids []string
	for _, sh := range e.shards {
		sh.mu.Lock()
		for id := range sh.sessions {
			ids = append(ids, id)
		}
		sh.mu.Unlock()
	}
	flushed := 0
	for _, id := range ids {
		if s := e.closeByID(id, StatusCompleted, time.Time{}); s != nil {
			e.finish(s)
			flushed++
		}
	}
	return flushed
}
