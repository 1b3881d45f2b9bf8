// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package analysis runs the detection rules over the decoded message stream
// and turns known failure signatures and abnormal patterns into issues,
// enriched with root causes and recommendations from the knowledge base.
package analysis

import (
	"expvar"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/atomic"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
)

const (
	// dedupWindow is how long a (rule, imsi, code) signature suppresses new
	// issues; repeats inside the window bump the existing one.
	dedupWindow = time.Minute
	// issueRingSize bounds the in-memory issue history.
	issueRingSize = 10000
)

var (
	analysisExpvars = expvar.NewMap("analysis")
	expIssues       = expvar.Int{}
	expDeduped      = expvar.Int{}

	tlmIssues = telemetry.NewCounter("analysis", "issues_total",
		"Issues detected, by rule and severity.", "rule", "severity")
)

func init() {
	analysisExpvars.Set("IssuesDetected", &expIssues)
	analysisExpvars.Set("IssuesDeduplicated", &expDeduped)
}

// Issue is one detected problem. OccurrenceCount grows while the same
// signature keeps firing inside the dedup window.
type Issue struct {
	ID              string    `json:"id"`
	RuleID          string    `json:"rule_id"`
	Severity        string    `json:"severity"` // critical | major | minor | warning
	Category        string    `json:"category"` // protocol_error | timeout | abnormal_pattern | config_issue | performance
	Protocol        string    `json:"protocol"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	RootCause       string    `json:"root_cause"`
	Recommendations []string  `json:"recommendations"`
	StandardRef     string    `json:"standard_ref,omitempty"`
	AffectedIMSI    string    `json:"affected_imsi,omitempty"`
	AffectedMSISDN  string    `json:"affected_msisdn,omitempty"`
	ErrorCode       int       `json:"error_code,omitempty"`
	OccurrenceCount int       `json:"occurrence_count"`
	FirstDetected   time.Time `json:"first_detected"`
	LastDetected    time.Time `json:"last_detected"`
}

// Rule is one detection rule. Condition runs against failure and timeout
// messages with a stats snapshot; Describe renders the issue text.
type Rule struct {
	ID       string
	Protocol decoder.Protocol // empty matches any protocol
	Severity string
	Category string
	Title    string

	Condition func(msg *decoder.Message, snap *stats.Snapshot) bool
	Describe  func(msg *decoder.Message, snap *stats.Snapshot) string
}

// Engine evaluates the rule set and keeps the bounded issue history.
type Engine struct {
	kb     *knowledge.Base
	bucket *stats.Bucket
	rules  []*Rule

	dedup *gocache.Cache
	seq   atomic.Uint64

	mu      sync.Mutex
	ring    [issueRingSize]*Issue
	ringIdx int
	ringLen int

	onIssue []func(*Issue)
}

// NewEngine builds an engine over the given knowledge base and stats bucket
// with the built-in rule set.
func NewEngine(kb *knowledge.Base, bucket *stats.Bucket) *Engine {
	return &Engine{
		kb:     kb,
		bucket: bucket,
		rules:  builtinRules(),
		dedup:  gocache.New(dedupWindow, 2*dedupWindow),
	}
}

// SetKnowledgeBase swaps the knowledge base; config reload uses it.
func (e *Engine) SetKnowledgeBase(kb *knowledge.Base) {
	e.mu.Lock()
	e.kb = kb
	e.mu.Unlock()
}

// OnIssue registers a hook run for every newly created issue (not for dedup
// bumps). Hooks must not block.
func (e *Engine) OnIssue(fn func(*Issue)) {
	e.onIssue = append(e.onIssue, fn)
}

// Analyze evaluates the rule set against one decoded message. Successful
// messages are ignored; every rule triggers on failures or timeouts only.
func (e *Engine) Analyze(msg *decoder.Message) []*Issue {
	if msg.Result != decoder.ResultFailure && msg.Result != decoder.ResultTimeout {
		return nil
	}
	snap := e.bucket.Snapshot()

	var issues []*Issue
	for _, r := range e.rules {
		if r.Protocol != "" && msg.Protocol != r.Protocol {
			continue
		}
		if !r.Condition(msg, snap) {
			continue
		}
		if iss := e.emit(r, msg.Timestamp, string(msg.Protocol), msg.IMSI, msg.MSISDN,
			msg.CauseCode, r.Describe(msg, snap)); iss != nil {
			issues = append(issues, iss)
		}
	}
	return issues
}

// ObserveLatency checks a paired request/response latency against the
// procedure's moving-average baseline. The correlation engine feeds it.
func (e *Engine) ObserveLatency(msg *decoder.Message, latency time.Duration) *Issue {
	snap := e.bucket.Snapshot()
	p, ok := snap.Procedure(string(msg.Protocol), msg.MessageName)
	if !ok || p.LatencySamples < latencyMinSamples {
		return nil
	}
	ms := float64(latency.Milliseconds())
	if ms <= 2*p.EMALatencyMs {
		return nil
	}
	desc := fmt.Sprintf("%s %s took %.0f ms against a %.0f ms baseline over %d samples.",
		msg.Protocol, msg.MessageName, ms, p.EMALatencyMs, p.LatencySamples)
	return e.emit(highLatencyRule, msg.Timestamp, string(msg.Protocol),
		msg.IMSI, msg.MSISDN, 0, desc)
}

// emit creates an issue or bumps the one already open for the signature.
func (e *Engine) emit(r *Rule, ts time.Time, protocol, imsi, msisdn string, code int, desc string) *Issue {
	key := fmt.Sprintf("%s|%s|%d", r.ID, imsi, code)
	if v, found := e.dedup.Get(key); found {
		open := v.(*Issue)
		e.mu.Lock()
		open.OccurrenceCount++
		if ts.After(open.LastDetected) {
			open.LastDetected = ts
		}
		e.mu.Unlock()
		expDeduped.Add(1)
		return nil
	}

	iss := &Issue{
		ID:              fmt.Sprintf("ISS_%s_%d", r.ID, e.seq.Inc()),
		RuleID:          r.ID,
		Severity:        r.Severity,
		Category:        r.Category,
		Protocol:        protocol,
		Title:           r.Title,
		Description:     desc,
		AffectedIMSI:    imsi,
		AffectedMSISDN:  msisdn,
		ErrorCode:       code,
		OccurrenceCount: 1,
		FirstDetected:   ts,
		LastDetected:    ts,
	}
	e.enrich(iss, protocol, code)

	e.dedup.Set(key, iss, gocache.DefaultExpiration)
	e.mu.Lock()
	e.ring[e.ringIdx] = iss
	e.ringIdx = (e.ringIdx + 1) % issueRingSize
	if e.ringLen < issueRingSize {
		e.ringLen++
	}
	e.mu.Unlock()

	expIssues.Add(1)
	tlmIssues.WithLabelValues(r.ID, r.Severity).Inc()
	log.Warnf("Issue %s [%s/%s]: %s", iss.ID, iss.Severity, iss.Category, iss.Description)
	for _, fn := range e.onIssue {
		fn(iss)
	}
	return iss
}

// enrich fills root cause and recommendations from the knowledge base, with
// a generic fallback when the code is not documented.
func (e *Engine) enrich(iss *Issue, protocol string, code int) {
	e.mu.Lock()
	kb := e.kb
	e.mu.Unlock()
	if kb != nil && code != 0 {
		if entry, ok := kb.ErrorCode(protocol, code); ok {
			iss.RootCause = entry.Causes
			iss.Recommendations = append([]string(nil), entry.Recommendations...)
			iss.StandardRef = entry.StandardRef
			return
		}
	}
	iss.RootCause = "Cause not documented in the knowledge base; inspect the raw capture and node logs."
	iss.Recommendations = []string{
		"Review recent configuration changes on the involved nodes",
		"Check the error code distribution for the protocol",
		"Verify connectivity and routing between the endpoints",
	}
}

// Issues returns up to limit issues, most recent first.
func (e *Engine) Issues(limit int) []Issue {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > e.ringLen {
		limit = e.ringLen
	}
	out := make([]Issue, 0, limit)
	for i := 0; i < limit; i++ {
		idx := e.ringIdx - 1 - i
		if idx < 0 {
			idx += issueRingSize
		}
		out = append(out, *e.ring[idx])
	}
	return out
}

// IssueCount is the number of issues currently held in the history ring.
func (e *Engine) IssueCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ringLen
}
