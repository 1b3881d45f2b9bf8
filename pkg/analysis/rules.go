// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package analysis

import (
	"fmt"
	"time"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/stats"
)

const (
	// errorRateThreshold is the success rate below which a protocol window
	// raises an abnormal-pattern issue.
	errorRateThreshold = 0.95
	// errorRateMinWindow keeps the rate rule quiet until the window carries
	// enough messages to mean something.
	errorRateMinWindow = 100
	// latencyMinSamples gates the latency baseline comparison.
	latencyMinSamples = 50
	// patternWindow is the lookback for the repetition rules.
	patternWindow = time.Minute
	// repeatedFailureThreshold fires the same-IMSI rule.
	repeatedFailureThreshold = 3
	// timeoutPatternThreshold fires the per-procedure timeout rule.
	timeoutPatternThreshold = 5
)

// highLatencyRule is emitted through ObserveLatency, not the per-message
// rule scan; its Condition is never called.
var highLatencyRule = &Rule{
	ID:       "HIGH-LATENCY",
	Severity: "warning",
	Category: "performance",
	Title:    "High procedure latency",
}

func causeRule(id string, protocol decoder.Protocol, code int, severity, category, title, desc string) *Rule {
	return &Rule{
		ID:       id,
		Protocol: protocol,
		Severity: severity,
		Category: category,
		Title:    title,
		Condition: func(msg *decoder.Message, _ *stats.Snapshot) bool {
			return msg.CauseCode == code
		},
		Describe: func(msg *decoder.Message, _ *stats.Snapshot) string {
			if msg.IMSI != "" {
				return fmt.Sprintf("%s (IMSI %s)", desc, msg.IMSI)
			}
			return desc
		},
	}
}

// builtinRules is the shipped detection rule set.
func builtinRules() []*Rule {
	rules := []*Rule{
		causeRule("DIAM-5001", decoder.ProtocolDiameter, 5001, "major", "protocol_error",
			"Subscriber not found in HSS",
			"HSS returned DIAMETER_ERROR_USER_UNKNOWN; the subscriber is not provisioned."),
		causeRule("DIAM-5004", decoder.ProtocolDiameter, 5004, "major", "protocol_error",
			"Roaming not allowed",
			"HSS rejected the roaming attempt with DIAMETER_ERROR_ROAMING_NOT_ALLOWED."),
		causeRule("DIAM-5012", decoder.ProtocolDiameter, 5012, "major", "protocol_error",
			"RAT not allowed",
			"HSS answered DIAMETER_ERROR_RAT_NOT_ALLOWED; the access technology is not permitted for this subscriber."),
		causeRule("DIAM-4181", decoder.ProtocolDiameter, 4181, "critical", "protocol_error",
			"Authentication data unavailable",
			"HSS answered DIAMETER_AUTHENTICATION_DATA_UNAVAILABLE; vectors cannot be produced."),
		causeRule("GTP-CTX-NOT-FOUND", decoder.ProtocolGTPv2, 64, "major", "protocol_error",
			"GTP context not found",
			"Peer cannot find the referenced session context; tunnel state is out of sync."),
		causeRule("GTP-MISSING-APN", decoder.ProtocolGTPv2, 67, "major", "config_issue",
			"APN not configured",
			"PGW rejected the request because the APN is missing or not provisioned."),
		causeRule("MAP-UNKNOWN-SUBSCRIBER", decoder.ProtocolMAP, 1, "major", "protocol_error",
			"MAP unknown subscriber",
			"HLR returned unknownSubscriber; the IMSI has no subscription record."),
		causeRule("MAP-SYSTEM-FAILURE", decoder.ProtocolMAP, 34, "critical", "protocol_error",
			"MAP system failure",
			"HLR returned systemFailure; a network-side task failed mid-dialogue."),
		causeRule("NAS-PLMN-NOT-ALLOWED", decoder.ProtocolNAS, 11, "major", "protocol_error",
			"PLMN not allowed",
			"Network rejected the UE with EMM cause PLMN not allowed."),
		{
			ID:       "GTP-NO-RESOURCES",
			Protocol: decoder.ProtocolGTPv2,
			Severity: "critical",
			Category: "performance",
			Title:    "GTP node resource exhaustion",
			Condition: func(msg *decoder.Message, _ *stats.Snapshot) bool {
				return msg.CauseCode == 73 || msg.CauseCode == 91
			},
			Describe: func(msg *decoder.Message, _ *stats.Snapshot) string {
				return fmt.Sprintf("Peer rejected the request with cause %d: no resources available for new sessions.",
					msg.CauseCode)
			},
		},
		{
			ID:       "HIGH-ERROR-RATE",
			Severity: "major",
			Category: "abnormal_pattern",
			Title:    "High protocol error rate",
			Condition: func(msg *decoder.Message, snap *stats.Snapshot) bool {
				w, ok := snap.Protocols[string(msg.Protocol)]
				return ok && w.WindowSize >= errorRateMinWindow && w.SuccessRate() < errorRateThreshold
			},
			Describe: func(msg *decoder.Message, snap *stats.Snapshot) string {
				w := snap.Protocols[string(msg.Protocol)]
				return fmt.Sprintf("%s success rate dropped to %.1f%% over the last %d messages.",
					msg.Protocol, w.SuccessRate()*100, w.WindowSize)
			},
		},
		{
			ID:       "REPEATED-FAILURE-SAME-IMSI",
			Severity: "major",
			Category: "abnormal_pattern",
			Title:    "Repeated failures for one subscriber",
			Condition: func(msg *decoder.Message, snap *stats.Snapshot) bool {
				if msg.IMSI == "" {
					return false
				}
				return countRecent(snap, msg.Timestamp, func(r stats.ErrorRecord) bool {
					return r.IMSI == msg.IMSI && r.Protocol == string(msg.Protocol) &&
						r.Code == msg.CauseCode
				}) >= repeatedFailureThreshold
			},
			Describe: func(msg *decoder.Message, snap *stats.Snapshot) string {
				n := countRecent(snap, msg.Timestamp, func(r stats.ErrorRecord) bool {
					return r.IMSI == msg.IMSI && r.Protocol == string(msg.Protocol) &&
						r.Code == msg.CauseCode
				})
				return fmt.Sprintf("IMSI %s failed %d times on %s with cause %d inside a minute.",
					msg.IMSI, n, msg.Protocol, msg.CauseCode)
			},
		},
		{
			ID:       "TIMEOUT-PATTERN",
			Severity: "major",
			Category: "performance",
			Title:    "Timeout cluster on one procedure",
			Condition: func(msg *decoder.Message, snap *stats.Snapshot) bool {
				if msg.Result != decoder.ResultTimeout {
					return false
				}
				return countRecent(snap, msg.Timestamp, func(r stats.ErrorRecord) bool {
					return r.Timeout && r.Protocol == string(msg.Protocol) &&
						r.MessageName == msg.MessageName
				}) > timeoutPatternThreshold
			},
			Describe: func(msg *decoder.Message, snap *stats.Snapshot) string {
				n := countRecent(snap, msg.Timestamp, func(r stats.ErrorRecord) bool {
					return r.Timeout && r.Protocol == string(msg.Protocol) &&
						r.MessageName == msg.MessageName
				})
				return fmt.Sprintf("%d timeouts for %s %s inside a minute.",
					n, msg.Protocol, msg.MessageName)
			},
		},
	}
	return rules
}

// countRecent counts recent-error records matching the predicate within the
// pattern window ending at now.
func countRecent(snap *stats.Snapshot, now time.Time, match func(stats.ErrorRecord) bool) int {
	cutoff := now.Add(-patternWindow)
	n := 0
	for _, r := range snap.RecentErrors {
		if r.Timestamp.Before(cutoff) || r.Timestamp.After(now) {
			continue
		}
		if match(r) {
			n++
		}
	}
	return n
}
