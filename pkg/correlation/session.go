// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package correlation

import (
	"fmt"
	"strings"
	"time"

	"github.com/DataDog/sigmon/pkg/decoder"
)

// Status of a session. Transitions are monotone: active → completed or
// active → expired, both terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// SessionType classifies what the correlated exchange is doing.
type SessionType string

const (
	TypeVoice          SessionType = "voice"
	TypeData           SessionType = "data"
	TypeSMS            SessionType = "sms"
	TypeLocationUpdate SessionType = "location_update"
	TypeRegistration   SessionType = "registration"
	TypeHandover       SessionType = "handover"
	TypeUnknown        SessionType = "unknown"
)

// IdentifierType names one kind of correlation key.
type IdentifierType string

const (
	IdentifierIMSI        IdentifierType = "IMSI"
	IdentifierMSISDN      IdentifierType = "MSISDN"
	IdentifierIMEI        IdentifierType = "IMEI"
	IdentifierSUPI        IdentifierType = "SUPI"
	IdentifierTEID        IdentifierType = "TEID"
	IdentifierSEID        IdentifierType = "SEID"
	IdentifierSessionID   IdentifierType = "DIAMETER_SESSION"
	IdentifierTransaction IdentifierType = "TRANSACTION"
	IdentifierAMFUEID     IdentifierType = "AMF_UE_ID"
	IdentifierRANUEID     IdentifierType = "RAN_UE_ID"
	IdentifierMMEUEID     IdentifierType = "MME_UE_ID"
	IdentifierENBUEID     IdentifierType = "ENB_UE_ID"
)

// Key is the (type, value) pair the index maps to a session id.
type Key struct {
	Type  IdentifierType
	Value string
}

// Identifier is one correlation key owned by a session, with provenance.
type Identifier struct {
	Type       IdentifierType `json:"type"`
	Value      string         `json:"value"`
	Protocol   string         `json:"protocol"`
	FirstSeen  time.Time      `json:"first_seen"`
	LastSeen   time.Time      `json:"last_seen"`
	Confidence float64        `json:"confidence"`
}

// LocationUpdate is one observed location for the session's subscriber.
type LocationUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
	MCC       string    `json:"mcc,omitempty"`
	MNC       string    `json:"mnc,omitempty"`
	CellID    string    `json:"cell_id,omitempty"`
	TAC       string    `json:"tac,omitempty"`
}

// Session is one correlated end-to-end exchange. While active it is owned by
// the engine and only mutated under its shard lock; once the engine hands it
// to completion hooks it is detached and no longer written to.
type Session struct {
	ID           string      `json:"id"`
	Type         SessionType `json:"type"`
	Status       Status      `json:"status"`
	StartTime    time.Time   `json:"start_time"`
	LastActivity time.Time   `json:"last_activity"`

	Messages        []*decoder.Message  `json:"-"`
	Identifiers     map[Key]*Identifier `json:"-"`
	LocationHistory []LocationUpdate    `json:"location_history,omitempty"`

	BytesUplink   uint64 `json:"bytes_uplink"`
	BytesDownlink uint64 `json:"bytes_downlink"`
	ErrorCount    int    `json:"error_count"`

	// Vendor is the first vendor-extension match seen on any message; it
	// flows into the CDR.
	Vendor string `json:"vendor,omitempty"`

	// MergedFrom lists the ids of sessions absorbed into this one.
	MergedFrom []string `json:"merged_from,omitempty"`

	seq            uint64
	successCount   int
	resultCount    int
	latencyTotalMs float64
	latencyCount   int
	// pending maps an open transaction key to its request timestamp for
	// latency pairing.
	pending map[string]time.Time
	// pendingRelease marks that an SBI session-release request was seen, so
	// the matching 2xx answer closes the session.
	pendingRelease bool
}

func newSession(id string, seq uint64, ts time.Time) *Session {
	return &Session{
		ID:           id,
		Type:         TypeUnknown,
		Status:       StatusActive,
		StartTime:    ts,
		LastActivity: ts,
		Identifiers:  make(map[Key]*Identifier),
		pending:      make(map[string]time.Time),
		seq:          seq,
	}
}

// Identifier returns the first value of the given type, or "".
func (s *Session) Identifier(t IdentifierType) string {
	for k := range s.Identifiers {
		if k.Type == t {
			return k.Value
		}
	}
	return ""
}

// Duration is the wall time between first and last message.
func (s *Session) Duration() time.Duration {
	return s.LastActivity.Sub(s.StartTime)
}

// SuccessRate is the success fraction over messages carrying a result.
func (s *Session) SuccessRate() float64 {
	if s.resultCount == 0 {
		return 1.0
	}
	return float64(s.successCount) / float64(s.resultCount)
}

// AvgLatencyMs is the mean request/response latency paired so far.
func (s *Session) AvgLatencyMs() float64 {
	if s.latencyCount == 0 {
		return 0
	}
	return s.latencyTotalMs / float64(s.latencyCount)
}

// FinalCause is the cause text of the last failed message, or "".
func (s *Session) FinalCause() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Result == decoder.ResultFailure && m.CauseText != "" {
			return m.CauseText
		}
	}
	return ""
}

// Result summarizes the session outcome: failure when any message failed.
func (s *Session) Result() decoder.Result {
	if s.ErrorCount > 0 {
		return decoder.ResultFailure
	}
	if s.resultCount == 0 {
		return decoder.ResultUnknown
	}
	return decoder.ResultSuccess
}

// extractKeys collects the correlation keys a message carries. Transaction
// values are protocol-scoped so a Diameter end-to-end id can never collide
// with a TCAP transaction id.
func extractKeys(msg *decoder.Message) []Key {
	var keys []Key
	add := func(t IdentifierType, v string) {
		if v != "" {
			keys = append(keys, Key{Type: t, Value: v})
		}
	}
	add(IdentifierIMSI, msg.IMSI)
	add(IdentifierMSISDN, msg.MSISDN)
	add(IdentifierIMEI, msg.IMEI)
	add(IdentifierSUPI, msg.SUPI)
	add(IdentifierSessionID, msg.SessionID)
	if msg.TransactionID != "" {
		add(IdentifierTransaction, string(msg.Protocol)+":"+msg.TransactionID)
	}
	if msg.TEID != 0 {
		add(IdentifierTEID, fmt.Sprintf("%d", msg.TEID))
	}
	if msg.SEID != 0 {
		add(IdentifierSEID, fmt.Sprintf("%d", msg.SEID))
	}
	if msg.AMFUEID != 0 {
		add(IdentifierAMFUEID, fmt.Sprintf("%d", msg.AMFUEID))
	}
	if msg.RANUEID != 0 {
		add(IdentifierRANUEID, fmt.Sprintf("%d", msg.RANUEID))
	}
	if msg.MMEUEID != 0 {
		add(IdentifierMMEUEID, fmt.Sprintf("%d", msg.MMEUEID))
	}
	if msg.ENBUEID != 0 {
		add(IdentifierENBUEID, fmt.Sprintf("%d", msg.ENBUEID))
	}
	return keys
}

// classify maps a message to a session type. The first specific
// classification sticks; later messages never downgrade it.
func classify(msg *decoder.Message) SessionType {
	name := strings.ToLower(msg.MessageName)
	switch {
	case strings.Contains(name, "handover"):
		return TypeHandover
	case strings.Contains(name, "attach"), strings.Contains(name, "registration"),
		strings.Contains(name, "initialuemessage"), strings.Contains(name, "detach"),
		strings.Contains(name, "deregistration"):
		return TypeRegistration
	case strings.Contains(name, "updatelocation"), strings.Contains(name, "update-location"),
		strings.Contains(name, "location"), strings.Contains(name, "cancellocation"):
		return TypeLocationUpdate
	}
	switch msg.Protocol {
	case decoder.ProtocolCAP, decoder.ProtocolINAP:
		return TypeVoice
	case decoder.ProtocolGTPv1, decoder.ProtocolGTPv2, decoder.ProtocolPFCP:
		return TypeData
	case decoder.ProtocolMAP:
		if strings.Contains(name, "sm") && (strings.Contains(name, "forward") || strings.Contains(name, "routing")) {
			return TypeSMS
		}
	case decoder.ProtocolHTTP2:
		if strings.Contains(name, "pdusession") || strings.Contains(name, "sm context") {
			return TypeData
		}
	}
	return TypeUnknown
}

// extractLocation builds a location record when the message carries one.
func extractLocation(msg *decoder.Message) (LocationUpdate, bool) {
	if msg.PLMN == "" && msg.CellID == "" {
		return LocationUpdate{}, false
	}
	loc := LocationUpdate{
		Timestamp: msg.Timestamp,
		Protocol:  string(msg.Protocol),
		CellID:    msg.CellID,
	}
	if len(msg.PLMN) >= 5 {
		loc.MCC = msg.PLMN[:3]
		loc.MNC = msg.PLMN[3:]
	}
	if tac, ok := msg.Details["tac"]; ok {
		loc.TAC = fmt.Sprintf("%v", tac)
	}
	return loc, true
}
