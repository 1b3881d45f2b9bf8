// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package correlation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DataDog/sigmon/pkg/decoder"
)

const (
	// locationHistoryCap bounds per-subscriber location history.
	locationHistoryCap = 100
	// timelineCap bounds per-subscriber timeline length.
	timelineCap = 1000
	// activeWindow is how recently a subscriber must have been seen to count
	// as active.
	activeWindow = 5 * time.Minute
)

// DeviceInfo describes the subscriber's equipment, derived from the IMEI.
type DeviceInfo struct {
	IMEI string `json:"imei"`
	// TAC is the Type Allocation Code, the first 8 IMEI digits.
	TAC string `json:"tac"`
}

// TimelineEvent is one classified step in a subscriber's history.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Protocol    string    `json:"protocol"`
	Description string    `json:"description"`
}

// SubscriberStats aggregates a subscriber's procedure outcomes.
type SubscriberStats struct {
	TotalProcedures      int     `json:"total_procedures"`
	SuccessfulProcedures int     `json:"successful_procedures"`
	FailedProcedures     int     `json:"failed_procedures"`
	SuccessRate          float64 `json:"success_rate"`
	TotalErrors          int     `json:"total_errors"`
}

// SubscriberProfile is everything known about one subscriber, keyed by IMSI.
type SubscriberProfile struct {
	mu sync.RWMutex

	IMSI            string           `json:"imsi"`
	MSISDN          string           `json:"msisdn,omitempty"`
	IMEI            string           `json:"imei,omitempty"`
	SUPI            string           `json:"supi,omitempty"`
	Device          *DeviceInfo      `json:"device,omitempty"`
	CurrentLocation *LocationUpdate  `json:"current_location,omitempty"`
	LocationHistory []LocationUpdate `json:"location_history,omitempty"`
	Timeline        []TimelineEvent  `json:"timeline,omitempty"`
	Stats           SubscriberStats  `json:"stats"`
	FirstSeen       time.Time        `json:"first_seen"`
	LastSeen        time.Time        `json:"last_seen"`
	Status          string           `json:"status"` // active | detached
}

// SubscriberTracker aggregates per-IMSI profiles across protocols, with
// reverse maps so messages carrying only a secondary identifier still reach
// the right profile.
type SubscriberTracker struct {
	mu          sync.RWMutex
	subscribers map[string]*SubscriberProfile
	byMSISDN    map[string]string
	byIMEI      map[string]string
	byTEID      map[uint32]string
	bySEID      map[uint64]string
	clock       clock.Clock
}

// NewSubscriberTracker returns an empty tracker.
func NewSubscriberTracker(clk clock.Clock) *SubscriberTracker {
	return &SubscriberTracker{
		subscribers: make(map[string]*SubscriberProfile),
		byMSISDN:    make(map[string]string),
		byIMEI:      make(map[string]string),
		byTEID:      make(map[uint32]string),
		bySEID:      make(map[uint64]string),
		clock:       clk,
	}
}

// Observe folds one message into the owning subscriber's profile. Messages
// that cannot be tied to an IMSI, directly or via a reverse map, are skipped.
func (t *SubscriberTracker) Observe(msg *decoder.Message) {
	imsi := msg.IMSI
	if imsi == "" && msg.SUPI != "" {
		imsi = strings.TrimPrefix(msg.SUPI, "imsi-")
	}
	if imsi == "" {
		t.mu.RLock()
		switch {
		case msg.MSISDN != "":
			imsi = t.byMSISDN[msg.MSISDN]
		case msg.IMEI != "":
			imsi = t.byIMEI[msg.IMEI]
		case msg.TEID != 0:
			imsi = t.byTEID[msg.TEID]
		case msg.SEID != 0:
			imsi = t.bySEID[msg.SEID]
		}
		t.mu.RUnlock()
	}
	if imsi == "" {
		return
	}

	p := t.getOrCreate(imsi)

	t.mu.Lock()
	if msg.MSISDN != "" {
		t.byMSISDN[msg.MSISDN] = imsi
	}
	if msg.IMEI != "" {
		t.byIMEI[msg.IMEI] = imsi
	}
	if msg.TEID != 0 {
		t.byTEID[msg.TEID] = imsi
	}
	if msg.SEID != 0 {
		t.bySEID[msg.SEID] = imsi
	}
	t.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.MSISDN != "" && p.MSISDN == "" {
		p.MSISDN = msg.MSISDN
	}
	if msg.SUPI != "" && p.SUPI == "" {
		p.SUPI = msg.SUPI
	}
	if msg.IMEI != "" && p.IMEI == "" {
		p.IMEI = msg.IMEI
		if len(msg.IMEI) >= 8 {
			p.Device = &DeviceInfo{IMEI: msg.IMEI, TAC: msg.IMEI[:8]}
		}
	}

	if loc, ok := extractLocation(msg); ok {
		p.LocationHistory = append(p.LocationHistory, loc)
		if len(p.LocationHistory) > locationHistoryCap {
			p.LocationHistory = p.LocationHistory[len(p.LocationHistory)-locationHistoryCap:]
		}
		p.CurrentLocation = &p.LocationHistory[len(p.LocationHistory)-1]
	}

	p.Timeline = append(p.Timeline, TimelineEvent{
		Timestamp:   msg.Timestamp,
		Type:        classifyEvent(msg),
		Protocol:    string(msg.Protocol),
		Description: fmt.Sprintf("%s: %s", msg.Protocol, msg.MessageName),
	})
	if len(p.Timeline) > timelineCap {
		p.Timeline = p.Timeline[len(p.Timeline)-timelineCap:]
	}

	switch msg.Result {
	case decoder.ResultSuccess:
		p.Stats.TotalProcedures++
		p.Stats.SuccessfulProcedures++
	case decoder.ResultFailure, decoder.ResultTimeout:
		p.Stats.TotalProcedures++
		p.Stats.FailedProcedures++
		p.Stats.TotalErrors++
	}
	if p.Stats.TotalProcedures > 0 {
		p.Stats.SuccessRate = float64(p.Stats.SuccessfulProcedures) / float64(p.Stats.TotalProcedures)
	}

	if p.FirstSeen.IsZero() || msg.Timestamp.Before(p.FirstSeen) {
		p.FirstSeen = msg.Timestamp
	}
	if msg.Timestamp.After(p.LastSeen) {
		p.LastSeen = msg.Timestamp
	}

	name := strings.ToLower(msg.MessageName)
	switch {
	case strings.Contains(name, "detach") || strings.Contains(name, "deregistration"):
		p.Status = "detached"
	case strings.Contains(name, "attach") || strings.Contains(name, "registration"):
		p.Status = "active"
	}
}

func (t *SubscriberTracker) getOrCreate(imsi string) *SubscriberProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.subscribers[imsi]
	if !ok {
		p = &SubscriberProfile{IMSI: imsi, Status: "active"}
		t.subscribers[imsi] = p
	}
	return p
}

// Profile looks up a subscriber by IMSI.
func (t *SubscriberTracker) Profile(imsi string) (*SubscriberProfile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.subscribers[imsi]
	return p, ok
}

// ProfileByMSISDN resolves a subscriber through the MSISDN reverse map.
func (t *SubscriberTracker) ProfileByMSISDN(msisdn string) (*SubscriberProfile, bool) {
	t.mu.RLock()
	imsi := t.byMSISDN[msisdn]
	t.mu.RUnlock()
	if imsi == "" {
		return nil, false
	}
	return t.Profile(imsi)
}

// Timeline returns a subscriber's events filtered by time range and event
// types; zero times and an empty type list mean no filter.
func (t *SubscriberTracker) Timeline(imsi string, from, to time.Time, types []string) []TimelineEvent {
	p, ok := t.Profile(imsi)
	if !ok {
		return nil
	}
	want := make(map[string]bool, len(types))
	for _, ty := range types {
		want[ty] = true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []TimelineEvent
	for _, ev := range p.Timeline {
		if !from.IsZero() && ev.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && ev.Timestamp.After(to) {
			continue
		}
		if len(want) > 0 && !want[ev.Type] {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Count returns the number of tracked subscribers.
func (t *SubscriberTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// ActiveCount counts subscribers that are attached and were seen recently.
func (t *SubscriberTracker) ActiveCount() int {
	now := t.clock.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	active := 0
	for _, p := range t.subscribers {
		p.mu.RLock()
		if p.Status == "active" && now.Sub(p.LastSeen) < activeWindow {
			active++
		}
		p.mu.RUnlock()
	}
	return active
}

// classifyEvent buckets a message into a timeline event type.
func classifyEvent(msg *decoder.Message) string {
	name := strings.ToLower(msg.MessageName)
	switch {
	case strings.Contains(name, "attach"):
		return "attach"
	case strings.Contains(name, "detach") || strings.Contains(name, "deregistration"):
		return "detach"
	case strings.Contains(name, "registration"):
		return "registration"
	case strings.Contains(name, "create") && strings.Contains(name, "session"),
		strings.Contains(name, "establishment"):
		return "session_create"
	case strings.Contains(name, "delete") && strings.Contains(name, "session"),
		strings.Contains(name, "deletion"):
		return "session_delete"
	case strings.Contains(name, "handover"):
		return "handover"
	case strings.Contains(name, "authentication"):
		return "authentication"
	case strings.Contains(name, "location"):
		return "location_update"
	case msg.Result == decoder.ResultFailure || msg.Result == decoder.ResultTimeout:
		return "error"
	}
	return "other"
}
