// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/atomic"
)

// InvalidError reports a rejected configuration value. It is fatal at initial
// load and non-fatal on hot reload, where the previous snapshot stays active.
type InvalidError struct {
	Key    string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Key, e.Reason)
}

// Snapshot is the immutable view of the options the pipeline reads on the hot
// path. A reload builds a fresh Snapshot and swaps it atomically; a Snapshot
// is never mutated after Build.
type Snapshot struct {
	Workers               int
	InputBufferSize       int
	WriterBufferSize      int
	EnabledProtocols      map[string]bool
	SessionTimeout        time.Duration
	SweepInterval         time.Duration
	CorrelationShards     int
	PersistenceBufferSize int
	EventsDir             string
	CDRDir                string
	EventRetentionDays    int
	CDRRetentionDays      int
}

// BuildSnapshot validates the current configuration and freezes it into a
// Snapshot.
func BuildSnapshot(cfg Config) (*Snapshot, error) {
	s := &Snapshot{
		Workers:               cfg.GetInt("workers"),
		InputBufferSize:       cfg.GetInt("input_buffer_size"),
		WriterBufferSize:      cfg.GetInt("writer_buffer_size"),
		EnabledProtocols:      make(map[string]bool),
		SessionTimeout:        time.Duration(cfg.GetInt("session_timeout_seconds")) * time.Second,
		SweepInterval:         time.Duration(cfg.GetInt("session_sweep_interval_seconds")) * time.Second,
		CorrelationShards:     cfg.GetInt("correlation_shards"),
		PersistenceBufferSize: cfg.GetInt("persistence_buffer_size"),
		EventsDir:             cfg.GetString("output.events_dir"),
		CDRDir:                cfg.GetString("output.cdr_dir"),
		EventRetentionDays:    cfg.GetInt("event_retention_days"),
		CDRRetentionDays:      cfg.GetInt("cdr_retention_days"),
	}

	if s.Workers == 0 {
		s.Workers = runtime.NumCPU()
	}
	if s.Workers < 0 {
		return nil, &InvalidError{Key: "workers", Reason: "must be positive"}
	}
	if s.InputBufferSize <= 0 {
		return nil, &InvalidError{Key: "input_buffer_size", Reason: "must be positive"}
	}
	if s.WriterBufferSize <= 0 {
		return nil, &InvalidError{Key: "writer_buffer_size", Reason: "must be positive"}
	}
	if s.SessionTimeout <= 0 {
		return nil, &InvalidError{Key: "session_timeout_seconds", Reason: "must be positive"}
	}
	if s.SweepInterval <= 0 {
		return nil, &InvalidError{Key: "session_sweep_interval_seconds", Reason: "must be positive"}
	}
	if s.CorrelationShards < 16 {
		return nil, &InvalidError{Key: "correlation_shards", Reason: "must be at least 16"}
	}
	if s.PersistenceBufferSize <= 0 {
		return nil, &InvalidError{Key: "persistence_buffer_size", Reason: "must be positive"}
	}
	if s.EventRetentionDays <= 0 {
		return nil, &InvalidError{Key: "event_retention_days", Reason: "must be positive"}
	}
	if s.CDRRetentionDays <= 0 {
		return nil, &InvalidError{Key: "cdr_retention_days", Reason: "must be positive"}
	}

	known := make(map[string]bool, len(AllProtocols))
	for _, p := range AllProtocols {
		known[p] = true
	}
	for _, p := range cfg.GetStringSlice("protocols.enabled") {
		if !known[p] {
			return nil, &InvalidError{Key: "protocols.enabled", Reason: fmt.Sprintf("unknown protocol %q", p)}
		}
		s.EnabledProtocols[p] = true
	}
	if len(s.EnabledProtocols) == 0 {
		return nil, &InvalidError{Key: "protocols.enabled", Reason: "at least one protocol required"}
	}

	return s, nil
}

// SnapshotHolder hands the active Snapshot to the pipeline and swaps it on
// reload without stopping readers.
type SnapshotHolder struct {
	p atomic.Pointer[Snapshot]
}

// NewSnapshotHolder returns a holder seeded with the given snapshot.
func NewSnapshotHolder(s *Snapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.p.Store(s)
	return h
}

// Load returns the active snapshot.
func (h *SnapshotHolder) Load() *Snapshot {
	return h.p.Load()
}

// Store replaces the active snapshot.
func (h *SnapshotHolder) Store(s *Snapshot) {
	h.p.Store(s)
}
