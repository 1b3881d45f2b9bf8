// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() Config {
	c := NewConfig("sigmon-test", "SIGMON_TEST", strings.NewReplacer(".", "_"))
	initConfig(c)
	return c
}

func TestBuildSnapshotDefaults(t *testing.T) {
	c := newTestConfig()

	s, err := BuildSnapshot(c)
	require.NoError(t, err)

	assert.Positive(t, s.Workers)
	assert.Equal(t, 10000, s.InputBufferSize)
	assert.Equal(t, 1000, s.WriterBufferSize)
	assert.Equal(t, 300*time.Second, s.SessionTimeout)
	assert.Equal(t, 30*time.Second, s.SweepInterval)
	assert.Equal(t, 32, s.CorrelationShards)
	assert.Equal(t, 10000, s.PersistenceBufferSize)
	assert.Equal(t, 30, s.EventRetentionDays)
	assert.Equal(t, 90, s.CDRRetentionDays)
	for _, p := range AllProtocols {
		assert.True(t, s.EnabledProtocols[p], "protocol %s should default to enabled", p)
	}
}

func TestBuildSnapshotRejectsUnknownProtocol(t *testing.T) {
	c := newTestConfig()
	c.Set("protocols.enabled", []string{"diameter", "x25"})

	_, err := BuildSnapshot(c)
	require.Error(t, err)

	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "protocols.enabled", invalid.Key)
}

func TestBuildSnapshotRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value interface{}
	}{
		{"session_timeout_seconds", -1},
		{"session_sweep_interval_seconds", 0},
		{"input_buffer_size", 0},
		{"correlation_shards", 4},
		{"event_retention_days", 0},
	}
	for _, tc := range cases {
		c := newTestConfig()
		c.Set(tc.key, tc.value)
		_, err := BuildSnapshot(c)
		var invalid *InvalidError
		require.ErrorAs(t, err, &invalid, "key %s", tc.key)
		assert.Equal(t, tc.key, invalid.Key)
	}
}

func TestSnapshotHolderSwap(t *testing.T) {
	c := newTestConfig()
	first, err := BuildSnapshot(c)
	require.NoError(t, err)

	holder := NewSnapshotHolder(first)
	assert.Same(t, first, holder.Load())

	c.Set("session_timeout_seconds", 60)
	second, err := BuildSnapshot(c)
	require.NoError(t, err)

	holder.Store(second)
	assert.Same(t, second, holder.Load())
	assert.Equal(t, 60*time.Second, holder.Load().SessionTimeout)
	// the first snapshot is untouched by the swap
	assert.Equal(t, 300*time.Second, first.SessionTimeout)
}
