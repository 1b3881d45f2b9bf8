// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterDoubleRegistration(t *testing.T) {
	c1 := NewCounter("decoder", "messages_total", "Messages decoded.", "protocol")
	c2 := NewCounter("decoder", "messages_total", "Messages decoded.", "protocol")
	require.Same(t, c1, c2)

	c1.WithLabelValues("diameter").Add(3)
	c2.WithLabelValues("diameter").Inc()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(w, r)

	body := w.Body.String()
	assert.Contains(t, body, `sigmon_decoder_messages_total{protocol="diameter"} 4`)
}

func TestGaugeAndHistogram(t *testing.T) {
	g := NewGauge("correlation", "active_sessions", "Sessions currently open.")
	g.WithLabelValues().Set(12)

	h := NewHistogram("pipeline", "decode_seconds", "Time spent decoding one unit.",
		[]float64{0.0001, 0.001, 0.01}, "protocol")
	h.WithLabelValues("gtp").Observe(0.0005)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(w, r)

	body := w.Body.String()
	assert.Contains(t, body, "sigmon_correlation_active_sessions 12")
	assert.True(t, strings.Contains(body, `sigmon_pipeline_decode_seconds_bucket{protocol="gtp",le="0.001"} 1`))
}
