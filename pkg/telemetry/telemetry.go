// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry exposes the monitor's own metrics through a dedicated
// prometheus registry, kept separate from the default one so external
// libraries cannot pollute /metrics.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry
	once     sync.Once
)

func getRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
	})
	return registry
}

// Handler serves the monitor registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(getRegistry(), promhttp.HandlerOpts{})
}

func register(c prometheus.Collector) prometheus.Collector {
	err := getRegistry().Register(c)
	if err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// NewCounter returns a counter vector registered on the monitor registry.
// Registering the same (subsystem, name) twice returns the existing counter.
func NewCounter(subsystem, name, help string, tagNames ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sigmon",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		tagNames,
	)
	return register(c).(*prometheus.CounterVec)
}

// NewGauge returns a gauge vector registered on the monitor registry.
func NewGauge(subsystem, name, help string, tagNames ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sigmon",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		tagNames,
	)
	return register(g).(*prometheus.GaugeVec)
}

// NewHistogram returns a histogram vector registered on the monitor registry.
func NewHistogram(subsystem, name, help string, buckets []float64, tagNames ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sigmon",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		tagNames,
	)
	return register(h).(*prometheus.HistogramVec)
}
