// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config holds the monitor configuration: a viper-backed global with
// every recognized key bound to defaults and environment variables, plus the
// immutable snapshot used on the hot path.
package config

import (
	"fmt"
	"strings"
)

// DefaultSessionTimeout is the idle time, in seconds, after which an active
// session is expired by the sweeper.
const DefaultSessionTimeout = 300

// DefaultSweepInterval is the period, in seconds, of the expiry sweeper.
const DefaultSweepInterval = 30

// AllProtocols lists every protocol the decoder registry knows, in
// registration order.
var AllProtocols = []string{"map", "cap", "inap", "diameter", "gtp", "pfcp", "http2", "ngap", "s1ap", "nas"}

// Sigmon is the global configuration object.
var Sigmon Config

func init() {
	Sigmon = NewConfig("sigmon", "SIGMON", strings.NewReplacer(".", "_"))
	initConfig(Sigmon)
}

// initConfig declares defaults and env bindings for every recognized option.
func initConfig(config Config) {
	// Pipeline
	config.BindEnvAndSetDefault("workers", 0) // 0 means runtime.NumCPU()
	config.BindEnvAndSetDefault("input_buffer_size", 10000)
	config.BindEnvAndSetDefault("writer_buffer_size", 1000)
	config.BindEnvAndSetDefault("protocols.enabled", AllProtocols)

	// Correlation
	config.BindEnvAndSetDefault("session_timeout_seconds", DefaultSessionTimeout)
	config.BindEnvAndSetDefault("session_sweep_interval_seconds", DefaultSweepInterval)
	config.BindEnvAndSetDefault("correlation_shards", 32)
	config.BindEnvAndSetDefault("persistence_buffer_size", 10000)

	// Durable output
	config.BindEnvAndSetDefault("output.events_dir", "events")
	config.BindEnvAndSetDefault("output.cdr_dir", "cdr")
	config.BindEnvAndSetDefault("event_retention_days", 30)
	config.BindEnvAndSetDefault("cdr_retention_days", 90)

	// Database (correlation persistence); disabled unless an address is set
	config.BindEnvAndSetDefault("database.enabled", false)
	config.BindEnvAndSetDefault("database.host", "localhost")
	config.BindEnvAndSetDefault("database.port", 5432)
	config.BindEnvAndSetDefault("database.user", "sigmon")
	config.BindEnvAndSetDefault("database.password", "")
	config.BindEnvAndSetDefault("database.name", "sigmon")
	config.BindEnvAndSetDefault("database.insecure", true)
	config.BindEnvAndSetDefault("database.timeout_seconds", 5)

	// Feed listener (pre-captured signaling units from probes)
	config.BindEnvAndSetDefault("feed.bind_host", "0.0.0.0")
	config.BindEnvAndSetDefault("feed.port", 9009)
	config.BindEnvAndSetDefault("feed.mode", "framed") // framed | raw
	config.BindEnvAndSetDefault("feed.buffer_size", 1024*8)
	config.BindEnvAndSetDefault("feed.so_rcvbuf", 0)

	// Knowledge base
	config.BindEnvAndSetDefault("knowledge.dataset_file", "")

	// API server
	config.BindEnvAndSetDefault("bind_host", "localhost")
	config.BindEnvAndSetDefault("api_port", 6062)

	// Logging
	config.BindEnvAndSetDefault("log_level", "info")
	config.BindEnvAndSetDefault("log_file", "")
	config.BindEnvAndSetDefault("log_to_console", true)
	config.BindEnvAndSetDefault("log_format_json", false)
	config.BindEnvAndSetDefault("disable_file_logging", false)
}

// Load reads the config file found in the configured search paths into the
// global configuration.
func Load() error {
	if err := Sigmon.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to load config file: %w", err)
	}
	return nil
}
