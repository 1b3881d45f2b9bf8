// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package version defines the version of the signaling monitor.
package version

// MonitorVersion contains the version of the monitor.
// It is populated at build time using build flags.
var MonitorVersion string

// Commit is populated with the short commit hash from which the monitor was built.
var Commit string

var monitorVersionDefault = "1.0.0"

func init() {
	if MonitorVersion == "" {
		MonitorVersion = monitorVersionDefault
	}
}
