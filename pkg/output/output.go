// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package output owns the durable file products: the JSONL event stream and
// the CSV CDR files, with time-based rotation and retention. Writer failures
// never stall the pipeline; a failed file is dropped and reopened on the next
// rotation boundary.
package output

import (
	"expvar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
)

var (
	outputExpvars    = expvar.NewMap("output")
	expEventsWritten = expvar.Int{}
	expEventsDropped = expvar.Int{}
	expCDRsWritten   = expvar.Int{}
	expWriteErrors   = expvar.Int{}
	expFilesPruned   = expvar.Int{}

	tlmWritten = telemetry.NewCounter("output", "records_written_total",
		"Records written, by product.", "product")
	tlmWriteErrors = telemetry.NewCounter("output", "write_errors_total",
		"Write failures, by product.", "product")
)

// fileAppendFlags opens a product file for appending, creating it on first
// use after a rotation.
const fileAppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND

func init() {
	outputExpvars.Set("EventsWritten", &expEventsWritten)
	outputExpvars.Set("EventsDropped", &expEventsDropped)
	outputExpvars.Set("CDRsWritten", &expCDRsWritten)
	outputExpvars.Set("WriteErrors", &expWriteErrors)
	outputExpvars.Set("FilesPruned", &expFilesPruned)
}

// prune deletes files under dir whose embedded date is older than the
// retention cutoff. parse extracts the date from a file name and reports
// whether the name belongs to the product at all.
func prune(fs afero.Fs, dir string, retentionDays int, now time.Time, parse func(name string) (time.Time, bool)) {
	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		log.Debugf("Retention sweep of %s skipped: %v", dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := parse(entry.Name())
		if !ok || !ts.Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := fs.Remove(path); err != nil {
			log.Warnf("Retention sweep could not remove %s: %v", path, err)
			continue
		}
		expFilesPruned.Add(1)
		log.Infof("Retention: removed %s", path)
	}
}

// dateFromName parses a file name of the form <prefix><layout><suffix>.
func dateFromName(name, prefix, suffix, layout string) (time.Time, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	ts, err := time.Parse(layout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
