// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package output

import (
	"encoding/csv"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/flows"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/util/log"
)

const (
	cdrFilePrefix = "cdr_"
	cdrFileSuffix = ".csv"
	cdrHourLayout = "2006-01-02_15"
)

var cdrHeader = []string{
	"tid", "imsi", "msisdn", "procedure", "start_time", "end_time",
	"duration_ms", "result", "cause", "plmn", "cell_id", "apn", "vendor",
}

// CDRWriter appends one CSV row per closed session, rotating hourly. The
// header is written whenever a new file is created.
type CDRWriter struct {
	fs            afero.Fs
	dir           string
	retentionDays int
	clock         clock.Clock
	bucket        *stats.Bucket
	limiter       *rate.Limiter

	mu      sync.Mutex
	file    afero.File
	csv     *csv.Writer
	curHour string
}

// NewCDRWriter builds a writer over the given filesystem.
func NewCDRWriter(fs afero.Fs, dir string, retentionDays int, bucket *stats.Bucket, clk clock.Clock) *CDRWriter {
	return &CDRWriter{
		fs:            fs,
		dir:           dir,
		retentionDays: retentionDays,
		clock:         clk,
		bucket:        bucket,
		limiter:       rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// Start creates the output directory and runs an initial retention sweep.
func (w *CDRWriter) Start() error {
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.pruneOld()
	log.Infof("CDR writer started: dir %s, retention %dd", w.dir, w.retentionDays)
	return nil
}

// Stop flushes and closes the current file.
func (w *CDRWriter) Stop() {
	w.mu.Lock()
	w.closeLocked()
	w.mu.Unlock()
}

// Write appends the CDR row for a closed session. The flow carries the
// reconstructed procedure; it may be nil when reconstruction is disabled.
func (w *CDRWriter) Write(s *correlation.Session, flow *flows.CapturedFlow) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.clock.Now().UTC().Format(cdrHourLayout)
	if hour != w.curHour {
		w.rotateLocked(hour)
	}
	if w.csv == nil {
		w.bucket.RecordDrop("cdr_writer_error")
		return
	}

	if err := w.csv.Write(buildRow(s, flow)); err != nil {
		w.writeError(err)
		return
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.writeError(err)
		w.closeLocked()
		return
	}
	w.file.Sync()
	expCDRsWritten.Add(1)
	tlmWritten.WithLabelValues("cdr").Inc()
}

// buildRow flattens a session and its reconstructed flow into the CSV columns.
func buildRow(s *correlation.Session, flow *flows.CapturedFlow) []string {
	procedure := string(s.Type)
	result := string(s.Result())
	if flow != nil {
		procedure = flow.Procedure
		result = flow.Result
	}

	var plmn, cellID string
	if n := len(s.LocationHistory); n > 0 {
		last := s.LocationHistory[n-1]
		plmn = last.MCC + last.MNC
		cellID = last.CellID
	}

	apn := ""
	for _, m := range s.Messages {
		if m.APN != "" {
			apn = m.APN
			break
		}
		if m.DNN != "" {
			apn = m.DNN
			break
		}
	}

	return []string{
		s.ID,
		s.Identifier(correlation.IdentifierIMSI),
		s.Identifier(correlation.IdentifierMSISDN),
		procedure,
		s.StartTime.UTC().Format(time.RFC3339Nano),
		s.LastActivity.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(s.Duration().Milliseconds(), 10),
		result,
		s.FinalCause(),
		plmn,
		cellID,
		apn,
		s.Vendor,
	}
}

func (w *CDRWriter) rotateLocked(hour string) {
	w.closeLocked()
	w.curHour = hour

	path := filepath.Join(w.dir, cdrFilePrefix+hour+cdrFileSuffix)
	exists, _ := afero.Exists(w.fs, path)
	f, err := w.fs.OpenFile(path, fileAppendFlags, 0o644)
	if err != nil {
		w.writeError(err)
		return
	}
	w.file = f
	w.csv = csv.NewWriter(f)
	if !exists {
		if err := w.csv.Write(cdrHeader); err != nil {
			w.writeError(err)
			w.closeLocked()
			return
		}
		w.csv.Flush()
	}
	w.pruneOld()
}

func (w *CDRWriter) closeLocked() {
	if w.csv != nil {
		w.csv.Flush()
		w.csv = nil
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *CDRWriter) pruneOld() {
	prune(w.fs, w.dir, w.retentionDays, w.clock.Now(), func(name string) (time.Time, bool) {
		return dateFromName(name, cdrFilePrefix, cdrFileSuffix, cdrHourLayout)
	})
}

func (w *CDRWriter) writeError(err error) {
	expWriteErrors.Add(1)
	tlmWriteErrors.WithLabelValues("cdr").Inc()
	w.bucket.RecordDrop("cdr_writer_error")
	if w.limiter.Allow() {
		log.Errorf("CDR writer failed: %v", err)
	}
}
