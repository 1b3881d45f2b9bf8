// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package output

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/status/health"
	"github.com/DataDog/sigmon/pkg/util/log"
)

const (
	eventFilePrefix = "events_"
	eventFileSuffix = ".jsonl"
	eventDateLayout = "2006-01-02"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventWriter appends every decoded message as one JSON line to a dated file,
// rotating at UTC midnight. Enqueue never blocks; the queue drops the newest
// message when the writer cannot keep up.
type EventWriter struct {
	fs            afero.Fs
	dir           string
	retentionDays int
	clock         clock.Clock
	bucket        *stats.Bucket
	limiter       *rate.Limiter

	queue  chan *decoder.Message
	stopCh chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	file    afero.File
	curDate string
	failed  bool
}

// NewEventWriter builds a writer over the given filesystem. Production passes
// afero.NewOsFs; tests pass a MemMapFs and a mock clock.
func NewEventWriter(fs afero.Fs, dir string, retentionDays, bufferSize int, bucket *stats.Bucket, clk clock.Clock) *EventWriter {
	return &EventWriter{
		fs:            fs,
		dir:           dir,
		retentionDays: retentionDays,
		clock:         clk,
		bucket:        bucket,
		limiter:       rate.NewLimiter(rate.Every(time.Minute), 1),
		queue:         make(chan *decoder.Message, bufferSize),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the writer goroutine and runs an initial retention sweep.
func (w *EventWriter) Start() error {
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	w.pruneOld()
	go w.run()
	log.Infof("Event writer started: dir %s, retention %dd", w.dir, w.retentionDays)
	return nil
}

// Stop drains the queue and closes the current file.
func (w *EventWriter) Stop() {
	close(w.stopCh)
	<-w.done
}

// Enqueue hands a message to the writer without blocking. Overflow drops the
// message and counts it.
func (w *EventWriter) Enqueue(msg *decoder.Message) {
	select {
	case w.queue <- msg:
	default:
		expEventsDropped.Add(1)
		w.bucket.RecordDrop("event_overflow")
	}
}

func (w *EventWriter) run() {
	defer close(w.done)
	healthToken := health.Register("output-events")
	defer health.Deregister(healthToken) //nolint:errcheck
	healthTick := w.clock.Ticker(health.DefaultPingFreq)
	defer healthTick.Stop()
	for {
		select {
		case <-healthTick.C:
			health.Ping(healthToken) //nolint:errcheck
		case msg := <-w.queue:
			w.Write(msg)
		case <-w.stopCh:
			for {
				select {
				case msg := <-w.queue:
					w.Write(msg)
				default:
					w.closeFile()
					return
				}
			}
		}
	}
}

// Write serializes one message to the current dated file, rotating first when
// the UTC date moved on.
func (w *EventWriter) Write(msg *decoder.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.clock.Now().UTC().Format(eventDateLayout)
	if date != w.curDate {
		w.rotateLocked(date)
	}
	if w.file == nil {
		expEventsDropped.Add(1)
		w.bucket.RecordDrop("event_writer_error")
		return
	}

	line, err := json.Marshal(msg)
	if err != nil {
		w.writeError("marshal", err)
		return
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		w.writeError("write", err)
		w.file.Close()
		w.file = nil
		w.failed = true
		return
	}
	w.file.Sync()
	expEventsWritten.Add(1)
	tlmWritten.WithLabelValues("events").Inc()
}

// rotateLocked closes the current file and opens the one for the new date.
// A writer that failed mid-day gets its reopen attempt here.
func (w *EventWriter) rotateLocked(date string) {
	w.closeLocked()
	w.curDate = date
	w.failed = false

	path := filepath.Join(w.dir, eventFilePrefix+date+eventFileSuffix)
	f, err := w.fs.OpenFile(path, fileAppendFlags, 0o644)
	if err != nil {
		w.writeError("open", err)
		return
	}
	w.file = f
	w.pruneOld()
}

func (w *EventWriter) closeFile() {
	w.mu.Lock()
	w.closeLocked()
	w.mu.Unlock()
}

func (w *EventWriter) closeLocked() {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *EventWriter) pruneOld() {
	prune(w.fs, w.dir, w.retentionDays, w.clock.Now(), func(name string) (time.Time, bool) {
		return dateFromName(name, eventFilePrefix, eventFileSuffix, eventDateLayout)
	})
}

func (w *EventWriter) writeError(op string, err error) {
	expWriteErrors.Add(1)
	tlmWriteErrors.WithLabelValues("events").Inc()
	w.bucket.RecordDrop("event_writer_error")
	if w.limiter.Allow() {
		log.Errorf("Event writer %s failed: %v", op, err)
	}
}
