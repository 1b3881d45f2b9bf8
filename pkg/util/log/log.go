// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log provides the process-wide logger. It wraps seelog behind
// package-level functions so callers never hold a logger handle, and it
// buffers lines emitted before SetupSigmonLogger runs (config loading logs
// a few lines before the log section of the config is known).
package log

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *SigmonLogger

	// Lines logged before initialization. Should be very short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex

	defaultStackDepth = 3
)

// SigmonLogger is the seelog wrapper behind the package-level functions.
type SigmonLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupSigmonLogger configures the logger singleton with a seelog interface.
func SetupSigmonLogger(l seelog.LoggerInterface, level string) {
	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		lvl = seelog.InfoLvl
	}

	logger = &SigmonLogger{
		inner: l,
		level: lvl,
	}

	// The exported functions add two frames between the caller and seelog.
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	bufferMutex.Lock()
	defer bufferMutex.Unlock()
	bufferLogsBeforeInit = false
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

// ChangeLogLevel changes the current log level, valid levels are trace, debug,
// info, warn, error, critical and off.
func ChangeLogLevel(l seelog.LoggerInterface, level string) error {
	if logger == nil {
		return errors.New("cannot change loglevel: logger not initialized")
	}

	logger.l.Lock()
	defer logger.l.Unlock()

	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		return errors.New("bad log level")
	}
	logger.level = lvl

	old := logger.inner
	logger.inner = l
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck
	old.Close()
	return nil
}

// GetLogLevel returns the current log level.
func GetLogLevel() (seelog.LogLevel, error) {
	if logger == nil || logger.inner == nil {
		return seelog.InfoLvl, errors.New("cannot get loglevel: logger not initialized")
	}

	logger.l.RLock()
	defer logger.l.RUnlock()
	return logger.level, nil
}

func (sw *SigmonLogger) shouldLog(level seelog.LogLevel) bool {
	sw.l.RLock()
	ok := level >= sw.level
	sw.l.RUnlock()
	return ok
}

func (sw *SigmonLogger) trace(s string) {
	sw.l.RLock()
	defer sw.l.RUnlock()
	sw.inner.Trace(s)
}

func (sw *SigmonLogger) debug(s string) {
	sw.l.RLock()
	defer sw.l.RUnlock()
	sw.inner.Debug(s)
}

func (sw *SigmonLogger) info(s string) {
	sw.l.RLock()
	defer sw.l.RUnlock()
	sw.inner.Info(s)
}

func (sw *SigmonLogger) warn(s string) error {
	sw.l.RLock()
	defer sw.l.RUnlock()
	return sw.inner.Warn(s)
}

func (sw *SigmonLogger) error(s string) error {
	sw.l.RLock()
	defer sw.l.RUnlock()
	return sw.inner.Error(s)
}

func (sw *SigmonLogger) critical(s string) error {
	sw.l.RLock()
	defer sw.l.RUnlock()
	return sw.inner.Critical(s)
}

func (sw *SigmonLogger) flush() {
	sw.l.RLock()
	defer sw.l.RUnlock()
	sw.inner.Flush()
}

// Trace logs at the trace level.
func Trace(v ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.TraceLvl) {
		logger.trace(fmt.Sprint(v...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Trace(v...) })
	}
}

// Tracef logs with format at the trace level.
func Tracef(format string, params ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.TraceLvl) {
		logger.trace(fmt.Sprintf(format, params...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Tracef(format, params...) })
	}
}

// Debug logs at the debug level.
func Debug(v ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.DebugLvl) {
		logger.debug(fmt.Sprint(v...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Debug(v...) })
	}
}

// Debugf logs with format at the debug level.
func Debugf(format string, params ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.DebugLvl) {
		logger.debug(fmt.Sprintf(format, params...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Debugf(format, params...) })
	}
}

// Info logs at the info level.
func Info(v ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.InfoLvl) {
		logger.info(fmt.Sprint(v...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Info(v...) })
	}
}

// Infof logs with format at the info level.
func Infof(format string, params ...interface{}) {
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.InfoLvl) {
		logger.info(fmt.Sprintf(format, params...))
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Infof(format, params...) })
	}
}

// Warn logs at the warn level and returns an error containing the formated log message.
func Warn(v ...interface{}) error {
	err := fmt.Errorf(fmt.Sprint(v...))
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.WarnLvl) {
		logger.warn(err.Error()) //nolint:errcheck
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Warn(v...) }) //nolint:errcheck
	}
	return err
}

// Warnf logs with format at the warn level and returns an error containing the formated log message.
func Warnf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.WarnLvl) {
		logger.warn(err.Error()) //nolint:errcheck
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Warnf(format, params...) }) //nolint:errcheck
	}
	return err
}

// Error logs at the error level and returns an error containing the formated log message.
func Error(v ...interface{}) error {
	err := fmt.Errorf(fmt.Sprint(v...))
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.ErrorLvl) {
		logger.error(err.Error()) //nolint:errcheck
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Error(v...) }) //nolint:errcheck
	}
	return err
}

// Errorf logs with format at the error level and returns an error containing the formated log message.
func Errorf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.ErrorLvl) {
		logger.error(err.Error()) //nolint:errcheck
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Errorf(format, params...) }) //nolint:errcheck
	}
	return err
}

// Critical logs at the critical level and returns an error containing the formated log message.
func Critical(v ...interface{}) error {
	err := fmt.Errorf(fmt.Sprint(v...))
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.CriticalLvl) {
		logger.critical(err.Error()) //nolint:errcheck
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Critical(v...) }) //nolint:errcheck
	}
	return err
}

// Criticalf logs with format at the critical level and returns an error containing the formated log message.
func Criticalf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	if logger != nil && logger.inner != nil && logger.shouldLog(seelog.CriticalLvl) {
		logger.critical(err.Error()) //nolint:errcheck
	} else if bufferLogsBeforeInit && (logger == nil || logger.inner == nil) {
		addLogToBuffer(func() { Criticalf(format, params...) }) //nolint:errcheck
	}
	return err
}

// Flush flushes the underlying inner log.
func Flush() {
	if logger != nil && logger.inner != nil {
		logger.flush()
	}
}

// ReplaceLogger allows replacing the internal logger, returns old logger.
func ReplaceLogger(l seelog.LoggerInterface) seelog.LoggerInterface {
	if logger == nil || logger.inner == nil {
		return nil
	}

	logger.l.Lock()
	defer logger.l.Unlock()

	old := logger.inner
	logger.inner = l
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck
	return old
}
