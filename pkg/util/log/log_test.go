// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cihub/seelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, buf *bytes.Buffer, level seelog.LogLevel) seelog.LoggerInterface {
	l, err := seelog.LoggerFromWriterWithMinLevelAndFormat(buf, level, "[%LEVEL] %Msg\n")
	require.NoError(t, err)
	return l
}

func TestLogBufferedBeforeInit(t *testing.T) {
	logger = nil
	bufferLogsBeforeInit = true
	logsBuffer = []func(){}

	Infof("%s %s", "buffered", "line")

	var buf bytes.Buffer
	SetupSigmonLogger(newBufferLogger(t, &buf, seelog.DebugLvl), "debug")
	Flush()

	assert.Contains(t, buf.String(), "buffered line")
}

func TestErrorfReturnsError(t *testing.T) {
	var buf bytes.Buffer
	SetupSigmonLogger(newBufferLogger(t, &buf, seelog.DebugLvl), "debug")

	err := Errorf("decode failed on port %d", 3868)
	require.Error(t, err)
	assert.Equal(t, "decode failed on port 3868", err.Error())
	Flush()
	assert.Contains(t, buf.String(), "decode failed on port 3868")
}

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetupSigmonLogger(newBufferLogger(t, &buf, seelog.TraceLvl), "warn")

	Debugf("hidden %d", 1)
	Warnf("visible %d", 2) //nolint:errcheck
	Flush()

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "visible 2")

	lvl, err := GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, seelog.LogLevel(seelog.WarnLvl), lvl)
}

func TestWarnReturnsMessage(t *testing.T) {
	var buf bytes.Buffer
	SetupSigmonLogger(newBufferLogger(t, &buf, seelog.TraceLvl), "trace")

	err := Warn("queue ", "full")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "queue full"))
}
