// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package output

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/flows"
	"github.com/DataDog/sigmon/pkg/stats"
)

func newTestCDRWriter(t *testing.T) (*CDRWriter, afero.Fs, *clock.Mock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC))
	w := NewCDRWriter(fs, "cdr", 90, stats.New(), clk)
	require.NoError(t, w.Start())
	return w, fs, clk
}

func cdrSession(id string, start time.Time) *correlation.Session {
	s := &correlation.Session{
		ID:           id,
		Type:         correlation.TypeData,
		Status:       correlation.StatusCompleted,
		StartTime:    start,
		LastActivity: start.Add(1500 * time.Millisecond),
		Identifiers:  map[correlation.Key]*correlation.Identifier{},
		Vendor:       "Ericsson",
	}
	imsi := correlation.Key{Type: correlation.IdentifierIMSI, Value: "001010000000001"}
	s.Identifiers[imsi] = &correlation.Identifier{Type: correlation.IdentifierIMSI, Value: imsi.Value}
	msisdn := correlation.Key{Type: correlation.IdentifierMSISDN, Value: "15551234567"}
	s.Identifiers[msisdn] = &correlation.Identifier{Type: correlation.IdentifierMSISDN, Value: msisdn.Value}

	m := decoder.NewMessage(decoder.ProtocolGTPv2, nil, &decoder.Metadata{CaptureTime: start})
	m.APN = "internet.mnc001.mcc001.gprs"
	s.Messages = []*decoder.Message{m}
	s.LocationHistory = []correlation.LocationUpdate{{MCC: "001", MNC: "01", CellID: "1234567"}}
	return s
}

func readCSV(t *testing.T, fs afero.Fs, path string) [][]string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCDRWriterRowAndHeader(t *testing.T) {
	w, fs, clk := newTestCDRWriter(t)

	flow := &flows.CapturedFlow{Procedure: "GTP Create Session Procedure", Result: flows.ResultSuccess}
	w.Write(cdrSession("SESS_0a0b0c0d_1", clk.Now()), flow)
	w.Stop()

	rows := readCSV(t, fs, "cdr/cdr_2025-06-01_12.csv")
	require.Len(t, rows, 2)
	assert.Equal(t, cdrHeader, rows[0])

	row := rows[1]
	assert.Equal(t, "SESS_0a0b0c0d_1", row[0])
	assert.Equal(t, "001010000000001", row[1])
	assert.Equal(t, "15551234567", row[2])
	assert.Equal(t, "GTP Create Session Procedure", row[3])
	assert.Equal(t, "1500", row[6])
	assert.Equal(t, "success", row[7])
	assert.Equal(t, "00101", row[9])
	assert.Equal(t, "1234567", row[10])
	assert.Equal(t, "internet.mnc001.mcc001.gprs", row[11])
	assert.Equal(t, "Ericsson", row[12])
}

func TestCDRWriterFallsBackToSessionOutcome(t *testing.T) {
	w, fs, clk := newTestCDRWriter(t)

	// No reconstructed flow: procedure and result come from the session.
	w.Write(cdrSession("SESS_0a0b0c0d_2", clk.Now()), nil)
	w.Stop()

	rows := readCSV(t, fs, "cdr/cdr_2025-06-01_12.csv")
	require.Len(t, rows, 2)
	assert.Equal(t, "data", rows[1][3])
}

func TestCDRWriterHourlyRotation(t *testing.T) {
	w, fs, clk := newTestCDRWriter(t)

	w.Write(cdrSession("SESS_0a0b0c0d_3", clk.Now()), nil)
	clk.Add(45 * time.Minute) // 13:15
	w.Write(cdrSession("SESS_0a0b0c0d_4", clk.Now()), nil)
	w.Stop()

	first := readCSV(t, fs, "cdr/cdr_2025-06-01_12.csv")
	second := readCSV(t, fs, "cdr/cdr_2025-06-01_13.csv")
	assert.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, cdrHeader, second[0], "each new file carries the header")
	assert.Equal(t, "SESS_0a0b0c0d_4", second[1][0])
}

func TestCDRWriterRetention(t *testing.T) {
	w, fs, clk := newTestCDRWriter(t)

	old := "cdr/cdr_2025-02-01_09.csv"
	require.NoError(t, afero.WriteFile(fs, old, []byte("tid\n"), 0o644))

	w.Write(cdrSession("SESS_0a0b0c0d_5", clk.Now()), nil)
	w.Stop()

	exists, _ := afero.Exists(fs, old)
	assert.False(t, exists)
}
