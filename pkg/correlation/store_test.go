// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package correlation

import (
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/stats"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	return newStore(db, 5*time.Second, 16, stats.New()), mock
}

func closedSession() *Session {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newSession("SESS_0a0b0c0d_1", 1, t0)
	s.Type = TypeData
	s.Status = StatusCompleted
	s.LastActivity = t0.Add(2 * time.Second)
	s.BytesUplink = 1000
	s.BytesDownlink = 5000

	req := testMsg(decoder.ProtocolGTPv2, t0)
	req.IMSI = "001010000000001"
	req.TEID = 1001
	req.TransactionID = "seq-7"
	req.Direction = decoder.DirectionRequest
	req.MessageName = "Create Session Request"
	resp := testMsg(decoder.ProtocolGTPv2, t0.Add(time.Second))
	resp.IMSI = "001010000000001"
	resp.TransactionID = "seq-7"
	resp.Direction = decoder.DirectionResponse
	resp.Result = decoder.ResultSuccess
	s.Messages = []*decoder.Message{req, resp}

	s.Identifiers[Key{IdentifierIMSI, "001010000000001"}] = &Identifier{
		Type: IdentifierIMSI, Value: "001010000000001", Protocol: "GTPv2",
		FirstSeen: t0, LastSeen: t0.Add(time.Second), Confidence: 1.0,
	}
	s.LocationHistory = []LocationUpdate{{
		Timestamp: t0, Protocol: "GTPv2", MCC: "001", MNC: "01", CellID: "1234567",
	}}
	return s
}

func TestStorePersistWritesAllRows(t *testing.T) {
	st, mock := newMockStore(t)
	s := closedSession()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_sessions"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_identifiers"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_transactions"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_location_history"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	st.persistWithRetry(s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRetriesTransientFailure(t *testing.T) {
	st, mock := newMockStore(t)
	s := closedSession()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_sessions"`)).
		WillReturnError(assert.AnError)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_sessions"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_identifiers"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_transactions"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_location_history"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	st.persistWithRetry(s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGivesUpAfterRetries(t *testing.T) {
	st, mock := newMockStore(t)
	s := closedSession()

	// Initial attempt plus storeRetries retries, all failing.
	for i := 0; i < storeRetries+1; i++ {
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "correlation_sessions"`)).
			WillReturnError(assert.AnError)
	}

	st.persistWithRetry(s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreEnqueueDropsOldestWhenFull(t *testing.T) {
	sqldb, _, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	st := newStore(db, time.Second, 2, stats.New())

	a, b, c := closedSession(), closedSession(), closedSession()
	b.ID = "SESS_0a0b0c0d_2"
	c.ID = "SESS_0a0b0c0d_3"

	// Worker not started: the queue fills and the oldest entry is dropped.
	st.Enqueue(a)
	st.Enqueue(b)
	st.Enqueue(c)

	first := <-st.queue
	second := <-st.queue
	assert.Equal(t, b.ID, first.ID)
	assert.Equal(t, c.ID, second.ID)
}

func TestBuildTransactions(t *testing.T) {
	s := closedSession()
	rows := buildTransactions(s)
	require.Len(t, rows, 1)
	assert.Equal(t, "GTPv2:seq-7", rows[0].TransactionID)
	assert.True(t, rows[0].Success)
	assert.Equal(t, int64(1000), rows[0].LatencyMs)
	assert.Equal(t, s.ID, rows[0].SessionID)
}
