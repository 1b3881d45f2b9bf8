// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"golang.org/x/time/rate"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/stats"
	"github.com/DataDog/sigmon/pkg/util/log"
)

// storeRetries is how many times a failed write is retried before the row is
// dropped.
const storeRetries = 3

// DBConfig carries the Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Insecure bool
	Timeout  time.Duration
}

// sessionRow mirrors the correlation_sessions table.
type sessionRow struct {
	bun.BaseModel `bun:"table:correlation_sessions"`

	ID                string    `bun:"id,pk"`
	StartTime         time.Time `bun:"start_time"`
	EndTime           time.Time `bun:"end_time"`
	Status            string    `bun:"status"`
	SessionType       string    `bun:"session_type"`
	BytesUplink       int64     `bun:"bytes_uplink"`
	BytesDownlink     int64     `bun:"bytes_downlink"`
	SuccessRate       float64   `bun:"success_rate"`
	AvgLatencyMs      float64   `bun:"avg_latency_ms"`
	ErrorCount        int       `bun:"error_count"`
	MapTransactionID  string    `bun:"map_transaction_id"`
	DiameterSessionID string    `bun:"diameter_session_id"`
	GtpTEID           int64     `bun:"gtp_teid"`
	PfcpSEID          int64     `bun:"pfcp_seid"`
	NgapUEID          int64     `bun:"ngap_ue_id"`
	S1apMMEID         int64     `bun:"s1ap_mme_id"`
	CreatedAt         time.Time `bun:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at"`
}

// identifierRow mirrors correlation_identifiers.
type identifierRow struct {
	bun.BaseModel `bun:"table:correlation_identifiers"`

	ID              int64     `bun:"id,pk,autoincrement"`
	SessionID       string    `bun:"session_id"`
	IdentifierType  string    `bun:"identifier_type"`
	IdentifierValue string    `bun:"identifier_value"`
	Protocol        string    `bun:"protocol"`
	FirstSeen       time.Time `bun:"first_seen"`
	LastSeen        time.Time `bun:"last_seen"`
	Confidence      float64   `bun:"confidence"`
}

// transactionRow mirrors correlation_transactions.
type transactionRow struct {
	bun.BaseModel `bun:"table:correlation_transactions"`

	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     string    `bun:"session_id"`
	TransactionID string    `bun:"transaction_id"`
	Protocol      string    `bun:"protocol"`
	Timestamp     time.Time `bun:"timestamp"`
	Success       bool      `bun:"success"`
	LatencyMs     int64     `bun:"latency_ms"`
}

// locationRow mirrors correlation_location_history.
type locationRow struct {
	bun.BaseModel `bun:"table:correlation_location_history"`

	ID          int64     `bun:"id,pk,autoincrement"`
	SessionID   string    `bun:"session_id"`
	Timestamp   time.Time `bun:"timestamp"`
	Protocol    string    `bun:"protocol"`
	MCC         string    `bun:"mcc"`
	MNC         string    `bun:"mnc"`
	LAC         string    `bun:"lac"`
	CellID      string    `bun:"cell_id"`
	TAC         string    `bun:"tac"`
	EutranCGI   string    `bun:"eutran_cgi"`
	GlobalRANID string    `bun:"global_ran_id"`
}

// Store persists closed sessions to Postgres through a bounded queue so the
// pipeline never blocks on the database. When the queue is full the oldest
// entry is dropped and counted.
type Store struct {
	db      *bun.DB
	queue   chan *Session
	timeout time.Duration
	bucket  *stats.Bucket
	limiter *rate.Limiter
	stopCh  chan struct{}
	done    chan struct{}
}

// NewStore opens the database handle. The connection is established lazily
// by the driver; a down database surfaces as per-write retries.
func NewStore(cfg DBConfig, bufferSize int, bucket *stats.Bucket) *Store {
	connector := pgdriver.NewConnector(
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithInsecure(cfg.Insecure),
		pgdriver.WithTimeout(cfg.Timeout),
	)
	sqldb := sql.OpenDB(connector)
	return newStore(bun.NewDB(sqldb, pgdialect.New()), cfg.Timeout, bufferSize, bucket)
}

// newStore is the seam the sqlmock tests use.
func newStore(db *bun.DB, timeout time.Duration, bufferSize int, bucket *stats.Bucket) *Store {
	return &Store{
		db:      db,
		queue:   make(chan *Session, bufferSize),
		timeout: timeout,
		bucket:  bucket,
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// EnsureSchema creates the tables when they do not exist.
func (st *Store) EnsureSchema(ctx context.Context) error {
	models := []interface{}{
		(*sessionRow)(nil),
		(*identifierRow)(nil),
		(*transactionRow)(nil),
		(*locationRow)(nil),
	}
	for _, m := range models {
		if _, err := st.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Start launches the persistence worker.
func (st *Store) Start() {
	go st.run()
}

// Stop drains the queue and closes the database.
func (st *Store) Stop() {
	close(st.stopCh)
	<-st.done
	if err := st.db.Close(); err != nil {
		log.Warnf("store: closing database: %v", err)
	}
}

// Enqueue hands a closed session to the persistence worker without blocking;
// when the queue is full the oldest queued session is dropped.
func (st *Store) Enqueue(s *Session) {
	for {
		select {
		case st.queue <- s:
			return
		default:
		}
		select {
		case dropped := <-st.queue:
			st.bucket.RecordDrop("persistence_overflow")
			if st.limiter.Allow() {
				log.Warnf("store: persistence queue full, dropped session %s", dropped.ID)
			}
		default:
		}
	}
}

func (st *Store) run() {
	defer close(st.done)
	for {
		select {
		case s := <-st.queue:
			st.persistWithRetry(s)
		case <-st.stopCh:
			for {
				select {
				case s := <-st.queue:
					st.persistWithRetry(s)
				default:
					return
				}
			}
		}
	}
}

// persistWithRetry writes one session, retrying transient failures on a
// 100ms/500ms/2s schedule. Constraint violations are permanent and drop the
// row.
func (st *Store) persistWithRetry(s *Session) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.RandomizationFactor = 0
	policy.Multiplier = 5
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), st.timeout)
		defer cancel()
		err := st.persist(ctx, s)
		if err != nil && isConstraintViolation(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(policy, storeRetries)); err != nil {
		st.bucket.RecordDrop("persistence_error")
		if st.limiter.Allow() {
			log.Errorf("store: session %s not persisted: %v", s.ID, err) //nolint:errcheck
		}
	}
}

func (st *Store) persist(ctx context.Context, s *Session) error {
	now := time.Now().UTC()
	row := &sessionRow{
		ID:                s.ID,
		StartTime:         s.StartTime,
		EndTime:           s.LastActivity,
		Status:            string(s.Status),
		SessionType:       string(s.Type),
		BytesUplink:       int64(s.BytesUplink),
		BytesDownlink:     int64(s.BytesDownlink),
		SuccessRate:       s.SuccessRate(),
		AvgLatencyMs:      s.AvgLatencyMs(),
		ErrorCount:        s.ErrorCount,
		MapTransactionID:  firstTransaction(s, decoder.ProtocolMAP),
		DiameterSessionID: s.Identifier(IdentifierSessionID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if v := s.Identifier(IdentifierTEID); v != "" {
		fmt.Sscanf(v, "%d", &row.GtpTEID) //nolint:errcheck
	}
	if v := s.Identifier(IdentifierSEID); v != "" {
		fmt.Sscanf(v, "%d", &row.PfcpSEID) //nolint:errcheck
	}
	if v := s.Identifier(IdentifierAMFUEID); v != "" {
		fmt.Sscanf(v, "%d", &row.NgapUEID) //nolint:errcheck
	}
	if v := s.Identifier(IdentifierMMEUEID); v != "" {
		fmt.Sscanf(v, "%d", &row.S1apMMEID) //nolint:errcheck
	}

	if _, err := st.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("end_time = EXCLUDED.end_time").
		Set("status = EXCLUDED.status").
		Set("bytes_uplink = EXCLUDED.bytes_uplink").
		Set("bytes_downlink = EXCLUDED.bytes_downlink").
		Set("success_rate = EXCLUDED.success_rate").
		Set("avg_latency_ms = EXCLUDED.avg_latency_ms").
		Set("error_count = EXCLUDED.error_count").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	for _, id := range s.Identifiers {
		idRow := &identifierRow{
			SessionID:       s.ID,
			IdentifierType:  string(id.Type),
			IdentifierValue: id.Value,
			Protocol:        id.Protocol,
			FirstSeen:       id.FirstSeen,
			LastSeen:        id.LastSeen,
			Confidence:      id.Confidence,
		}
		if _, err := st.db.NewInsert().Model(idRow).
			On("CONFLICT (session_id, identifier_type, identifier_value) DO UPDATE").
			Set("last_seen = EXCLUDED.last_seen").
			Set("confidence = EXCLUDED.confidence").
			Returning("NULL").
			Exec(ctx); err != nil {
			return fmt.Errorf("insert identifier: %w", err)
		}
	}

	for _, txn := range buildTransactions(s) {
		if _, err := st.db.NewInsert().Model(txn).
			On("CONFLICT (transaction_id) DO NOTHING").
			Returning("NULL").
			Exec(ctx); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	for _, loc := range s.LocationHistory {
		locRow := &locationRow{
			SessionID: s.ID,
			Timestamp: loc.Timestamp,
			Protocol:  loc.Protocol,
			MCC:       loc.MCC,
			MNC:       loc.MNC,
			CellID:    loc.CellID,
			TAC:       loc.TAC,
		}
		if _, err := st.db.NewInsert().Model(locRow).Returning("NULL").Exec(ctx); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}
	return nil
}

// buildTransactions folds the session's messages into one row per
// transaction: timestamp of the request, success unless any leg failed,
// latency when the response was paired.
func buildTransactions(s *Session) []*transactionRow {
	byID := make(map[string]*transactionRow)
	var order []string
	for _, m := range s.Messages {
		if m.TransactionID == "" {
			continue
		}
		tid := string(m.Protocol) + ":" + m.TransactionID
		row, ok := byID[tid]
		if !ok {
			row = &transactionRow{
				SessionID:     s.ID,
				TransactionID: tid,
				Protocol:      string(m.Protocol),
				Timestamp:     m.Timestamp,
				Success:       true,
			}
			byID[tid] = row
			order = append(order, tid)
		}
		if m.Result == decoder.ResultFailure || m.Result == decoder.ResultTimeout {
			row.Success = false
		}
		if m.IsResponse() {
			if lat := m.Timestamp.Sub(row.Timestamp); lat > 0 {
				row.LatencyMs = lat.Milliseconds()
			}
		}
	}
	out := make([]*transactionRow, 0, len(order))
	for _, tid := range order {
		out = append(out, byID[tid])
	}
	return out
}

// firstTransaction returns the first transaction id seen for a protocol.
func firstTransaction(s *Session, p decoder.Protocol) string {
	for _, m := range s.Messages {
		if m.Protocol == p && m.TransactionID != "" {
			return m.TransactionID
		}
	}
	return ""
}

// isConstraintViolation recognizes SQLSTATE class 23 (integrity constraint
// violation) from the pg driver.
func isConstraintViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Field('C'), "23")
	}
	return false
}
