// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver
	"github.com/goccy/go-json"

	"github.com/tomtom215/netsentinel/internal/logging"
)

// DuckDBStore implements Store using DuckDB as the backend storage.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a new DuckDB-backed store.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// OpenDuckDB opens the alert database at path and verifies the
// connection. threads <= 0 uses the CPU count.
func OpenDuckDB(ctx context.Context, path, maxMemory string, threads int) (*sql.DB, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s", path, threads, maxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(runtime.NumCPU())
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

const alertSelectColumns = `
	alert_id, alert_type, source, severity, description, producer, payload,
	status, correlation_key, occurrence_count, first_seen, last_seen,
	created_at, updated_at`

// InitSchema creates the alert tables if they don't exist.
func (s *DuckDBStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			alert_type TEXT NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT,
			producer TEXT,
			payload JSON,
			status TEXT NOT NULL,
			correlation_key TEXT NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 1,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		// Append-only status history, one row per transition.
		`CREATE TABLE IF NOT EXISTS alert_transitions (
			alert_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			from_status TEXT,
			to_status TEXT NOT NULL,
			actor TEXT,
			at TIMESTAMP NOT NULL,
			PRIMARY KEY (alert_id, seq)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_alerts_correlation_key ON alerts(correlation_key)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_alert_type ON alerts(alert_type)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	// Force a checkpoint after creating tables to flush the WAL.
	// This prevents DuckDB WAL replay issues on restart.
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after alert schema initialization")
	}

	return nil
}

// CreateAlert persists a new alert and its creation record in one
// transaction.
func (s *DuckDBStore) CreateAlert(ctx context.Context, a *Alert, rec *TransitionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Cast Payload to []byte to avoid DuckDB driver issue with
	// json.RawMessage (DuckDB rejects json.Marshaler but accepts []byte)
	var payload []byte
	if a.Details.Payload != nil {
		payload = []byte(a.Details.Payload)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO alerts
		(alert_id, alert_type, source, severity, description, producer, payload,
		 status, correlation_key, occurrence_count, first_seen, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.AlertType, a.Source, a.Severity, a.Description,
		a.Details.Producer, payload, a.Status, a.CorrelationKey,
		a.OccurrenceCount, a.FirstSeen, a.LastSeen, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	rec.Seq = 1
	if err := insertTransition(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert creation: %w", err)
	}
	return nil
}

// UpdateCorrelation replaces the correlation-owned fields of an alert.
func (s *DuckDBStore) UpdateCorrelation(ctx context.Context, a *Alert) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts
		SET occurrence_count = ?, last_seen = ?, severity = ?, updated_at = ?
		WHERE alert_id = ?`,
		a.OccurrenceCount, a.LastSeen, a.Severity, a.UpdatedAt, a.AlertID)
	if err != nil {
		return fmt.Errorf("failed to update correlation fields: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAlert retrieves an alert by ID.
func (s *DuckDBStore) GetAlert(ctx context.Context, alertID string) (*Alert, error) {
	query := `SELECT ` + alertSelectColumns + ` FROM alerts WHERE alert_id = ?`

	a := &Alert{}
	err := scanAlert(s.db.QueryRowContext(ctx, query, alertID), a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// GetOpenByCorrelationKey returns the most recently seen open alert for
// the key, or nil when none exists.
func (s *DuckDBStore) GetOpenByCorrelationKey(ctx context.Context, key string) (*Alert, error) {
	query := `SELECT ` + alertSelectColumns + ` FROM alerts
		WHERE correlation_key = ? AND status != 'closed'
		ORDER BY last_seen DESC
		LIMIT 1`

	a := &Alert{}
	err := scanAlert(s.db.QueryRowContext(ctx, query, key), a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open alert by key: %w", err)
	}
	return a, nil
}

// ListAlerts retrieves alerts matching the filter plus the total count.
// All user values use parameterized queries; the ordering clause is
// fixed.
func (s *DuckDBStore) ListAlerts(ctx context.Context, filter Filter) ([]Alert, int, error) {
	where, args := buildAlertFilters(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := `SELECT ` + alertSelectColumns + ` FROM alerts` + where +
		` ORDER BY created_at DESC, alert_id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var a Alert
		if err := scanAlert(rows, &a); err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

// ApplyTransition CASes the alert's status and appends the record in
// one transaction.
func (s *DuckDBStore) ApplyTransition(ctx context.Context, alertID string, expect Status, rec *TransitionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_at = ? WHERE alert_id = ? AND status = ?`,
		rec.To, rec.At, alertID, expect)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		// Distinguish a missing alert from a lost status race.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM alerts WHERE alert_id = ?)`, alertID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check alert existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM alert_transitions WHERE alert_id = ?`,
		alertID).Scan(&rec.Seq); err != nil {
		return fmt.Errorf("failed to compute transition sequence: %w", err)
	}
	if err := insertTransition(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// ListTransitions returns an alert's transition log in sequence order.
func (s *DuckDBStore) ListTransitions(ctx context.Context, alertID string) ([]TransitionRecord, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM alerts WHERE alert_id = ?)`, alertID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check alert existence: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `SELECT alert_id, seq, COALESCE(from_status, ''), to_status, COALESCE(actor, ''), at
		FROM alert_transitions WHERE alert_id = ? ORDER BY seq ASC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var recs []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(&r.AlertID, &r.Seq, &r.From, &r.To, &r.Actor, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// StatusSummary aggregates counts by status, severity, and type.
func (s *DuckDBStore) StatusSummary(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		ByStatus:   make(map[Status]int),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, severity, alert_type, COUNT(*) FROM alerts GROUP BY status, severity, alert_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var severity Severity
		var alertType string
		var count int
		if err := rows.Scan(&status, &severity, &alertType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		sum.Total += count
		sum.ByStatus[status] += count
		sum.BySeverity[severity] += count
		sum.ByType[alertType] += count
	}
	return sum, rows.Err()
}

// insertTransition appends one transition row inside a transaction.
func insertTransition(ctx context.Context, tx *sql.Tx, rec *TransitionRecord) error {
	var from interface{}
	if rec.From != "" {
		from = string(rec.From)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alert_transitions (alert_id, seq, from_status, to_status, actor, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.AlertID, rec.Seq, from, rec.To, rec.Actor, rec.At); err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// buildAlertFilters constructs the WHERE clause and args for a filter.
func buildAlertFilters(filter Filter) (string, []interface{}) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)

	if len(filter.Statuses) > 0 {
		where += fmt.Sprintf(" AND status IN (%s)", buildPlaceholders(len(filter.Statuses)))
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(filter.Severities) > 0 {
		where += fmt.Sprintf(" AND severity IN (%s)", buildPlaceholders(len(filter.Severities)))
		for _, sev := range filter.Severities {
			args = append(args, sev)
		}
	}
	if len(filter.AlertTypes) > 0 {
		where += fmt.Sprintf(" AND alert_type IN (%s)", buildPlaceholders(len(filter.AlertTypes)))
		for _, t := range filter.AlertTypes {
			args = append(args, t)
		}
	}
	if filter.Query != "" {
		where += " AND (description ILIKE ? OR source ILIKE ?)"
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}
	if filter.Start != nil {
		where += " AND created_at >= ?"
		args = append(args, *filter.Start)
	}
	if filter.End != nil {
		where += " AND created_at <= ?"
		args = append(args, *filter.End)
	}

	return where, args
}

// buildPlaceholders creates a comma-separated string of ? placeholders.
func buildPlaceholders(count int) string {
	placeholders := "?"
	for i := 1; i < count; i++ {
		placeholders += ", ?"
	}
	return placeholders
}

// scanAlert scans a single alert row.
func scanAlert(scanner interface{ Scan(dest ...interface{}) error }, a *Alert) error {
	var description, producer sql.NullString
	var payload interface{} // DuckDB returns JSON as map[string]interface{}

	if err := scanner.Scan(
		&a.AlertID,
		&a.AlertType,
		&a.Source,
		&a.Severity,
		&description,
		&producer,
		&payload,
		&a.Status,
		&a.CorrelationKey,
		&a.OccurrenceCount,
		&a.FirstSeen,
		&a.LastSeen,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return err
	}

	if description.Valid {
		a.Description = description.String
	}
	if producer.Valid {
		a.Details.Producer = producer.String
	}

	// Convert the payload back to JSON bytes
	if payload != nil {
		if payloadBytes, err := json.Marshal(payload); err == nil {
			a.Details.Payload = payloadBytes
		}
	}
	return nil
}
