package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iqsf/safetyindex/internal/store"
)

// CreateReport inserts a report in PLANNING status and returns its ID.
// Returns 0 if an in-flight report already exists for the country and
// pillar (partial unique index).
func (db *DB) CreateReport(ctx context.Context, country string, pillarID int) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO reports (country, pillar_id, status) VALUES (?, ?, ?)`,
		country, pillarID, string(store.ReportPlanning),
	)
	if err != nil {
		// In-flight duplicate constraint
		return 0, nil //nolint: nilerr
	}
	return result.LastInsertId()
}

// GetReport returns a single report by ID, or nil if absent.
func (db *DB) GetReport(ctx context.Context, reportID int64) (*store.Report, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, country, pillar_id, status, claimed_at, claimed_by, created_at
		FROM reports WHERE id = ?`, reportID,
	)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReports returns all reports, newest first.
func (db *DB) ListReports(ctx context.Context) ([]store.Report, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, country, pillar_id, status, claimed_at, claimed_by, created_at
		FROM reports ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

// UpdateReportStatus applies a forward transition and releases any
// claim. The guarded update rejects the change if another worker moved
// the report in the meantime.
func (db *DB) UpdateReportStatus(ctx context.Context, reportID int64, status store.ReportStatus) error {
	var current string
	err := db.conn.QueryRowContext(ctx,
		"SELECT status FROM reports WHERE id = ?", reportID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("report %d not found", reportID)
	}
	if err != nil {
		return err
	}

	if !store.ValidReportTransition(store.ReportStatus(current), status) {
		return fmt.Errorf("report %d: %s -> %s: %w", reportID, current, status, store.ErrInvalidTransition)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE reports SET status = ?, claimed_at = NULL, claimed_by = NULL
		WHERE id = ? AND status = ?`,
		string(status), reportID, current,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("report %d moved concurrently: %w", reportID, store.ErrInvalidTransition)
	}
	return nil
}

// ReleaseReport clears a report's claim marker without changing status.
func (db *DB) ReleaseReport(ctx context.Context, reportID int64) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE reports SET claimed_at = NULL, claimed_by = NULL WHERE id = ?", reportID,
	)
	return err
}

// ClaimScorableReport claims one RESEARCHING report with no PENDING
// questions left. The single UPDATE makes the claim atomic.
func (db *DB) ClaimScorableReport(ctx context.Context, workerID string) (*store.Report, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE reports SET claimed_at = datetime('now'), claimed_by = ?
		WHERE id = (
			SELECT r.id FROM reports r
			WHERE r.status = ? AND r.claimed_at IS NULL
			  AND NOT EXISTS (
				SELECT 1 FROM questions q
				WHERE q.report_id = r.id AND q.status = ?)
			ORDER BY r.id
			LIMIT 1
		)
		RETURNING id, country, pillar_id, status, claimed_at, claimed_by, created_at`,
		workerID, string(store.ReportResearching), string(store.QuestionPending),
	)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ClaimReviewReport claims one REVIEW report for narration.
func (db *DB) ClaimReviewReport(ctx context.Context, workerID string) (*store.Report, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE reports SET claimed_at = datetime('now'), claimed_by = ?
		WHERE id = (
			SELECT id FROM reports
			WHERE status = ? AND claimed_at IS NULL
			ORDER BY id
			LIMIT 1
		)
		RETURNING id, country, pillar_id, status, claimed_at, claimed_by, created_at`,
		workerID, string(store.ReportReview),
	)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReportInto(s rowScanner) (*store.Report, error) {
	var r store.Report
	var status string
	if err := s.Scan(&r.ID, &r.Country, &r.PillarID, &status,
		&r.ClaimedAt, &r.ClaimedBy, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = store.ReportStatus(status)
	return &r, nil
}

func scanReport(row *sql.Row) (*store.Report, error) {
	return scanReportInto(row)
}

func scanReports(rows *sql.Rows) ([]store.Report, error) {
	var reports []store.Report
	for rows.Next() {
		r, err := scanReportInto(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}
