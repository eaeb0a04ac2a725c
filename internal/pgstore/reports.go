package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iqsf/safetyindex/internal/store"
)

const reportColumns = "id, country, pillar_id, status, claimed_at, claimed_by, created_at"

// CreateReport inserts a report in PLANNING status and returns its ID.
// The partial unique index turns an in-flight duplicate into a no-op
// insert, reported as ID 0.
func (db *DB) CreateReport(ctx context.Context, country string, pillarID int) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO reports (country, pillar_id, status) VALUES ($1, $2, $3)
		ON CONFLICT (country, pillar_id) WHERE status IN ('PLANNING', 'RESEARCHING') DO NOTHING
		RETURNING id`,
		country, pillarID, string(store.ReportPlanning),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetReport returns a single report by ID, or nil if absent.
func (db *DB) GetReport(ctx context.Context, reportID int64) (*store.Report, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+reportColumns+" FROM reports WHERE id = $1", reportID,
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
		"SELECT "+reportColumns+" FROM reports ORDER BY id DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []store.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// UpdateReportStatus applies a forward transition and releases any
// claim. The row is locked for the duration of the check so a
// concurrent mover cannot slip between read and write.
func (db *DB) UpdateReportStatus(ctx context.Context, reportID int64, status store.ReportStatus) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM reports WHERE id = $1 FOR UPDATE", reportID,
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

	if _, err := tx.ExecContext(ctx,
		"UPDATE reports SET status = $1, claimed_at = NULL, claimed_by = NULL WHERE id = $2",
		string(status), reportID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseReport clears a report's claim marker without changing status.
func (db *DB) ReleaseReport(ctx context.Context, reportID int64) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE reports SET claimed_at = NULL, claimed_by = NULL WHERE id = $1", reportID,
	)
	return err
}

// ClaimScorableReport claims one RESEARCHING report with no PENDING
// questions left. SKIP LOCKED lets concurrent scorers pass over rows
// another worker is claiming.
func (db *DB) ClaimScorableReport(ctx context.Context, workerID string) (*store.Report, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE reports SET claimed_at = now(), claimed_by = $1
		WHERE id = (
			SELECT r.id FROM reports r
			WHERE r.status = $2 AND r.claimed_at IS NULL
			  AND NOT EXISTS (
				SELECT 1 FROM questions q
				WHERE q.report_id = r.id AND q.status = $3)
			ORDER BY r.id
			LIMIT 1
			FOR UPDATE OF r SKIP LOCKED
		)
		RETURNING `+reportColumns,
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
		`UPDATE reports SET claimed_at = now(), claimed_by = $1
		WHERE id = (
			SELECT id FROM reports
			WHERE status = $2 AND claimed_at IS NULL
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reportColumns,
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

func scanReport(s rowScanner) (*store.Report, error) {
	var r store.Report
	var status string
	if err := s.Scan(&r.ID, &r.Country, &r.PillarID, &status,
		&r.ClaimedAt, &r.ClaimedBy, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = store.ReportStatus(status)
	return &r, nil
}
