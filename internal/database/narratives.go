package database

import (
	"context"
	"database/sql"

	"github.com/iqsf/safetyindex/internal/store"
)

// UpsertNarrative inserts or replaces the narrative for a report.
// Re-narrating a report overwrites the previous text.
func (db *DB) UpsertNarrative(ctx context.Context, reportID int64, text string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO narratives (report_id, narrative) VALUES (?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			narrative = excluded.narrative,
			updated_at = datetime('now')`,
		reportID, text,
	)
	return err
}

// GetNarrative returns the narrative for a report, or nil if absent.
func (db *DB) GetNarrative(ctx context.Context, reportID int64) (*store.Narrative, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT report_id, narrative, updated_at FROM narratives WHERE report_id = ?`,
		reportID,
	)

	var n store.Narrative
	err := row.Scan(&n.ReportID, &n.Text, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
