package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iqsf/safetyindex/internal/store"
)

// SaveScore inserts a report's score card. A report is scored at most
// once; a second insert for the same report fails on the primary key.
func (db *DB) SaveScore(ctx context.Context, score *store.Score) error {
	matrixJSON, err := json.Marshal(score.Matrix)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO index_scores (report_id, country, overall_score, score_matrix)
		VALUES (?, ?, ?, ?)`,
		score.ReportID, score.Country, score.OverallScore, string(matrixJSON),
	)
	return err
}

// GetScore returns a report's score card, or nil if it has none.
func (db *DB) GetScore(ctx context.Context, reportID int64) (*store.Score, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT report_id, country, overall_score, score_matrix, created_at
		FROM index_scores WHERE report_id = ?`, reportID,
	)

	var s store.Score
	var matrixJSON string
	err := row.Scan(&s.ReportID, &s.Country, &s.OverallScore, &matrixJSON, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(matrixJSON), &s.Matrix); err != nil {
		s.Matrix = nil
	}
	return &s, nil
}
