package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iqsf/safetyindex/internal/store"
)

// GetEvidence returns all evidence items gathered for a report's
// questions.
func (db *DB) GetEvidence(ctx context.Context, reportID int64) ([]store.EvidenceItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT e.question_id, e.answer_summary, e.key_findings, e.sources, e.created_at
		FROM evidence_items e
		JOIN questions q ON q.id = e.question_id
		WHERE q.report_id = $1 ORDER BY e.question_id`, reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []store.EvidenceItem
	for rows.Next() {
		var item store.EvidenceItem
		var kfJSON, srcJSON []byte
		if err := rows.Scan(&item.QuestionID, &item.Summary, &kfJSON, &srcJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		if len(kfJSON) > 0 {
			if err := json.Unmarshal(kfJSON, &item.KeyFindings); err != nil {
				item.KeyFindings = nil
			}
		}
		if len(srcJSON) > 0 {
			if err := json.Unmarshal(srcJSON, &item.Sources); err != nil {
				item.Sources = nil
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveScore inserts a report's score card.
func (db *DB) SaveScore(ctx context.Context, score *store.Score) error {
	matrixJSON, err := json.Marshal(score.Matrix)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO index_scores (report_id, country, overall_score, score_matrix)
		VALUES ($1, $2, $3, $4)`,
		score.ReportID, score.Country, score.OverallScore, string(matrixJSON),
	)
	return err
}

// GetScore returns a report's score card, or nil if it has none.
func (db *DB) GetScore(ctx context.Context, reportID int64) (*store.Score, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT report_id, country, overall_score, score_matrix, created_at
		FROM index_scores WHERE report_id = $1`, reportID,
	)

	var s store.Score
	var matrixJSON []byte
	err := row.Scan(&s.ReportID, &s.Country, &s.OverallScore, &matrixJSON, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(matrixJSON, &s.Matrix); err != nil {
		s.Matrix = nil
	}
	return &s, nil
}

// UpsertNarrative inserts or replaces the narrative for a report.
func (db *DB) UpsertNarrative(ctx context.Context, reportID int64, text string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO narratives (report_id, narrative) VALUES ($1, $2)
		ON CONFLICT (report_id) DO UPDATE SET
			narrative = excluded.narrative,
			updated_at = now()`,
		reportID, text,
	)
	return err
}

// GetNarrative returns the narrative for a report, or nil if absent.
func (db *DB) GetNarrative(ctx context.Context, reportID int64) (*store.Narrative, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT report_id, narrative, updated_at FROM narratives WHERE report_id = $1",
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

// GetStats returns aggregate pipeline statistics.
func (db *DB) GetStats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM reports GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.TotalReports += count
		switch store.ReportStatus(status) {
		case store.ReportPlanning:
			stats.Planning = count
		case store.ReportPlanFailed:
			stats.PlanFailed = count
		case store.ReportResearching:
			stats.Researching = count
		case store.ReportScoringFailed:
			stats.ScoringFailed = count
		case store.ReportReview:
			stats.Review = count
		case store.ReportComplete:
			stats.Complete = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	qrows, err := db.conn.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM questions GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer qrows.Close()
	for qrows.Next() {
		var status string
		var count int
		if err := qrows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.TotalQuestions += count
		switch store.QuestionStatus(status) {
		case store.QuestionPending:
			stats.Pending = count
		case store.QuestionComplete:
			stats.Answered = count
		case store.QuestionResearchFailed:
			stats.ResearchFailed = count
		case store.QuestionSaveFailed:
			stats.SaveFailed = count
		}
	}
	if err := qrows.Err(); err != nil {
		return nil, err
	}

	singles := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM evidence_items", &stats.EvidenceItems},
		{"SELECT COUNT(*) FROM index_scores", &stats.Scores},
		{"SELECT COUNT(*) FROM narratives", &stats.Narratives},
	}
	for _, s := range singles {
		if err := db.conn.QueryRowContext(ctx, s.query).Scan(s.dest); err != nil {
			return nil, err
		}
	}

	return stats, nil
}
