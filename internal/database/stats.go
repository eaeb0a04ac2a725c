package database

import (
	"context"

	"github.com/iqsf/safetyindex/internal/store"
)

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
