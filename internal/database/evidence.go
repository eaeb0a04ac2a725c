package database

import (
	"context"
	"encoding/json"

	"github.com/iqsf/safetyindex/internal/store"
)

// GetEvidence returns all evidence items gathered for a report's
// questions. Questions that failed to resolve contribute nothing.
func (db *DB) GetEvidence(ctx context.Context, reportID int64) ([]store.EvidenceItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT e.question_id, e.answer_summary, e.key_findings, e.sources, e.created_at
		FROM evidence_items e
		JOIN questions q ON q.id = e.question_id
		WHERE q.report_id = ? ORDER BY e.question_id`, reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []store.EvidenceItem
	for rows.Next() {
		var item store.EvidenceItem
		var kfJSON, srcJSON *string
		if err := rows.Scan(&item.QuestionID, &item.Summary, &kfJSON, &srcJSON, &item.CreatedAt); err != nil {
			return nil, err
		}
		if kfJSON != nil {
			if err := json.Unmarshal([]byte(*kfJSON), &item.KeyFindings); err != nil {
				item.KeyFindings = nil
			}
		}
		if srcJSON != nil {
			if err := json.Unmarshal([]byte(*srcJSON), &item.Sources); err != nil {
				item.Sources = nil
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
