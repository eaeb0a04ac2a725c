package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iqsf/safetyindex/internal/store"
)

// InsertQuestions bulk-inserts PENDING questions for a report in one
// transaction.
func (db *DB) InsertQuestions(ctx context.Context, reportID int64, texts []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, text := range texts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO questions (report_id, question, status) VALUES (?, ?, ?)",
			reportID, text, string(store.QuestionPending),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetQuestions returns all questions for a report in insertion order.
func (db *DB) GetQuestions(ctx context.Context, reportID int64) ([]store.Question, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, report_id, question, status, claimed_at, claimed_by, created_at
		FROM questions WHERE report_id = ? ORDER BY id`, reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []store.Question
	for rows.Next() {
		var q store.Question
		var status string
		if err := rows.Scan(&q.ID, &q.ReportID, &q.Text, &status,
			&q.ClaimedAt, &q.ClaimedBy, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.Status = store.QuestionStatus(status)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ClaimNextPending claims one PENDING, unclaimed question for the given
// worker. Selecting and marking happen in a single UPDATE so two
// concurrent callers never receive the same question. Returns nil when
// no work is available.
func (db *DB) ClaimNextPending(ctx context.Context, workerID string) (*store.Question, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE questions SET claimed_at = datetime('now'), claimed_by = ?
		WHERE id = (
			SELECT id FROM questions
			WHERE status = ? AND claimed_at IS NULL
			ORDER BY id
			LIMIT 1
		)
		RETURNING id, report_id, question, status, claimed_at, claimed_by, created_at`,
		workerID, string(store.QuestionPending),
	)

	var q store.Question
	var status string
	err := row.Scan(&q.ID, &q.ReportID, &q.Text, &status,
		&q.ClaimedAt, &q.ClaimedBy, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.Status = store.QuestionStatus(status)
	return &q, nil
}

// RecordQuestionOutcome resolves a question to a terminal status. When
// evidence is non-nil it is inserted in the same transaction, so either
// both the evidence and the status land or neither does.
func (db *DB) RecordQuestionOutcome(ctx context.Context, questionID int64, status store.QuestionStatus, ev *store.EvidenceItem) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM questions WHERE id = ?", questionID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("question %d not found", questionID)
	}
	if err != nil {
		return err
	}

	if !store.ValidQuestionTransition(store.QuestionStatus(current), status) {
		return fmt.Errorf("question %d: %s -> %s: %w", questionID, current, status, store.ErrInvalidTransition)
	}

	if ev != nil {
		kfJSON, err := json.Marshal(ev.KeyFindings)
		if err != nil {
			return err
		}
		srcJSON, err := json.Marshal(ev.Sources)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_items (question_id, answer_summary, key_findings, sources)
			VALUES (?, ?, ?, ?)`,
			questionID, ev.Summary, string(kfJSON), string(srcJSON),
		); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE questions SET status = ? WHERE id = ? AND status = ?",
		string(status), questionID, current,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("question %d resolved concurrently: %w", questionID, store.ErrInvalidTransition)
	}

	return tx.Commit()
}
