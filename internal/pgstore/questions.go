package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iqsf/safetyindex/internal/store"
)

const questionColumns = "id, report_id, question, status, claimed_at, claimed_by, created_at"

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
			"INSERT INTO questions (report_id, question, status) VALUES ($1, $2, $3)",
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
		"SELECT "+questionColumns+" FROM questions WHERE report_id = $1 ORDER BY id", reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []store.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// ClaimNextPending claims one PENDING, unclaimed question for the given
// worker. SKIP LOCKED makes concurrent claimers pick distinct rows
// without blocking.
func (db *DB) ClaimNextPending(ctx context.Context, workerID string) (*store.Question, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE questions SET claimed_at = now(), claimed_by = $1
		WHERE id = (
			SELECT id FROM questions
			WHERE status = $2 AND claimed_at IS NULL
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+questionColumns,
		workerID, string(store.QuestionPending),
	)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
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
		"SELECT status FROM questions WHERE id = $1 FOR UPDATE", questionID,
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
			VALUES ($1, $2, $3, $4)`,
			questionID, ev.Summary, string(kfJSON), string(srcJSON),
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE questions SET status = $1 WHERE id = $2",
		string(status), questionID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func scanQuestion(s rowScanner) (*store.Question, error) {
	var q store.Question
	var status string
	if err := s.Scan(&q.ID, &q.ReportID, &q.Text, &status,
		&q.ClaimedAt, &q.ClaimedBy, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Status = store.QuestionStatus(status)
	return &q, nil
}
