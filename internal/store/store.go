// Package store defines the shared persistence interface the pipeline
// stages coordinate through, plus the domain models and status state
// machines. Workers never talk to each other directly; every claim and
// transition goes through a Store implementation.
package store

import (
	"context"
	"errors"
)

// ErrInvalidTransition is returned when a status update would move a
// report or question backward or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound marks lookups of reports or report content that does not
// exist. The downstream transforms distinguish it from oracle failures.
var ErrNotFound = errors.New("not found")

// Store is the durable backing shared by all pipeline workers.
//
// The claim methods (ClaimNextPending, ClaimScorableReport,
// ClaimReviewReport) must each be a single atomic select-and-mark
// operation: one matching row leaves the claimable set in the same
// operation that returns it, so two concurrent callers never receive
// the same row. All claim methods return (nil, nil) when no eligible
// work exists.
type Store interface {
	// CreateReport inserts a report in PLANNING status and returns its
	// id. Returns 0 with a nil error when an in-flight report (PLANNING
	// or RESEARCHING) already exists for the country and pillar.
	CreateReport(ctx context.Context, country string, pillarID int) (int64, error)
	GetReport(ctx context.Context, reportID int64) (*Report, error)
	ListReports(ctx context.Context) ([]Report, error)

	// UpdateReportStatus applies a forward transition and clears any
	// claim marker. Returns ErrInvalidTransition if the state machine
	// forbids the move.
	UpdateReportStatus(ctx context.Context, reportID int64, status ReportStatus) error

	// ReleaseReport clears a report's claim marker without touching its
	// status, making it claimable again.
	ReleaseReport(ctx context.Context, reportID int64) error

	InsertQuestions(ctx context.Context, reportID int64, texts []string) error
	GetQuestions(ctx context.Context, reportID int64) ([]Question, error)

	// ClaimNextPending atomically claims one PENDING, unclaimed question
	// for the given worker.
	ClaimNextPending(ctx context.Context, workerID string) (*Question, error)

	// RecordQuestionOutcome resolves a question to a terminal status.
	// When evidence is non-nil it is inserted in the same transaction
	// as the status change.
	RecordQuestionOutcome(ctx context.Context, questionID int64, status QuestionStatus, ev *EvidenceItem) error

	// ClaimScorableReport atomically claims one RESEARCHING report none
	// of whose questions remain PENDING.
	ClaimScorableReport(ctx context.Context, workerID string) (*Report, error)

	// ClaimReviewReport atomically claims one REVIEW report.
	ClaimReviewReport(ctx context.Context, workerID string) (*Report, error)

	GetEvidence(ctx context.Context, reportID int64) ([]EvidenceItem, error)
	SaveScore(ctx context.Context, score *Score) error
	GetScore(ctx context.Context, reportID int64) (*Score, error)
	UpsertNarrative(ctx context.Context, reportID int64, text string) error
	GetNarrative(ctx context.Context, reportID int64) (*Narrative, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
