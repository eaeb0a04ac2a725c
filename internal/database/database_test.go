package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/iqsf/safetyindex/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// researchingReport creates a report with the given questions and moves
// it to RESEARCHING, the state the gatherer and scorer operate on.
func researchingReport(t *testing.T, db *DB, country string, questions []string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := db.CreateReport(ctx, country, 3)
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	if id == 0 {
		t.Fatalf("CreateReport returned 0 for %s", country)
	}
	if err := db.InsertQuestions(ctx, id, questions); err != nil {
		t.Fatalf("InsertQuestions: %v", err)
	}
	if err := db.UpdateReportStatus(ctx, id, store.ReportResearching); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}
	return id
}

func TestCreateReport(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.CreateReport(ctx, "Testland", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero report ID")
	}

	r, err := db.GetReport(ctx, id)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if r == nil {
		t.Fatal("expected report")
	}
	if r.Country != "Testland" || r.PillarID != 3 {
		t.Errorf("unexpected report %+v", r)
	}
	if r.Status != store.ReportPlanning {
		t.Errorf("expected PLANNING, got %s", r.Status)
	}
}

func TestCreateReportInFlightDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, _ := db.CreateReport(ctx, "Testland", 3)
	if first == 0 {
		t.Fatal("expected first create to succeed")
	}

	dup, err := db.CreateReport(ctx, "Testland", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup != 0 {
		t.Errorf("expected 0 for in-flight duplicate, got %d", dup)
	}

	// A different pillar is not a duplicate.
	other, _ := db.CreateReport(ctx, "Testland", 1)
	if other == 0 {
		t.Error("expected create for different pillar to succeed")
	}
}

func TestCreateReportAfterTerminal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, _ := db.CreateReport(ctx, "Testland", 3)
	if err := db.UpdateReportStatus(ctx, first, store.ReportPlanFailed); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}

	// The failed report is no longer in flight, so a re-plan may start.
	second, err := db.CreateReport(ctx, "Testland", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == 0 {
		t.Error("expected create after terminal status to succeed")
	}
}

func TestGetReportAbsent(t *testing.T) {
	db := openTestDB(t)
	r, err := db.GetReport(context.Background(), 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != nil {
		t.Error("expected nil for absent report")
	}
}

func TestInsertAndGetQuestions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?", "Q2?", "Q3?"})

	questions, err := db.GetQuestions(ctx, id)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	for i, q := range questions {
		if q.Status != store.QuestionPending {
			t.Errorf("question %d: expected PENDING, got %s", i, q.Status)
		}
		if q.ReportID != id {
			t.Errorf("question %d: expected report %d, got %d", i, id, q.ReportID)
		}
	}
	if questions[0].Text != "Q1?" {
		t.Errorf("expected insertion order preserved, got %q first", questions[0].Text)
	}
}

func TestClaimNextPending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	researchingReport(t, db, "Testland", []string{"Q1?", "Q2?"})

	q1, err := db.ClaimNextPending(ctx, "worker-a")
	if err != nil {
		t.Fatalf("ClaimNextPending: %v", err)
	}
	if q1 == nil {
		t.Fatal("expected a claimed question")
	}
	if q1.Text != "Q1?" {
		t.Errorf("expected oldest question first, got %q", q1.Text)
	}
	if q1.ClaimedBy == nil || *q1.ClaimedBy != "worker-a" {
		t.Error("expected claim marker to record the worker")
	}

	q2, _ := db.ClaimNextPending(ctx, "worker-b")
	if q2 == nil {
		t.Fatal("expected a second question")
	}
	if q2.ID == q1.ID {
		t.Error("same question claimed twice")
	}

	q3, err := db.ClaimNextPending(ctx, "worker-c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q3 != nil {
		t.Errorf("expected no work, got question %d", q3.ID)
	}
}

func TestClaimSingleQuestionConcurrent(t *testing.T) {
	db := openTestDB(t)
	researchingReport(t, db, "Testland", []string{"only one"})

	const workers = 8
	var wg sync.WaitGroup
	claims := make([]*store.Question, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claims[i], errs[i] = db.ClaimNextPending(context.Background(), "worker")
		}(i)
	}
	wg.Wait()

	won := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if claims[i] != nil {
			won++
		}
	}
	if won != 1 {
		t.Errorf("expected exactly 1 successful claim, got %d", won)
	}
}

func TestConcurrentGatherersDrainQueue(t *testing.T) {
	db := openTestDB(t)
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = "question"
	}
	id := researchingReport(t, db, "Testland", texts)

	var mu sync.Mutex
	claimed := make(map[int64]int)

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			for {
				q, err := db.ClaimNextPending(ctx, "worker")
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if q == nil {
					return
				}
				mu.Lock()
				claimed[q.ID]++
				mu.Unlock()
				if err := db.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete,
					&store.EvidenceItem{QuestionID: q.ID, Summary: "s"}); err != nil {
					t.Errorf("record outcome: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != len(texts) {
		t.Errorf("expected %d distinct claims, got %d", len(texts), len(claimed))
	}
	for qid, n := range claimed {
		if n != 1 {
			t.Errorf("question %d claimed %d times", qid, n)
		}
	}

	questions, _ := db.GetQuestions(context.Background(), id)
	for _, q := range questions {
		if q.Status != store.QuestionComplete {
			t.Errorf("question %d: expected COMPLETE, got %s", q.ID, q.Status)
		}
	}
}

func TestRecordQuestionOutcomeWithEvidence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})

	q, _ := db.ClaimNextPending(ctx, "w")
	ev := &store.EvidenceItem{
		QuestionID:  q.ID,
		Summary:     "Summary of findings",
		KeyFindings: []string{"finding one", "finding two"},
		Sources: []store.Source{
			{URL: "https://example.org/a", Title: "Report A", Organization: "Org", Quote: "quoted text"},
		},
	}
	if err := db.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete, ev); err != nil {
		t.Fatalf("RecordQuestionOutcome: %v", err)
	}

	items, err := db.GetEvidence(ctx, id)
	if err != nil {
		t.Fatalf("GetEvidence: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 evidence item, got %d", len(items))
	}
	got := items[0]
	if got.Summary != "Summary of findings" {
		t.Errorf("unexpected summary %q", got.Summary)
	}
	if len(got.KeyFindings) != 2 {
		t.Errorf("expected 2 key findings, got %d", len(got.KeyFindings))
	}
	if len(got.Sources) != 1 || got.Sources[0].URL != "https://example.org/a" {
		t.Errorf("unexpected sources %+v", got.Sources)
	}

	questions, _ := db.GetQuestions(ctx, id)
	if questions[0].Status != store.QuestionComplete {
		t.Errorf("expected COMPLETE, got %s", questions[0].Status)
	}
}

func TestRecordQuestionOutcomeTerminal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	researchingReport(t, db, "Testland", []string{"Q1?"})

	q, _ := db.ClaimNextPending(ctx, "w")
	if err := db.RecordQuestionOutcome(ctx, q.ID, store.QuestionResearchFailed, nil); err != nil {
		t.Fatalf("RecordQuestionOutcome: %v", err)
	}

	// All outcomes are terminal: a resolved question cannot be re-resolved.
	err := db.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete, nil)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRecordQuestionOutcomeSaveFailed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})

	q, _ := db.ClaimNextPending(ctx, "w")
	if err := db.RecordQuestionOutcome(ctx, q.ID, store.QuestionSaveFailed, nil); err != nil {
		t.Fatalf("RecordQuestionOutcome: %v", err)
	}

	items, _ := db.GetEvidence(ctx, id)
	if len(items) != 0 {
		t.Errorf("expected no evidence for SAVE_FAILED, got %d items", len(items))
	}
}

func TestUpdateReportStatusRejectsBackward(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})

	err := db.UpdateReportStatus(ctx, id, store.ReportPlanning)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	r, _ := db.GetReport(ctx, id)
	if r.Status != store.ReportResearching {
		t.Errorf("status changed despite rejection: %s", r.Status)
	}
}

func TestUpdateReportStatusRejectsSkip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, _ := db.CreateReport(ctx, "Testland", 3)

	err := db.UpdateReportStatus(ctx, id, store.ReportComplete)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for PLANNING -> COMPLETE, got %v", err)
	}
}

func TestScorableClaimRequiresBarrier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?", "Q2?"})

	// One question still PENDING: barrier not satisfied.
	q1, _ := db.ClaimNextPending(ctx, "w")
	db.RecordQuestionOutcome(ctx, q1.ID, store.QuestionComplete, &store.EvidenceItem{QuestionID: q1.ID, Summary: "s"})

	r, err := db.ClaimScorableReport(ctx, "scorer")
	if err != nil {
		t.Fatalf("ClaimScorableReport: %v", err)
	}
	if r != nil {
		t.Fatal("claimed a report with a PENDING question")
	}

	// Resolve the rest; failure outcomes satisfy the barrier too.
	q2, _ := db.ClaimNextPending(ctx, "w")
	db.RecordQuestionOutcome(ctx, q2.ID, store.QuestionResearchFailed, nil)

	r, err = db.ClaimScorableReport(ctx, "scorer")
	if err != nil {
		t.Fatalf("ClaimScorableReport: %v", err)
	}
	if r == nil {
		t.Fatal("expected to claim the report once the barrier is satisfied")
	}
	if r.ID != id {
		t.Errorf("claimed wrong report %d", r.ID)
	}
	if r.ClaimedBy == nil || *r.ClaimedBy != "scorer" {
		t.Error("expected claim marker to record the worker")
	}

	// The claim removed it from the claimable set.
	again, _ := db.ClaimScorableReport(ctx, "other")
	if again != nil {
		t.Error("report claimed twice")
	}
}

func TestClaimedPendingQuestionBlocksBarrier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	researchingReport(t, db, "Testland", []string{"Q1?"})

	// Claimed but unresolved still counts as PENDING for the barrier.
	if q, _ := db.ClaimNextPending(ctx, "w"); q == nil {
		t.Fatal("expected claim to succeed")
	}

	r, _ := db.ClaimScorableReport(ctx, "scorer")
	if r != nil {
		t.Error("claimed a report whose question is in flight")
	}
}

func TestUpdateReportStatusClearsClaim(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})
	q, _ := db.ClaimNextPending(ctx, "w")
	db.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete, &store.EvidenceItem{QuestionID: q.ID, Summary: "s"})

	r, _ := db.ClaimScorableReport(ctx, "scorer")
	if r == nil {
		t.Fatal("expected scorable report")
	}
	if err := db.UpdateReportStatus(ctx, id, store.ReportReview); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}

	// Entering REVIEW cleared the scorer's claim, so the narrator can claim.
	rv, err := db.ClaimReviewReport(ctx, "narrator")
	if err != nil {
		t.Fatalf("ClaimReviewReport: %v", err)
	}
	if rv == nil {
		t.Fatal("expected review report to be claimable")
	}
	if rv.ID != id {
		t.Errorf("claimed wrong report %d", rv.ID)
	}
}

func TestReleaseReportMakesClaimableAgain(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})
	q, _ := db.ClaimNextPending(ctx, "w")
	db.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete, &store.EvidenceItem{QuestionID: q.ID, Summary: "s"})
	db.ClaimScorableReport(ctx, "scorer")
	db.UpdateReportStatus(ctx, id, store.ReportReview)

	first, _ := db.ClaimReviewReport(ctx, "narrator-1")
	if first == nil {
		t.Fatal("expected first claim to succeed")
	}
	second, _ := db.ClaimReviewReport(ctx, "narrator-2")
	if second != nil {
		t.Fatal("claimed report twice without release")
	}

	// Narrator failure path: release without a status change.
	if err := db.ReleaseReport(ctx, id); err != nil {
		t.Fatalf("ReleaseReport: %v", err)
	}
	r, _ := db.GetReport(ctx, id)
	if r.Status != store.ReportReview {
		t.Errorf("release changed status to %s", r.Status)
	}

	retry, _ := db.ClaimReviewReport(ctx, "narrator-2")
	if retry == nil {
		t.Error("expected released report to be claimable again")
	}
}

func TestSaveAndGetScore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})

	score := &store.Score{
		ReportID:     id,
		Country:      "Testland",
		OverallScore: 6.4,
		Matrix: map[string]store.DimensionScore{
			"legal_protections": {
				OverallScore:  7.0,
				Justification: "strong statutes, uneven enforcement",
				IdentityScores: map[string]store.IdentityScore{
					"Transgender": {Score: 5.5, Notes: "recognition procedure requires diagnosis"},
					"Gay/Lesbian": {Score: 8.0, Notes: "full marriage equality"},
				},
			},
		},
	}
	if err := db.SaveScore(ctx, score); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}

	got, err := db.GetScore(ctx, id)
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if got == nil {
		t.Fatal("expected score")
	}
	if got.OverallScore != 6.4 || got.Country != "Testland" {
		t.Errorf("unexpected score %+v", got)
	}
	dim, ok := got.Matrix["legal_protections"]
	if !ok {
		t.Fatal("expected legal_protections in matrix")
	}
	if dim.IdentityScores["Transgender"].Score != 5.5 {
		t.Errorf("unexpected identity score %+v", dim.IdentityScores["Transgender"])
	}

	// At most one score per report.
	if err := db.SaveScore(ctx, score); err == nil {
		t.Error("expected duplicate score insert to fail")
	}
}

func TestUpsertNarrativeReplaces(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := researchingReport(t, db, "Testland", []string{"Q1?"})

	if err := db.UpsertNarrative(ctx, id, "first draft"); err != nil {
		t.Fatalf("UpsertNarrative: %v", err)
	}
	if err := db.UpsertNarrative(ctx, id, "second draft"); err != nil {
		t.Fatalf("UpsertNarrative (replace): %v", err)
	}

	n, err := db.GetNarrative(ctx, id)
	if err != nil {
		t.Fatalf("GetNarrative: %v", err)
	}
	if n == nil || n.Text != "second draft" {
		t.Errorf("expected replacement text, got %+v", n)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id := researchingReport(t, db, "Testland", []string{"Q1?", "Q2?"})
	q, _ := db.ClaimNextPending(ctx, "w")
	db.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete, &store.EvidenceItem{QuestionID: q.ID, Summary: "s"})
	db.UpsertNarrative(ctx, id, "text")

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalReports != 1 || stats.Researching != 1 {
		t.Errorf("unexpected report counts %+v", stats)
	}
	if stats.TotalQuestions != 2 || stats.Pending != 1 || stats.Answered != 1 {
		t.Errorf("unexpected question counts %+v", stats)
	}
	if stats.EvidenceItems != 1 || stats.Narratives != 1 || stats.Scores != 0 {
		t.Errorf("unexpected content counts %+v", stats)
	}
}

func TestListReports(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.CreateReport(ctx, "Aland", 3)
	db.CreateReport(ctx, "Bland", 3)

	reports, err := db.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Country != "Bland" {
		t.Errorf("expected newest first, got %q", reports[0].Country)
	}
}
