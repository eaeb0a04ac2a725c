package score

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iqsf/safetyindex/internal/database"
	"github.com/iqsf/safetyindex/internal/store"
)

const scoreCardJSON = `{
	"overall_weighted_score": 6.5,
	"score_matrix": {
		"legal_protections": {
			"overall_score": 7.0,
			"justification": "Strong statutory protections with uneven enforcement.",
			"identity_scores": {
				"Gay/Lesbian": {"score": 7.5, "notes": "Well established case law"},
				"Transgender": {"score": 5.5, "notes": "Recognition procedures remain slow"}
			}
		}
	}
}`

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	calls    int
}

func (m *mockProvider) Generate(_ context.Context, _ string, _ int) (string, error) {
	m.calls++
	return m.response, m.err
}

func (m *mockProvider) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return m.Generate(ctx, prompt, maxTokens)
}

func (m *mockProvider) IsConfigured() bool { return true }

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedResearchingReport creates a RESEARCHING report with the given
// question statuses. Statuses other than PENDING are applied through
// RecordQuestionOutcome, with evidence attached for COMPLETE questions.
func seedResearchingReport(t *testing.T, db *database.DB, statuses []store.QuestionStatus) int64 {
	t.Helper()
	ctx := context.Background()

	reportID, err := db.CreateReport(ctx, "Testland", 3)
	if err != nil || reportID == 0 {
		t.Fatalf("CreateReport: id=%d err=%v", reportID, err)
	}
	var texts []string
	for range statuses {
		texts = append(texts, "How safe is Testland?")
	}
	if err := db.InsertQuestions(ctx, reportID, texts); err != nil {
		t.Fatalf("InsertQuestions: %v", err)
	}
	if err := db.UpdateReportStatus(ctx, reportID, store.ReportResearching); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}

	questions, err := db.GetQuestions(ctx, reportID)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	for i, status := range statuses {
		if status == store.QuestionPending {
			continue
		}
		var ev *store.EvidenceItem
		if status == store.QuestionComplete {
			ev = &store.EvidenceItem{
				QuestionID:  questions[i].ID,
				Summary:     "Testland evidence summary.",
				KeyFindings: []string{"finding"},
				Sources:     []store.Source{{URL: "https://example.org", Title: "T", Organization: "Org", Quote: "q"}},
			}
		}
		if err := db.RecordQuestionOutcome(ctx, questions[i].ID, status, ev); err != nil {
			t.Fatalf("RecordQuestionOutcome: %v", err)
		}
	}
	return reportID
}

func TestScoreOneNoWork(t *testing.T) {
	db := openTestDB(t)
	scorer := NewScorer(db, &mockProvider{response: scoreCardJSON})

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome != nil {
		t.Fatalf("expected no work, got outcome for report %d", outcome.ReportID)
	}
}

func TestScoreOneSuccess(t *testing.T) {
	db := openTestDB(t)
	reportID := seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionComplete, store.QuestionComplete})
	scorer := NewScorer(db, &mockProvider{response: scoreCardJSON})

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome == nil || outcome.ReportID != reportID {
		t.Fatalf("expected outcome for report %d, got %+v", reportID, outcome)
	}
	if outcome.Status != store.ReportReview {
		t.Errorf("expected REVIEW, got %s", outcome.Status)
	}
	if outcome.OverallScore != 6.5 {
		t.Errorf("expected overall score 6.5, got %v", outcome.OverallScore)
	}

	r, _ := db.GetReport(context.Background(), reportID)
	if r.Status != store.ReportReview {
		t.Errorf("expected stored status REVIEW, got %s", r.Status)
	}

	score, _ := db.GetScore(context.Background(), reportID)
	if score == nil {
		t.Fatal("expected a saved score")
	}
	dim, ok := score.Matrix["legal_protections"]
	if !ok {
		t.Fatal("expected legal_protections in score matrix")
	}
	if len(dim.IdentityScores) != 2 {
		t.Errorf("expected 2 identity scores, got %d", len(dim.IdentityScores))
	}
	if dim.IdentityScores["Transgender"].Score != 5.5 {
		t.Errorf("expected Transgender score 5.5, got %v", dim.IdentityScores["Transgender"].Score)
	}
}

func TestScoreOneBarrierNotSatisfied(t *testing.T) {
	db := openTestDB(t)
	seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionComplete, store.QuestionPending})
	mock := &mockProvider{response: scoreCardJSON}
	scorer := NewScorer(db, mock)

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome != nil {
		t.Fatal("expected no work while a question is still PENDING")
	}
	if mock.calls != 0 {
		t.Errorf("expected no oracle calls, got %d", mock.calls)
	}
}

func TestScoreOnePartialEvidence(t *testing.T) {
	db := openTestDB(t)
	// One resolved with evidence, one failed: the barrier is satisfied
	// and partial evidence is acceptable input.
	reportID := seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionComplete, store.QuestionResearchFailed})
	scorer := NewScorer(db, &mockProvider{response: scoreCardJSON})

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome == nil || outcome.Status != store.ReportReview {
		t.Fatalf("expected REVIEW with partial evidence, got %+v", outcome)
	}

	r, _ := db.GetReport(context.Background(), reportID)
	if r.Status != store.ReportReview {
		t.Errorf("expected REVIEW, got %s", r.Status)
	}
}

func TestScoreOneEmptyEvidence(t *testing.T) {
	db := openTestDB(t)
	// Every question failed: the barrier is satisfied but nothing can
	// be scored.
	reportID := seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionResearchFailed, store.QuestionSaveFailed})
	mock := &mockProvider{response: scoreCardJSON}
	scorer := NewScorer(db, mock)

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome == nil || outcome.Status != store.ReportScoringFailed {
		t.Fatalf("expected SCORING_FAILED, got %+v", outcome)
	}
	if mock.calls != 0 {
		t.Errorf("expected no oracle call for empty evidence, got %d", mock.calls)
	}

	r, _ := db.GetReport(context.Background(), reportID)
	if r.Status != store.ReportScoringFailed {
		t.Errorf("expected stored status SCORING_FAILED, got %s", r.Status)
	}
}

func TestScoreOneOracleFailure(t *testing.T) {
	db := openTestDB(t)
	reportID := seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionComplete})
	scorer := NewScorer(db, &mockProvider{err: errors.New("model unavailable")})

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome.Status != store.ReportScoringFailed {
		t.Errorf("expected SCORING_FAILED, got %s", outcome.Status)
	}

	score, _ := db.GetScore(context.Background(), reportID)
	if score != nil {
		t.Error("expected no score saved after oracle failure")
	}
}

func TestScoreOneMissingIdentityScores(t *testing.T) {
	db := openTestDB(t)
	seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionComplete})
	// The identity decomposition is structural: a flat matrix is
	// rejected even though it parses.
	flat := `{"overall_weighted_score": 6.5, "score_matrix": {"legal_protections": {"overall_score": 7.0, "justification": "j"}}}`
	scorer := NewScorer(db, &mockProvider{response: flat})

	outcome, err := scorer.ScoreOne(context.Background())
	if err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	if outcome.Status != store.ReportScoringFailed {
		t.Errorf("expected SCORING_FAILED for flat matrix, got %s", outcome.Status)
	}
}

func TestScoreOnePromptContents(t *testing.T) {
	db := openTestDB(t)
	seedResearchingReport(t, db, []store.QuestionStatus{store.QuestionComplete})
	capture := &promptCapture{inner: &mockProvider{response: scoreCardJSON}}
	scorer := NewScorer(db, capture)

	if _, err := scorer.ScoreOne(context.Background()); err != nil {
		t.Fatalf("ScoreOne: %v", err)
	}
	for _, want := range []string{"Testland", "Testland evidence summary.", "legal_protections", "community_support", "Transgender"} {
		if !strings.Contains(capture.lastPrompt, want) {
			t.Errorf("expected %q in prompt", want)
		}
	}
}

func TestParseScoreCardQuotedNumbers(t *testing.T) {
	parsed := map[string]any{
		"overall_weighted_score": "6.5",
		"score_matrix": map[string]any{
			"legal_protections": map[string]any{
				"overall_score": "7.0",
				"justification": "j",
				"identity_scores": map[string]any{
					"Transgender": map[string]any{"score": "5.5", "notes": "n"},
				},
			},
		},
	}

	card, err := parseScoreCard("Testland", parsed)
	if err != nil {
		t.Fatalf("parseScoreCard: %v", err)
	}
	if card.OverallScore != 6.5 {
		t.Errorf("expected 6.5, got %v", card.OverallScore)
	}
	if card.Matrix["legal_protections"].IdentityScores["Transgender"].Score != 5.5 {
		t.Errorf("expected quoted identity score parsed as 5.5")
	}
}

func TestScoreOneNoProvider(t *testing.T) {
	db := openTestDB(t)
	scorer := NewScorer(db, nil)
	if _, err := scorer.ScoreOne(context.Background()); err == nil {
		t.Fatal("expected error without a provider")
	}
}

// promptCapture wraps a provider and captures the last prompt.
type promptCapture struct {
	inner      *mockProvider
	lastPrompt string
}

func (p *promptCapture) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	p.lastPrompt = prompt
	return p.inner.Generate(ctx, prompt, maxTokens)
}

func (p *promptCapture) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	p.lastPrompt = prompt
	return p.inner.GenerateJSON(ctx, prompt, maxTokens)
}

func (p *promptCapture) IsConfigured() bool { return true }
