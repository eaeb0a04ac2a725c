package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iqsf/safetyindex/internal/database"
	"github.com/iqsf/safetyindex/internal/store"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedReport builds a COMPLETE report with one answered question, a
// score, and a narrative.
func seedReport(t *testing.T, db *database.DB) int64 {
	t.Helper()
	ctx := context.Background()

	reportID, err := db.CreateReport(ctx, "Testland", 3)
	if err != nil || reportID == 0 {
		t.Fatalf("CreateReport: id=%d err=%v", reportID, err)
	}
	if err := db.InsertQuestions(ctx, reportID, []string{"How safe is daily life?"}); err != nil {
		t.Fatalf("InsertQuestions: %v", err)
	}
	if err := db.UpdateReportStatus(ctx, reportID, store.ReportResearching); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}

	questions, _ := db.GetQuestions(ctx, reportID)
	ev := &store.EvidenceItem{
		QuestionID:  questions[0].ID,
		Summary:     "Generally safe in urban areas.",
		KeyFindings: []string{"Strong legal protections"},
		Sources:     []store.Source{{URL: "https://example.org", Title: "Example Report", Organization: "Example Org", Quote: "Quote."}},
	}
	if err := db.RecordQuestionOutcome(ctx, questions[0].ID, store.QuestionComplete, ev); err != nil {
		t.Fatalf("RecordQuestionOutcome: %v", err)
	}

	score := &store.Score{
		ReportID:     reportID,
		Country:      "Testland",
		OverallScore: 6.5,
		Matrix: map[string]store.DimensionScore{
			"legal_protections": {
				OverallScore:  7.0,
				Justification: "Statutes are strong.",
				IdentityScores: map[string]store.IdentityScore{
					"Transgender": {Score: 5.5, Notes: "Recognition lags"},
				},
			},
		},
	}
	if err := db.SaveScore(ctx, score); err != nil {
		t.Fatalf("SaveScore: %v", err)
	}
	if err := db.UpdateReportStatus(ctx, reportID, store.ReportReview); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}
	if err := db.UpsertNarrative(ctx, reportID, "## The Story\n\nBehind the numbers."); err != nil {
		t.Fatalf("UpsertNarrative: %v", err)
	}
	if err := db.UpdateReportStatus(ctx, reportID, store.ReportComplete); err != nil {
		t.Fatalf("UpdateReportStatus: %v", err)
	}
	return reportID
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No reports yet") {
		t.Error("expected empty-state message in response body")
	}
}

func TestIndexListsReports(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db)

	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "Testland") {
		t.Error("expected country in index")
	}
	if !strings.Contains(body, "COMPLETE") {
		t.Error("expected status badge in index")
	}
	if !strings.Contains(body, "badge-complete") {
		t.Error("expected status badge class in index")
	}
}

func TestReportRoute(t *testing.T) {
	db := openTestDB(t)
	reportID := seedReport(t, db)

	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	req := httptest.NewRequest("GET", "/report/1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for report %d, got %d", reportID, rec.Code)
	}
	body := rec.Body.String()

	// Question, evidence, score matrix with identity breakdown, and
	// rendered narrative all appear.
	for _, want := range []string{
		"How safe is daily life?",
		"Generally safe in urban areas.",
		"legal_protections",
		"Transgender",
		"Recognition lags",
		"<h2>The Story</h2>",
		"Example Report",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in report page", want)
		}
	}
}

func TestReportRouteNotFound(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	req := httptest.NewRequest("GET", "/report/99", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestReportRouteBadID(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	req := httptest.NewRequest("GET", "/report/notanid", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStaticRoute(t *testing.T) {
	db := openTestDB(t)
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	req := httptest.NewRequest("GET", "/static/style.css", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-family") {
		t.Error("expected CSS content")
	}
}
