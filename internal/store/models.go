package store

// Report is one country's end-to-end index generation job.
type Report struct {
	ID        int64
	Country   string
	PillarID  int
	Status    ReportStatus
	ClaimedAt *string
	ClaimedBy *string
	CreatedAt *string
}

// Question is one atomic research task under a report. Created in bulk
// at planning time; resolved exactly once by whichever gatherer claims it.
type Question struct {
	ID        int64
	ReportID  int64
	Text      string
	Status    QuestionStatus
	ClaimedAt *string
	ClaimedBy *string
	CreatedAt *string
}

// Source is a single citation attached to an evidence item.
type Source struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Organization string `json:"organization"`
	Quote        string `json:"quote"`
}

// EvidenceItem holds the research result for one question.
// Created at most once per question, immutable afterward.
type EvidenceItem struct {
	QuestionID  int64
	Summary     string
	KeyFindings []string
	Sources     []Source
	CreatedAt   *string
}

// IdentityScore is the per-identity breakdown within one dimension.
type IdentityScore struct {
	Score float64 `json:"score"`
	Notes string  `json:"notes"`
}

// DimensionScore is one dimension's entry in the score matrix.
type DimensionScore struct {
	OverallScore   float64                  `json:"overall_score"`
	Justification  string                   `json:"justification"`
	IdentityScores map[string]IdentityScore `json:"identity_scores"`
}

// Score is the index score card for a report. The matrix is keyed by
// dimension (snake_case) and decomposes each dimension into identity
// sub-scores.
type Score struct {
	ReportID     int64
	Country      string
	OverallScore float64
	Matrix       map[string]DimensionScore
	CreatedAt    *string
}

// Narrative is the published prose for a report, replaced on re-narration.
type Narrative struct {
	ReportID  int64
	Text      string
	UpdatedAt *string
}

// Stats contains aggregate pipeline statistics.
type Stats struct {
	TotalReports   int
	Planning       int
	PlanFailed     int
	Researching    int
	ScoringFailed  int
	Review         int
	Complete       int
	TotalQuestions int
	Pending        int
	Answered       int
	ResearchFailed int
	SaveFailed     int
	EvidenceItems  int
	Scores         int
	Narratives     int
}
