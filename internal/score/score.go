// Package score implements the scoring stage. It is the pipeline's
// fan-in barrier consumer: a report becomes scorable only once none of
// its questions remain PENDING, and the claim query enforces that
// condition atomically.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/methodology"
	"github.com/iqsf/safetyindex/internal/store"
)

const scorePrompt = `You are a Senior IQSF Index Analyst. Generate the official, multi-axis Global Queer Safety Index score card for %s.

Your analysis MUST be intersectional. Review the verified evidence and assign a separate score for each identity axis (%s) within each dimension. Score every dimension: %s. Scores range from 0 (most dangerous) to 10 (safest).

VERIFIED EVIDENCE:
%s

Respond with ONLY this JSON:
{
    "overall_weighted_score": 6.5,
    "score_matrix": {
        "legal_protections": {
            "overall_score": 7.0,
            "justification": "Why this dimension scored as it did",
            "identity_scores": {
                "Transgender": {"score": 5.5, "notes": "Identity-specific context"}
            }
        }
    }
}`

// Outcome describes the resolution of one claimed report.
type Outcome struct {
	ReportID     int64
	Country      string
	Status       store.ReportStatus
	OverallScore float64
}

// Scorer aggregates a report's evidence into its index score card.
type Scorer struct {
	store    store.Store
	provider llm.Provider
}

// NewScorer creates a new report scorer.
func NewScorer(st store.Store, provider llm.Provider) *Scorer {
	return &Scorer{store: st, provider: provider}
}

// ScoreOne claims one barrier-satisfied report and scores it. Returns
// (nil, nil) when no report is ready. An empty evidence set or a failed
// or unparsable oracle response marks the report SCORING_FAILED, a
// terminal status; only store failures surface as errors.
func (s *Scorer) ScoreOne(ctx context.Context) (*Outcome, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("no generation provider available")
	}

	workerID := uuid.NewString()
	r, err := s.store.ClaimScorableReport(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("claiming report: %w", err)
	}
	if r == nil {
		return nil, nil
	}

	log.Printf("Scoring report %d (%s)", r.ID, r.Country)
	outcome := &Outcome{ReportID: r.ID, Country: r.Country}

	evidence, err := s.store.GetEvidence(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching evidence: %w", err)
	}
	if len(evidence) == 0 {
		log.Printf("Report %d has no evidence, marking SCORING_FAILED", r.ID)
		return outcome, s.fail(ctx, outcome)
	}

	card, err := s.generateScoreCard(ctx, r.Country, evidence)
	if err != nil {
		log.Printf("Report %d scoring failed: %v", r.ID, err)
		return outcome, s.fail(ctx, outcome)
	}
	card.ReportID = r.ID

	if err := s.store.SaveScore(ctx, card); err != nil {
		return nil, fmt.Errorf("saving score: %w", err)
	}
	if err := s.store.UpdateReportStatus(ctx, r.ID, store.ReportReview); err != nil {
		return nil, fmt.Errorf("marking review: %w", err)
	}

	outcome.Status = store.ReportReview
	outcome.OverallScore = card.OverallScore
	log.Printf("Report %d scored %.1f, now REVIEW", r.ID, card.OverallScore)
	return outcome, nil
}

func (s *Scorer) fail(ctx context.Context, outcome *Outcome) error {
	if err := s.store.UpdateReportStatus(ctx, outcome.ReportID, store.ReportScoringFailed); err != nil {
		return fmt.Errorf("marking scoring failed: %w", err)
	}
	outcome.Status = store.ReportScoringFailed
	return nil
}

func (s *Scorer) generateScoreCard(ctx context.Context, country string, evidence []store.EvidenceItem) (*store.Score, error) {
	evidenceJSON, err := json.MarshalIndent(evidenceForPrompt(evidence), "", "  ")
	if err != nil {
		return nil, err
	}

	var dimKeys []string
	for _, dim := range methodology.Dimensions {
		dimKeys = append(dimKeys, methodology.Key(dim.Name))
	}
	prompt := fmt.Sprintf(scorePrompt,
		country,
		strings.Join(methodology.IdentityAxes, ", "),
		strings.Join(dimKeys, ", "),
		string(evidenceJSON),
	)

	responseText, err := s.provider.GenerateJSON(ctx, prompt, 4096)
	if err != nil {
		return nil, err
	}
	parsed := llm.ParseJSONResponse(responseText)
	if parsed == nil {
		return nil, fmt.Errorf("unparsable response")
	}
	return parseScoreCard(country, parsed)
}

// evidenceForPrompt trims evidence to the fields the oracle needs.
func evidenceForPrompt(evidence []store.EvidenceItem) []map[string]any {
	var items []map[string]any
	for _, ev := range evidence {
		var orgs []string
		for _, src := range ev.Sources {
			if src.Organization != "" {
				orgs = append(orgs, src.Organization)
			}
		}
		items = append(items, map[string]any{
			"answer_summary": ev.Summary,
			"key_findings":   ev.KeyFindings,
			"organizations":  orgs,
		})
	}
	return items
}

// parseScoreCard validates the oracle's score card. The per-identity
// decomposition is structural: a matrix entry without identity scores
// rejects the whole card.
func parseScoreCard(country string, parsed map[string]any) (*store.Score, error) {
	if _, ok := parsed["overall_weighted_score"]; !ok {
		return nil, fmt.Errorf("response missing overall_weighted_score")
	}
	overall := llm.Float(parsed, "overall_weighted_score", 0)

	matrixRaw, ok := parsed["score_matrix"].(map[string]any)
	if !ok || len(matrixRaw) == 0 {
		return nil, fmt.Errorf("response missing score_matrix")
	}

	matrix := make(map[string]store.DimensionScore, len(matrixRaw))
	for dim, raw := range matrixRaw {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("dimension %q is not an object", dim)
		}
		identRaw, ok := obj["identity_scores"].(map[string]any)
		if !ok || len(identRaw) == 0 {
			return nil, fmt.Errorf("dimension %q missing identity_scores", dim)
		}

		identities := make(map[string]store.IdentityScore, len(identRaw))
		for identity, iraw := range identRaw {
			iobj, ok := iraw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("identity %q under %q is not an object", identity, dim)
			}
			identities[identity] = store.IdentityScore{
				Score: llm.Float(iobj, "score", 0),
				Notes: llm.String(iobj, "notes", ""),
			}
		}

		matrix[dim] = store.DimensionScore{
			OverallScore:   llm.Float(obj, "overall_score", 0),
			Justification:  llm.String(obj, "justification", ""),
			IdentityScores: identities,
		}
	}

	return &store.Score{
		Country:      country,
		OverallScore: overall,
		Matrix:       matrix,
	}, nil
}
