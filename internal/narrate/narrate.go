// Package narrate implements the narration stage, the last status
// transition in the pipeline. Unlike the gatherer and scorer, a failed
// narration is not terminal: the report's claim is released and it
// stays in REVIEW, so a later invocation can retry. Narration has no
// side effect to undo, which is what makes the retry safe.
package narrate

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

const narrativePrompt = `You are an expert analyst and writer for the IQSF. Write a detailed, 2000-word narrative report for the IQSF Global Queer Safety Index on %s.

Tell the story BEHIND the numbers, weaving the evidence into a compelling narrative. Pay special attention to intersectional differences: the score card breaks every dimension down by identity (%s), and your narrative must explicitly address how safety differs across those identities.

FINAL SCORE CARD:
%s

RAW EVIDENCE:
%s

The output should be only the final article text in Markdown format.`

// Outcome describes one narration attempt.
type Outcome struct {
	ReportID int64
	Country  string
	// Narrated is false when the oracle failed and the report was
	// released back to REVIEW.
	Narrated bool
}

// Narrator turns a scored report into its published narrative.
type Narrator struct {
	store    store.Store
	provider llm.Provider
}

// NewNarrator creates a new report narrator.
func NewNarrator(st store.Store, provider llm.Provider) *Narrator {
	return &Narrator{store: st, provider: provider}
}

// NarrateOne claims one REVIEW report and writes its narrative. Returns
// (nil, nil) when no report is ready. On oracle failure the claim is
// released and the report keeps its REVIEW status; only store failures
// surface as errors.
func (n *Narrator) NarrateOne(ctx context.Context) (*Outcome, error) {
	if n.provider == nil {
		return nil, fmt.Errorf("no generation provider available")
	}

	workerID := uuid.NewString()
	r, err := n.store.ClaimReviewReport(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("claiming report: %w", err)
	}
	if r == nil {
		return nil, nil
	}

	log.Printf("Narrating report %d (%s)", r.ID, r.Country)
	outcome := &Outcome{ReportID: r.ID, Country: r.Country}

	score, err := n.store.GetScore(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching score: %w", err)
	}
	evidence, err := n.store.GetEvidence(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching evidence: %w", err)
	}
	if score == nil {
		// A REVIEW report always has a score; a missing one means the
		// store is inconsistent, not that narration failed.
		if relErr := n.store.ReleaseReport(ctx, r.ID); relErr != nil {
			return nil, fmt.Errorf("releasing report: %w", relErr)
		}
		return nil, fmt.Errorf("report %d in REVIEW without a score", r.ID)
	}

	text, err := n.generateNarrative(ctx, r.Country, score, evidence)
	if err != nil {
		log.Printf("Report %d narration failed, releasing for retry: %v", r.ID, err)
		if relErr := n.store.ReleaseReport(ctx, r.ID); relErr != nil {
			return nil, fmt.Errorf("releasing report: %w", relErr)
		}
		return outcome, nil
	}

	if err := n.store.UpsertNarrative(ctx, r.ID, text); err != nil {
		if relErr := n.store.ReleaseReport(ctx, r.ID); relErr != nil {
			return nil, fmt.Errorf("releasing report: %w", relErr)
		}
		return nil, fmt.Errorf("saving narrative: %w", err)
	}
	if err := n.store.UpdateReportStatus(ctx, r.ID, store.ReportComplete); err != nil {
		return nil, fmt.Errorf("marking complete: %w", err)
	}

	outcome.Narrated = true
	log.Printf("Report %d narrated, now COMPLETE", r.ID)
	return outcome, nil
}

func (n *Narrator) generateNarrative(ctx context.Context, country string, score *store.Score, evidence []store.EvidenceItem) (string, error) {
	card := map[string]any{
		"overall_weighted_score": score.OverallScore,
		"score_matrix":           score.Matrix,
	}
	cardJSON, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return "", err
	}

	var summaries []string
	for _, ev := range evidence {
		summaries = append(summaries, "- "+ev.Summary)
	}

	prompt := fmt.Sprintf(narrativePrompt,
		country,
		strings.Join(methodology.IdentityAxes, ", "),
		string(cardJSON),
		strings.Join(summaries, "\n"),
	)

	text, err := n.provider.Generate(ctx, prompt, 4096)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty narrative")
	}
	return text, nil
}
