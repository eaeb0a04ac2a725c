// Package academic turns a completed report into a formal academic
// paper written to disk. Like curriculum, it is a one-shot transform
// with no claim or status transition.
package academic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/store"
)

const paperPrompt = `You are a Ph.D.-level academic researcher. Transform the provided IQSF Global Queer Safety Index report on %s into a formal academic paper.

Structure it with: Abstract, Introduction, Literature Review, Methodology, Findings & Analysis (by pillar), Discussion, Conclusion, and Bibliography.

Source Narrative:
---
%s
---

Source Score Card:
---
%s
---

Bibliography URLs:
---
%s
---

The output should be only the paper text in Markdown format.`

// Writer generates academic papers from completed reports.
type Writer struct {
	store    store.Store
	provider llm.Provider
}

// NewWriter creates a new academic paper writer.
func NewWriter(st store.Store, provider llm.Provider) *Writer {
	return &Writer{store: st, provider: provider}
}

// Write generates the paper for a report and writes it into dir,
// returning the file path. Requires the report's narrative, score, and
// evidence; returns store.ErrNotFound when any of them is missing.
func (w *Writer) Write(ctx context.Context, reportID int64, dir string) (string, error) {
	if w.provider == nil {
		return "", fmt.Errorf("no generation provider available")
	}

	r, err := w.store.GetReport(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("fetching report: %w", err)
	}
	if r == nil {
		return "", fmt.Errorf("report %d: %w", reportID, store.ErrNotFound)
	}
	narrative, err := w.store.GetNarrative(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("fetching narrative: %w", err)
	}
	score, err := w.store.GetScore(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("fetching score: %w", err)
	}
	evidence, err := w.store.GetEvidence(ctx, reportID)
	if err != nil {
		return "", fmt.Errorf("fetching evidence: %w", err)
	}
	if narrative == nil || score == nil || len(evidence) == 0 {
		return "", fmt.Errorf("report %d is missing narrative, score, or evidence: %w", reportID, store.ErrNotFound)
	}

	log.Printf("Generating academic paper for report %d (%s)", reportID, r.Country)
	paper, err := w.generatePaper(ctx, r.Country, narrative.Text, score, evidence)
	if err != nil {
		return "", fmt.Errorf("generating paper: %w", err)
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, paperFilename(reportID, r.Country))
	if err := os.WriteFile(path, []byte(paper), 0o644); err != nil {
		return "", fmt.Errorf("writing paper: %w", err)
	}
	log.Printf("Academic paper saved to %s", path)
	return path, nil
}

func (w *Writer) generatePaper(ctx context.Context, country, narrative string, score *store.Score, evidence []store.EvidenceItem) (string, error) {
	card := map[string]any{
		"overall_weighted_score": score.OverallScore,
		"score_matrix":           score.Matrix,
	}
	cardJSON, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return "", err
	}
	urlsJSON, err := json.MarshalIndent(Bibliography(evidence), "", "  ")
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(paperPrompt, country, narrative, string(cardJSON), string(urlsJSON))
	text, err := w.provider.Generate(ctx, prompt, 4096)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty paper")
	}
	return text, nil
}

// Bibliography collects the distinct source URLs across all evidence,
// in first-seen order.
func Bibliography(evidence []store.EvidenceItem) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, ev := range evidence {
		for _, src := range ev.Sources {
			if src.URL == "" {
				continue
			}
			if _, ok := seen[src.URL]; ok {
				continue
			}
			seen[src.URL] = struct{}{}
			urls = append(urls, src.URL)
		}
	}
	return urls
}

func paperFilename(reportID int64, country string) string {
	country = strings.ReplaceAll(country, " ", "_")
	return fmt.Sprintf("IQSF_Academic_Paper_Report_%d_%s.md", reportID, country)
}
