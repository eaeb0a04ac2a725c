// Package gather implements the evidence-gathering stage: workers claim
// pending research questions one at a time and resolve each to evidence
// or a terminal failure status.
package gather

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/store"
)

const evidencePrompt = `You are an AI Research Agent for the Global Queer Safety Index. Search your knowledge to answer the following specific research question.

Research Question: "%s"

Respond with ONLY this JSON:
{
    "answer_summary": "A concise, factual summary of the answer",
    "key_findings": ["finding 1", "finding 2"],
    "sources": [
        {"url": "https://...", "title": "Source title", "organization": "Publishing organization", "quote": "Supporting quote"}
    ]
}`

// Outcome describes the resolution of one claimed question.
type Outcome struct {
	QuestionID int64
	ReportID   int64
	Status     store.QuestionStatus
}

// Result accumulates outcomes across a gathering run.
type Result struct {
	Completed      int
	ResearchFailed int
	SaveFailed     int
}

// Processed returns the total number of questions resolved.
func (r *Result) Processed() int {
	return r.Completed + r.ResearchFailed + r.SaveFailed
}

// Gatherer resolves pending research questions to evidence.
type Gatherer struct {
	store    store.Store
	provider llm.Provider
}

// NewGatherer creates a new evidence gatherer.
func NewGatherer(st store.Store, provider llm.Provider) *Gatherer {
	return &Gatherer{store: st, provider: provider}
}

// GatherOne performs a single claim-process cycle: claim one pending
// question, resolve it, record the outcome. Returns (nil, nil) when no
// work is available. Every outcome is terminal for the question; only
// store failures surface as errors.
func (g *Gatherer) GatherOne(ctx context.Context, workerID string) (*Outcome, error) {
	if g.provider == nil {
		return nil, fmt.Errorf("no generation provider available")
	}

	q, err := g.store.ClaimNextPending(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("claiming question: %w", err)
	}
	if q == nil {
		return nil, nil
	}

	log.Printf("[%s] Researching question %d: %s", workerID, q.ID, q.Text)
	outcome := &Outcome{QuestionID: q.ID, ReportID: q.ReportID}

	ev, err := g.findEvidence(ctx, q)
	if err != nil {
		log.Printf("[%s] Question %d research failed: %v", workerID, q.ID, err)
		if recErr := g.store.RecordQuestionOutcome(ctx, q.ID, store.QuestionResearchFailed, nil); recErr != nil {
			return nil, fmt.Errorf("recording research failure: %w", recErr)
		}
		outcome.Status = store.QuestionResearchFailed
		return outcome, nil
	}

	if err := g.store.RecordQuestionOutcome(ctx, q.ID, store.QuestionComplete, ev); err != nil {
		// The oracle answered but the answer was lost; record the
		// distinction and discard the evidence.
		log.Printf("[%s] Question %d evidence save failed: %v", workerID, q.ID, err)
		if recErr := g.store.RecordQuestionOutcome(ctx, q.ID, store.QuestionSaveFailed, nil); recErr != nil {
			return nil, fmt.Errorf("recording save failure: %w", recErr)
		}
		outcome.Status = store.QuestionSaveFailed
		return outcome, nil
	}

	log.Printf("[%s] Question %d complete", workerID, q.ID)
	outcome.Status = store.QuestionComplete
	return outcome, nil
}

// Run drains the question queue with the given number of concurrent
// workers, each looping GatherOne until no work remains or the context
// is canceled.
func (g *Gatherer) Run(ctx context.Context, workers int) (*Result, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, workers)
	eg, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		eg.Go(func() error {
			workerID := uuid.NewString()
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				outcome, err := g.GatherOne(gctx, workerID)
				if err != nil {
					return err
				}
				if outcome == nil {
					return nil
				}
				switch outcome.Status {
				case store.QuestionComplete:
					results[i].Completed++
				case store.QuestionResearchFailed:
					results[i].ResearchFailed++
				case store.QuestionSaveFailed:
					results[i].SaveFailed++
				}
			}
		})
	}
	err := eg.Wait()

	total := &Result{}
	for _, r := range results {
		total.Completed += r.Completed
		total.ResearchFailed += r.ResearchFailed
		total.SaveFailed += r.SaveFailed
	}
	log.Printf("Gathering done: %d complete, %d research failed, %d save failed",
		total.Completed, total.ResearchFailed, total.SaveFailed)
	return total, err
}

func (g *Gatherer) findEvidence(ctx context.Context, q *store.Question) (*store.EvidenceItem, error) {
	prompt := fmt.Sprintf(evidencePrompt, q.Text)
	responseText, err := g.provider.GenerateJSON(ctx, prompt, 2048)
	if err != nil {
		return nil, err
	}

	parsed := llm.ParseJSONResponse(responseText)
	if parsed == nil {
		return nil, fmt.Errorf("unparsable response")
	}

	ev := &store.EvidenceItem{
		QuestionID:  q.ID,
		Summary:     llm.String(parsed, "answer_summary", ""),
		KeyFindings: llm.StringList(parsed, "key_findings"),
		Sources:     parseSources(parsed),
	}
	if ev.Summary == "" {
		return nil, fmt.Errorf("response missing answer_summary")
	}
	return ev, nil
}

func parseSources(m map[string]any) []store.Source {
	raw, ok := m["sources"]
	if !ok {
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}

	var sources []store.Source
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sources = append(sources, store.Source{
			URL:          llm.String(obj, "url", ""),
			Title:        llm.String(obj, "title", ""),
			Organization: llm.String(obj, "organization", ""),
			Quote:        llm.String(obj, "quote", ""),
		})
	}
	return sources
}
