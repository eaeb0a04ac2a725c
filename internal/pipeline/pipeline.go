// Package pipeline drives one country end to end in a single process:
// plan, gather, score, narrate. Each step goes through the same store
// claims that independent per-stage workers use, so an in-process run
// and a fleet of separate workers are interchangeable.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/iqsf/safetyindex/internal/config"
	"github.com/iqsf/safetyindex/internal/gather"
	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/narrate"
	"github.com/iqsf/safetyindex/internal/plan"
	"github.com/iqsf/safetyindex/internal/score"
	"github.com/iqsf/safetyindex/internal/store"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Country string
	Steps   []StepResult
}

// Pipeline orchestrates the four-stage report pipeline.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	provider llm.Provider
}

// New creates a new pipeline over explicit store and provider
// dependencies.
func New(cfg *config.Config, st store.Store, provider llm.Provider) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, provider: provider}
}

// Run executes the full pipeline for one country.
func (p *Pipeline) Run(ctx context.Context, country string) *Result {
	r := &Result{Country: country}

	step := p.runPlan(ctx, country)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runGather(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runScore(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.runNarrate(ctx))
	return r
}

// DryRun reports the claimable work at each stage without mutating
// anything.
func (p *Pipeline) DryRun(ctx context.Context) (*Result, error) {
	stats, err := p.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}

	r := &Result{}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Plan",
		Summary: fmt.Sprintf("[dry-run] %d reports still planning", stats.Planning),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Gather",
		Summary: fmt.Sprintf("[dry-run] %d pending questions across %d researching reports", stats.Pending, stats.Researching),
	})
	scorable := stats.Researching
	if stats.Pending > 0 {
		scorable = 0
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Score",
		Summary: fmt.Sprintf("[dry-run] up to %d reports may satisfy the scoring barrier", scorable),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Narrate",
		Summary: fmt.Sprintf("[dry-run] %d reports awaiting narration", stats.Review),
	})
	return r, nil
}

func (p *Pipeline) runPlan(ctx context.Context, country string) StepResult {
	log.Println("Step 1/4: Planning research questions...")
	planner := plan.NewPlanner(p.store, p.provider, p.cfg.Research.PillarID)
	result, err := planner.Plan(ctx, country)
	if err != nil {
		return StepResult{Name: "Plan", Err: err}
	}
	if result.ReportID == 0 {
		return StepResult{
			Name:    "Plan",
			Summary: fmt.Sprintf("Report for %s already in flight", country),
		}
	}
	return StepResult{
		Name: "Plan",
		Summary: fmt.Sprintf("Report %d: %d questions (%d dimensions failed)",
			result.ReportID, result.Questions, result.DimensionsFailed),
	}
}

func (p *Pipeline) runGather(ctx context.Context) StepResult {
	log.Println("Step 2/4: Gathering evidence...")
	gatherer := gather.NewGatherer(p.store, p.provider)
	result, err := gatherer.Run(ctx, p.cfg.Research.Workers)
	if err != nil {
		return StepResult{Name: "Gather", Err: err}
	}
	return StepResult{
		Name: "Gather",
		Summary: fmt.Sprintf("%d questions resolved: %d complete, %d research failed, %d save failed",
			result.Processed(), result.Completed, result.ResearchFailed, result.SaveFailed),
	}
}

func (p *Pipeline) runScore(ctx context.Context) StepResult {
	log.Println("Step 3/4: Scoring...")
	scorer := score.NewScorer(p.store, p.provider)
	outcome, err := scorer.ScoreOne(ctx)
	if err != nil {
		return StepResult{Name: "Score", Err: err}
	}
	if outcome == nil {
		return StepResult{Name: "Score", Summary: "No reports ready for scoring"}
	}
	if outcome.Status == store.ReportScoringFailed {
		return StepResult{
			Name:    "Score",
			Summary: fmt.Sprintf("Report %d marked SCORING_FAILED", outcome.ReportID),
		}
	}
	return StepResult{
		Name:    "Score",
		Summary: fmt.Sprintf("Report %d scored %.1f", outcome.ReportID, outcome.OverallScore),
	}
}

func (p *Pipeline) runNarrate(ctx context.Context) StepResult {
	log.Println("Step 4/4: Narrating...")
	narrator := narrate.NewNarrator(p.store, p.provider)
	outcome, err := narrator.NarrateOne(ctx)
	if err != nil {
		return StepResult{Name: "Narrate", Err: err}
	}
	if outcome == nil {
		return StepResult{Name: "Narrate", Summary: "No reports ready for narration"}
	}
	if !outcome.Narrated {
		return StepResult{
			Name:    "Narrate",
			Summary: fmt.Sprintf("Report %d narration failed, left in REVIEW for retry", outcome.ReportID),
		}
	}
	return StepResult{
		Name:    "Narrate",
		Summary: fmt.Sprintf("Report %d narrated and COMPLETE", outcome.ReportID),
	}
}
