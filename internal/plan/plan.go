// Package plan implements the planning stage: one report per country,
// fanned out into research questions across the index methodology.
package plan

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/methodology"
	"github.com/iqsf/safetyindex/internal/store"
)

const questionsPrompt = `You are an IQSF Index Analyst generating Key Research Questions (KRQs) for %s covering the '%s' dimension of the Global Queer Safety Index.

Your analysis MUST be intersectional. For each sub-point, consider how the issue might differ for identities across the LGBTQIA+ coalition (%s).

Sub-points to cover:
%s

Respond with ONLY this JSON:
{
    "key_research_questions": ["First research question", "Second research question"]
}`

// Result holds the results of a planning run.
type Result struct {
	ReportID         int64
	Questions        int
	DimensionsFailed int
}

// Planner expands one report into its research question set.
type Planner struct {
	store    store.Store
	provider llm.Provider
	pillarID int
}

// NewPlanner creates a new report planner.
func NewPlanner(st store.Store, provider llm.Provider, pillarID int) *Planner {
	return &Planner{store: st, provider: provider, pillarID: pillarID}
}

// Plan creates a report for the country and generates its research
// questions, one oracle call per methodology dimension. A dimension
// whose generation fails contributes zero questions; the plan fails
// only when every dimension comes back empty. Store failures are
// returned as errors; a ReportID of 0 with nil error means a report
// for this country and pillar is already in flight.
func (p *Planner) Plan(ctx context.Context, country string) (*Result, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("no generation provider available")
	}

	reportID, err := p.store.CreateReport(ctx, country, p.pillarID)
	if err != nil {
		return nil, fmt.Errorf("creating report: %w", err)
	}
	if reportID == 0 {
		log.Printf("Report for %s (pillar %d) already in flight, nothing to plan", country, p.pillarID)
		return &Result{}, nil
	}
	log.Printf("Created report %d for %s", reportID, country)

	r := &Result{ReportID: reportID}
	var questions []string
	for _, dim := range methodology.Dimensions {
		generated, err := p.generateQuestions(ctx, country, dim)
		if err != nil {
			log.Printf("Dimension %q: question generation failed: %v", dim.Name, err)
			r.DimensionsFailed++
			continue
		}
		log.Printf("Dimension %q: %d questions", dim.Name, len(generated))
		questions = append(questions, generated...)
	}

	if len(questions) == 0 {
		if err := p.store.UpdateReportStatus(ctx, reportID, store.ReportPlanFailed); err != nil {
			return nil, fmt.Errorf("marking plan failed: %w", err)
		}
		log.Printf("Report %d: no questions generated, marked PLAN_FAILED", reportID)
		return r, nil
	}

	if err := p.store.InsertQuestions(ctx, reportID, questions); err != nil {
		return nil, fmt.Errorf("inserting questions: %w", err)
	}
	if err := p.store.UpdateReportStatus(ctx, reportID, store.ReportResearching); err != nil {
		return nil, fmt.Errorf("marking researching: %w", err)
	}

	r.Questions = len(questions)
	log.Printf("Report %d: saved %d questions, now RESEARCHING", reportID, r.Questions)
	return r, nil
}

func (p *Planner) generateQuestions(ctx context.Context, country string, dim methodology.Dimension) ([]string, error) {
	var subPoints []string
	for _, sp := range dim.SubPoints {
		subPoints = append(subPoints, "- "+sp)
	}
	prompt := fmt.Sprintf(questionsPrompt,
		country, dim.Name,
		strings.Join(methodology.IdentityAxes, ", "),
		strings.Join(subPoints, "\n"),
	)

	responseText, err := p.provider.GenerateJSON(ctx, prompt, 1024)
	if err != nil {
		return nil, err
	}

	parsed := llm.ParseJSONResponse(responseText)
	if parsed == nil {
		return nil, fmt.Errorf("unparsable response")
	}
	return llm.StringList(parsed, "key_research_questions"), nil
}
